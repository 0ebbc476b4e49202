// Package persona holds the per-conversation personality state machine:
// mood, chaos level and patience, and the transition rules applied after
// every turn.
package persona

import (
	"sync"
	"time"
)

// Mood is the categorical personality state governing tone and reply-set
// selection.
type Mood string

const (
	MoodChill    Mood = "chill"
	MoodChaotic  Mood = "chaotic"
	MoodConfused Mood = "confused"
	MoodDone     Mood = "done"
)

// State is the mutable personality of one conversation. Snapshot semantics:
// values returned by the Machine are copies.
type State struct {
	ConversationID string    `json:"conversation_id"`
	Mood           Mood      `json:"mood"`
	Chaos          int       `json:"chaos"` // 0..100
	Patience       int       `json:"patience"`
	MessageCount   int       `json:"message_count"`
	DrugMentions   int       `json:"drug_mentions"`
	Interruptions  int       `json:"interruptions"`
	UpdatedAt      time.Time `json:"updated_at"`

	endSignaled bool
}

// Config holds transition constants.
type Config struct {
	InitialChaos     int
	MaxPatience      int
	PatienceDecay    int // per turn
	ChaosJitter      int // symmetric bound per turn
	DrugChaosBoost   int
	CalmChaosDrop    int
	ChaoticThreshold int // chaos at or above favors chaotic
	DoneThreshold    int // patience at or below favors done
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		InitialChaos:     30,
		MaxPatience:      20,
		PatienceDecay:    1,
		ChaosJitter:      5,
		DrugChaosBoost:   12,
		CalmChaosDrop:    8,
		ChaoticThreshold: 70,
		DoneThreshold:    3,
	}
}

// TurnEvent carries everything a turn contributes to the state transition.
type TurnEvent struct {
	ChaosDelta    int  // proposed by the response pipeline
	DrugReference bool // message matched the drug keyword set
	CalmTopic     bool // message matched a calm topic
	Ambiguous     bool // input could not be parsed into any topic
	PatienceReset bool // explicit reset event, e.g. topic change
	Interrupted   bool // an interruption was delivered this turn
}

// Turn is the result of ApplyTurn: the new state snapshot and whether the
// conversation-should-end signal fired on this turn.
type Turn struct {
	State           State
	EndConversation bool
}

// Rand is the injectable randomness source for chaos jitter.
type Rand interface {
	Intn(n int) int
}

// Machine owns all personality states, one per conversation id. Safe for
// concurrent use.
type Machine struct {
	cfg    Config
	rng    Rand
	mu     sync.RWMutex
	states map[string]*State
}

// New creates a Machine. rng must not be nil.
func New(cfg Config, rng Rand) *Machine {
	return &Machine{
		cfg:    cfg,
		rng:    rng,
		states: make(map[string]*State),
	}
}

// Initialize creates the default state for conversationID if absent and
// returns a snapshot. Idempotent.
func (m *Machine) Initialize(conversationID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.ensureLocked(conversationID)
}

// Seed sets starting mood and chaos for a fresh conversation, e.g. from the
// persistence adapter's optimal settings. No-op on an already-active state.
func (m *Machine) Seed(conversationID string, mood Mood, chaos int) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.ensureLocked(conversationID)
	if st.MessageCount == 0 {
		if mood != "" {
			st.Mood = mood
		}
		st.Chaos = clampChaos(chaos)
	}
	return *st
}

// Get returns a snapshot of the state, or false if the conversation is
// unknown. Never mutates.
func (m *Machine) Get(conversationID string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[conversationID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// ApplyTurn mutates the conversation state for one turn. Chaos is finalized
// first, then mood is derived from it, so mood and chaos cannot disagree.
// The end signal is edge-triggered: it fires once per zero-crossing of
// patience and is re-armed only by a patience reset.
func (m *Machine) ApplyTurn(conversationID string, ev TurnEvent) Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.ensureLocked(conversationID)

	st.MessageCount++

	// Chaos first.
	chaos := st.Chaos + ev.ChaosDelta
	if ev.DrugReference {
		chaos += m.cfg.DrugChaosBoost
		st.DrugMentions++
	}
	if ev.CalmTopic {
		chaos -= m.cfg.CalmChaosDrop
	}
	if j := m.cfg.ChaosJitter; j > 0 {
		chaos += m.rng.Intn(2*j+1) - j
	}
	st.Chaos = clampChaos(chaos)

	// Patience: monotonically non-increasing absent a reset.
	if ev.PatienceReset {
		st.Patience = m.cfg.MaxPatience
		st.endSignaled = false
	}
	st.Patience -= m.cfg.PatienceDecay
	if st.Patience < 0 {
		st.Patience = 0
	}

	if ev.Interrupted {
		st.Interruptions++
	}

	// Mood last, as a function of finalized chaos and patience.
	switch {
	case st.Patience <= m.cfg.DoneThreshold:
		st.Mood = MoodDone
	case st.Chaos >= m.cfg.ChaoticThreshold:
		st.Mood = MoodChaotic
	case ev.Ambiguous:
		st.Mood = MoodConfused
	default:
		st.Mood = MoodChill
	}

	st.UpdatedAt = time.Now()

	end := false
	if st.Patience == 0 && st.Mood == MoodDone && !st.endSignaled {
		st.endSignaled = true
		end = true
	}
	return Turn{State: *st, EndConversation: end}
}

// NoteInterruption records a delivered out-of-band interruption.
func (m *Machine) NoteInterruption(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLocked(conversationID).Interruptions++
}

// MaxPatience returns the configured starting patience value.
func (m *Machine) MaxPatience() int { return m.cfg.MaxPatience }

// Drop removes the state for a conversation. Used only by tests and admin
// maintenance; reconnects keep their state.
func (m *Machine) Drop(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, conversationID)
}

func (m *Machine) ensureLocked(conversationID string) *State {
	st := m.states[conversationID]
	if st == nil {
		st = &State{
			ConversationID: conversationID,
			Mood:           MoodChill,
			Chaos:          m.cfg.InitialChaos,
			Patience:       m.cfg.MaxPatience,
			UpdatedAt:      time.Now(),
		}
		m.states[conversationID] = st
	}
	return st
}

func clampChaos(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
