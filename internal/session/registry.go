// Package session binds transport connections to conversations and drives
// the whole turn: context memory, generation pipeline, personality state and
// the interruption scheduler. One worker goroutine per session keeps inbound
// processing strictly FIFO.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keshon/young-ellens/internal/ai"
	"github.com/keshon/young-ellens/internal/memory"
	"github.com/keshon/young-ellens/internal/patterns"
	"github.com/keshon/young-ellens/internal/persona"
	"github.com/keshon/young-ellens/internal/scheduler"
	"github.com/keshon/young-ellens/internal/storage"
)

// Validation errors. Surfaced to the transport as rejected input; session
// state is left untouched.
var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageTooLong  = errors.New("message exceeds maximum length")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session is closed")
	ErrQueueFull       = errors.New("session inbox is full")
)

// Config tunes the registry.
type Config struct {
	BasePrompt      string
	MaxMessageLen   int
	InboxSize       int
	HistoryLimit    int
	IdleTimeout     time.Duration
	SweepInterval   time.Duration
	TypingMinDelay  time.Duration
	TypingMaxDelay  time.Duration
	TypingDelayOff  bool // tests disable the artificial delay
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BasePrompt:     "You are Young Ellens, a chaotic Amsterdam rapper. Stay in character. Deny all hard drug use: alleen je wietje en je henny.",
		MaxMessageLen:  2000,
		InboxSize:      64,
		HistoryLimit:   40,
		IdleTimeout:    5 * time.Minute,
		SweepInterval:  30 * time.Second,
		TypingMinDelay: 800 * time.Millisecond,
		TypingMaxDelay: 2500 * time.Millisecond,
	}
}

// Rand is the injectable randomness source.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// Session is one live binding of a transport connection to a conversation.
type Session struct {
	ID             string
	UserID         string
	ConversationID string

	transport Transport
	inbox     chan string
	done      chan struct{}

	mu                 sync.Mutex
	status             Status
	lastActivity       time.Time
	pending            bool // at most one in-flight generation
	history            []ai.Message
	lastTopic          string
	interruptionChance float64
}

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Registry owns all sessions and wires the core components together.
type Registry struct {
	cfg      Config
	machine  *persona.Machine
	mem      *memory.Store
	pipe     *ai.Pipeline
	sched    *scheduler.Scheduler
	schedCfg scheduler.Config
	store    storage.Adapter
	lib      *patterns.Library
	rng      Rand
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a Registry. store may be nil (persistence disabled).
func NewRegistry(cfg Config, machine *persona.Machine, mem *memory.Store, pipe *ai.Pipeline,
	sched *scheduler.Scheduler, schedCfg scheduler.Config, store storage.Adapter,
	lib *patterns.Library, rng Rand, log zerolog.Logger) *Registry {
	if cfg.MaxMessageLen <= 0 {
		cfg = DefaultConfig()
	}
	return &Registry{
		cfg:      cfg,
		machine:  machine,
		mem:      mem,
		pipe:     pipe,
		sched:    sched,
		schedCfg: schedCfg,
		store:    store,
		lib:      lib,
		rng:      rng,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Connect registers a new session and activates it. conversationID may be
// empty; a fresh one is assigned so the conversation can outlive this
// connection. A greeting reply is emitted once the session is active.
func (r *Registry) Connect(sessionID, userID, conversationID string, t Transport) (*Session, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	s := &Session{
		ID:             sessionID,
		UserID:         userID,
		ConversationID: conversationID,
		transport:      t,
		inbox:          make(chan string, r.cfg.InboxSize),
		done:           make(chan struct{}),
		status:         StatusConnecting,
		lastActivity:   time.Now(),
	}

	r.mu.Lock()
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("session %s already connected", sessionID)
	}
	r.sessions[sessionID] = s
	r.mu.Unlock()

	// Seed personality from what worked for this user before. Lookup miss
	// or adapter failure falls back to defaults.
	st := r.machine.Initialize(conversationID)
	s.interruptionChance = 1.0
	if r.store != nil {
		if opt, err := r.store.OptimalSettings(userID); err == nil {
			st = r.machine.Seed(conversationID, persona.Mood(opt.Mood), opt.Chaos)
			if opt.InterruptionChance > 0 {
				s.interruptionChance = opt.InterruptionChance / 0.3
			}
		} else {
			r.log.Warn().Str("action", "connect").Str("session", sessionID).Err(err).Msg("optimal settings lookup failed")
		}
	}
	r.mem.Pin(userID, conversationID)

	s.mu.Lock()
	s.status = StatusActive
	s.mu.Unlock()

	go r.worker(s)

	greeting := r.lib.Pick(patterns.SetGreeting, r.rng)
	if err := t.SendReply(Reply{
		ID:             uuid.NewString(),
		Text:           greeting,
		Mood:           st.Mood,
		Chaos:          st.Chaos,
		ConversationID: conversationID,
		Provider:       "fallback",
		Timestamp:      time.Now(),
	}); err != nil {
		r.log.Warn().Str("action", "connect").Str("session", sessionID).Err(err).Msg("greeting send failed")
	}

	r.log.Info().Str("action", "connect").Str("session", sessionID).Str("conversation", conversationID).Msg("session active")
	return s, nil
}

// HandleInbound validates and enqueues one message. Messages are processed
// strictly in submission order; a message arriving while one is in flight
// waits in the inbox.
func (r *Registry) HandleInbound(sessionID, text string) error {
	s := r.get(sessionID)
	if s == nil {
		return ErrSessionNotFound
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if len(text) > r.cfg.MaxMessageLen {
		return ErrMessageTooLong
	}
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	select {
	case s.inbox <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

// Disconnect tears the session down. Idempotent; pending scheduled events
// are cancelled atomically and never fire afterwards.
func (r *Registry) Disconnect(sessionID, reason string) {
	s := r.get(sessionID)
	if s == nil {
		return
	}
	r.teardown(s, reason, false)
}

// Run drives the periodic idle sweep until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

// Shutdown closes every remaining session. Clients get a conversation_ended
// event so they know the server went away on purpose.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	remaining := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		remaining = append(remaining, s)
	}
	r.mu.Unlock()

	for _, s := range remaining {
		r.teardown(s, ReasonDisconnect, true)
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) get(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	var idle []*Session
	for _, s := range r.sessions {
		s.mu.Lock()
		// A session with a turn in flight is not idle, whatever the clock
		// says; the generation resets lastActivity when it finishes.
		if s.status == StatusActive && !s.pending && now.Sub(s.lastActivity) > r.cfg.IdleTimeout {
			idle = append(idle, s)
		}
		s.mu.Unlock()
	}
	r.mu.Unlock()

	for _, s := range idle {
		r.log.Info().Str("action", "sweep").Str("session", s.ID).Msg("idle timeout")
		r.teardown(s, ReasonIdleTimeout, true)
	}
}

// teardown is the single close path for disconnects, idle timeouts and
// patience exhaustion.
func (r *Registry) teardown(s *Session, reason string, notify bool) {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return
	}
	s.status = StatusClosed
	s.mu.Unlock()

	r.sched.CancelAll(s.ID)
	close(s.done)

	if notify {
		msg := r.lib.Pick(patterns.SetEnded, r.rng)
		if err := s.transport.SendEnded(Ended{Reason: reason, Message: msg}); err != nil {
			r.log.Debug().Str("action", "teardown").Str("session", s.ID).Err(err).Msg("ended event send failed")
		}
	}

	r.mem.Unpin(s.UserID, s.ConversationID)
	if r.store != nil {
		if err := r.store.EndConversation(s.ID, reason); err != nil {
			r.log.Warn().Str("action", "teardown").Str("session", s.ID).Err(err).Msg("end conversation persist failed")
		}
	}

	r.mu.Lock()
	delete(r.sessions, s.ID)
	r.mu.Unlock()

	r.log.Info().Str("action", "teardown").Str("session", s.ID).Str("reason", reason).Msg("session closed")
}

// worker drains the inbox one message at a time until teardown.
func (r *Registry) worker(s *Session) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.inbox:
			r.processMessage(s, msg)
		}
	}
}

// processMessage runs one full turn. Nothing in here may panic the worker
// or suppress the user-visible reply; the pipeline is total by construction.
func (r *Registry) processMessage(s *Session, msg string) {
	s.mu.Lock()
	s.pending = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.pending = false
		s.lastActivity = time.Now()
		s.mu.Unlock()
	}()

	// Context memory first, then the augmented prompt.
	r.mem.GetOrCreate(s.UserID, s.ConversationID)
	prompt := r.mem.AugmentPrompt(s.UserID, s.ConversationID, r.cfg.BasePrompt)

	st, ok := r.machine.Get(s.ConversationID)
	if !ok {
		st = r.machine.Initialize(s.ConversationID)
	}

	s.mu.Lock()
	history := append([]ai.Message(nil), s.history...)
	s.mu.Unlock()

	if err := s.transport.SendTyping(true, st.Mood); err != nil {
		r.log.Debug().Str("action", "turn").Str("session", s.ID).Err(err).Msg("typing indicator failed")
	}

	resp := r.pipe.Generate(context.Background(), ai.Request{
		UserMessage:  msg,
		History:      history,
		SystemPrompt: prompt,
		Mood:         st.Mood,
		Chaos:        st.Chaos,
	})

	// Personality transition from the finished turn.
	topics := r.lib.Topics(msg)
	drug := r.lib.HasDrugReference(msg)
	turn := r.machine.ApplyTurn(s.ConversationID, persona.TurnEvent{
		ChaosDelta:    energyChaosDelta(msg),
		DrugReference: drug,
		CalmTopic:     containsTopic(topics, "calm"),
		Ambiguous:     len(topics) == 0 && !drug,
		PatienceReset: r.topicChanged(s, topics),
	})

	r.mem.Update(s.UserID, s.ConversationID, msg, resp.Text, turn.State.Mood, turn.State.Chaos)

	r.typingDelay(msg)
	if err := s.transport.SendTyping(false, turn.State.Mood); err != nil {
		r.log.Debug().Str("action", "turn").Str("session", s.ID).Err(err).Msg("typing indicator failed")
	}

	reply := Reply{
		ID:             uuid.NewString(),
		Text:           resp.Text,
		Mood:           turn.State.Mood,
		Chaos:          turn.State.Chaos,
		ConversationID: s.ConversationID,
		Provider:       resp.Provider,
		Timestamp:      time.Now(),
	}
	if err := s.transport.SendReply(reply); err != nil {
		r.log.Warn().Str("action", "turn").Str("session", s.ID).Err(err).Msg("reply send failed")
	}

	s.mu.Lock()
	s.history = append(s.history,
		ai.Message{Role: "user", Content: msg},
		ai.Message{Role: "assistant", Content: resp.Text},
	)
	if len(s.history) > r.cfg.HistoryLimit {
		s.history = s.history[len(s.history)-r.cfg.HistoryLimit:]
	}
	s.mu.Unlock()

	r.scheduleFollowups(s, turn)
	r.persistTurn(s, msg, resp, turn)

	r.log.Info().
		Str("action", "turn").
		Str("session", s.ID).
		Str("provider", resp.Provider).
		Str("mood", string(turn.State.Mood)).
		Int("chaos", turn.State.Chaos).
		Int("patience", turn.State.Patience).
		Msg("reply sent")
}

// scheduleFollowups registers the deferred interruption or end event for
// this turn. A turn that outlived its session schedules nothing: teardown may
// have already run CancelAll while the generation was in flight.
func (r *Registry) scheduleFollowups(s *Session, turn persona.Turn) {
	if s.Status() != StatusActive {
		return
	}
	if turn.EndConversation {
		delay := r.schedCfg.EndDelay(r.rng)
		r.sched.Schedule(s.ID, delay, func() {
			r.teardown(s, ReasonPatienceExhausted, true)
		})
		r.log.Info().Str("action", "schedule").Str("session", s.ID).Dur("delay", delay).Msg("conversation end scheduled")
		return
	}

	patienceFrac := float64(turn.State.Patience) / float64(maxInt(r.machine.MaxPatience(), 1))
	chance := r.schedCfg.InterruptionChance(turn.State.Chaos, patienceFrac, turn.State.Interruptions)
	chance *= s.interruptionChance
	if r.rng.Float64() >= chance {
		return
	}
	delay := r.schedCfg.InterruptionDelay(r.rng)
	text := r.lib.Pick(patterns.SetInterruption, r.rng)
	r.sched.Schedule(s.ID, delay, func() {
		// Teardown sets CLOSED before cancelling tasks, so a task that was
		// scheduled in the race window stays silent.
		if s.Status() != StatusActive {
			return
		}
		if err := s.transport.SendInterruption(Interruption{Text: text, Reason: "chaos"}); err != nil {
			r.log.Debug().Str("action", "interrupt").Str("session", s.ID).Err(err).Msg("interruption send failed")
			return
		}
		r.machine.NoteInterruption(s.ConversationID)
		s.touch()
	})
	r.log.Debug().Str("action", "schedule").Str("session", s.ID).Dur("delay", delay).Float64("chance", chance).Msg("interruption scheduled")
}

// persistTurn notifies the persistence adapter. Fire-and-forget: failures
// are logged and never block or alter the reply path.
func (r *Registry) persistTurn(s *Session, msg string, resp ai.Response, turn persona.Turn) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveUserMessage(s.ID, msg); err != nil {
		r.log.Warn().Str("action", "persist").Str("session", s.ID).Err(err).Msg("save user message failed")
	}
	rec := storage.ReplyRecord{
		UserKey:       s.UserID,
		Text:          resp.Text,
		Provider:      resp.Provider,
		Mood:          string(turn.State.Mood),
		Chaos:         turn.State.Chaos,
		Effectiveness: memory.Effectiveness(resp.Text, r.lib),
		At:            time.Now(),
	}
	if err := r.store.SaveAgentReply(s.ID, rec); err != nil {
		r.log.Warn().Str("action", "persist").Str("session", s.ID).Err(err).Msg("save reply failed")
	}
}

// typingDelay simulates thinking time: a random base plus message
// complexity, capped at 4s.
func (r *Registry) typingDelay(msg string) {
	if r.cfg.TypingDelayOff {
		return
	}
	base := r.cfg.TypingMinDelay
	if span := r.cfg.TypingMaxDelay - r.cfg.TypingMinDelay; span > 0 {
		base += time.Duration(r.rng.Intn(int(span)))
	}
	complexity := time.Duration(len(strings.Fields(msg))) * 100 * time.Millisecond / 10
	delay := base + complexity
	if delay > 4*time.Second {
		delay = 4 * time.Second
	}
	time.Sleep(delay)
}

// topicChanged reports whether the dominant topic moved, which counts as the
// explicit patience reset event.
func (r *Registry) topicChanged(s *Session, topics []string) bool {
	if len(topics) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTopic == topics[0] {
		return false
	}
	changed := s.lastTopic != ""
	s.lastTopic = topics[0]
	return changed
}

// energyChaosDelta is the chaos delta the turn proposes from message energy
// alone: exclamation marks and shouting push chaos up slightly.
func energyChaosDelta(msg string) int {
	delta := 0
	delta += strings.Count(msg, "!") * 2
	var upper, letters int
	for _, r := range msg {
		if r >= 'A' && r <= 'Z' {
			upper++
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			letters++
		}
	}
	if letters > 4 && upper*100/maxInt(letters, 1) > 60 {
		delta += 5
	}
	if delta > 10 {
		delta = 10
	}
	return delta
}

func containsTopic(topics []string, want string) bool {
	for _, t := range topics {
		if t == want {
			return true
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
