// Package memory keeps a bounded per-conversation rolling record of topics,
// counters and effectiveness samples, used to augment prompts. The store is
// a volatile cache: capacity-bounded, TTL-evicted, reconstructible from the
// persistence adapter if durability is ever needed.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/keshon/young-ellens/internal/patterns"
	"github.com/keshon/young-ellens/internal/persona"
)

// Key addresses one context record.
type Key struct {
	UserID         string
	ConversationID string
}

// Sample is one (message, reply) turn with its derived effectiveness score.
type Sample struct {
	UserMessage   string    `json:"user_message"`
	Reply         string    `json:"reply"`
	Effectiveness float64   `json:"effectiveness"`
	At            time.Time `json:"at"`
}

// Record is the rolling memory of one conversation.
type Record struct {
	Topics          map[string]bool `json:"topics"`
	TopicLog        []string        `json:"topic_log"`
	DrugMentions    int             `json:"drug_mentions"`
	Denials         int             `json:"denials"`
	MessageLengths  []int           `json:"message_lengths"`
	Samples         []Sample        `json:"samples"`
	MaxChaos        int             `json:"max_chaos"`
	BoredomTriggers []string        `json:"boredom_triggers"`
	Preferences     map[string]int  `json:"preferences"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Config bounds the store.
type Config struct {
	MaxContexts int           // hard capacity of live records
	TTL         time.Duration // records idle longer than this are evicted
	WindowSize  int           // K for the rolling windows
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxContexts: 1000,
		TTL:         24 * time.Hour,
		WindowSize:  10,
	}
}

// Store holds all context records. Single-writer-per-key discipline is
// enforced with one store-wide mutex; reads for analytics take the read lock
// and return copies.
type Store struct {
	cfg    Config
	lib    *patterns.Library
	mu     sync.RWMutex
	records map[Key]*Record
	pinned  map[Key]int // active-session refcount; pinned records survive eviction
}

// NewStore creates a Store over the given pattern library.
func NewStore(cfg Config, lib *patterns.Library) *Store {
	if cfg.MaxContexts <= 0 {
		cfg = DefaultConfig()
	}
	return &Store{
		cfg:     cfg,
		lib:     lib,
		records: make(map[Key]*Record),
		pinned:  make(map[Key]int),
	}
}

// GetOrCreate returns a snapshot of the record, creating a zeroed one if
// absent. Runs an opportunistic cleanup pass when over capacity.
func (s *Store) GetOrCreate(userID, conversationID string) Record {
	key := Key{UserID: userID, ConversationID: conversationID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) > s.cfg.MaxContexts {
		s.cleanupLocked(time.Now())
	}
	return snapshot(s.ensureLocked(key))
}

// Pin marks the record as belonging to an ACTIVE session; pinned records are
// skipped by eviction while unpinned candidates exist. Unpin when the session
// closes. Both are idempotent per session via refcounting.
func (s *Store) Pin(userID, conversationID string) {
	key := Key{UserID: userID, ConversationID: conversationID}
	s.mu.Lock()
	s.pinned[key]++
	s.mu.Unlock()
}

// Unpin releases a Pin.
func (s *Store) Unpin(userID, conversationID string) {
	key := Key{UserID: userID, ConversationID: conversationID}
	s.mu.Lock()
	if s.pinned[key] > 1 {
		s.pinned[key]--
	} else {
		delete(s.pinned, key)
	}
	s.mu.Unlock()
}

// Update appends the turn to the record: rolling windows, counters, topic
// detection and the effectiveness score for the reply.
func (s *Store) Update(userID, conversationID, userMessage, reply string, mood persona.Mood, chaos int) {
	key := Key{UserID: userID, ConversationID: conversationID}
	now := time.Now()

	topics := s.lib.Topics(userMessage)
	drug := s.lib.HasDrugReference(userMessage)
	denial := s.lib.IsDenial(reply)
	eff := Effectiveness(reply, s.lib)

	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(key)

	for _, t := range topics {
		if !rec.Topics[t] {
			rec.Topics[t] = true
		}
		if n := len(rec.TopicLog); n == 0 || rec.TopicLog[n-1] != t {
			rec.TopicLog = append(rec.TopicLog, t)
		}
		rec.Preferences[t]++
	}
	if drug {
		rec.DrugMentions++
	}
	if denial {
		rec.Denials++
	}
	if chaos > rec.MaxChaos {
		rec.MaxChaos = chaos
	}
	if mood == persona.MoodDone {
		rec.BoredomTriggers = appendBounded(rec.BoredomTriggers, userMessage, s.cfg.WindowSize)
	}
	rec.MessageLengths = appendBounded(rec.MessageLengths, len(userMessage), s.cfg.WindowSize)
	rec.Samples = appendBounded(rec.Samples, Sample{
		UserMessage:   userMessage,
		Reply:         reply,
		Effectiveness: eff,
		At:            now,
	}, s.cfg.WindowSize)
	rec.UpdatedAt = now
}

// AugmentPrompt returns basePrompt plus natural-language context clauses.
// Read-only; an unknown conversation returns basePrompt untouched.
func (s *Store) AugmentPrompt(userID, conversationID, basePrompt string) string {
	key := Key{UserID: userID, ConversationID: conversationID}
	s.mu.RLock()
	rec, ok := s.records[key]
	if !ok {
		s.mu.RUnlock()
		return basePrompt
	}
	snap := snapshot(rec)
	s.mu.RUnlock()

	var b strings.Builder
	b.WriteString(basePrompt)

	if n := len(snap.TopicLog); n > 0 {
		start := n - 3
		if start < 0 {
			start = 0
		}
		b.WriteString("\nRecently discussed: " + strings.Join(snap.TopicLog[start:], ", ") + ".")
	}
	if snap.DrugMentions > 0 {
		b.WriteString(fmt.Sprintf("\nDrug topic came up %d time(s); you denied it %d time(s). Keep denying, stay playful.",
			snap.DrugMentions, snap.Denials))
	}
	if snap.MaxChaos > 0 {
		b.WriteString(fmt.Sprintf("\nPeak chaos reached so far: %d/100.", snap.MaxChaos))
	}
	if prefs := topPreferences(snap.Preferences, 2); len(prefs) > 0 {
		b.WriteString("\nThis user keeps coming back to: " + strings.Join(prefs, ", ") + ".")
	}
	if n := len(snap.BoredomTriggers); n > 0 {
		b.WriteString("\nTopics that bored you before: " + strings.Join(lastN(snap.BoredomTriggers, 2), "; ") + ".")
	}
	return b.String()
}

// Insights is a read-only analytics snapshot of one conversation.
type Insights struct {
	TopicDiversity    int      `json:"topic_diversity"`
	AvgMessageLength  float64  `json:"avg_message_length"`
	DrugEngagement    float64  `json:"drug_engagement"` // denials per drug mention
	DominantTopics    []string `json:"dominant_topics"`
	EngagementPattern string   `json:"engagement_pattern"`
}

// InsightsFor computes analytics for one conversation. Unknown conversations
// yield zero values.
func (s *Store) InsightsFor(userID, conversationID string) Insights {
	key := Key{UserID: userID, ConversationID: conversationID}
	s.mu.RLock()
	rec, ok := s.records[key]
	if !ok {
		s.mu.RUnlock()
		return Insights{EngagementPattern: "none"}
	}
	snap := snapshot(rec)
	s.mu.RUnlock()

	out := Insights{
		TopicDiversity: len(snap.Topics),
		DominantTopics: topPreferences(snap.Preferences, 3),
	}
	if len(snap.MessageLengths) > 0 {
		var sum int
		for _, l := range snap.MessageLengths {
			sum += l
		}
		out.AvgMessageLength = float64(sum) / float64(len(snap.MessageLengths))
	}
	if snap.DrugMentions > 0 {
		out.DrugEngagement = float64(snap.Denials) / float64(snap.DrugMentions)
	}
	switch {
	case len(snap.Samples) == 0:
		out.EngagementPattern = "none"
	case avgEffectiveness(snap.Samples) > 0.7:
		out.EngagementPattern = "engaged"
	case avgEffectiveness(snap.Samples) > 0.45:
		out.EngagementPattern = "steady"
	default:
		out.EngagementPattern = "fading"
	}
	return out
}

// Len returns the live record count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Cleanup evicts expired and excess records: first everything idle past TTL,
// then least-recently-updated records until at or below capacity. Pinned
// records are never evicted, so the live count can exceed MaxContexts while
// active sessions outnumber it; Unpin returns them to the candidate pool.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(time.Now())
}

func (s *Store) cleanupLocked(now time.Time) int {
	removed := 0
	cutoff := now.Add(-s.cfg.TTL)
	for key, rec := range s.records {
		if s.pinned[key] > 0 {
			continue
		}
		if rec.UpdatedAt.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	if len(s.records) <= s.cfg.MaxContexts {
		return removed
	}

	type aged struct {
		key Key
		at  time.Time
	}
	candidates := make([]aged, 0, len(s.records))
	for key, rec := range s.records {
		if s.pinned[key] > 0 {
			continue
		}
		candidates = append(candidates, aged{key: key, at: rec.UpdatedAt})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].at.Before(candidates[j].at) })
	for _, c := range candidates {
		if len(s.records) <= s.cfg.MaxContexts {
			break
		}
		delete(s.records, c.key)
		removed++
	}
	return removed
}

func (s *Store) ensureLocked(key Key) *Record {
	rec := s.records[key]
	if rec == nil {
		rec = &Record{
			Topics:      make(map[string]bool),
			Preferences: make(map[string]int),
			UpdatedAt:   time.Now(),
		}
		s.records[key] = rec
	}
	return rec
}

// Effectiveness scores a reply: start at 0.5; +0.1 if longer than 50 chars;
// +0.1 more if longer than 100; +0.1 if it contains an emoji-range rune;
// +0.15 if it contains a question mark; +0.1 if it contains a recognized
// slang token; clamped to [0,1]. This formula drives later pipeline
// decisions and must stay stable.
func Effectiveness(reply string, lib *patterns.Library) float64 {
	score := 0.5
	if len(reply) > 50 {
		score += 0.1
	}
	if len(reply) > 100 {
		score += 0.1
	}
	if containsEmoji(reply) {
		score += 0.1
	}
	if strings.ContainsRune(reply, '?') {
		score += 0.15
	}
	if lib.HasSlang(reply) {
		score += 0.1
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func containsEmoji(s string) bool {
	for _, r := range s {
		if r >= 0x1F300 && r <= 0x1FAFF {
			return true
		}
	}
	return false
}

func avgEffectiveness(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, smp := range samples {
		sum += smp.Effectiveness
	}
	return sum / float64(len(samples))
}

func topPreferences(prefs map[string]int, n int) []string {
	type kv struct {
		topic string
		count int
	}
	all := make([]kv, 0, len(prefs))
	for t, c := range prefs {
		all = append(all, kv{t, c})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].topic < all[j].topic
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, 0, len(all))
	for _, e := range all {
		out = append(out, e.topic)
	}
	return out
}

func appendBounded[T any](buf []T, v T, max int) []T {
	buf = append(buf, v)
	if max > 0 && len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}

func lastN[T any](buf []T, n int) []T {
	if len(buf) <= n {
		return buf
	}
	return buf[len(buf)-n:]
}

func snapshot(rec *Record) Record {
	out := *rec
	out.Topics = make(map[string]bool, len(rec.Topics))
	for k, v := range rec.Topics {
		out.Topics[k] = v
	}
	out.Preferences = make(map[string]int, len(rec.Preferences))
	for k, v := range rec.Preferences {
		out.Preferences[k] = v
	}
	out.TopicLog = append([]string(nil), rec.TopicLog...)
	out.MessageLengths = append([]int(nil), rec.MessageLengths...)
	out.Samples = append([]Sample(nil), rec.Samples...)
	out.BoredomTriggers = append([]string(nil), rec.BoredomTriggers...)
	return out
}
