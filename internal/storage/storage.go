// Package storage is the best-effort persistence adapter: conversation
// transcripts and per-user reply statistics on top of the JSON file
// datastore. Callers treat every error as log-and-continue; nothing here may
// block the reply path.
package storage

import (
	"context"
	"time"

	"github.com/keshon/datastore"
)

const (
	messageHistoryLimit = 50
	replyHistoryLimit   = 50
	userSampleLimit     = 100
)

// Adapter is what the session registry depends on. *Storage implements it;
// tests substitute fakes.
type Adapter interface {
	SaveUserMessage(sessionID, text string) error
	SaveAgentReply(sessionID string, rec ReplyRecord) error
	EndConversation(sessionID, reason string) error
	OptimalSettings(userKey string) (OptimalSettings, error)
}

// ReplyRecord is one persisted agent reply.
type ReplyRecord struct {
	UserKey       string    `json:"user_key"`
	Text          string    `json:"text"`
	Provider      string    `json:"provider"`
	Mood          string    `json:"mood"`
	Chaos         int       `json:"chaos"`
	Effectiveness float64   `json:"effectiveness"`
	At            time.Time `json:"at"`
}

// OptimalSettings seed a fresh conversation from what worked before for
// this user.
type OptimalSettings struct {
	Mood               string  `json:"mood"`
	Chaos              int     `json:"chaos"`
	InterruptionChance float64 `json:"interruption_chance"`
}

// MessageRecord is one persisted inbound message.
type MessageRecord struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// SessionRecord is the per-session transcript.
type SessionRecord struct {
	Messages  []MessageRecord `json:"messages"`
	Replies   []ReplyRecord   `json:"replies"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	EndReason string          `json:"end_reason,omitempty"`
}

// userStats aggregates reply outcomes per user key.
type userStats struct {
	Samples []ReplyRecord `json:"samples"`
}

// Storage wraps the datastore.
type Storage struct {
	ds *datastore.DataStore
}

// New opens (or creates) the datastore file. ctx governs the store's
// autosave goroutine; Close blocks until ctx is cancelled, so on shutdown
// cancel first, then Close.
func New(ctx context.Context, filePath string) (*Storage, error) {
	ds, err := datastore.New(ctx, filePath)
	if err != nil {
		return nil, err
	}
	return &Storage{ds: ds}, nil
}

// Close flushes and closes the underlying store.
func (s *Storage) Close() error {
	return s.ds.Close()
}

// SaveUserMessage appends an inbound message to the session transcript.
func (s *Storage) SaveUserMessage(sessionID, text string) error {
	rec, err := s.getSessionRecord(sessionID)
	if err != nil {
		return err
	}
	rec.Messages = append(rec.Messages, MessageRecord{Text: text, At: time.Now()})
	if len(rec.Messages) > messageHistoryLimit {
		rec.Messages = rec.Messages[len(rec.Messages)-messageHistoryLimit:]
	}
	return s.ds.Set(sessionKey(sessionID), rec)
}

// SaveAgentReply appends a reply to the transcript and to the per-user
// statistics used by OptimalSettings.
func (s *Storage) SaveAgentReply(sessionID string, reply ReplyRecord) error {
	rec, err := s.getSessionRecord(sessionID)
	if err != nil {
		return err
	}
	rec.Replies = append(rec.Replies, reply)
	if len(rec.Replies) > replyHistoryLimit {
		rec.Replies = rec.Replies[len(rec.Replies)-replyHistoryLimit:]
	}
	if err := s.ds.Set(sessionKey(sessionID), rec); err != nil {
		return err
	}

	if reply.UserKey == "" {
		return nil
	}
	stats, err := s.getUserStats(reply.UserKey)
	if err != nil {
		return err
	}
	stats.Samples = append(stats.Samples, reply)
	if len(stats.Samples) > userSampleLimit {
		stats.Samples = stats.Samples[len(stats.Samples)-userSampleLimit:]
	}
	return s.ds.Set(userKey(reply.UserKey), stats)
}

// EndConversation marks the transcript closed with a reason code.
func (s *Storage) EndConversation(sessionID, reason string) error {
	rec, err := s.getSessionRecord(sessionID)
	if err != nil {
		return err
	}
	now := time.Now()
	rec.EndedAt = &now
	rec.EndReason = reason
	return s.ds.Set(sessionKey(sessionID), rec)
}

// OptimalSettings derives a starting mood/chaos/interruption-chance from the
// user's most effective past replies. Users without history get the
// defaults.
func (s *Storage) OptimalSettings(key string) (OptimalSettings, error) {
	def := OptimalSettings{Mood: "chill", Chaos: 30, InterruptionChance: 0.3}
	var stats userStats
	found, err := s.ds.Get(userKey(key), &stats)
	if err != nil {
		return def, err
	}
	if !found || len(stats.Samples) == 0 {
		return def, nil
	}

	best := stats.Samples[0]
	var effSum float64
	for _, smp := range stats.Samples {
		effSum += smp.Effectiveness
		if smp.Effectiveness > best.Effectiveness {
			best = smp
		}
	}
	avg := effSum / float64(len(stats.Samples))
	return OptimalSettings{
		Mood:               best.Mood,
		Chaos:              best.Chaos,
		InterruptionChance: 0.15 + 0.3*avg,
	}, nil
}

func (s *Storage) getSessionRecord(sessionID string) (*SessionRecord, error) {
	var rec SessionRecord
	found, err := s.ds.Get(sessionKey(sessionID), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return &SessionRecord{}, nil
	}
	return &rec, nil
}

func (s *Storage) getUserStats(key string) (*userStats, error) {
	var stats userStats
	found, err := s.ds.Get(userKey(key), &stats)
	if err != nil {
		return nil, err
	}
	if !found {
		return &userStats{}, nil
	}
	return &stats, nil
}

func sessionKey(sessionID string) string { return "session:" + sessionID }
func userKey(key string) string          { return "user:" + key }
