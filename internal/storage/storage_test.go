package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s, err := New(ctx, filepath.Join(t.TempDir(), "datastore.json"))
	require.NoError(t, err)
	// Close blocks on the autosave goroutine until ctx is cancelled.
	t.Cleanup(func() {
		cancel()
		_ = s.Close()
	})
	return s
}

func TestSaveAndEndSession(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.SaveUserMessage("sess1", "yo wat is goed"))
	require.NoError(t, s.SaveAgentReply("sess1", ReplyRecord{
		UserKey:       "u1",
		Text:          "B-Negar! Alles goed!",
		Provider:      "primary",
		Mood:          "chill",
		Chaos:         35,
		Effectiveness: 0.6,
		At:            time.Now(),
	}))
	require.NoError(t, s.EndConversation("sess1", "client_disconnect"))

	rec, err := s.getSessionRecord("sess1")
	require.NoError(t, err)
	assert.Len(t, rec.Messages, 1)
	assert.Len(t, rec.Replies, 1)
	assert.NotNil(t, rec.EndedAt)
	assert.Equal(t, "client_disconnect", rec.EndReason)
}

func TestOptimalSettingsDefaults(t *testing.T) {
	s := newTestStorage(t)

	opt, err := s.OptimalSettings("nobody")
	require.NoError(t, err)
	assert.Equal(t, "chill", opt.Mood)
	assert.Equal(t, 30, opt.Chaos)
	assert.InDelta(t, 0.3, opt.InterruptionChance, 0.001)
}

func TestOptimalSettingsPicksBestSample(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.SaveAgentReply("sess1", ReplyRecord{
		UserKey: "u1", Mood: "chill", Chaos: 20, Effectiveness: 0.4, At: time.Now(),
	}))
	require.NoError(t, s.SaveAgentReply("sess1", ReplyRecord{
		UserKey: "u1", Mood: "chaotic", Chaos: 80, Effectiveness: 0.9, At: time.Now(),
	}))

	opt, err := s.OptimalSettings("u1")
	require.NoError(t, err)
	assert.Equal(t, "chaotic", opt.Mood)
	assert.Equal(t, 80, opt.Chaos)
	// 0.15 + 0.3 * avg(0.4, 0.9)
	assert.InDelta(t, 0.345, opt.InterruptionChance, 0.001)
}

func TestRepliesIsolatedPerUser(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.SaveAgentReply("sess1", ReplyRecord{
		UserKey: "u1", Mood: "done", Chaos: 5, Effectiveness: 0.9, At: time.Now(),
	}))

	opt, err := s.OptimalSettings("u2")
	require.NoError(t, err)
	assert.Equal(t, "chill", opt.Mood, "another user's samples must not leak")
}
