// Package scheduler runs deferred interruption and conversation-end events
// as cancellable tasks keyed by session id. All tasks of a session are torn
// down atomically when the session closes; a cancelled task never delivers.
package scheduler

import (
	"sync"
	"time"
)

// Handle identifies one scheduled task.
type Handle struct {
	sessionID string
	id        int64
}

type task struct {
	timer     *time.Timer
	cancelled bool
}

// Scheduler owns all pending tasks. Safe for concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]map[int64]*task
	nextID int64
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{tasks: make(map[string]map[int64]*task)}
}

// Schedule registers fn to run after delay, owned by sessionID. fn runs on
// the timer goroutine; keep it short and non-blocking.
func (s *Scheduler) Schedule(sessionID string, delay time.Duration, fn func()) Handle {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	t := &task{}
	if s.tasks[sessionID] == nil {
		s.tasks[sessionID] = make(map[int64]*task)
	}
	s.tasks[sessionID][id] = t

	t.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		cancelled := t.cancelled
		if m := s.tasks[sessionID]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(s.tasks, sessionID)
			}
		}
		s.mu.Unlock()
		// The cancelled check happens under the same lock CancelAll takes,
		// so a task that lost the race to its cancellation stays silent.
		if cancelled {
			return
		}
		fn()
	})
	s.mu.Unlock()
	return Handle{sessionID: sessionID, id: id}
}

// Cancel stops one task. Idempotent; safe on already-fired handles.
func (s *Scheduler) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.tasks[h.sessionID]; m != nil {
		if t := m[h.id]; t != nil {
			t.cancelled = true
			t.timer.Stop()
			delete(m, h.id)
			if len(m) == 0 {
				delete(s.tasks, h.sessionID)
			}
		}
	}
}

// CancelAll stops every pending task of a session. Idempotent. A task whose
// timer already expired but has not yet checked in will observe the
// cancellation and not deliver.
func (s *Scheduler) CancelAll(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks[sessionID] {
		t.cancelled = true
		t.timer.Stop()
	}
	delete(s.tasks, sessionID)
}

// Pending returns the number of live tasks for a session.
func (s *Scheduler) Pending(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks[sessionID])
}
