package ai

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// AdaptiveLimiter throttles remote provider calls. The allowed rate climbs
// on success and halves on provider errors, between fixed bounds.
type AdaptiveLimiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	minLimit rate.Limit
	maxLimit rate.Limit
	stepUp   rate.Limit
	stepDown float64
}

// NewAdaptiveLimiter creates a limiter starting at initial req/s.
func NewAdaptiveLimiter(initial, min, max rate.Limit) *AdaptiveLimiter {
	if initial < min {
		initial = min
	}
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(initial, 1),
		minLimit: min,
		maxLimit: max,
		stepUp:   0.5,
		stepDown: 0.5,
	}
}

// Allow reports whether a call may proceed now, without blocking. The
// pipeline skips remote stages when the budget is exhausted rather than
// delaying the user-visible reply.
func (a *AdaptiveLimiter) Allow() bool {
	return a.limiter.Allow()
}

// Wait blocks until a token is available or the context is cancelled.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Success raises the rate after a successful call.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.limiter.Limit() + a.stepUp
	if next > a.maxLimit {
		next = a.maxLimit
	}
	a.limiter.SetLimit(next)
}

// Failure lowers the rate after a provider error.
func (a *AdaptiveLimiter) Failure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := rate.Limit(float64(a.limiter.Limit()) * a.stepDown)
	if next < a.minLimit {
		next = a.minLimit
	}
	a.limiter.SetLimit(next)
}
