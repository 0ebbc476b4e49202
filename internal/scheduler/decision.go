package scheduler

import (
	"time"
)

// Rand is the injectable randomness source for probabilities and delays.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// Config holds the interruption/end timing model. The probability is
// monotonic up with chaos, monotonic down with patience, with a bonus while
// interruptions are still scarce and a nonzero baseline.
type Config struct {
	InterruptionBase        float64
	InterruptionChaosWeight float64
	InterruptionScarcity    float64 // bonus while the conversation saw few interruptions
	PatienceDamping         float64
	InterruptionMinDelay    time.Duration
	InterruptionMaxDelay    time.Duration
	EndMinDelay             time.Duration
	EndMaxDelay             time.Duration
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		InterruptionBase:        0.05,
		InterruptionChaosWeight: 0.35,
		InterruptionScarcity:    0.15,
		PatienceDamping:         0.2,
		InterruptionMinDelay:    3 * time.Second,
		InterruptionMaxDelay:    12 * time.Second,
		EndMinDelay:             1 * time.Second,
		EndMaxDelay:             4 * time.Second,
	}
}

// InterruptionChance returns the probability 0..1 of scheduling an
// interruption after this turn. patienceFrac is patience / max patience.
func (c Config) InterruptionChance(chaos int, patienceFrac float64, interruptions int) float64 {
	p := c.InterruptionBase + c.InterruptionChaosWeight*float64(chaos)/100
	if interruptions < 2 {
		p += c.InterruptionScarcity
	}
	p -= c.PatienceDamping * clamp01(patienceFrac)
	return clamp01(p)
}

// InterruptionDelay draws a delay in the configured bounded range.
func (c Config) InterruptionDelay(rng Rand) time.Duration {
	return randomDelay(c.InterruptionMinDelay, c.InterruptionMaxDelay, rng)
}

// EndDelay draws the short delay before a conversation-ended event.
func (c Config) EndDelay(rng Rand) time.Duration {
	return randomDelay(c.EndMinDelay, c.EndMaxDelay, rng)
}

func randomDelay(min, max time.Duration, rng Rand) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Intn(int(max-min)))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
