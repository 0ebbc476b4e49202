package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleFires(t *testing.T) {
	s := New()
	var fired atomic.Int32

	s.Schedule("s1", 10*time.Millisecond, func() { fired.Add(1) })

	assert.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Zero(t, s.Pending("s1"))
}

func TestCancelBeforeFire(t *testing.T) {
	s := New()
	var fired atomic.Int32

	h := s.Schedule("s1", 50*time.Millisecond, func() { fired.Add(1) })
	s.Cancel(h)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, fired.Load())
	assert.Zero(t, s.Pending("s1"))
}

func TestCancelAllStopsEverything(t *testing.T) {
	s := New()
	var fired atomic.Int32

	for i := 0; i < 5; i++ {
		s.Schedule("s1", 50*time.Millisecond, func() { fired.Add(1) })
	}
	s.Schedule("other", 50*time.Millisecond, func() { fired.Add(100) })

	assert.Equal(t, 5, s.Pending("s1"))
	s.CancelAll("s1")
	assert.Zero(t, s.Pending("s1"))

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(100), fired.Load(), "only the other session's task fires")
}

func TestCancelAllIdempotent(t *testing.T) {
	s := New()
	s.Schedule("s1", time.Hour, func() {})

	s.CancelAll("s1")
	s.CancelAll("s1")
	s.CancelAll("unknown")
	assert.Zero(t, s.Pending("s1"))
}

func TestCancelFiredHandleIsSafe(t *testing.T) {
	s := New()
	var fired atomic.Int32

	h := s.Schedule("s1", time.Millisecond, func() { fired.Add(1) })
	assert.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, time.Millisecond)

	s.Cancel(h)
	assert.Equal(t, int32(1), fired.Load())
}

func TestInterruptionChanceModel(t *testing.T) {
	cfg := DefaultConfig()

	low := cfg.InterruptionChance(10, 1.0, 5)
	high := cfg.InterruptionChance(90, 1.0, 5)
	assert.Greater(t, high, low, "chance rises with chaos")

	patient := cfg.InterruptionChance(50, 1.0, 5)
	impatient := cfg.InterruptionChance(50, 0.1, 5)
	assert.Greater(t, impatient, patient, "chance rises as patience drains")

	scarce := cfg.InterruptionChance(50, 0.5, 0)
	saturated := cfg.InterruptionChance(50, 0.5, 10)
	assert.Greater(t, scarce, saturated, "early interruptions get a bonus")

	for chaos := 0; chaos <= 100; chaos += 25 {
		c := cfg.InterruptionChance(chaos, 0.0, 0)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
	}
}

func TestDelaysWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	rng := fixedRand{}

	for i := 0; i < 20; i++ {
		d := cfg.InterruptionDelay(rng)
		assert.GreaterOrEqual(t, d, cfg.InterruptionMinDelay)
		assert.LessOrEqual(t, d, cfg.InterruptionMaxDelay)

		e := cfg.EndDelay(rng)
		assert.GreaterOrEqual(t, e, cfg.EndMinDelay)
		assert.LessOrEqual(t, e, cfg.EndMaxDelay)
	}
}

type fixedRand struct{}

func (fixedRand) Float64() float64 { return 0.5 }
func (fixedRand) Intn(n int) int   { return n / 2 }
