package timer

import (
	"time"

	"go.uber.org/atomic"
)

// Ticks is a millisecond count from an arbitrary origin. It wraps around after
// about 49 days; all timer arithmetic is done modulo 2^32.
type Ticks uint32

// FromDuration converts d to ticks, rounding down.
func FromDuration(d time.Duration) Ticks {
	return Ticks(d.Milliseconds())
}

// Duration converts ticks back to a time.Duration.
func (t Ticks) Duration() time.Duration {
	return time.Duration(t) * time.Millisecond
}

// Clock supplies the current tick count.
type Clock interface {
	Now() Ticks
}

// MonotonicClock counts milliseconds since it was created, using the
// runtime's monotonic clock.
type MonotonicClock struct {
	origin time.Time
}

// NewMonotonicClock returns a clock whose origin is now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{origin: time.Now()}
}

func (c *MonotonicClock) Now() Ticks {
	return Ticks(uint32(time.Since(c.origin).Milliseconds())) //nolint:gosec
}

// ManualClock only moves when told to. Safe for concurrent use.
type ManualClock struct {
	now *atomic.Uint32
}

// NewManualClock returns a clock reading start.
func NewManualClock(start Ticks) *ManualClock {
	return &ManualClock{now: atomic.NewUint32(uint32(start))}
}

func (c *ManualClock) Now() Ticks {
	return Ticks(c.now.Load())
}

// Advance moves the clock forward by d ticks and returns the new reading.
func (c *ManualClock) Advance(d Ticks) Ticks {
	return Ticks(c.now.Add(uint32(d)))
}

// Set jumps the clock to t.
func (c *ManualClock) Set(t Ticks) {
	c.now.Store(uint32(t))
}
