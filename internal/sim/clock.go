package sim

import "sync/atomic"

// Clock is the simulation's logical clock: a monotonic tick counter plus a
// fixed seconds-per-tick step. Simulated time is always tick*step, never
// wall time, so runs are reproducible.
//
// Thread-safety: atomic, so observers may read while the engine advances,
// but only the engine's tick loop calls Advance.
type Clock struct {
	tick atomic.Int64
	step float64
}

// NewClock creates a clock at tick 0 advancing step simulated seconds per
// tick.
func NewClock(step float64) *Clock {
	return &Clock{step: step}
}

// Advance moves to the next tick and returns it.
func (c *Clock) Advance() int64 {
	return c.tick.Add(1)
}

// Tick returns the current tick number.
func (c *Clock) Tick() int64 {
	return c.tick.Load()
}

// Now returns the current simulated time in seconds.
func (c *Clock) Now() float64 {
	return float64(c.tick.Load()) * c.step
}

// Step returns the configured seconds-per-tick.
func (c *Clock) Step() float64 {
	return c.step
}
