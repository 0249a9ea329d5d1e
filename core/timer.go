package core

import "sync/atomic"

// Clock is a monotonic microsecond time source. Values wrap at 2^32 µs
// (about 71 minutes); use ElapsedUS for differences.
type Clock interface {
	NowUS() uint32
}

// ElapsedUS returns to-from with wrap-around handled
func ElapsedUS(from, to uint32) uint32 {
	return to - from
}

// Reached reports whether now is at or past deadline (wrap-safe)
func Reached(now, deadline uint32) bool {
	return int32(now-deadline) >= 0
}

// TickClock is a clock whose value is pushed in from outside: by the
// target's hardware timer read in the main loop, by the simulator, or by
// tests. Reads and writes are atomic so interrupt context sees whole values.
type TickClock struct {
	us atomic.Uint32
}

// NewTickClock returns a clock starting at start µs
func NewTickClock(start uint32) *TickClock {
	c := &TickClock{}
	c.us.Store(start)
	return c
}

// NowUS returns the current time
func (c *TickClock) NowUS() uint32 {
	return c.us.Load()
}

// Set sets the current time
func (c *TickClock) Set(us uint32) {
	c.us.Store(us)
}

// Advance moves the clock forward by us and returns the new time
func (c *TickClock) Advance(us uint32) uint32 {
	return c.us.Add(us)
}
