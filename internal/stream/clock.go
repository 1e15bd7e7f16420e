package stream

import "sync/atomic"

// Clock is the per-run monotonic logical counter stamped into event `lc`
// fields. Ordering across processes rides on causal_refs and wall-clock
// timestamps; lc orders the events of a single run.
//
// Thread-safety: safe for concurrent use (atomic operations).
type Clock struct {
	lc atomic.Int64
}

// NewClock creates a clock starting at 0. The first event of a run is
// stamped lc=0; Next increments after returning.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the current counter value and increments the clock.
func (c *Clock) Next() int64 {
	return c.lc.Add(1) - 1
}

// Current returns the counter without incrementing.
func (c *Clock) Current() int64 {
	return c.lc.Load()
}
