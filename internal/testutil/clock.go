package testutil

import (
	"sync"
	"time"
)

// WallClock deals out deterministic wall-clock instants for tests.
//
// Ledger operations take an explicit now; feeding them from a WallClock
// makes timestamps, derived ids, and golden files byte-stable across
// runs. Each Next() advances by a fixed step so successive operations
// never share an instant.
//
// Thread-safety: all methods are safe for concurrent use.
type WallClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewWallClock starts a clock at start, advancing by step per Next().
// A zero step defaults to one second.
func NewWallClock(start time.Time, step time.Duration) *WallClock {
	if step == 0 {
		step = time.Second
	}
	return &WallClock{now: start.UTC(), step: step}
}

// Next returns the current instant and advances the clock.
func (c *WallClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Peek returns the instant the next call to Next will hand out.
func (c *WallClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to start. After Reset the next call to Next
// returns start, so a scenario can replay with identical timestamps.
func (c *WallClock) Reset(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = start.UTC()
}
