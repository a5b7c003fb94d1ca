package testutil

import (
	"sync"
	"time"
)

// FakeClock is a manually driven wall clock for tests.
//
// Unlike the real clock, time only moves when the test calls Set or
// Advance, so eligibility boundaries can be hit exactly.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock frozen at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// NewFakeClockUnix creates a clock frozen at the given unix second.
func NewFakeClockUnix(sec int64) *FakeClock {
	return NewFakeClock(time.Unix(sec, 0).UTC())
}

// Now returns the frozen time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t, forwards or backwards.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
