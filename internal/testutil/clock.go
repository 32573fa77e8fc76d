package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a resettable logical clock for tests.
//
// It satisfies lock.Sequencer. Unlike lock.Clock it can be reset, so a test
// can replay the same lock sequence and assert identical seq values.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock starting at 0. The first Next
// returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last issued number.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// ManualTime is a wall clock that only moves when told to. Its Now method
// plugs into the Now hooks of lock.Config and adapter.WithNow.
type ManualTime struct {
	mu sync.Mutex
	t  time.Time
}

// NewManualTime creates a clock frozen at start.
func NewManualTime(start time.Time) *ManualTime {
	return &ManualTime{t: start}
}

// Now returns the current frozen time.
func (m *ManualTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Advance moves the clock forward by d.
func (m *ManualTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}
