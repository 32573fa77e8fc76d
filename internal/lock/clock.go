package lock

import "sync/atomic"

// Sequencer issues strictly increasing logical timestamps.
type Sequencer interface {
	Next() int64
	Current() int64
}

// Clock is a Sequencer backed by an atomic counter.
//
// Every grant, release, and reclaim takes a number from the same clock, so
// a token granted after a release always carries a larger Seq than that
// release.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0. The first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
