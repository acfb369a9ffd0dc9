package engine

import "sync/atomic"

// Clock is a monotonic counter. The engine keeps three of them: instance
// ids, client ids and the commit sequence reported to the Recorder. Values
// start at 1 and are never reused within a process.
type Clock struct {
	n atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose first Next returns start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.n.Store(start)
	return c
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.n.Add(1)
}

// Current returns the last value handed out, 0 if none.
func (c *Clock) Current() int64 {
	return c.n.Load()
}
