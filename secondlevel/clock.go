package secondlevel

import (
	"sync/atomic"
	"time"
)

// Clock hands out strictly increasing timestamps in nanoseconds.
// Two calls never return the same value, even within one clock tick.
type Clock struct {
	now  func() time.Time
	last atomic.Int64
}

// NewClock returns a Clock reading from now, or time.Now when nil.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next returns a timestamp greater than every value returned before.
func (c *Clock) Next() int64 {
	for {
		prev := c.last.Load()
		next := c.now().UnixNano()
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Wall returns the current wall clock time in nanoseconds without advancing the clock.
func (c *Clock) Wall() int64 {
	return c.now().UnixNano()
}
