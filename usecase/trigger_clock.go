package usecase

import (
	"sync"
	"time"
)

// TriggerClock issues pushTrigger values in unix milliseconds that strictly
// increase for a single writer, even when two alerts land in the same millisecond.
type TriggerClock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewTriggerClock creates a clock reading wall time from now (time.Now when nil)
func NewTriggerClock(now func() time.Time) *TriggerClock {
	if now == nil {
		now = time.Now
	}
	return &TriggerClock{now: now}
}

// Next returns max(now, last+1)
func (c *TriggerClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.now().UnixMilli()
	if next <= c.last {
		next = c.last + 1
	}
	c.last = next
	return next
}
