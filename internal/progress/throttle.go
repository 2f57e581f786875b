package progress

import (
	"sync/atomic"
	"time"
)

// DefaultInterval is the minimum spacing of intra-file progress reports.
const DefaultInterval = 250 * time.Millisecond

// Throttle admits at most one event per interval across goroutines.
type Throttle struct {
	interval int64
	last     atomic.Int64
	now      func() time.Time
}

// NewThrottle creates a throttle. A non-positive interval admits everything.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: int64(interval), now: time.Now}
}

// Allow reports whether the caller may emit now.
func (t *Throttle) Allow() bool {
	if t.interval <= 0 {
		return true
	}
	now := t.now().UnixNano()
	prev := t.last.Load()
	if now-prev < t.interval {
		return false
	}
	return t.last.CompareAndSwap(prev, now)
}
