package transfer

import (
	"io"
	"sync/atomic"

	"github.com/sheerbytes/gridflux/internal/progress"
)

const progressBacklog = 16

// reporter accumulates bytes from any number of goroutines and forwards
// throttled cumulative counts without blocking them.
type reporter struct {
	state    *ControlState
	total    int64
	done     atomic.Int64
	throttle *progress.Throttle
	dispatch *progress.Dispatcher[int64]
}

// newReporter creates a reporter. deliver may be nil, in which case only the
// state's byte counter is updated.
func newReporter(state *ControlState, total int64, deliver func(done int64)) *reporter {
	r := &reporter{state: state, total: total}
	if deliver != nil {
		r.throttle = progress.NewThrottle(progress.DefaultInterval)
		r.dispatch = progress.NewDispatcher(progressBacklog, deliver)
	}
	return r
}

// Add records n more bytes.
func (r *reporter) Add(n int64) {
	if n <= 0 {
		return
	}
	r.state.AddBytes(n)
	done := r.done.Add(n)
	if r.dispatch == nil {
		return
	}
	if done == r.total || r.throttle.Allow() {
		r.dispatch.Publish(done)
	}
}

// Done returns the bytes recorded so far.
func (r *reporter) Done() int64 {
	return r.done.Load()
}

// Close flushes pending notifications.
func (r *reporter) Close() {
	if r.dispatch != nil {
		r.dispatch.Close()
	}
}

type countingReader struct {
	r   io.Reader
	add func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.add(int64(n))
	return n, err
}

type countingWriter struct {
	w   io.Writer
	add func(int64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.add(int64(n))
	return n, err
}
