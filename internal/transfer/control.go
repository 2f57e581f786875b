package transfer

import (
	"sync"
	"sync/atomic"
)

// Counters summarise what a ControlState has seen.
type Counters struct {
	Bytes          int64
	FilesCompleted int64
	FilesSkipped   int64
	FilesFailed    int64
}

// ControlState is shared by every file of one logical operation and by the
// workers of each parallel transfer. It carries the options, which an
// overwrite answer may rewrite, the cancellation flag and the counters.
type ControlState struct {
	mu   sync.RWMutex
	opts Options

	cancelled atomic.Bool
	bytes     atomic.Int64
	completed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

// NewControlState creates a state holding a copy of opts.
func NewControlState(opts Options) *ControlState {
	return &ControlState{opts: opts.Clone()}
}

// Options returns a snapshot of the current options.
func (s *ControlState) Options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.Clone()
}

// Force returns the current overwrite policy.
func (s *ControlState) Force() ForceOption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.Force
}

// SetForce replaces the overwrite policy for the files that follow.
func (s *ControlState) SetForce(f ForceOption) {
	s.mu.Lock()
	s.opts.Force = f
	s.mu.Unlock()
}

// Cancel asks every transfer using s to stop. Workers notice between
// chunks; later files fail with Cancelled.
func (s *ControlState) Cancel() {
	s.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (s *ControlState) Cancelled() bool {
	return s.cancelled.Load()
}

// AddBytes records n transferred bytes.
func (s *ControlState) AddBytes(n int64) {
	s.bytes.Add(n)
}

// FileCompleted counts a finished file.
func (s *ControlState) FileCompleted() {
	s.completed.Add(1)
}

// FileSkipped counts a file left alone by the overwrite policy.
func (s *ControlState) FileSkipped() {
	s.skipped.Add(1)
}

// FileFailed counts a file whose transfer returned an error.
func (s *ControlState) FileFailed() {
	s.failed.Add(1)
}

// Counters returns the current totals.
func (s *ControlState) Counters() Counters {
	return Counters{
		Bytes:          s.bytes.Load(),
		FilesCompleted: s.completed.Load(),
		FilesSkipped:   s.skipped.Load(),
		FilesFailed:    s.failed.Load(),
	}
}
