package progress

import (
	"sync"
	"time"
)

// smoothing is the weight of the newest sample in the rate average.
const smoothing = 0.2

// Stats is a point-in-time view of one transfer.
type Stats struct {
	BytesDone int64
	Total     int64
	RateBps   float64
	ETA       time.Duration
	Percent   float64
	Elapsed   time.Duration
}

// Meter follows the cumulative byte count of one transfer and keeps an
// exponentially smoothed rate. Counts only move forward.
type Meter struct {
	mu  sync.Mutex
	now func() time.Time

	total   int64
	done    int64
	started time.Time

	sampledAt   time.Time
	sampledDone int64
	rate        float64
}

// NewMeter starts a meter for a transfer of total bytes. A negative total
// means the length is unknown.
func NewMeter(total int64) *Meter {
	return NewMeterAt(total, time.Now)
}

// NewMeterAt is NewMeter with a custom clock.
func NewMeterAt(total int64, now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	start := now()
	return &Meter{now: now, total: total, started: start, sampledAt: start}
}

// Add records n more bytes.
func (m *Meter) Add(n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sample(m.done + n)
}

// Set records a cumulative count, as delivered by transfer status
// notifications. Lower counts than already seen are ignored.
func (m *Meter) Set(done int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if done > m.done {
		m.sample(done)
	}
}

// sample moves the count to done; m.mu must be held.
func (m *Meter) sample(done int64) {
	m.done = done
	at := m.now()
	secs := at.Sub(m.sampledAt).Seconds()
	if secs <= 0 {
		return
	}
	inst := float64(m.done-m.sampledDone) / secs
	if m.rate == 0 {
		m.rate = inst
	} else {
		m.rate = smoothing*inst + (1-smoothing)*m.rate
	}
	m.sampledAt = at
	m.sampledDone = m.done
}

// Snapshot returns the current stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		BytesDone: m.done,
		Total:     m.total,
		RateBps:   m.rate,
		Elapsed:   m.now().Sub(m.started),
	}
	if m.total > 0 {
		s.Percent = float64(m.done) / float64(m.total) * 100
		if m.rate > 0 && m.total > m.done {
			s.ETA = time.Duration(float64(m.total-m.done) / m.rate * float64(time.Second))
		}
	}
	return s
}
