package progress

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func newClock() *clock {
	return &clock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMeter(t *testing.T) {
	tests := []struct {
		name     string
		total    int64
		steps    []int64 // cumulative counts, one per second
		rateLow  float64
		rateHigh float64
		eta      time.Duration
	}{
		{"single sample", 2000, []int64{1000}, 999, 1001, time.Second},
		{"smoothed", 10000, []int64{1000, 4000}, 1399, 1401, 0},
		{"no samples", 1000, nil, 0, 0, 0},
		{"unknown length", -1, []int64{500}, 499, 501, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClock()
			m := NewMeterAt(tt.total, c.now)
			for _, done := range tt.steps {
				c.advance(time.Second)
				m.Set(done)
			}
			s := m.Snapshot()
			if s.RateBps < tt.rateLow || s.RateBps > tt.rateHigh {
				t.Fatalf("rate = %.2f, want %.0f..%.0f", s.RateBps, tt.rateLow, tt.rateHigh)
			}
			if tt.eta != 0 && (s.ETA < tt.eta-50*time.Millisecond || s.ETA > tt.eta+50*time.Millisecond) {
				t.Fatalf("eta = %s, want about %s", s.ETA, tt.eta)
			}
			if tt.total < 0 && (s.ETA != 0 || s.Percent != 0) {
				t.Fatalf("unknown length produced eta %s, percent %.1f", s.ETA, s.Percent)
			}
		})
	}
}

func TestMeterCountsOnlyMoveForward(t *testing.T) {
	c := newClock()
	m := NewMeterAt(1000, c.now)

	c.advance(time.Second)
	m.Set(600)
	m.Set(400)
	m.Add(0)
	m.Add(-5)

	s := m.Snapshot()
	if s.BytesDone != 600 || s.Percent != 60 {
		t.Fatalf("stats = %+v", s)
	}
	if s.Elapsed != time.Second {
		t.Fatalf("elapsed = %s", s.Elapsed)
	}

	m.Add(100)
	if got := m.Snapshot().BytesDone; got != 700 {
		t.Fatalf("after Add: %d", got)
	}
}
