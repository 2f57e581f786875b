package progress

import (
	"sync"
	"testing"
	"time"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []int
	d := NewDispatcher(16, func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	for i := 1; i <= 10; i++ {
		d.Publish(i)
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 10 {
		t.Fatalf("delivered %d values, want 10", len(got))
	}
	for i, v := range got {
		if v != i+1 {
			t.Fatalf("value %d = %d, want %d", i, v, i+1)
		}
	}
}

func TestDispatcherDropsOldestWithoutBlocking(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var got []int
	d := NewDispatcher(2, func(v int) {
		<-release
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	published := make(chan struct{})
	go func() {
		for i := 1; i <= 100; i++ {
			d.Publish(i)
		}
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled consumer")
	}
	close(release)
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 || got[len(got)-1] != 100 {
		t.Fatalf("last delivered = %v, want 100 last", got)
	}
	if d.Dropped() == 0 {
		t.Fatalf("expected drops with a stalled consumer")
	}
}

func TestDispatcherPublishAfterClose(t *testing.T) {
	d := NewDispatcher(1, func(int) {})
	d.Close()
	d.Publish(1)
	d.Close()
}

func TestThrottleFixedClock(t *testing.T) {
	now := time.Unix(100, 0)
	th := NewThrottle(time.Second)
	th.now = func() time.Time { return now }

	if !th.Allow() {
		t.Fatal("first event rejected")
	}
	if th.Allow() {
		t.Fatal("second event inside interval admitted")
	}
	now = now.Add(time.Second)
	if !th.Allow() {
		t.Fatal("event after interval rejected")
	}
	if !NewThrottle(0).Allow() || !NewThrottle(0).Allow() {
		t.Fatal("zero interval throttled")
	}
}
