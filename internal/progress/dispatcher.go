package progress

import (
	"sync"
	"sync/atomic"
)

// Dispatcher hands values to a consumer on its own goroutine. Publish never
// blocks: when the buffer is full the oldest pending value is dropped.
type Dispatcher[T any] struct {
	deliver func(T)

	mu     sync.Mutex
	ring   []T
	head   int
	count  int
	closed bool

	wake    chan struct{}
	done    chan struct{}
	dropped atomic.Int64
}

// NewDispatcher starts a dispatcher with room for capacity pending values.
func NewDispatcher[T any](capacity int, deliver func(T)) *Dispatcher[T] {
	if capacity < 1 {
		capacity = 1
	}
	d := &Dispatcher[T]{
		deliver: deliver,
		ring:    make([]T, capacity),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish queues v. It is a no-op after Close.
func (d *Dispatcher[T]) Publish(v T) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.count == len(d.ring) {
		d.head = (d.head + 1) % len(d.ring)
		d.count--
		d.dropped.Add(1)
	}
	d.ring[(d.head+d.count)%len(d.ring)] = v
	d.count++
	select {
	case d.wake <- struct{}{}:
	default:
	}
	d.mu.Unlock()
}

// Close delivers what is pending and waits for the consumer to finish.
func (d *Dispatcher[T]) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.wake)
	d.mu.Unlock()
	<-d.done
}

// Dropped returns how many values were discarded to make room.
func (d *Dispatcher[T]) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher[T]) pop() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var zero T
	if d.count == 0 {
		return zero, false
	}
	v := d.ring[d.head]
	d.ring[d.head] = zero
	d.head = (d.head + 1) % len(d.ring)
	d.count--
	return v, true
}

func (d *Dispatcher[T]) run() {
	defer close(d.done)
	for range d.wake {
		d.drain()
	}
	d.drain()
}

func (d *Dispatcher[T]) drain() {
	for {
		v, ok := d.pop()
		if !ok {
			return
		}
		d.deliver(v)
	}
}
