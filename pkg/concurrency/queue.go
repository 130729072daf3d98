package concurrency

import (
	"errors"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Push once Close has been called
var ErrQueueClosed = errors.New("queue closed")

// Queue is a multi-producer FIFO with a single blocking consumer.
// A capacity of zero makes it unbounded; otherwise Push blocks while full.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	capacity int
	closed   bool

	notEmpty chan struct{}
	notFull  chan struct{}
	done     chan struct{}
}

// NewQueue creates a queue. capacity <= 0 means unbounded.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		capacity: capacity,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Push appends item. It never blocks on an unbounded queue.
func (q *Queue[T]) Push(item T) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.capacity == 0 || len(q.items)-q.head < q.capacity {
			q.items = append(q.items, item)
			q.mu.Unlock()
			signal(q.notEmpty)
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.notFull:
		case <-q.done:
		}
	}
}

// Pop removes the oldest item, waiting up to timeout for one to arrive.
// Items pushed before Close are still returned; ok is false on timeout
// or once the queue is closed and empty.
func (q *Queue[T]) Pop(timeout time.Duration) (item T, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if item, ok = q.TryPop(); ok {
			return item, true
		}

		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return item, false
		}

		select {
		case <-q.notEmpty:
		case <-q.done:
		case <-timer.C:
			return q.TryPop()
		}
	}
}

// TryPop removes the oldest item without waiting
func (q *Queue[T]) TryPop() (item T, ok bool) {
	q.mu.Lock()
	n := len(q.items) - q.head
	if n == 0 {
		q.mu.Unlock()
		return item, false
	}

	var zero T
	item = q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	remaining := n - 1
	q.mu.Unlock()

	if remaining > 0 {
		signal(q.notEmpty)
	}
	if q.capacity > 0 {
		signal(q.notFull)
	}
	return item, true
}

// Len reports the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close rejects further pushes and wakes blocked producers and the consumer.
// Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed reports whether Close has been called
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
