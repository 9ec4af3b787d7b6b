// Package queue provides the outbound queue shared by all workers: many
// goroutines push, one host-loop goroutine drains.
package queue

import (
	"errors"
	"sync"
)

// ErrClosed is returned when pushing to a closed queue.
var ErrClosed = errors.New("queue is closed")

// Queue is an unbounded thread-safe FIFO. Push never blocks, so a worker can
// always deliver its terminal message. Ready fires after at least one push
// since the last drain.
type Queue[T any] struct {
	mu      sync.Mutex
	entries []T
	closed  bool
	ready   chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		entries: make([]T, 0),
		ready:   make(chan struct{}, 1),
	}
}

// Push appends v and wakes the consumer.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.entries = append(q.entries, v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Ready returns a channel that receives after a push. A single receive may
// stand for many pushes; the consumer drains everything on wake.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// TryPop removes and returns the front entry without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		var zero T
		return zero, false
	}

	v := q.entries[0]
	var zero T
	q.entries[0] = zero
	q.entries = q.entries[1:]
	return v, true
}

// Drain removes and returns all entries, leaving the queue empty.
// Returns an empty slice if the queue was already empty.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return []T{}
	}

	result := q.entries
	q.entries = make([]T, 0)
	return result
}

// Len returns the current number of entries.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// Close rejects further pushes. Entries already queued stay drainable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
