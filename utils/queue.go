package utils

import (
	"sync"

	"go.uber.org/atomic"
)

// DropOldestQueue is a bounded channel whose producers never block. When the queue is full the
// oldest queued value is discarded to make room for the new one. Consumers read from C.
type DropOldestQueue[T any] struct {
	mu      sync.Mutex
	ch      chan T
	dropped atomic.Uint64
}

// NewDropOldestQueue returns a queue holding at most size values.
func NewDropOldestQueue[T any](size int) *DropOldestQueue[T] {
	if size < 1 {
		size = 1
	}
	return &DropOldestQueue[T]{ch: make(chan T, size)}
}

// Push enqueues v without blocking and reports whether an older value had to be dropped.
func (q *DropOldestQueue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	for {
		select {
		case q.ch <- v:
			return dropped
		default:
		}
		// Full. A concurrent consumer may empty the slot first, so loop back and retry the send.
		select {
		case <-q.ch:
			dropped = true
			q.dropped.Inc()
		default:
		}
	}
}

// C returns the receive side of the queue.
func (q *DropOldestQueue[T]) C() <-chan T {
	return q.ch
}

// Len returns the number of queued values.
func (q *DropOldestQueue[T]) Len() int {
	return len(q.ch)
}

// Drain discards every queued value and returns how many were discarded.
func (q *DropOldestQueue[T]) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Dropped returns the number of values discarded by Push since creation.
func (q *DropOldestQueue[T]) Dropped() uint64 {
	return q.dropped.Load()
}
