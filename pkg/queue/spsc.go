// Package queue provides a bounded lock-free single-producer/single-consumer
// queue used for detection results and audio chunks.
package queue

import "sync/atomic"

// cacheLinePad keeps the producer and consumer cursors on separate cache lines.
type cacheLinePad [64]byte

// SPSC is a bounded FIFO for exactly one producer goroutine and one consumer
// goroutine. TryEnqueue and TryDequeue never block; callers decide whether
// to retry, back off or drop.
type SPSC[T any] struct {
	buf  []T
	mask uint64

	_    cacheLinePad
	head atomic.Uint64 // next slot to read, consumer-owned
	_    cacheLinePad
	tail atomic.Uint64 // next slot to write, producer-owned
	_    cacheLinePad
}

// NewSPSC creates a queue holding at least capacity items. The capacity is
// rounded up to a power of two.
func NewSPSC[T any](capacity int) *SPSC[T] {
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}
	return &SPSC[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}
}

// TryEnqueue appends v. It returns false when the queue is full.
// Producer goroutine only.
func (q *SPSC[T]) TryEnqueue(v T) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() == uint64(len(q.buf)) {
		return false
	}
	q.buf[tail&q.mask] = v
	q.tail.Store(tail + 1)
	return true
}

// TryDequeue removes the oldest item. It returns false when the queue is
// empty. Consumer goroutine only.
func (q *SPSC[T]) TryDequeue() (T, bool) {
	var zero T
	head := q.head.Load()
	if head == q.tail.Load() {
		return zero, false
	}
	v := q.buf[head&q.mask]
	q.buf[head&q.mask] = zero
	q.head.Store(head + 1)
	return v, true
}

// DrainLatest dequeues everything currently queued and returns the newest
// item. Consumer goroutine only.
func (q *SPSC[T]) DrainLatest() (T, bool) {
	latest, ok := q.TryDequeue()
	if !ok {
		return latest, false
	}
	for {
		v, more := q.TryDequeue()
		if !more {
			return latest, true
		}
		latest = v
	}
}

// Len returns the number of queued items. It is a snapshot and may be stale
// by the time the caller looks at it.
func (q *SPSC[T]) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Cap returns the queue capacity.
func (q *SPSC[T]) Cap() int {
	return len(q.buf)
}
