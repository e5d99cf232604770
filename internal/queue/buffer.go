// Package queue provides a growable FIFO used to hand stream events and
// journal rows between goroutines. It never drops an item unless a limit is
// set, in which case the oldest item makes room for the newest.
package queue

import (
	"sync"
	"time"
)

// GrowableBuffer is a thread-safe ring buffer that doubles its capacity
// when it reaches 70% full. Send never blocks. Without a limit it never
// drops either.
type GrowableBuffer[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int
	tail     int
	count    int
	capacity int
	limit    int
	closed   bool

	totalReceived int64
	totalSent     int64
	resizeCount   int
	highWater     int
	dropped       int64
}

// Stats contains buffer statistics.
type Stats struct {
	Count         int
	Capacity      int
	HighWater     int
	TotalReceived int64
	TotalSent     int64
	ResizeCount   int
	Dropped       int64
}

// New creates a buffer with the given initial capacity.
func New[T any](initialCapacity int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &GrowableBuffer[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// NewBounded creates a buffer that holds at most limit items. A Send on a
// full buffer evicts the oldest item. limit < 1 means unbounded.
func NewBounded[T any](initialCapacity, limit int) *GrowableBuffer[T] {
	b := New[T](initialCapacity)
	b.limit = max(limit, 0)
	return b
}

// Send appends an item. Returns false if the buffer is closed.
func (b *GrowableBuffer[T]) Send(item T) bool {
	_, ok := b.Push(item)
	return ok
}

// Push is Send that also reports whether the oldest item was evicted to
// stay within the limit.
func (b *GrowableBuffer[T]) Push(item T) (evicted, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false, false
	}

	if b.limit > 0 && b.count >= b.limit {
		var zero T
		b.buf[b.head] = zero
		b.head = (b.head + 1) % b.capacity
		b.count--
		b.dropped++
		evicted = true
	}

	threshold := max((b.capacity*70)/100, 1)
	if b.count+1 >= threshold {
		b.grow()
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalReceived++
	b.highWater = max(b.highWater, b.count)

	b.cond.Signal()
	return evicted, true
}

// Receive blocks until an item is available or the buffer is closed and
// drained, in which case ok is false.
func (b *GrowableBuffer[T]) Receive() (item T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	return b.popLocked()
}

// ReceiveWithin is Receive bounded by d. ok is false on timeout or when the
// buffer is closed and drained.
func (b *GrowableBuffer[T]) ReceiveWithin(d time.Duration) (item T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 && !b.closed {
		expired := false
		timer := time.AfterFunc(d, func() {
			b.mu.Lock()
			expired = true
			b.mu.Unlock()
			b.cond.Broadcast()
		})
		defer timer.Stop()

		for b.count == 0 && !b.closed && !expired {
			b.cond.Wait()
		}
	}
	return b.popLocked()
}

// TryReceive returns an item if one is immediately available.
func (b *GrowableBuffer[T]) TryReceive() (item T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.popLocked()
}

// DrainTo removes up to max items (all if max <= 0) without blocking.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	result := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item, _ := b.popLocked()
		result = append(result, item)
	}
	return result
}

// Close stops accepting items and wakes every blocked receiver. Items
// already queued can still be received.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (b *GrowableBuffer[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the number of queued items.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns buffer statistics.
func (b *GrowableBuffer[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Count:         b.count,
		Capacity:      b.capacity,
		HighWater:     b.highWater,
		TotalReceived: b.totalReceived,
		TotalSent:     b.totalSent,
		ResizeCount:   b.resizeCount,
		Dropped:       b.dropped,
	}
}

// popLocked removes the head item. Caller must hold mu.
func (b *GrowableBuffer[T]) popLocked() (T, bool) {
	var zero T
	if b.count == 0 {
		return zero, false
	}

	item := b.buf[b.head]
	b.buf[b.head] = zero
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalSent++
	return item, true
}

// grow doubles the capacity, unwrapping the ring. Caller must hold mu.
func (b *GrowableBuffer[T]) grow() {
	newBuf := make([]T, b.capacity*2)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity *= 2
	b.resizeCount++
}
