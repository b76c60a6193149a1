package realtime

import "sync"

// Ring is a thread-safe bounded FIFO buffer. Appending past capacity evicts
// the oldest entry; capacity never changes after construction.
type Ring[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // oldest element
	count    int
	capacity int

	// Stats
	totalReceived int64
	totalEvicted  int64
}

// NewRing creates a ring with the given fixed capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Append adds an item, evicting the oldest when full. Reports whether an
// eviction happened.
func (r *Ring[T]) Append(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.totalReceived++

	if r.count == r.capacity {
		// Overwrite the oldest slot.
		r.buf[r.head] = item
		r.head = (r.head + 1) % r.capacity
		r.totalEvicted++
		return true
	}

	r.buf[(r.head+r.count)%r.capacity] = item
	r.count++
	return false
}

// Items returns a snapshot of the buffered items, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%r.capacity]
	}
	return out
}

// Latest returns the most recently appended item, if any.
func (r *Ring[T]) Latest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.buf[(r.head+r.count-1)%r.capacity], true
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Stats returns buffer statistics.
func (r *Ring[T]) Stats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RingStats{
		Count:         r.count,
		Capacity:      r.capacity,
		TotalReceived: r.totalReceived,
		TotalEvicted:  r.totalEvicted,
	}
}

// RingStats contains buffer statistics.
type RingStats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalEvicted  int64
}
