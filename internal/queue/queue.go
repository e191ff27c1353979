// Package queue implements a fixed-capacity FIFO used by the driver to hold
// pending read requests. The backing array is allocated once at
// construction; Push and Pop never allocate.
package queue

// Queue is a bounded FIFO ring. The zero value is unusable; construct with
// New. Not safe for concurrent use; the driver serializes access with the
// device suspend/resume bracket.
type Queue[T any] struct {
	items []T
	head  int
	count int
}

// New returns a queue with the given capacity. Capacity must be positive.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		panic("queue: capacity must be positive")
	}
	return &Queue[T]{items: make([]T, capacity)}
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int { return q.count }

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int { return len(q.items) }

// Empty reports whether the queue holds no elements.
func (q *Queue[T]) Empty() bool { return q.count == 0 }

// Full reports whether the queue is at capacity.
func (q *Queue[T]) Full() bool { return q.count == len(q.items) }

// PushBack appends v. Pushing onto a full queue is a caller contract
// violation and panics.
func (q *Queue[T]) PushBack(v T) {
	if q.Full() {
		panic("queue: push onto full queue")
	}
	q.items[(q.head+q.count)%len(q.items)] = v
	q.count++
}

// Front returns a pointer to the oldest element. The pointer stays valid
// until the element is popped.
func (q *Queue[T]) Front() *T {
	if q.Empty() {
		panic("queue: front of empty queue")
	}
	return &q.items[q.head]
}

// PopFront removes the oldest element.
func (q *Queue[T]) PopFront() {
	if q.Empty() {
		panic("queue: pop from empty queue")
	}
	var zero T
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--
}
