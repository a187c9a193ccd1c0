// Package window provides a fixed-capacity sliding buffer.
package window

import "fmt"

// Bounded holds at most Cap() values. Inserting on one end evicts from the
// opposite end once the capacity is exceeded. Index 0 is the front.
type Bounded[T any] struct {
	buf      []T
	head     int
	size     int
	capacity int
}

// New creates an empty window. A capacity below 1 is a configuration error
// and panics.
func New[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		panic(fmt.Sprintf("window: capacity must be at least 1, got %d", capacity))
	}
	return &Bounded[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// FromSlice creates a window holding values front-to-back, keeping at most
// capacity leading values.
func FromSlice[T any](capacity int, values []T) *Bounded[T] {
	w := New[T](capacity)
	if len(values) > capacity {
		values = values[:capacity]
	}
	for i := len(values) - 1; i >= 0; i-- {
		w.PushFront(values[i])
	}
	return w
}

func (w *Bounded[T]) index(i int) int {
	return (w.head + i) % w.capacity
}

// PushFront inserts v at the front, evicting the back value when full.
func (w *Bounded[T]) PushFront(v T) {
	w.head = (w.head - 1 + w.capacity) % w.capacity
	w.buf[w.head] = v
	if w.size < w.capacity {
		w.size++
	}
}

// PushBack appends v at the back, evicting the front value when full.
func (w *Bounded[T]) PushBack(v T) {
	if w.size < w.capacity {
		w.buf[w.index(w.size)] = v
		w.size++
		return
	}
	w.buf[w.head] = v
	w.head = (w.head + 1) % w.capacity
}

// At returns the i-th value counted from the front.
func (w *Bounded[T]) At(i int) T {
	if i < 0 || i >= w.size {
		panic(fmt.Sprintf("window: index %d out of range [0,%d)", i, w.size))
	}
	return w.buf[w.index(i)]
}

// Front returns the front value and false when the window is empty.
func (w *Bounded[T]) Front() (T, bool) {
	if w.size == 0 {
		var zero T
		return zero, false
	}
	return w.buf[w.head], true
}

// Len returns the number of held values.
func (w *Bounded[T]) Len() int { return w.size }

// Cap returns the configured capacity.
func (w *Bounded[T]) Cap() int { return w.capacity }

// Empty reports whether the window holds no values.
func (w *Bounded[T]) Empty() bool { return w.size == 0 }

// Full reports whether the window holds Cap() values.
func (w *Bounded[T]) Full() bool { return w.size == w.capacity }

// Slice returns a front-to-back snapshot.
func (w *Bounded[T]) Slice() []T {
	out := make([]T, w.size)
	for i := range out {
		out[i] = w.buf[w.index(i)]
	}
	return out
}
