// Package staticlist implements the fixed-capacity typed vector Design
// Notes §9 calls for as the generic replacement of the source's
// include-based "staticlist" macros: typed arrays of small, fixed
// capacity with O(1) swap-remove.
package staticlist

import "github.com/vmkern/coresched/internal/schederr"

// Indexable is implemented by element types that want O(1) removal: the
// list calls SetIndex after any swap so the element can find itself
// again without a linear scan.
type Indexable interface {
	SetIndex(i int)
}

// List is a fixed-capacity vector of T. The zero value is not usable;
// construct with New.
type List[T any] struct {
	items []T
	cap   int
}

// New returns an empty List with the given fixed capacity.
func New[T any](capacity int) *List[T] {
	return &List[T]{items: make([]T, 0, capacity), cap: capacity}
}

// Len returns the number of elements currently stored.
func (l *List[T]) Len() int { return len(l.items) }

// Cap returns the fixed capacity.
func (l *List[T]) Cap() int { return l.cap }

// Full reports whether the list is at capacity.
func (l *List[T]) Full() bool { return len(l.items) == l.cap }

// At returns the element at index i.
func (l *List[T]) At(i int) T { return l.items[i] }

// Set overwrites the element at index i.
func (l *List[T]) Set(i int, v T) { l.items[i] = v }

// Append adds v to the end of the list, returning its index.
// Returns schederr.ErrLimitExceeded if the list is already at capacity.
func (l *List[T]) Append(v T) (int, error) {
	if l.Full() {
		return -1, schederr.ErrLimitExceeded
	}
	l.items = append(l.items, v)
	if ix, ok := any(v).(Indexable); ok {
		ix.SetIndex(len(l.items) - 1)
	}
	return len(l.items) - 1, nil
}

// RemoveAt removes the element at index i in O(1) by swapping the last
// element into its place (order is not preserved). If the swapped-in
// element implements Indexable, SetIndex is called with its new index.
func (l *List[T]) RemoveAt(i int) {
	last := len(l.items) - 1
	if i != last {
		l.items[i] = l.items[last]
		if ix, ok := any(l.items[i]).(Indexable); ok {
			ix.SetIndex(i)
		}
	}
	var zero T
	l.items[last] = zero
	l.items = l.items[:last]
}

// RemoveMatch removes the first element for which eq returns true.
// Reports whether an element was removed.
func (l *List[T]) RemoveMatch(eq func(T) bool) bool {
	for i := range l.items {
		if eq(l.items[i]) {
			l.RemoveAt(i)
			return true
		}
	}
	return false
}

// ForEach calls fn for every element in order. fn may not mutate the
// list; mutate via index afterward if needed.
func (l *List[T]) ForEach(fn func(int, T)) {
	for i, v := range l.items {
		fn(i, v)
	}
}

// Slice returns the underlying elements as a plain slice. The returned
// slice aliases the list's storage and must not be retained across a
// mutating call.
func (l *List[T]) Slice() []T { return l.items }
