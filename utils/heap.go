package utils

import "golang.org/x/exp/constraints"

// Heap is a binary min-heap ordered by Less. Set Less before the
// first Push, or use MinHeap for naturally ordered element types.
type Heap[T any] struct {
	Less  func(a, b T) bool
	items []T
}

// MinHeap returns a Heap ordered by <.
func MinHeap[T constraints.Ordered]() Heap[T] {
	return Heap[T]{Less: func(a, b T) bool { return a < b }}
}

func (h *Heap[T]) Len() int {
	return len(h.items)
}

func (h *Heap[T]) Push(v T) {
	h.items = append(h.items, v)
	i := len(h.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if !h.Less(h.items[i], h.items[parent]) {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

// Pop removes and returns the minimum element. Panics when empty.
func (h *Heap[T]) Pop() T {
	top := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	var zero T
	h.items[last] = zero
	h.items = h.items[:last]
	h.sink(0)
	return top
}

func (h *Heap[T]) sink(i int) {
	n := len(h.items)
	for {
		least := i
		if l := 2*i + 1; l < n && h.Less(h.items[l], h.items[least]) {
			least = l
		}
		if r := 2*i + 2; r < n && h.Less(h.items[r], h.items[least]) {
			least = r
		}
		if least == i {
			return
		}
		h.items[i], h.items[least] = h.items[least], h.items[i]
		i = least
	}
}
