package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinHeapOrders(t *testing.T) {
	h := MinHeap[uint64]()
	for i := uint64(0); i < 64; i++ {
		h.Push(i ^ 17)
	}
	for i := uint64(0); i < 64; i++ {
		assert.Equal(t, i, h.Pop())
	}
	assert.Zero(t, h.Len())
}

func TestHeapCustomOrder(t *testing.T) {
	type ranked struct {
		id   int
		load int
	}
	h := Heap[ranked]{Less: func(a, b ranked) bool { return a.load < b.load }}
	h.Push(ranked{id: 1, load: 5})
	h.Push(ranked{id: 2, load: 1})
	h.Push(ranked{id: 3, load: 3})
	assert.Equal(t, 2, h.Pop().id)
	assert.Equal(t, 3, h.Pop().id)
	assert.Equal(t, 1, h.Pop().id)
}
