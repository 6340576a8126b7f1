package indexes

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestPackedEntrySizes(t *testing.T) {
	assert.Equal(t, uintptr(8), unsafe.Sizeof(PackedEntry{}))
	assert.Equal(t, uintptr(64), unsafe.Sizeof(CacheLine{}))
}

func TestPackedEntryRoundTrip(t *testing.T) {
	cases := []struct {
		hash  uint16
		chain bool
		ref   uint64
	}{
		{0x0000, false, 0x000000000000},
		{0xffff, true, 0x7fffffffffff},
		{0xffff, false, 0x7fffffffffff},
		{0xa257, false, 0x3cdeadbeef98},
	}
	for _, c := range cases {
		var e PackedEntry
		e.pack(c.hash, c.chain, c.ref)
		v := e.load()
		assert.Equal(t, c.hash, uint16(v>>hashBits))
		assert.Equal(t, c.chain, v&chainBit != 0)
		assert.Equal(t, c.ref, v&ptrMask)
	}
}

func TestPackedEntryClear(t *testing.T) {
	var e PackedEntry
	e.SetLogPointer(0xa257, 0x3cdeadbeef98)
	assert.False(t, e.IsAvailable())
	e.Clear()
	assert.True(t, e.IsAvailable())
	assert.False(t, e.IsChainLink())
	assert.False(t, e.HashMatches(0))
}

func TestPackedEntryLogPointer(t *testing.T) {
	var e PackedEntry
	e.SetLogPointer(0xa257, 0x3cdeadbeef98)
	assert.Equal(t, uint64(0x3cdeadbeef98), e.LogPointer())
	assert.False(t, e.IsChainLink())
	assert.True(t, e.HashMatches(0xa257))
	assert.False(t, e.HashMatches(0xa258))

	e.SetLogPointer(0, 0x1000)
	assert.True(t, e.HashMatches(0))
	assert.False(t, e.IsAvailable())
}

func TestPackedEntryChainPointer(t *testing.T) {
	var e PackedEntry
	e.SetChainPointer(42)
	assert.True(t, e.IsChainLink())
	assert.False(t, e.IsAvailable())
	assert.Equal(t, uint64(42), e.ChainPointer())
	for _, h := range []uint16{0, 1, 0xffff} {
		assert.False(t, e.HashMatches(h))
	}
}

func TestPackedEntryWideRefPanics(t *testing.T) {
	var e PackedEntry
	assert.Panics(t, func() { e.SetLogPointer(0, 1<<47) })
	assert.Panics(t, func() { e.SetChainPointer(1 << 47) })
}

func TestPackedEntryPreconditions(t *testing.T) {
	var e PackedEntry
	assert.Panics(t, func() { e.LogPointer() })
	assert.Panics(t, func() { e.ChainPointer() })
	e.SetChainPointer(7)
	assert.Panics(t, func() { e.LogPointer() })
}
