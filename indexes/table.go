package indexes

import (
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash"
)

const linesPerSlab = 64

// linePool hands out overflow cache lines in slab-sized batches so
// the lines stay contiguous and the handles stay dense.
type linePool struct {
	slabs [][]CacheLine
	used  int
}

func (p *linePool) alloc() (handle uint64, line *CacheLine) {
	slab := p.used / linesPerSlab
	if slab == len(p.slabs) {
		p.slabs = append(p.slabs, make([]CacheLine, linesPerSlab))
	}
	handle = uint64(p.used)
	line = &p.slabs[slab][p.used%linesPerSlab]
	p.used++
	return
}

func (p *linePool) line(handle uint64) *CacheLine {
	return &p.slabs[handle/linesPerSlab][handle%linesPerSlab]
}

// HashTable maps 64-bit keys to 47-bit object references. Keys hash
// into one of numBuckets primary cache lines; each line holds up to
// eight entries and chains into pool-owned overflow lines when full.
//
// The table never interprets object bytes. To verify a fingerprint
// match it calls keyOf(ref) to recover the full key of the referenced
// object. Entry words are read and written atomically, but the
// performance counters and the overflow pool are plain fields: Lookup
// updates counters and Insert grows the pool without synchronization,
// so every call, lookups included, must be externally serialized.
type HashTable struct {
	buckets  []CacheLine
	overflow linePool
	keyOf    func(ref uint64) uint64
	counters PerfCounters

	ticks func() uint64
}

// NewHashTable creates a table with numBuckets primary cache lines.
// numBuckets must be positive. keyOf extracts the full 64-bit key
// from a stored object reference.
func NewHashTable(numBuckets uint64, keyOf func(ref uint64) uint64) *HashTable {
	if numBuckets == 0 {
		panic("indexes: hash table needs at least one bucket")
	}
	start := time.Now()
	return &HashTable{
		buckets:  make([]CacheLine, numBuckets),
		keyOf:    keyOf,
		counters: newPerfCounters(),
		ticks:    func() uint64 { return uint64(time.Since(start).Nanoseconds()) },
	}
}

// hash64 hashes the key's 8 big-endian bytes.
func hash64(key uint64) uint64 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], key)
	return xxhash.Sum64(b[:])
}

// Lookup returns the reference stored for key. ok is false when the
// key is definitely absent.
func (t *HashTable) Lookup(key uint64) (ref uint64, ok bool) {
	start := t.ticks()
	defer func() {
		elapsed := t.ticks() - start
		t.counters.LookupTicks += elapsed
		t.counters.LookupDist.StoreSample(elapsed)
	}()

	h := hash64(key)
	fingerprint := uint16(h)
	line := &t.buckets[h%uint64(len(t.buckets))]
	for {
		for i := range line.Entries {
			e := &line.Entries[i]
			if !e.HashMatches(fingerprint) {
				continue
			}
			candidate := e.LogPointer()
			if t.keyOf(candidate) == key {
				return candidate, true
			}
			t.counters.LookupEntryHashCollisions++
		}
		tail := &line.Entries[EntriesPerCacheLine-1]
		if !tail.IsChainLink() {
			return 0, false
		}
		t.counters.LookupEntryChainsFollowed++
		line = t.overflow.line(tail.ChainPointer())
	}
}

// Insert stores ref under key. Duplicate keys are not checked; the
// caller removes or updates through its own protocol. ref must fit
// in 47 bits.
func (t *HashTable) Insert(key uint64, ref uint64) {
	start := t.ticks()
	defer func() {
		t.counters.InsertTicks += t.ticks() - start
	}()

	h := hash64(key)
	fingerprint := uint16(h)
	line := &t.buckets[h%uint64(len(t.buckets))]
	for {
		tail := &line.Entries[EntriesPerCacheLine-1]
		isTailLine := !tail.IsChainLink()
		limit := EntriesPerCacheLine
		if !isTailLine {
			limit = EntriesPerCacheLine - 1
		}
		for i := 0; i < limit; i++ {
			e := &line.Entries[i]
			if e.IsAvailable() {
				e.SetLogPointer(fingerprint, ref)
				return
			}
		}
		if !isTailLine {
			t.counters.InsertChainsFollowed++
			line = t.overflow.line(tail.ChainPointer())
			continue
		}

		// Tail line is full: grow the chain. The old tail's last
		// entry moves to slot 0 of the new line so its data survives,
		// then the vacated slot becomes the chain link.
		handle, fresh := t.overflow.alloc()
		fresh.Entries[0].store(tail.load())
		tail.SetChainPointer(handle)
		fresh.Entries[1].SetLogPointer(fingerprint, ref)
		return
	}
}

// Counters returns a snapshot of the table's performance counters.
func (t *HashTable) Counters() PerfCounters {
	snap := t.counters
	dist := *t.counters.LookupDist
	snap.LookupDist = &dist
	return snap
}

// NumBuckets returns the number of primary cache lines.
func (t *HashTable) NumBuckets() uint64 {
	return uint64(len(t.buckets))
}
