package indexes

import "math"

const (
	// NBins is the number of histogram bins in a PerfDistribution.
	NBins = 5000
	// BinWidth is the width of one histogram bin in tick units.
	BinWidth = 10
)

// PerfDistribution is a fixed-width histogram of per-operation tick
// samples. Samples past the last bin land in Overflows.
type PerfDistribution struct {
	Bins      [NBins]uint64
	Overflows uint64
	Min       uint64
	Max       uint64
}

func NewPerfDistribution() *PerfDistribution {
	return &PerfDistribution{Min: math.MaxUint64}
}

func (d *PerfDistribution) StoreSample(v uint64) {
	if v < d.Min {
		d.Min = v
	}
	if v > d.Max {
		d.Max = v
	}
	if idx := v / BinWidth; idx < NBins {
		d.Bins[idx]++
	} else {
		d.Overflows++
	}
}

// PerfCounters aggregates hash table performance numbers: total ticks
// spent in inserts and lookups, chain lines followed, fingerprint
// collisions, and the distribution of per-lookup tick samples.
type PerfCounters struct {
	InsertTicks               uint64
	LookupTicks               uint64
	InsertChainsFollowed      uint64
	LookupEntryChainsFollowed uint64
	LookupEntryHashCollisions uint64
	LookupDist                *PerfDistribution
}

func newPerfCounters() PerfCounters {
	return PerfCounters{LookupDist: NewPerfDistribution()}
}
