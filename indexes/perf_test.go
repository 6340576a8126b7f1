package indexes

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerfDistributionInitial(t *testing.T) {
	d := NewPerfDistribution()
	assert.Equal(t, uint64(math.MaxUint64), d.Min)
	assert.Equal(t, uint64(0), d.Max)
	assert.Equal(t, uint64(0), d.Overflows)
}

func TestPerfDistributionStoreSample(t *testing.T) {
	d := NewPerfDistribution()
	for _, v := range []uint64{3, 3, NBins*BinWidth + 40, 12, 78} {
		d.StoreSample(v)
	}
	assert.Equal(t, uint64(3), d.Min)
	assert.Equal(t, uint64(NBins*BinWidth+40), d.Max)
	assert.Equal(t, uint64(1), d.Overflows)
	assert.Equal(t, uint64(2), d.Bins[0])
	assert.Equal(t, uint64(1), d.Bins[1])
	assert.Equal(t, uint64(1), d.Bins[7])
}
