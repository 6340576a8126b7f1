package indexes

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

// PerfCollector exposes a HashTable's performance counters as
// prometheus metrics. Collection snapshots the counters; the table's
// single-writer discipline applies to scrapes as well.
type PerfCollector struct {
	table *HashTable

	insertTicks      *prometheus.Desc
	lookupTicks      *prometheus.Desc
	insertChains     *prometheus.Desc
	lookupChains     *prometheus.Desc
	lookupCollisions *prometheus.Desc
	lookupMin        *prometheus.Desc
	lookupMax        *prometheus.Desc
	lookupOverflows  *prometheus.Desc
}

func NewPerfCollector(table *HashTable) *PerfCollector {
	return &PerfCollector{
		table: table,

		insertTicks: prometheus.NewDesc(
			"ramlog_index_insert_ticks_total",
			"Total ticks spent in hash table inserts",
			nil, nil,
		),
		lookupTicks: prometheus.NewDesc(
			"ramlog_index_lookup_ticks_total",
			"Total ticks spent in hash table lookups",
			nil, nil,
		),
		insertChains: prometheus.NewDesc(
			"ramlog_index_insert_chains_followed_total",
			"Overflow lines traversed during inserts",
			nil, nil,
		),
		lookupChains: prometheus.NewDesc(
			"ramlog_index_lookup_chains_followed_total",
			"Overflow lines traversed during lookups",
			nil, nil,
		),
		lookupCollisions: prometheus.NewDesc(
			"ramlog_index_lookup_hash_collisions_total",
			"Fingerprint matches rejected by full key comparison",
			nil, nil,
		),
		lookupMin: prometheus.NewDesc(
			"ramlog_index_lookup_ticks_min",
			"Fastest observed lookup in ticks",
			nil, nil,
		),
		lookupMax: prometheus.NewDesc(
			"ramlog_index_lookup_ticks_max",
			"Slowest observed lookup in ticks",
			nil, nil,
		),
		lookupOverflows: prometheus.NewDesc(
			"ramlog_index_lookup_histogram_overflows_total",
			"Lookup samples past the last histogram bin",
			nil, nil,
		),
	}
}

func (c *PerfCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.insertTicks
	ch <- c.lookupTicks
	ch <- c.insertChains
	ch <- c.lookupChains
	ch <- c.lookupCollisions
	ch <- c.lookupMin
	ch <- c.lookupMax
	ch <- c.lookupOverflows
}

func (c *PerfCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.table.Counters()

	ch <- prometheus.MustNewConstMetric(c.insertTicks, prometheus.CounterValue, float64(snap.InsertTicks))
	ch <- prometheus.MustNewConstMetric(c.lookupTicks, prometheus.CounterValue, float64(snap.LookupTicks))
	ch <- prometheus.MustNewConstMetric(c.insertChains, prometheus.CounterValue, float64(snap.InsertChainsFollowed))
	ch <- prometheus.MustNewConstMetric(c.lookupChains, prometheus.CounterValue, float64(snap.LookupEntryChainsFollowed))
	ch <- prometheus.MustNewConstMetric(c.lookupCollisions, prometheus.CounterValue, float64(snap.LookupEntryHashCollisions))

	min := snap.LookupDist.Min
	if min == math.MaxUint64 {
		min = 0
	}
	ch <- prometheus.MustNewConstMetric(c.lookupMin, prometheus.GaugeValue, float64(min))
	ch <- prometheus.MustNewConstMetric(c.lookupMax, prometheus.GaugeValue, float64(snap.LookupDist.Max))
	ch <- prometheus.MustNewConstMetric(c.lookupOverflows, prometheus.CounterValue, float64(snap.LookupDist.Overflows))
}
