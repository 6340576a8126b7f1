package backup

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StoreCollector exposes the replica store's pebble internals to
// prometheus. Registered once per backup process.
type StoreCollector struct {
	store *Store

	replicaCount *prometheus.Desc

	compactionCount *prometheus.Desc
	compactionDebt  *prometheus.Desc

	memtableSize  *prometheus.Desc
	memtableCount *prometheus.Desc

	walFiles        *prometheus.Desc
	walSize         *prometheus.Desc
	walBytesWritten *prometheus.Desc

	diskUsage *prometheus.Desc
}

func NewStoreCollector(store *Store) *StoreCollector {
	return &StoreCollector{
		store: store,

		replicaCount: prometheus.NewDesc(
			"ramlog_backup_replica_count",
			"Number of replicas currently held by this backup",
			nil, nil,
		),
		compactionCount: prometheus.NewDesc(
			"ramlog_backup_pebble_compaction_count_total",
			"Total number of compactions performed by the replica store",
			nil, nil,
		),
		compactionDebt: prometheus.NewDesc(
			"ramlog_backup_pebble_compaction_estimated_debt_bytes",
			"Estimated bytes to compact before the replica store is stable",
			nil, nil,
		),
		memtableSize: prometheus.NewDesc(
			"ramlog_backup_pebble_memtable_size_bytes",
			"Current size of the replica store memtable",
			nil, nil,
		),
		memtableCount: prometheus.NewDesc(
			"ramlog_backup_pebble_memtable_count",
			"Current count of replica store memtables",
			nil, nil,
		),
		walFiles: prometheus.NewDesc(
			"ramlog_backup_pebble_wal_files",
			"Number of live WAL files in the replica store",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			"ramlog_backup_pebble_wal_size_bytes",
			"Size of live WAL data in the replica store",
			nil, nil,
		),
		walBytesWritten: prometheus.NewDesc(
			"ramlog_backup_pebble_wal_bytes_written_total",
			"Total physical bytes written to the replica store WAL",
			nil, nil,
		),
		diskUsage: prometheus.NewDesc(
			"ramlog_backup_pebble_disk_usage_bytes",
			"Total disk space used by the replica store",
			nil, nil,
		),
	}
}

func (sc *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sc.replicaCount
	ch <- sc.compactionCount
	ch <- sc.compactionDebt
	ch <- sc.memtableSize
	ch <- sc.memtableCount
	ch <- sc.walFiles
	ch <- sc.walSize
	ch <- sc.walBytesWritten
	ch <- sc.diskUsage
}

func (sc *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	metrics := sc.store.DB().Metrics()

	ch <- prometheus.MustNewConstMetric(
		sc.replicaCount,
		prometheus.GaugeValue,
		float64(sc.store.ReplicaCount()),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.compactionCount,
		prometheus.CounterValue,
		float64(metrics.Compact.Count),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.compactionDebt,
		prometheus.GaugeValue,
		float64(metrics.Compact.EstimatedDebt),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.memtableSize,
		prometheus.GaugeValue,
		float64(metrics.MemTable.Size),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.memtableCount,
		prometheus.GaugeValue,
		float64(metrics.MemTable.Count),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.walFiles,
		prometheus.GaugeValue,
		float64(metrics.WAL.Files),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.walSize,
		prometheus.GaugeValue,
		float64(metrics.WAL.Size),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.walBytesWritten,
		prometheus.CounterValue,
		float64(metrics.WAL.BytesWritten),
	)

	ch <- prometheus.MustNewConstMetric(
		sc.diskUsage,
		prometheus.GaugeValue,
		float64(metrics.DiskSpaceUsage()),
	)
}
