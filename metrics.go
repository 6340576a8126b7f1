package ramlog

import "github.com/prometheus/client_golang/prometheus"

var ReplicationRpcCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ramlog",
	Subsystem: "replica_manager",
	Name:      "rpcs_issued",
}, []string{"kind"})

var ReplicationRetryCount = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ramlog",
	Subsystem: "replica_manager",
	Name:      "rpc_retries",
})

var ReplicaRollbackCount = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ramlog",
	Subsystem: "replica_manager",
	Name:      "replica_rollbacks",
})

var WriteRpcsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "ramlog",
	Subsystem: "replica_manager",
	Name:      "write_rpcs_in_flight",
})

var SyncSpinCount = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ramlog",
	Subsystem: "replica_manager",
	Name:      "sync_spins",
})

// Metrics returns every collector the replica manager feeds, for
// registration by the embedding process.
func Metrics() []prometheus.Collector {
	return []prometheus.Collector{
		ReplicationRpcCount,
		ReplicationRetryCount,
		ReplicaRollbackCount,
		WriteRpcsInFlight,
		SyncSpinCount,
	}
}
