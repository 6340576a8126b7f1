package ramlog

import (
	"log/slog"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ramlog/ramlog/backup"
	"github.com/ramlog/ramlog/cluster"
	"github.com/ramlog/ramlog/tasks"
	"github.com/ramlog/ramlog/utils"
)

const defaultMaxWriteRpcsInFlight = 4

type Options struct {
	Logger utils.Logger

	// NumReplicas is how many backups hold each segment. Defaults to 3.
	NumReplicas int

	// Backups issues the replication RPCs.
	Backups backup.Client

	// Cluster enumerates backup nodes and reports membership changes.
	Cluster cluster.Client

	// MasterId is filled in once this master enlists with the
	// coordinator; a fresh holder is used when nil.
	MasterId *cluster.ServerIdHolder

	// MaxWriteRpcsInFlight bounds concurrent open+write RPCs across
	// all segments. Defaults to 4.
	MaxWriteRpcsInFlight int

	// Registry, when set, receives the manager's collectors.
	Registry prometheus.Registerer
}

// ReplicaManager keeps every open log segment replicated on
// NumReplicas backups. The log drives it from a single goroutine via
// OpenSegment, the segment handles, Proceed and Sync; nothing here
// blocks on I/O.
type ReplicaManager struct {
	log     utils.Logger
	backups backup.Client
	cluster cluster.Client
	master  *cluster.ServerIdHolder

	numReplicas  int
	maxWriteRpcs int
	writeRpcs    int

	scheduler *tasks.Scheduler
	selector  *backup.Selector

	head, tail *ReplicatedSegment
	pool       []*ReplicatedSegment

	live          map[cluster.ServerId]bool
	configChanged atomic.Bool
}

func Open(opts Options) (*ReplicaManager, error) {
	if opts.Backups == nil {
		return nil, errors.New("ramlog: replica manager needs a backup client")
	}
	if opts.Cluster == nil {
		return nil, errors.New("ramlog: replica manager needs a cluster client")
	}
	if opts.NumReplicas == 0 {
		opts.NumReplicas = 3
	}
	if opts.NumReplicas < 0 {
		return nil, errors.Errorf("ramlog: bad replica count %d", opts.NumReplicas)
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if opts.MasterId == nil {
		opts.MasterId = &cluster.ServerIdHolder{}
	}
	if opts.MaxWriteRpcsInFlight == 0 {
		opts.MaxWriteRpcsInFlight = defaultMaxWriteRpcsInFlight
	}

	m := &ReplicaManager{
		log:          opts.Logger,
		backups:      opts.Backups,
		cluster:      opts.Cluster,
		master:       opts.MasterId,
		numReplicas:  opts.NumReplicas,
		maxWriteRpcs: opts.MaxWriteRpcsInFlight,
		scheduler:    tasks.NewScheduler(),
		selector:     backup.NewSelector(opts.Cluster, opts.MasterId, opts.Logger),
		live:         make(map[cluster.ServerId]bool),
	}
	m.refreshLiveSet()
	m.cluster.Notify(func() { m.configChanged.Store(true) })

	if opts.Registry != nil {
		for _, c := range Metrics() {
			if err := opts.Registry.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					return nil, errors.Wrap(err, "ramlog: registering metrics")
				}
			}
		}
	}
	return m, nil
}

// OpenSegment starts replicating a new segment whose first openLen
// bytes ship atomically with the open. The returned handle stays
// owned by the manager; it dies when freeing completes or the manager
// closes. Callers must never reuse segmentId, and must not touch the
// memory behind data until then.
func (m *ReplicaManager) OpenSegment(segmentId uint64, data []byte, openLen uint32) *ReplicatedSegment {
	var seg *ReplicatedSegment
	if n := len(m.pool); n > 0 {
		seg = m.pool[n-1]
		m.pool = m.pool[:n-1]
	} else {
		seg = &ReplicatedSegment{
			mgr:      m,
			replicas: make([]replica, m.numReplicas),
		}
	}
	seg.reset(segmentId, data, openLen)

	seg.prev = m.tail
	if m.tail != nil {
		m.tail.next = seg
	} else {
		m.head = seg
	}
	m.tail = seg

	m.scheduler.Schedule(seg)
	return seg
}

// Proceed runs one scheduler pass. Non-blocking.
func (m *ReplicaManager) Proceed() {
	if m.configChanged.Swap(false) {
		m.ClusterConfigurationChanged()
	}
	m.scheduler.Proceed()
}

// Sync spins Proceed until everything enqueued is durable and no
// work remains. Meant for the log's critical path, so it never yields.
func (m *ReplicaManager) Sync() {
	for {
		if m.isSynced() && m.scheduler.IsIdle() {
			return
		}
		m.Proceed()
		SyncSpinCount.Inc()
	}
}

func (m *ReplicaManager) isSynced() bool {
	for seg := m.head; seg != nil; seg = seg.next {
		if !seg.IsSynced() {
			return false
		}
	}
	return true
}

// ClusterConfigurationChanged re-schedules every segment so each can
// notice replicas stranded on departed backups and re-place them.
func (m *ReplicaManager) ClusterConfigurationChanged() {
	m.refreshLiveSet()
	for seg := m.head; seg != nil; seg = seg.next {
		m.scheduler.Schedule(seg)
	}
}

func (m *ReplicaManager) refreshLiveSet() {
	clear(m.live)
	for _, n := range m.cluster.EnumerateBackups() {
		m.live[n.ServerId] = true
	}
}

func (m *ReplicaManager) isLive(id cluster.ServerId) bool {
	return m.live[id]
}

// Close drains writes and in-flight frees, then releases the
// remaining segments. Replicas never freed stay on their backups for
// the coordinator's lifecycle to reclaim.
func (m *ReplicaManager) Close() {
	m.Sync()
	for !m.scheduler.IsIdle() {
		m.Proceed()
	}
	for m.head != nil {
		m.destroySegment(m.head)
	}
}

// destroySegment unlinks a segment and returns it to the pool. The
// successor inherits the predecessor link so open-ordering survives
// mid-list frees.
func (m *ReplicaManager) destroySegment(seg *ReplicatedSegment) {
	if seg.prev != nil {
		seg.prev.next = seg.next
	} else {
		m.head = seg.next
	}
	if seg.next != nil {
		seg.next.prev = seg.prev
	} else {
		m.tail = seg.prev
	}
	seg.prev = nil
	seg.next = nil
	seg.data = nil
	m.pool = append(m.pool, seg)
}

func (m *ReplicaManager) acquireWriteRpc() bool {
	if m.writeRpcs >= m.maxWriteRpcs {
		return false
	}
	m.writeRpcs++
	WriteRpcsInFlight.Set(float64(m.writeRpcs))
	return true
}

func (m *ReplicaManager) releaseWriteRpc() {
	m.writeRpcs--
	WriteRpcsInFlight.Set(float64(m.writeRpcs))
}
