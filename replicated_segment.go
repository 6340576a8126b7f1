package ramlog

import (
	"github.com/ramlog/ramlog/backup"
	"github.com/ramlog/ramlog/cluster"
	"github.com/ramlog/ramlog/tasks"
)

type replicaState int

const (
	replicaNotStarted replicaState = iota
	replicaOpening
	replicaOpen
	replicaWriting
	replicaClosing
	replicaClosed
	replicaFreeing
	replicaDone
)

// transient RPC failures are retried in place this many times before
// the backup is written off and the replica re-placed.
const maxRetriesInPlace = 3

type replica struct {
	state      replicaState
	node       cluster.Node
	acked      uint32
	call       *backup.Call
	retries    int
	openIssued bool
}

// ReplicatedSegment drives replication of one log segment to
// numReplicas backups. All mutation happens on the manager's driving
// goroutine, one RPC transition per replica per PerformTask pass.
//
// An open carries the first openLen bytes atomically; writes ship
// strictly increasing offset ranges; close freezes the replica;
// free releases it. A failed backup rolls the replica back to the
// not-started state and a fresh backup is selected.
type ReplicatedSegment struct {
	tasks.Schedulable

	mgr       *ReplicaManager
	segmentId uint64

	data        []byte
	openLen     uint32
	queuedBytes uint32

	closed        bool
	freeRequested bool

	replicas []replica

	// doubly linked manager list; prev doubles as the predecessor
	// whose opens must all be issued before ours (log head recovery
	// depends on this ordering).
	prev, next *ReplicatedSegment
}

func (s *ReplicatedSegment) reset(segmentId uint64, data []byte, openLen uint32) {
	s.segmentId = segmentId
	s.data = data
	s.openLen = openLen
	s.queuedBytes = openLen
	s.closed = false
	s.freeRequested = false
	s.prev = nil
	s.next = nil
	for i := range s.replicas {
		s.replicas[i] = replica{}
	}
}

// SegmentId identifies the segment within the master's log.
func (s *ReplicatedSegment) SegmentId() uint64 {
	return s.segmentId
}

// Write advances the high-water mark of bytes ready to ship. Offsets
// must strictly increase; writing a closed or freed segment is a
// caller bug.
func (s *ReplicatedSegment) Write(offset uint32) {
	if s.closed || s.freeRequested {
		panic("ramlog: write on closed or freed segment")
	}
	if offset <= s.queuedBytes {
		panic("ramlog: write offsets must strictly increase")
	}
	s.queuedBytes = offset
	s.mgr.scheduler.Schedule(s)
}

// Close declares the segment immutable. Illegal after Free.
func (s *ReplicatedSegment) Close() {
	if s.freeRequested {
		panic("ramlog: close after free")
	}
	s.closed = true
	s.mgr.scheduler.Schedule(s)
}

// Free releases the replicas. The memory behind data must stay
// untouched until the manager destroys the handle.
func (s *ReplicatedSegment) Free() {
	s.freeRequested = true
	s.mgr.scheduler.Schedule(s)
}

// IsSynced reports whether no freeing remains outstanding and, for a
// closed segment, every replica has acknowledged all enqueued bytes.
// An unclosed segment that is not being freed always reports true;
// its pending writes are not checked here.
func (s *ReplicatedSegment) IsSynced() bool {
	if s.freeRequested {
		return s.allDone()
	}
	if !s.closed {
		return true
	}
	for i := range s.replicas {
		if s.replicas[i].acked != s.queuedBytes {
			return false
		}
	}
	return true
}

func (s *ReplicatedSegment) allDone() bool {
	for i := range s.replicas {
		if s.replicas[i].state != replicaDone {
			return false
		}
	}
	return true
}

func (s *ReplicatedSegment) allOpensIssued() bool {
	for i := range s.replicas {
		if !s.replicas[i].openIssued {
			return false
		}
	}
	return true
}

func (s *ReplicatedSegment) usedNodes() []cluster.Node {
	var used []cluster.Node
	for i := range s.replicas {
		if s.replicas[i].state != replicaNotStarted && s.replicas[i].state != replicaDone {
			used = append(used, s.replicas[i].node)
		}
	}
	return used
}

// quiescent reports that no pass over this segment would do anything.
func (s *ReplicatedSegment) quiescent() bool {
	for i := range s.replicas {
		r := &s.replicas[i]
		if r.call != nil {
			return false
		}
		switch {
		case s.freeRequested:
			if r.state != replicaDone {
				return false
			}
		case s.closed:
			if r.state != replicaClosed || r.acked != s.queuedBytes {
				return false
			}
		default:
			if r.state != replicaOpen || r.acked != s.queuedBytes {
				return false
			}
		}
	}
	return true
}

// PerformTask advances every replica by at most one RPC transition:
// reap completed calls, roll back replicas on dead backups, then
// issue whatever open/write/close/free the state machine is due.
// Reschedules itself while work remains; asks the manager to destroy
// the segment once freeing finishes.
func (s *ReplicatedSegment) PerformTask() {
	for i := range s.replicas {
		s.reap(&s.replicas[i])
	}
	for i := range s.replicas {
		s.advance(&s.replicas[i])
	}
	if s.freeRequested && s.allDone() {
		s.mgr.destroySegment(s)
		return
	}
	if !s.quiescent() {
		s.mgr.scheduler.Schedule(s)
	}
}

func (s *ReplicatedSegment) reap(r *replica) {
	if r.call == nil || !r.call.Done() {
		return
	}
	call := r.call
	r.call = nil
	if r.state == replicaOpening || r.state == replicaWriting {
		s.mgr.releaseWriteRpc()
	}

	if err := call.Err(); err != nil {
		s.mgr.log.Warn("replication rpc failed", "segment", s.segmentId,
			"backup", r.node.ServerId, "err", err, "permanent", call.Permanent())
		if r.state == replicaFreeing && call.Permanent() {
			// the backup rejected or lost the replica; either way it
			// no longer holds our bytes.
			r.state = replicaDone
			s.mgr.selector.NoteReleased(r.node.ServerId)
			return
		}
		if call.Permanent() || r.retries >= maxRetriesInPlace {
			s.rollback(r)
			return
		}
		r.retries++
		ReplicationRetryCount.Inc()
		// state keeps naming the RPC kind; advance re-issues it.
		return
	}

	r.retries = 0
	switch r.state {
	case replicaOpening, replicaWriting:
		r.acked = call.Durable()
		r.state = replicaOpen
	case replicaClosing:
		r.state = replicaClosed
	case replicaFreeing:
		r.state = replicaDone
		s.mgr.selector.NoteReleased(r.node.ServerId)
	}
}

// rollback returns a replica to the not-started state for
// re-placement on a fresh backup. The openIssued bit survives: the
// ordering invariant only needs opens to have been issued once.
func (s *ReplicatedSegment) rollback(r *replica) {
	s.mgr.selector.NoteFailure(r.node.ServerId)
	s.mgr.selector.NoteReleased(r.node.ServerId)
	ReplicaRollbackCount.Inc()
	r.state = replicaNotStarted
	r.node = cluster.Node{}
	r.acked = 0
	r.retries = 0
}

func (s *ReplicatedSegment) advance(r *replica) {
	if r.call != nil {
		return
	}
	if r.state != replicaNotStarted && r.state != replicaDone && !s.mgr.isLive(r.node.ServerId) {
		s.rollback(r)
	}

	masterId, _ := s.mgr.master.Get()
	switch r.state {
	case replicaNotStarted:
		if s.freeRequested {
			// never placed; nothing to release remotely.
			r.state = replicaDone
			return
		}
		if s.prev != nil && !s.prev.allOpensIssued() {
			return
		}
		if !s.mgr.acquireWriteRpc() {
			return
		}
		node, ok := s.mgr.selector.Select(s.usedNodes())
		if !ok {
			s.mgr.releaseWriteRpc()
			return
		}
		s.mgr.selector.NoteAssigned(node.ServerId)
		r.node = node
		r.state = replicaOpening
		r.openIssued = true
		r.call = s.mgr.backups.Open(node, masterId, s.segmentId, s.openLen, s.data[:s.openLen])
		ReplicationRpcCount.WithLabelValues("open").Inc()

	case replicaOpening:
		// transient failure; retry the open in place.
		if !s.mgr.acquireWriteRpc() {
			return
		}
		r.call = s.mgr.backups.Open(r.node, masterId, s.segmentId, s.openLen, s.data[:s.openLen])
		ReplicationRpcCount.WithLabelValues("open").Inc()

	case replicaOpen:
		if s.freeRequested {
			r.state = replicaFreeing
			r.call = s.mgr.backups.Free(r.node, masterId, s.segmentId)
			ReplicationRpcCount.WithLabelValues("free").Inc()
			return
		}
		if r.acked < s.queuedBytes {
			if !s.mgr.acquireWriteRpc() {
				return
			}
			r.state = replicaWriting
			r.call = s.mgr.backups.Write(r.node, masterId, s.segmentId, r.acked, s.data[r.acked:s.queuedBytes])
			ReplicationRpcCount.WithLabelValues("write").Inc()
			return
		}
		if s.closed {
			r.state = replicaClosing
			r.call = s.mgr.backups.Close(r.node, masterId, s.segmentId)
			ReplicationRpcCount.WithLabelValues("close").Inc()
		}

	case replicaWriting:
		if !s.mgr.acquireWriteRpc() {
			return
		}
		r.call = s.mgr.backups.Write(r.node, masterId, s.segmentId, r.acked, s.data[r.acked:s.queuedBytes])
		ReplicationRpcCount.WithLabelValues("write").Inc()

	case replicaClosing:
		r.call = s.mgr.backups.Close(r.node, masterId, s.segmentId)
		ReplicationRpcCount.WithLabelValues("close").Inc()

	case replicaClosed:
		if s.freeRequested {
			r.state = replicaFreeing
			r.call = s.mgr.backups.Free(r.node, masterId, s.segmentId)
			ReplicationRpcCount.WithLabelValues("free").Inc()
		}

	case replicaFreeing:
		r.call = s.mgr.backups.Free(r.node, masterId, s.segmentId)
		ReplicationRpcCount.WithLabelValues("free").Inc()
	}
}
