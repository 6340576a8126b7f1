package backup

import (
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/ramlog/ramlog/cluster"
	"github.com/ramlog/ramlog/ramlog_errors"
	"github.com/ramlog/ramlog/utils"
)

const (
	stateOpen   byte = 1
	stateClosed byte = 2
)

// Store is the backup-side home of replica bytes, keyed by
// (masterId, segmentId) in a pebble database. It enforces the
// replication contract: open before write, monotonic write offsets,
// immutability after close, idempotent free.
type Store struct {
	mu  sync.Mutex
	db  *pebble.DB
	log utils.Logger
}

func OpenStore(dir string, log utils.Logger) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "backup: opening store")
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pebble database for metrics collection.
func (s *Store) DB() *pebble.DB {
	return s.db
}

// ReplicaCount scans the meta keyspace; intended for metrics, not hot paths.
func (s *Store) ReplicaCount() int {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'m'},
		UpperBound: []byte{'m' + 1},
	})
	if err != nil {
		return 0
	}
	defer iter.Close()
	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	return count
}

func dataKey(masterId cluster.ServerId, segmentId uint64) []byte {
	k := make([]byte, 1+8+8)
	k[0] = 'd'
	binary.BigEndian.PutUint64(k[1:9], uint64(masterId))
	binary.BigEndian.PutUint64(k[9:17], segmentId)
	return k
}

func metaKey(masterId cluster.ServerId, segmentId uint64) []byte {
	k := dataKey(masterId, segmentId)
	k[0] = 'm'
	return k
}

func (s *Store) state(masterId cluster.ServerId, segmentId uint64) (byte, bool, error) {
	v, closer, err := s.db.Get(metaKey(masterId, segmentId))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "backup: reading replica state")
	}
	st := v[0]
	closer.Close()
	return st, true, nil
}

// Open atomically creates the replica with its first openLen bytes.
// Opening an existing replica is a permanent error.
func (s *Store) Open(masterId cluster.ServerId, segmentId uint64, openLen uint32, payload []byte) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint32(len(payload)) != openLen {
		return 0, ramlog_errors.ErrBadPacket
	}
	if _, exists, err := s.state(masterId, segmentId); err != nil {
		return 0, err
	} else if exists {
		return 0, errors.Wrapf(ramlog_errors.ErrSegmentClosed, "segment %d already open", segmentId)
	}

	batch := s.db.NewBatch()
	batch.Set(metaKey(masterId, segmentId), []byte{stateOpen}, nil)
	batch.Set(dataKey(masterId, segmentId), payload, nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, errors.Wrap(err, "backup: committing open")
	}
	s.log.Debug("store: opened replica", "master", masterId, "segment", segmentId, "openLen", openLen)
	return openLen, nil
}

// Write appends payload at offset. The offset must equal the current
// replica length; anything else is a protocol violation.
func (s *Store) Write(masterId cluster.ServerId, segmentId uint64, offset uint32, payload []byte) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, exists, err := s.state(masterId, segmentId)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ramlog_errors.ErrSegmentNotOpen
	}
	if st == stateClosed {
		return 0, ramlog_errors.ErrSegmentClosed
	}

	key := dataKey(masterId, segmentId)
	cur, closer, err := s.db.Get(key)
	if err != nil {
		return 0, errors.Wrap(err, "backup: reading replica bytes")
	}
	if uint32(len(cur)) != offset {
		closer.Close()
		return 0, errors.Wrapf(ramlog_errors.ErrStaleOffset, "have %d, write at %d", len(cur), offset)
	}
	grown := make([]byte, 0, len(cur)+len(payload))
	grown = append(grown, cur...)
	closer.Close()
	grown = append(grown, payload...)

	if err := s.db.Set(key, grown, pebble.Sync); err != nil {
		return 0, errors.Wrap(err, "backup: committing write")
	}
	return uint32(len(grown)), nil
}

// CloseSegment seals the replica. Closing a closed replica is a no-op.
func (s *Store) CloseSegment(masterId cluster.ServerId, segmentId uint64) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, exists, err := s.state(masterId, segmentId)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ramlog_errors.ErrSegmentNotOpen
	}
	if st != stateClosed {
		if err := s.db.Set(metaKey(masterId, segmentId), []byte{stateClosed}, pebble.Sync); err != nil {
			return 0, errors.Wrap(err, "backup: committing close")
		}
	}
	return s.length(masterId, segmentId)
}

// Free discards the replica. Freeing an unknown replica succeeds.
func (s *Store) Free(masterId cluster.ServerId, segmentId uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	batch.Delete(metaKey(masterId, segmentId), nil)
	batch.Delete(dataKey(masterId, segmentId), nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "backup: committing free")
	}
	return nil
}

func (s *Store) length(masterId cluster.ServerId, segmentId uint64) (uint32, error) {
	v, closer, err := s.db.Get(dataKey(masterId, segmentId))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "backup: reading replica bytes")
	}
	n := uint32(len(v))
	closer.Close()
	return n, nil
}

// ReplicaBytes returns a copy of the replica's current bytes.
func (s *Store) ReplicaBytes(masterId cluster.ServerId, segmentId uint64) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, closer, err := s.db.Get(dataKey(masterId, segmentId))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "backup: reading replica bytes")
	}
	out := append([]byte{}, v...)
	closer.Close()
	return out, true, nil
}

// HandleRequest applies one decoded replication request and builds
// the reply record. Transport servers and in-process clients share it.
func (s *Store) HandleRequest(r Request) []byte {
	var durable uint32
	var err error
	switch r.Lit {
	case LitOpen:
		durable, err = s.Open(r.MasterId, r.SegmentId, r.Offset, r.Payload)
	case LitWrite:
		durable, err = s.Write(r.MasterId, r.SegmentId, r.Offset, r.Payload)
	case LitClose:
		durable, err = s.CloseSegment(r.MasterId, r.SegmentId)
	case LitFree:
		err = s.Free(r.MasterId, r.SegmentId)
	default:
		err = ramlog_errors.ErrBadPacket
	}
	if err != nil {
		s.log.Warn("store: request failed", "lit", string(r.Lit), "master", r.MasterId,
			"segment", r.SegmentId, "err", err)
		return EncodeFault(Fault{Nonce: r.Nonce, Permanent: permanentFault(err), Message: err.Error()})
	}
	return EncodeAck(Ack{Nonce: r.Nonce, Durable: durable})
}

// permanentFault classifies store errors: contract violations are
// permanent, everything else is worth a retry.
func permanentFault(err error) bool {
	switch {
	case errors.Is(err, ramlog_errors.ErrSegmentNotOpen),
		errors.Is(err, ramlog_errors.ErrSegmentClosed),
		errors.Is(err, ramlog_errors.ErrStaleOffset),
		errors.Is(err, ramlog_errors.ErrBadPacket):
		return true
	}
	return false
}
