package utils

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("ramlog: record queue is closed")
var ErrOverflow = errors.New("ramlog: record queue overflow")

// FDQueue hands batches of records from writers to a reader, bounded
// by total byte size. Drain appends records, blocking while the queue
// is full; Feed takes queued records until it holds at least batchSize
// bytes or the queue is empty, blocking while it is empty. A writer that stays blocked past timelimit
// poisons the queue with ErrOverflow so the connection above it gets
// torn down instead of stalling silently.
type FDQueue[T ~[][]byte] struct {
	limit     int
	timelimit time.Duration
	batchSize int

	mu         sync.Mutex
	pending    T
	size       int
	closed     bool
	overflowed bool
	arrived    chan struct{}
	vacated    chan struct{}
	done       chan struct{}
}

func NewFDQueue[T ~[][]byte](limit int, timelimit time.Duration, batchSize int) *FDQueue[T] {
	return &FDQueue[T]{
		limit:     limit,
		timelimit: timelimit,
		batchSize: batchSize,
		arrived:   make(chan struct{}, 1),
		vacated:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (q *FDQueue[T]) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.pending = nil
		q.size = 0
		close(q.done)
	}
	q.mu.Unlock()
	return nil
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Drain queues records for the reader, waiting for space as needed.
// A nil return means every record was queued.
func (q *FDQueue[T]) Drain(ctx context.Context, recs T) error {
	deadline := time.NewTimer(q.timelimit)
	defer deadline.Stop()
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.overflowed {
			q.mu.Unlock()
			return ErrOverflow
		}
		queued := 0
		for _, rec := range recs {
			if q.size+len(rec) > q.limit {
				break
			}
			q.pending = append(q.pending, rec)
			q.size += len(rec)
			queued++
		}
		if queued > 0 {
			recs = recs[queued:]
			wake(q.arrived)
		}
		if len(recs) == 0 {
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.vacated:
		case <-q.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			q.mu.Lock()
			q.overflowed = true
			q.mu.Unlock()
			wake(q.arrived)
			return ErrOverflow
		}
	}
}

// Feed returns the next batch of queued records, stopping once the
// batch reaches batchSize bytes (the last record may carry it past
// that), waiting for records as needed. An empty batch with a nil
// error means the wait timed out or ctx fired.
func (q *FDQueue[T]) Feed(ctx context.Context) (recs T, err error) {
	deadline := time.NewTimer(q.timelimit)
	defer deadline.Stop()
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if q.overflowed {
			q.mu.Unlock()
			return nil, ErrOverflow
		}
		batch := 0
		for len(q.pending) > 0 && batch < q.batchSize {
			rec := q.pending[0]
			q.pending = q.pending[1:]
			q.size -= len(rec)
			batch += len(rec)
			recs = append(recs, rec)
		}
		if batch > 0 {
			wake(q.vacated)
			q.mu.Unlock()
			return recs, nil
		}
		q.mu.Unlock()

		select {
		case <-q.arrived:
		case <-q.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, nil
		case <-deadline.C:
			return nil, nil
		}
	}
}
