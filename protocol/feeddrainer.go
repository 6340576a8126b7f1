package protocol

import (
	"context"
	"io"
)

// Feeder produces batches of records. Feed follows the io.Reader EOF
// convention: a final batch may arrive together with the error.
type Feeder interface {
	Feed(ctx context.Context) (recs Records, err error)
}

// Drainer consumes batches of records.
type Drainer interface {
	Drain(ctx context.Context, recs Records) error
}

// FeedDrainCloser is both ends of a record pipe plus teardown.
type FeedDrainCloser interface {
	Feeder
	Drainer
	io.Closer
}

// Traced exposes a trace id for log correlation.
type Traced interface {
	GetTraceId() string
}

type FeedDrainCloserTraced interface {
	FeedDrainCloser
	Traced
}

// Relay moves one batch from a feeder to a drainer. Records arriving
// together with a feed error are still drained; the feed error wins
// over the drain error.
func Relay(ctx context.Context, from Feeder, to Drainer) error {
	recs, ferr := from.Feed(ctx)
	var derr error
	if len(recs) > 0 {
		derr = to.Drain(ctx, recs)
	}
	if ferr != nil {
		return ferr
	}
	return derr
}
