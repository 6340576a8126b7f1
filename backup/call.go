package backup

import (
	"sync/atomic"

	"github.com/ramlog/ramlog/ramlog_errors"
)

// Call is a pollable handle for one replication RPC. The issuing
// state machine polls Done from its single driving goroutine; the
// completing side may be a network goroutine, so completion state is
// published through the done flag.
type Call struct {
	done      atomic.Bool
	err       error
	permanent bool
	durable   uint32
}

// Done reports whether the RPC has completed, successfully or not.
func (c *Call) Done() bool {
	return c.done.Load()
}

// Err returns the RPC failure, nil on success. Only valid once Done.
func (c *Call) Err() error {
	if !c.done.Load() {
		return ramlog_errors.ErrCallStillOpen
	}
	return c.err
}

// Permanent reports that the backup rejected the request for good and
// the replica must be re-placed rather than retried in place. Only
// valid once Done.
func (c *Call) Permanent() bool {
	return c.done.Load() && c.permanent
}

// Durable returns the backup's acknowledged durable byte count. Only
// valid once Done with a nil Err.
func (c *Call) Durable() uint32 {
	return c.durable
}

func (c *Call) complete(durable uint32) {
	c.durable = durable
	c.done.Store(true)
}

func (c *Call) fail(err error, permanent bool) {
	c.err = err
	c.permanent = permanent
	c.done.Store(true)
}
