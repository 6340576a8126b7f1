// Provides common ramlog error definitions.
package ramlog_errors

import "errors"

var (
	ErrClosed          = errors.New("ramlog: replica manager is closed")
	ErrNoBackups       = errors.New("ramlog: no eligible backup available")
	ErrBackupGone      = errors.New("ramlog: backup lost the replica")
	ErrSegmentUnknown  = errors.New("ramlog: unknown segment")
	ErrSegmentNotOpen  = errors.New("ramlog: segment is not open")
	ErrSegmentClosed   = errors.New("ramlog: segment already closed")
	ErrSegmentFreed    = errors.New("ramlog: segment already freed")
	ErrStaleOffset     = errors.New("ramlog: write offset does not match durable length")
	ErrBadPacket       = errors.New("ramlog: bad replication packet")
	ErrCallStillOpen   = errors.New("ramlog: rpc still in flight")
	ErrPermanentFailed = errors.New("ramlog: backup failed permanently")
)
