package cluster

import "sync/atomic"

// ServerIdHolder publishes a server's own id once enlistment assigns
// it. Components that need the id at construction time hold the
// holder instead and read through it later.
type ServerIdHolder struct {
	set atomic.Bool
	id  atomic.Uint64
}

func (h *ServerIdHolder) Set(id ServerId) {
	h.id.Store(uint64(id))
	h.set.Store(true)
}

func (h *ServerIdHolder) Get() (ServerId, bool) {
	if !h.set.Load() {
		return 0, false
	}
	return ServerId(h.id.Load()), true
}
