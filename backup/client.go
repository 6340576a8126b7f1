package backup

import (
	"github.com/ramlog/ramlog/cluster"
	"github.com/ramlog/ramlog/ramlog_errors"
)

// Client issues replication RPCs to backups. Every method returns
// immediately with a pollable Call; nothing here blocks the caller.
type Client interface {
	Open(node cluster.Node, masterId cluster.ServerId, segmentId uint64, openLen uint32, payload []byte) *Call
	Write(node cluster.Node, masterId cluster.ServerId, segmentId uint64, offset uint32, payload []byte) *Call
	Close(node cluster.Node, masterId cluster.ServerId, segmentId uint64) *Call
	Free(node cluster.Node, masterId cluster.ServerId, segmentId uint64) *Call
}

// StoreClient serves RPCs against in-process Stores, one per backup
// node. Calls complete synchronously; the REPL and the state-machine
// tests run a whole cluster inside one process this way.
type StoreClient struct {
	stores map[cluster.ServerId]*Store
	nonce  uint64
}

func NewStoreClient() *StoreClient {
	return &StoreClient{stores: make(map[cluster.ServerId]*Store)}
}

// AddStore registers the store serving the given backup id.
func (c *StoreClient) AddStore(id cluster.ServerId, s *Store) {
	c.stores[id] = s
}

// RemoveStore drops a backup, simulating its crash. In-flight and
// future calls to it fail permanently.
func (c *StoreClient) RemoveStore(id cluster.ServerId) {
	delete(c.stores, id)
}

func (c *StoreClient) dispatch(node cluster.Node, r Request) *Call {
	call := &Call{}
	store, ok := c.stores[node.ServerId]
	if !ok {
		call.fail(ramlog_errors.ErrBackupGone, true)
		return call
	}
	c.nonce++
	r.Nonce = c.nonce
	completeFromReply(call, store.HandleRequest(r))
	return call
}

func (c *StoreClient) Open(node cluster.Node, masterId cluster.ServerId, segmentId uint64, openLen uint32, payload []byte) *Call {
	return c.dispatch(node, Request{Lit: LitOpen, MasterId: masterId, SegmentId: segmentId, Offset: openLen, Payload: payload})
}

func (c *StoreClient) Write(node cluster.Node, masterId cluster.ServerId, segmentId uint64, offset uint32, payload []byte) *Call {
	return c.dispatch(node, Request{Lit: LitWrite, MasterId: masterId, SegmentId: segmentId, Offset: offset, Payload: payload})
}

func (c *StoreClient) Close(node cluster.Node, masterId cluster.ServerId, segmentId uint64) *Call {
	return c.dispatch(node, Request{Lit: LitClose, MasterId: masterId, SegmentId: segmentId})
}

func (c *StoreClient) Free(node cluster.Node, masterId cluster.ServerId, segmentId uint64) *Call {
	return c.dispatch(node, Request{Lit: LitFree, MasterId: masterId, SegmentId: segmentId})
}
