package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/ramlog/ramlog/cluster"
	"github.com/ramlog/ramlog/network"
	"github.com/ramlog/ramlog/protocol"
	"github.com/ramlog/ramlog/ramlog_errors"
	"github.com/ramlog/ramlog/utils"
)

const (
	outQueueLimit     = 1 << 24
	outQueueTimeLimit = 10 * time.Second
	outQueueBatch     = 1 << 16
)

// completeFromReply finishes a call from an encoded 'A' or 'E' reply.
func completeFromReply(call *Call, reply []byte) {
	lit, body, _ := protocol.TakeAny(reply)
	switch lit {
	case LitAck:
		ack, err := DecodeAck(body)
		if err != nil {
			call.fail(err, false)
			return
		}
		call.complete(ack.Durable)
	case LitError:
		fault, err := DecodeFault(body)
		if err != nil {
			call.fail(err, false)
			return
		}
		err = errors.New(fault.Message)
		if fault.Permanent {
			err = errors.Wrap(ramlog_errors.ErrPermanentFailed, fault.Message)
		}
		call.fail(err, fault.Permanent)
	default:
		call.fail(ramlog_errors.ErrBadPacket, false)
	}
}

type pendingCall struct {
	call *Call
	node cluster.ServerId
}

// RemoteClient carries replication RPCs to remote stores over the
// network transport. One connection pool per backup node; replies are
// matched to calls by nonce. A dropped connection fails that node's
// in-flight calls so the state machine can retry or re-place.
type RemoteClient struct {
	log     utils.Logger
	net     *network.Net
	nonce   *xsync.Counter
	pending *xsync.MapOf[uint64, pendingCall]
	queues  *xsync.MapOf[cluster.ServerId, *utils.FDQueue[protocol.Records]]
}

func NewRemoteClient(log utils.Logger, opts ...network.NetOpt) *RemoteClient {
	c := &RemoteClient{
		log:     log,
		nonce:   xsync.NewCounter(),
		pending: xsync.NewMapOf[uint64, pendingCall](),
		queues:  xsync.NewMapOf[cluster.ServerId, *utils.FDQueue[protocol.Records]](),
	}
	c.net = network.NewNet(log, c.install, c.destroy, opts...)
	return c
}

func (c *RemoteClient) CloseAll() error {
	err := c.net.Close()
	c.queues.Range(func(_ cluster.ServerId, q *utils.FDQueue[protocol.Records]) bool {
		q.Close()
		return true
	})
	c.queues.Clear()
	return err
}

func poolName(id cluster.ServerId) string {
	return fmt.Sprintf("backup:%d", id)
}

type session struct {
	client *RemoteClient
	id     cluster.ServerId
	queue  *utils.FDQueue[protocol.Records]
}

func (s *session) Feed(ctx context.Context) (protocol.Records, error) {
	return s.queue.Feed(ctx)
}

func (s *session) Drain(ctx context.Context, recs protocol.Records) error {
	for _, rec := range recs {
		lit, body, _ := protocol.TakeAny(rec)
		var nonce uint64
		switch lit {
		case LitAck:
			ack, err := DecodeAck(body)
			if err != nil {
				return err
			}
			nonce = ack.Nonce
		case LitError:
			fault, err := DecodeFault(body)
			if err != nil {
				return err
			}
			nonce = fault.Nonce
		default:
			return ramlog_errors.ErrBadPacket
		}
		if p, ok := s.client.pending.LoadAndDelete(nonce); ok {
			completeFromReply(p.call, rec)
		} else {
			s.client.log.Warn("backup: reply for unknown call", "nonce", nonce, "backup", s.id)
		}
	}
	return nil
}

func (s *session) Close() error {
	return nil
}

func (s *session) GetTraceId() string {
	return poolName(s.id)
}

func (c *RemoteClient) install(name string) protocol.FeedDrainCloserTraced {
	var id cluster.ServerId
	fmt.Sscanf(name, "connect:backup:%d", &id)
	queue, _ := c.queues.Load(id)
	return &session{client: c, id: id, queue: queue}
}

// destroy fails the dropped node's in-flight calls; the replica state
// machine treats those as transient and retries.
func (c *RemoteClient) destroy(name string, _ protocol.Traced) {
	var id cluster.ServerId
	fmt.Sscanf(name, "connect:backup:%d", &id)
	c.pending.Range(func(nonce uint64, p pendingCall) bool {
		if p.node == id {
			if _, ok := c.pending.LoadAndDelete(nonce); ok {
				p.call.fail(ramlog_errors.ErrBackupGone, false)
			}
		}
		return true
	})
}

func (c *RemoteClient) queueFor(node cluster.Node) *utils.FDQueue[protocol.Records] {
	queue, loaded := c.queues.LoadOrStore(node.ServerId,
		utils.NewFDQueue[protocol.Records](outQueueLimit, outQueueTimeLimit, outQueueBatch))
	if !loaded {
		if err := c.net.ConnectPool(poolName(node.ServerId), []string{node.Locator}); err != nil {
			c.log.Warn("backup: connect failed", "backup", node.ServerId, "err", err)
		}
	}
	return queue
}

func (c *RemoteClient) dispatch(node cluster.Node, r Request) *Call {
	call := &Call{}
	c.nonce.Inc()
	r.Nonce = uint64(c.nonce.Value())
	c.pending.Store(r.Nonce, pendingCall{call: call, node: node.ServerId})

	queue := c.queueFor(node)
	if err := queue.Drain(context.Background(), protocol.Records{EncodeRequest(r)}); err != nil {
		c.pending.Delete(r.Nonce)
		call.fail(err, false)
	}
	return call
}

func (c *RemoteClient) Open(node cluster.Node, masterId cluster.ServerId, segmentId uint64, openLen uint32, payload []byte) *Call {
	return c.dispatch(node, Request{Lit: LitOpen, MasterId: masterId, SegmentId: segmentId, Offset: openLen, Payload: payload})
}

func (c *RemoteClient) Write(node cluster.Node, masterId cluster.ServerId, segmentId uint64, offset uint32, payload []byte) *Call {
	return c.dispatch(node, Request{Lit: LitWrite, MasterId: masterId, SegmentId: segmentId, Offset: offset, Payload: payload})
}

func (c *RemoteClient) Close(node cluster.Node, masterId cluster.ServerId, segmentId uint64) *Call {
	return c.dispatch(node, Request{Lit: LitClose, MasterId: masterId, SegmentId: segmentId})
}

func (c *RemoteClient) Free(node cluster.Node, masterId cluster.ServerId, segmentId uint64) *Call {
	return c.dispatch(node, Request{Lit: LitFree, MasterId: masterId, SegmentId: segmentId})
}
