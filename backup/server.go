package backup

import (
	"context"

	"github.com/ramlog/ramlog/network"
	"github.com/ramlog/ramlog/protocol"
	"github.com/ramlog/ramlog/utils"
)

// Server exposes a Store to remote masters over the network
// transport. Each inbound connection gets its own reply queue;
// requests are applied in arrival order.
type Server struct {
	log   utils.Logger
	store *Store
	net   *network.Net
}

func NewServer(log utils.Logger, store *Store, opts ...network.NetOpt) *Server {
	s := &Server{log: log, store: store}
	s.net = network.NewNet(log, s.install, s.destroy, opts...)
	return s
}

func (s *Server) Listen(addr string) error {
	return s.net.Listen(addr)
}

func (s *Server) Close() error {
	return s.net.Close()
}

type serverSession struct {
	name    string
	store   *Store
	replies *utils.FDQueue[protocol.Records]
}

func (ss *serverSession) Feed(ctx context.Context) (protocol.Records, error) {
	return ss.replies.Feed(ctx)
}

func (ss *serverSession) Drain(ctx context.Context, recs protocol.Records) error {
	var out protocol.Records
	for _, rec := range recs {
		lit, body, _ := protocol.TakeAny(rec)
		req, err := DecodeRequest(lit, body)
		if err != nil {
			return err
		}
		out = append(out, ss.store.HandleRequest(req))
	}
	return ss.replies.Drain(ctx, out)
}

func (ss *serverSession) Close() error {
	return ss.replies.Close()
}

func (ss *serverSession) GetTraceId() string {
	return ss.name
}

func (s *Server) install(name string) protocol.FeedDrainCloserTraced {
	return &serverSession{
		name:    name,
		store:   s.store,
		replies: utils.NewFDQueue[protocol.Records](outQueueLimit, outQueueTimeLimit, outQueueBatch),
	}
}

func (s *Server) destroy(name string, _ protocol.Traced) {
	s.log.Debug("backup: master disconnected", "name", name)
}
