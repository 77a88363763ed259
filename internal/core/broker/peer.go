package broker

import (
	"context"
	"sync"

	"github.com/zeusync/pocketbus/internal/core/observability/log"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

const (
	sidePublisher  = "publisher"
	sideSubscriber = "subscriber"
)

// peer is one accepted connection. Only the forwarder touches prefixes; the
// queue is drained by the peer's writer goroutine.
type peer struct {
	id       uint64
	side     string
	conn     protocol.Conn
	queue    chan protocol.Message
	done     chan struct{}
	prefixes map[string]struct{}
	logger   log.Log

	closeOnce sync.Once
}

func newPeer(id uint64, side string, conn protocol.Conn, queueSize int, logger log.Log) *peer {
	return &peer{
		id:       id,
		side:     side,
		conn:     conn,
		queue:    make(chan protocol.Message, queueSize),
		done:     make(chan struct{}),
		prefixes: make(map[string]struct{}),
		logger: logger.With(
			log.Uint64("peer_id", id),
			log.String("side", side),
			log.String("remote", conn.RemoteAddr().String())),
	}
}

// enqueue hands msg to the writer without blocking. It reports false when the
// queue is full.
func (p *peer) enqueue(msg protocol.Message) bool {
	select {
	case p.queue <- msg:
		return true
	default:
		return false
	}
}

// wants reports whether any subscribed prefix is a prefix of topic.
func (p *peer) wants(topic []byte) bool {
	for prefix := range p.prefixes {
		if len(prefix) <= len(topic) && string(topic[:len(prefix)]) == prefix {
			return true
		}
	}
	return false
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// writeLoop sends queued messages until the peer is closed or a send fails.
func (p *peer) writeLoop(ctx context.Context) {
	for {
		select {
		case msg := <-p.queue:
			if err := p.conn.Send(ctx, msg); err != nil {
				if ctx.Err() == nil {
					p.logger.Debug("Send to peer failed", log.Error(err))
				}
				_ = p.conn.Close()
				return
			}
		case <-p.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop turns inbound traffic into forwarder events and reports the
// peer's departure when the connection ends.
func (p *peer) readLoop(ctx context.Context, events chan<- event) {
	defer func() {
		p.close()
		select {
		case events <- event{kind: eventLeft, peer: p}:
		case <-ctx.Done():
		}
	}()
	for {
		msg, err := p.conn.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Debug("Peer disconnected", log.Error(err))
			}
			return
		}
		select {
		case events <- event{kind: eventMessage, peer: p, msg: msg}:
		case <-ctx.Done():
			return
		}
	}
}
