package quic

import (
	"context"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/zeusync/pocketbus/internal/core/observability/log"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

var _ protocol.Listener = (*Listener)(nil)

// Listener accepts QUIC connections and completes the stream handshake in the
// background, so a slow peer never blocks Accept.
type Listener struct {
	listener *quic.Listener
	endpoint protocol.Endpoint
	config   protocol.Config
	logger   log.Log

	conns  chan *Connection
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newListener(ln *quic.Listener, ep protocol.Endpoint, config protocol.Config, logger log.Log) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		listener: ln,
		endpoint: ep,
		config:   config,
		logger:   logger.With(log.String("listener", ep.String())),
		conns:    make(chan *Connection, config.AcceptBacklog),
		ctx:      ctx,
		cancel:   cancel,
	}
	l.wg.Add(1)
	go l.acceptLoop()
	l.logger.Info("Listening", log.String("endpoint", ep.String()))
	return l
}

func (l *Listener) Endpoint() protocol.Endpoint { return l.endpoint }

func (l *Listener) Accept(ctx context.Context) (protocol.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.ctx.Done():
		return nil, protocol.ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()

		l.cancel()
		err = l.listener.Close()
		l.wg.Wait()
		for {
			select {
			case c := <-l.conns:
				_ = c.Close()
			default:
				return
			}
		}
	})
	return err
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.listener.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil {
				l.logger.Error("QUIC accept failed", log.Error(err))
			}
			return
		}
		l.wg.Add(1)
		go l.handshake(conn)
	}
}

func (l *Listener) handshake(conn *quic.Conn) {
	defer l.wg.Done()

	ctx, cancel := context.WithTimeout(l.ctx, l.config.HandshakeTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		l.logger.Warn("Peer opened no stream", log.String("remote", conn.RemoteAddr().String()), log.Error(err))
		_ = conn.CloseWithError(1, "no stream")
		return
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetReadDeadline(deadline)
	}
	if err := readGreeting(stream); err != nil {
		l.logger.Warn("Bad greeting", log.String("remote", conn.RemoteAddr().String()), log.Error(err))
		_ = conn.CloseWithError(1, "bad greeting")
		return
	}

	c := newConnection(conn, stream, l.config)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		_ = c.Close()
		return
	}
	select {
	case l.conns <- c:
	default:
		l.logger.Warn("Accept backlog full, dropping connection", log.String("remote", conn.RemoteAddr().String()))
		_ = c.Close()
	}
}
