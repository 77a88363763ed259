// Package websocket implements the message transport over gorilla/websocket.
// Endpoints use the "ws" scheme; every connection is upgraded on "/".
package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/zeusync/pocketbus/internal/core/observability/log"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

// Scheme is the endpoint scheme served by this transport.
const Scheme = "ws"

var _ protocol.Transport = (*Transport)(nil)

// Transport dials and binds WebSocket endpoints.
type Transport struct {
	config protocol.Config
	logger log.Log
}

// NewTransport creates a WebSocket transport.
func NewTransport(config protocol.Config, logger log.Log) *Transport {
	if logger == nil {
		logger = log.Nop()
	}
	return &Transport{
		config: config.WithDefaults(),
		logger: logger.With(log.String("transport", Scheme)),
	}
}

func (t *Transport) Scheme() string { return Scheme }

// Dial connects to a listening endpoint.
func (t *Transport) Dial(ctx context.Context, ep protocol.Endpoint) (protocol.Conn, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.DialTimeout)
		defer cancel()
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: t.config.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	url := "ws://" + net.JoinHostPort(ep.Host, ep.Port) + "/"
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	t.logger.Debug("Dialed", log.String("endpoint", ep.String()))
	return newConnection(conn, t.config), nil
}

// Listen binds ep and serves WebSocket upgrades until the Listener is closed.
func (t *Transport) Listen(ctx context.Context, ep protocol.Endpoint) (protocol.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, err
	}

	l := &Listener{
		endpoint: ep.WithAddr(ln.Addr()),
		config:   t.config,
		conns:    make(chan *Connection, t.config.AcceptBacklog),
		done:     make(chan struct{}),
		logger:   t.logger.With(log.String("listener", ep.String())),
	}
	l.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Peers are processes, not browsers.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleUpgrade)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: t.config.HandshakeTimeout,
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("WebSocket server stopped", log.Error(err))
		}
	}()

	l.logger.Info("Listening", log.String("endpoint", l.endpoint.String()))
	return l, nil
}

var _ protocol.Listener = (*Listener)(nil)

// Listener hands upgraded connections to Accept.
type Listener struct {
	endpoint protocol.Endpoint
	config   protocol.Config
	server   *http.Server
	upgrader websocket.Upgrader
	conns    chan *Connection
	done     chan struct{}
	logger   log.Log

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (l *Listener) Endpoint() protocol.Endpoint { return l.endpoint }

func (l *Listener) Accept(ctx context.Context) (protocol.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, protocol.ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting, closes the HTTP server and any connection that was
// upgraded but never accepted.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.done)
		l.mu.Unlock()

		err = l.server.Close()
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

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.done:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("WebSocket upgrade failed", log.String("remote", r.RemoteAddr), log.Error(err))
		return
	}
	conn := newConnection(ws, l.config)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		_ = conn.Close()
		return
	}
	select {
	case l.conns <- conn:
	default:
		l.logger.Warn("Accept backlog full, dropping connection", log.String("remote", r.RemoteAddr))
		_ = conn.Close()
	}
}
