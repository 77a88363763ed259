// Package quic implements the message transport over quic-go. Every
// connection carries exactly one bidirectional stream, opened by the dialer
// and announced with a short greeting; messages on it are length-delimited
// records.
package quic

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/zeusync/pocketbus/internal/core/observability/log"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

// Scheme is the endpoint scheme served by this transport.
const Scheme = "quic"

// alpn is the TLS application protocol negotiated by both sides.
const alpn = "pocketbus-quic"

// greeting opens every stream: magic followed by the wire version.
var greeting = []byte{'P', 'B', 'U', 'S', 1}

var _ protocol.Transport = (*Transport)(nil)

// Config holds QUIC-specific configuration
type Config struct {
	MaxIdleTimeout  time.Duration
	KeepAlivePeriod time.Duration

	// TLSConfig is used by listeners. When nil a self-signed certificate is
	// generated on first use.
	TLSConfig *tls.Config
}

// DefaultQUICConfig returns default QUIC configuration
func DefaultQUICConfig() Config {
	return Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

// Transport dials and binds QUIC endpoints.
type Transport struct {
	config     protocol.Config
	quicConfig Config
	logger     log.Log
}

// NewTransport creates a QUIC transport.
func NewTransport(config protocol.Config, quicConfig Config, logger log.Log) *Transport {
	if logger == nil {
		logger = log.Nop()
	}
	d := DefaultQUICConfig()
	if quicConfig.MaxIdleTimeout <= 0 {
		quicConfig.MaxIdleTimeout = d.MaxIdleTimeout
	}
	if quicConfig.KeepAlivePeriod <= 0 {
		quicConfig.KeepAlivePeriod = d.KeepAlivePeriod
	}
	return &Transport{
		config:     config.WithDefaults(),
		quicConfig: quicConfig,
		logger:     logger.With(log.String("transport", Scheme)),
	}
}

func (t *Transport) Scheme() string { return Scheme }

func (t *Transport) buildQUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:       t.quicConfig.MaxIdleTimeout,
		KeepAlivePeriod:      t.quicConfig.KeepAlivePeriod,
		HandshakeIdleTimeout: t.config.HandshakeTimeout,
	}
}

// Dial connects, opens the message stream and sends the greeting.
func (t *Transport) Dial(ctx context.Context, ep protocol.Endpoint) (protocol.Conn, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.DialTimeout)
		defer cancel()
	}

	conn, err := quic.DialAddr(ctx, ep.Address(), clientTLSConfig(ep.Host), t.buildQUICConfig())
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(deadline)
	}
	if _, err := stream.Write(greeting); err != nil {
		_ = conn.CloseWithError(0, "greeting failed")
		return nil, fmt.Errorf("%w: %v", protocol.ErrHandshakeFailed, err)
	}
	_ = stream.SetWriteDeadline(time.Time{})

	t.logger.Debug("Dialed", log.String("endpoint", ep.String()))
	return newConnection(conn, stream, t.config), nil
}

// Listen binds a UDP endpoint and accepts QUIC connections on it.
func (t *Transport) Listen(_ context.Context, ep protocol.Endpoint) (protocol.Listener, error) {
	tlsConf := t.quicConfig.TLSConfig
	if tlsConf == nil {
		var err error
		tlsConf, err = generateTLSConfig()
		if err != nil {
			return nil, err
		}
	}

	ln, err := quic.ListenAddr(ep.Address(), tlsConf, t.buildQUICConfig())
	if err != nil {
		return nil, err
	}
	return newListener(ln, ep.WithAddr(ln.Addr()), t.config, t.logger), nil
}

func readGreeting(r io.Reader) error {
	buf := make([]byte, len(greeting))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrHandshakeFailed, err)
	}
	if !bytes.Equal(buf, greeting) {
		return fmt.Errorf("%w: unexpected greeting %x", protocol.ErrHandshakeFailed, buf)
	}
	return nil
}
