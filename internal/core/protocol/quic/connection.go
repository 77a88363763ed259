package quic

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

var _ protocol.Conn = (*Connection)(nil)

// Connection is one QUIC connection with a single message stream.
type Connection struct {
	conn   *quic.Conn
	stream *quic.Stream
	reader *bufio.Reader
	config protocol.Config
	closed atomic.Bool

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConnection(conn *quic.Conn, stream *quic.Stream, config protocol.Config) *Connection {
	return &Connection{
		conn:   conn,
		stream: stream,
		reader: bufio.NewReader(stream),
		config: config,
	}
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Connection) Send(ctx context.Context, msg protocol.Message) error {
	if c.closed.Load() {
		return protocol.ErrConnectionClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var deadline time.Time
	if c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.stream.SetWriteDeadline(deadline)
	stop := protocol.InterruptOnDone(ctx, c.stream.SetWriteDeadline)
	err := protocol.WriteRecord(c.stream, msg, c.config.MaxMessageSize)
	stop()
	if err != nil {
		return c.wrapErr(ctx, "write record", err)
	}
	return nil
}

// Recv reads the next record. A Connection supports a single concurrent reader.
func (c *Connection) Recv(ctx context.Context) (protocol.Message, error) {
	if c.closed.Load() {
		return nil, protocol.ErrConnectionClosed
	}
	_ = c.stream.SetReadDeadline(time.Time{})
	stop := protocol.InterruptOnDone(ctx, c.stream.SetReadDeadline)
	msg, err := protocol.ReadRecord(c.reader, c.config.MaxMessageSize)
	stop()
	if err != nil {
		return nil, c.wrapErr(ctx, "read record", err)
	}
	return msg, nil
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.stream.Close()
		err = c.conn.CloseWithError(0, "closed")
	})
	return err
}

func (c *Connection) wrapErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return protocol.ContextError(ctx, err)
	}
	var appErr *quic.ApplicationError
	var idleErr *quic.IdleTimeoutError
	if c.closed.Load() || errors.Is(err, io.EOF) || errors.As(err, &appErr) || errors.As(err, &idleErr) {
		return fmt.Errorf("%s: %w", op, protocol.ErrConnectionClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}
