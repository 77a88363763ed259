package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

var _ protocol.Conn = (*Connection)(nil)

// Connection carries one multipart message per binary WebSocket message.
type Connection struct {
	conn   *websocket.Conn
	config protocol.Config
	closed atomic.Bool

	// Write mutex to ensure thread-safe writes
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newConnection(conn *websocket.Conn, config protocol.Config) *Connection {
	conn.SetReadLimit(int64(config.MaxMessageSize))
	return &Connection{conn: conn, config: config}
}

// RemoteAddr returns the remote network address
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes msg as a single binary message.
func (c *Connection) Send(ctx context.Context, msg protocol.Message) error {
	if c.closed.Load() {
		return protocol.ErrConnectionClosed
	}
	body, err := protocol.MarshalFrames(msg)
	if err != nil {
		return err
	}
	if len(body) > c.config.MaxMessageSize {
		return fmt.Errorf("%w: %d > %d", protocol.ErrFrameTooLarge, len(body), c.config.MaxMessageSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(c.writeDeadline(ctx))
	stop := protocol.InterruptOnDone(ctx, c.conn.SetWriteDeadline)
	err = c.conn.WriteMessage(websocket.BinaryMessage, body)
	stop()
	if err != nil {
		return c.wrapErr(ctx, "write message", err)
	}
	return nil
}

// Recv blocks for the next binary message. A Connection supports a single
// concurrent reader.
func (c *Connection) Recv(ctx context.Context) (protocol.Message, error) {
	if c.closed.Load() {
		return nil, protocol.ErrConnectionClosed
	}
	_ = c.conn.SetReadDeadline(time.Time{})
	stop := protocol.InterruptOnDone(ctx, c.conn.SetReadDeadline)
	messageType, data, err := c.conn.ReadMessage()
	stop()
	if err != nil {
		return nil, c.wrapErr(ctx, "read message", err)
	}
	if messageType != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: unexpected websocket message type %d", protocol.ErrInvalidFrame, messageType)
	}
	return protocol.UnmarshalFrames(data)
}

// Close sends a close frame (best effort) and closes the socket.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Connection) writeDeadline(ctx context.Context) time.Time {
	var deadline time.Time
	if c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

func (c *Connection) wrapErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return protocol.ContextError(ctx, err)
	}
	if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%s: %w", op, protocol.ErrConnectionClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}
