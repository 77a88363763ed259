package websocket

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

func listen(t *testing.T, config protocol.Config) (*Transport, protocol.Listener) {
	t.Helper()
	tr := NewTransport(config, nil)
	ep, err := protocol.ParseEndpoint("ws://127.0.0.1:0")
	require.NoError(t, err)
	ln, err := tr.Listen(context.Background(), ep)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return tr, ln
}

func TestRoundTrip(t *testing.T) {
	tr, ln := listen(t, protocol.Config{})
	assert.NotEqual(t, "0", ln.Endpoint().Port)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := tr.Dial(ctx, ln.Endpoint())
	require.NoError(t, err)
	defer client.Close()

	server, err := ln.Accept(ctx)
	require.NoError(t, err)
	defer server.Close()

	sent := protocol.Message{[]byte("user.created"), []byte(`{"id":7}`)}
	require.NoError(t, client.Send(ctx, sent))
	got, err := server.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, sent, got)

	require.NoError(t, server.Send(ctx, protocol.SubscribeMessage("user.")))
	got, err = client.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.SubscribeMessage("user."), got)
}

func TestRecvHonoursContext(t *testing.T) {
	tr, ln := listen(t, protocol.Config{})

	client, err := tr.Dial(context.Background(), ln.Endpoint())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClosedPeerIsReported(t *testing.T) {
	tr, ln := listen(t, protocol.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := tr.Dial(ctx, ln.Endpoint())
	require.NoError(t, err)
	server, err := ln.Accept(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	_, err = server.Recv(ctx)
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
	_ = server.Close()

	assert.ErrorIs(t, client.Send(ctx, protocol.Message{[]byte("x")}), protocol.ErrConnectionClosed)
}

func TestOversizedMessageIsRejected(t *testing.T) {
	tr, ln := listen(t, protocol.Config{MaxMessageSize: 128})

	client, err := tr.Dial(context.Background(), ln.Endpoint())
	require.NoError(t, err)
	defer client.Close()

	err = client.Send(context.Background(), protocol.Message{bytes.Repeat([]byte{'x'}, 256)})
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
}

func TestAcceptAfterClose(t *testing.T) {
	_, ln := listen(t, protocol.Config{})
	require.NoError(t, ln.Close())
	_, err := ln.Accept(context.Background())
	assert.ErrorIs(t, err, protocol.ErrListenerClosed)
}
