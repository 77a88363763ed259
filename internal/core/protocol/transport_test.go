package protocol

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw     string
		want    Endpoint
		address string
	}{
		{"ws://127.0.0.1:5559", Endpoint{Scheme: "ws", Host: "127.0.0.1", Port: "5559"}, "127.0.0.1:5559"},
		{"quic://*:5560", Endpoint{Scheme: "quic", Host: "*", Port: "5560"}, ":5560"},
		{"WS://localhost:0/", Endpoint{Scheme: "ws", Host: "localhost", Port: "0"}, "localhost:0"},
		{"ws://[::1]:7000", Endpoint{Scheme: "ws", Host: "::1", Port: "7000"}, "[::1]:7000"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ep, err := ParseEndpoint(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ep)
			assert.Equal(t, tt.address, ep.Address())
		})
	}
}

func TestParseEndpointRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"localhost:5559",
		"ws://localhost",
		"ws://localhost:",
		"ws://localhost:5559/bus",
		"://:1",
	} {
		_, err := ParseEndpoint(raw)
		assert.ErrorIs(t, err, ErrInvalidAddress, raw)
	}
}

func TestEndpointWithAddr(t *testing.T) {
	ep := Endpoint{Scheme: "ws", Host: "*", Port: "0"}
	bound := ep.WithAddr(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 41000})
	assert.Equal(t, "ws://127.0.0.1:41000", bound.String())
	assert.Equal(t, "ws://*:0", ep.String())
}

var errStubDial = errors.New("stub dial")

type stubTransport struct{ scheme string }

func (s stubTransport) Scheme() string { return s.scheme }

func (s stubTransport) Listen(context.Context, Endpoint) (Listener, error) {
	return nil, ErrListenerClosed
}

func (s stubTransport) Dial(context.Context, Endpoint) (Conn, error) {
	return nil, errStubDial
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(stubTransport{"ws"}, stubTransport{"quic"})
	require.NoError(t, err)
	assert.Equal(t, []string{"quic", "ws"}, r.Schemes())

	assert.ErrorIs(t, r.Register(stubTransport{"ws"}), ErrAlreadyRegistered)

	_, err = r.Dial(context.Background(), "tcp://127.0.0.1:1")
	assert.ErrorIs(t, err, ErrTransportNotSupported)

	_, err = r.Dial(context.Background(), "ws://127.0.0.1:1")
	assert.ErrorIs(t, err, errStubDial)

	_, err = r.Listen(context.Background(), "not an endpoint")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = NewRegistry(stubTransport{"ws"}, stubTransport{"ws"})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}
