package protocol

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Conn is a bidirectional, message-oriented connection. Send and Recv may be
// called concurrently with each other; concurrent Sends are serialized.
type Conn interface {
	Send(ctx context.Context, msg Message) error
	Recv(ctx context.Context) (Message, error)
	RemoteAddr() net.Addr
	Close() error
}

// Listener accepts inbound Conns on a bound endpoint.
type Listener interface {
	// Accept blocks until a peer connects, ctx is done or the listener is closed.
	Accept(ctx context.Context) (Conn, error)
	// Endpoint returns the bound endpoint with the resolved port.
	Endpoint() Endpoint
	Close() error
}

// Transport binds and dials endpoints of one scheme.
type Transport interface {
	Scheme() string
	Listen(ctx context.Context, ep Endpoint) (Listener, error)
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// Endpoint is a parsed "scheme://host:port" address.
type Endpoint struct {
	Scheme string
	Host   string
	Port   string
}

// ParseEndpoint parses addresses like "ws://127.0.0.1:5559" or "quic://*:5560".
// A "*" host means every interface.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w %q: %v", ErrInvalidAddress, raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Endpoint{}, fmt.Errorf("%w %q: want scheme://host:port", ErrInvalidAddress, raw)
	}
	if u.Path != "" && u.Path != "/" {
		return Endpoint{}, fmt.Errorf("%w %q: unexpected path", ErrInvalidAddress, raw)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w %q: %v", ErrInvalidAddress, raw, err)
	}
	if port == "" {
		return Endpoint{}, fmt.Errorf("%w %q: missing port", ErrInvalidAddress, raw)
	}
	return Endpoint{Scheme: strings.ToLower(u.Scheme), Host: host, Port: port}, nil
}

// Address is the host:port form used for binding; "*" becomes all interfaces.
func (e Endpoint) Address() string {
	host := e.Host
	if host == "*" {
		host = ""
	}
	return net.JoinHostPort(host, e.Port)
}

func (e Endpoint) String() string {
	return e.Scheme + "://" + net.JoinHostPort(e.Host, e.Port)
}

// WithAddr returns a copy of e pointing at the host and port of addr.
func (e Endpoint) WithAddr(addr net.Addr) Endpoint {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return e
	}
	e.Host, e.Port = host, port
	return e
}

// Registry resolves endpoints to transports by scheme.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewRegistry creates a registry holding the given transports.
func NewRegistry(transports ...Transport) (*Registry, error) {
	r := &Registry{transports: make(map[string]Transport, len(transports))}
	for _, t := range transports {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a transport. Registering the same scheme twice is an error.
func (r *Registry) Register(t Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transports[t.Scheme()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, t.Scheme())
	}
	r.transports[t.Scheme()] = t
	return nil
}

// Lookup returns the transport for a scheme.
func (r *Registry) Lookup(scheme string) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTransportNotSupported, scheme)
	}
	return t, nil
}

// Schemes lists registered schemes in sorted order.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.transports))
	for s := range r.transports {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Listen resolves raw and binds it.
func (r *Registry) Listen(ctx context.Context, raw string) (Listener, error) {
	ep, err := ParseEndpoint(raw)
	if err != nil {
		return nil, err
	}
	t, err := r.Lookup(ep.Scheme)
	if err != nil {
		return nil, err
	}
	return t.Listen(ctx, ep)
}

// Dial resolves raw and connects to it.
func (r *Registry) Dial(ctx context.Context, raw string) (Conn, error) {
	ep, err := ParseEndpoint(raw)
	if err != nil {
		return nil, err
	}
	t, err := r.Lookup(ep.Scheme)
	if err != nil {
		return nil, err
	}
	return t.Dial(ctx, ep)
}
