package protocol

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/zeusync/pocketbus/internal/core/observability/log"
)

// DialFunc opens a fresh connection to a fixed endpoint.
type DialFunc func(ctx context.Context) (Conn, error)

// EndpointDialer returns a DialFunc dialing raw through the registry.
func EndpointDialer(r *Registry, raw string) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		return r.Dial(ctx, raw)
	}
}

// PubSocket is the publishing side of a PUB/SUB pair. It reconnects lazily on
// the next Send after a failure and drains the subscription announcements the
// broker forwards upstream.
type PubSocket struct {
	dial   DialFunc
	logger log.Log

	mu       sync.Mutex
	conn     Conn
	closed   bool
	upstream map[string]int
	wg       sync.WaitGroup
}

// NewPubSocket creates an unconnected publisher socket.
func NewPubSocket(dial DialFunc, logger log.Log) *PubSocket {
	if logger == nil {
		logger = log.Nop()
	}
	return &PubSocket{
		dial:     dial,
		logger:   logger.With(log.String("socket", "pub")),
		upstream: make(map[string]int),
	}
}

// Connect dials immediately instead of waiting for the first Send.
func (s *PubSocket) Connect(ctx context.Context) error {
	_, err := s.current(ctx)
	return err
}

// Send publishes msg. It does not wait for any acknowledgement.
func (s *PubSocket) Send(ctx context.Context, msg Message) error {
	conn, err := s.current(ctx)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, msg); err != nil {
		if ctx.Err() == nil && !errors.Is(err, ErrFrameTooLarge) && !errors.Is(err, ErrTooManyFrames) {
			s.drop(conn)
		}
		return err
	}
	return nil
}

// UpstreamPrefixes lists the prefixes some subscriber currently wants, as
// announced by the broker.
func (s *PubSocket) UpstreamPrefixes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.upstream)
}

// Close closes the connection and waits for the drain goroutine.
func (s *PubSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	return err
}

func (s *PubSocket) current(ctx context.Context) (Conn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSocketClosed
	}
	if s.conn != nil {
		conn := s.conn
		s.mu.Unlock()
		return conn, nil
	}
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = conn.Close()
		return nil, ErrSocketClosed
	}
	if s.conn != nil {
		// Lost a concurrent redial race; keep the winner.
		_ = conn.Close()
		return s.conn, nil
	}
	s.conn = conn
	clear(s.upstream)
	s.wg.Add(1)
	go s.drain(conn)
	return conn, nil
}

func (s *PubSocket) drain(conn Conn) {
	defer s.wg.Done()
	for {
		msg, err := conn.Recv(context.Background())
		if err != nil {
			s.drop(conn)
			return
		}
		subscribe, prefix, err := ParseControl(msg)
		if err != nil {
			s.logger.Warn("Ignoring malformed upstream control message", log.Error(err))
			continue
		}
		s.mu.Lock()
		if subscribe {
			s.upstream[prefix]++
		} else if s.upstream[prefix] > 1 {
			s.upstream[prefix]--
		} else {
			delete(s.upstream, prefix)
		}
		s.mu.Unlock()
		s.logger.Debug("Upstream subscription changed", log.String("prefix", prefix), log.Bool("subscribe", subscribe))
	}
}

func (s *PubSocket) drop(conn Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

// SubSocket is the subscribing side of a PUB/SUB pair. Its prefix set is the
// transport filter; it survives reconnects and is replayed on every new
// connection.
type SubSocket struct {
	dial   DialFunc
	logger log.Log

	mu       sync.Mutex
	conn     Conn
	closed   bool
	prefixes map[string]struct{}
}

// NewSubSocket creates an unconnected subscriber socket.
func NewSubSocket(dial DialFunc, logger log.Log) *SubSocket {
	if logger == nil {
		logger = log.Nop()
	}
	return &SubSocket{
		dial:     dial,
		logger:   logger.With(log.String("socket", "sub")),
		prefixes: make(map[string]struct{}),
	}
}

// Connect dials immediately instead of waiting for the first Recv.
func (s *SubSocket) Connect(ctx context.Context) error {
	_, err := s.current(ctx)
	return err
}

// Subscribe adds prefix to the filter. While disconnected the prefix is only
// recorded; it is announced on the next connection.
func (s *SubSocket) Subscribe(ctx context.Context, prefix string) error {
	return s.update(ctx, prefix, true)
}

// Unsubscribe removes prefix from the filter.
func (s *SubSocket) Unsubscribe(ctx context.Context, prefix string) error {
	return s.update(ctx, prefix, false)
}

// Prefixes returns the current filter in sorted order.
func (s *SubSocket) Prefixes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.prefixes)
}

// Recv returns the next data message, reconnecting first if the previous
// connection failed.
func (s *SubSocket) Recv(ctx context.Context) (Message, error) {
	conn, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := conn.Recv(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.drop(conn)
		}
		return nil, err
	}
	return msg, nil
}

func (s *SubSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *SubSocket) update(ctx context.Context, prefix string, subscribe bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSocketClosed
	}
	_, present := s.prefixes[prefix]
	if subscribe == present {
		return nil
	}
	var msg Message
	if subscribe {
		s.prefixes[prefix] = struct{}{}
		msg = SubscribeMessage(prefix)
	} else {
		delete(s.prefixes, prefix)
		msg = UnsubscribeMessage(prefix)
	}
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Send(ctx, msg); err != nil {
		// The filter is replayed when Recv reconnects.
		s.logger.Warn("Failed to send subscription update, reconnecting",
			log.String("prefix", prefix), log.Error(err))
		_ = s.conn.Close()
		s.conn = nil
	}
	return nil
}

func (s *SubSocket) current(ctx context.Context) (Conn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSocketClosed
	}
	if s.conn != nil {
		conn := s.conn
		s.mu.Unlock()
		return conn, nil
	}
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = conn.Close()
		return nil, ErrSocketClosed
	}
	if s.conn != nil {
		_ = conn.Close()
		return s.conn, nil
	}
	for _, prefix := range sortedKeys(s.prefixes) {
		if err := conn.Send(ctx, SubscribeMessage(prefix)); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	s.conn = conn
	return conn, nil
}

func (s *SubSocket) drop(conn Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
