package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zeusync/pocketbus/internal/core/protocol"
)

// loopback wires a fake publisher straight into a fake subscriber and records
// every transport-level filter call.
type loopback struct {
	mu     sync.Mutex
	calls  []string
	inbox  chan protocol.Message
	closed chan struct{}
	once   sync.Once
}

func newLoopback() *loopback {
	return &loopback{inbox: make(chan protocol.Message, 64), closed: make(chan struct{})}
}

func (l *loopback) Send(ctx context.Context, msg protocol.Message) error {
	select {
	case <-l.closed:
		return protocol.ErrSocketClosed
	default:
	}
	select {
	case l.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *loopback) Subscribe(_ context.Context, prefix string) error {
	l.record("+" + prefix)
	return nil
}

func (l *loopback) Unsubscribe(_ context.Context, prefix string) error {
	l.record("-" + prefix)
	return nil
}

func (l *loopback) Recv(ctx context.Context) (protocol.Message, error) {
	select {
	case m := <-l.inbox:
		return m, nil
	case <-l.closed:
		return nil, protocol.ErrSocketClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *loopback) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *loopback) record(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *loopback) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// flakySubscriber fails the first failures calls to Recv.
type flakySubscriber struct {
	*loopback
	mu       sync.Mutex
	failures int
}

func (f *flakySubscriber) Recv(ctx context.Context) (protocol.Message, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("broker unreachable")
	}
	f.mu.Unlock()
	return f.loopback.Recv(ctx)
}

// transportObserver counts receive errors.
type transportObserver struct {
	nopObserver
	errors atomic.Int32
}

func (o *transportObserver) OnTransportError(error) { o.errors.Add(1) }

// fakeConnector hands out a fresh loopback on every Start. With
// recvFailures set, the subscriber side fails that many receives first.
type fakeConnector struct {
	mu           sync.Mutex
	links        []*loopback
	failWith     error
	recvFailures int
}

func (f *fakeConnector) ConnectPublisher(context.Context) (Publisher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	l := newLoopback()
	f.links = append(f.links, l)
	return l, nil
}

func (f *fakeConnector) ConnectSubscriber(context.Context) (Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.links) == 0 {
		return nil, errors.New("publisher not connected")
	}
	link := f.links[len(f.links)-1]
	if f.recvFailures > 0 {
		return &flakySubscriber{loopback: link, failures: f.recvFailures}, nil
	}
	return link, nil
}

func (f *fakeConnector) last() *loopback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[len(f.links)-1]
}
