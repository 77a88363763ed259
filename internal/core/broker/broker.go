// Package broker implements the stateless relay between event bus publishers
// and subscribers. It binds a publisher frontend and a subscriber frontend,
// forwards data from the first to the second and subscription control traffic
// the other way.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/pocketbus/internal/core/observability/log"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

// State is the lifecycle state of a Broker.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config configures a Broker.
type Config struct {
	PublisherEndpoint  string
	SubscriberEndpoint string
	// GracePeriod bounds Shutdown when the caller's context has no earlier deadline.
	GracePeriod time.Duration
	// SendQueueSize is the per-peer high-water mark.
	SendQueueSize int
}

// DefaultConfig listens on every interface on the conventional ports.
func DefaultConfig() Config {
	return Config{
		PublisherEndpoint:  "ws://*:5559",
		SubscriberEndpoint: "ws://*:5560",
		GracePeriod:        5 * time.Second,
		SendQueueSize:      1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PublisherEndpoint == "" {
		c.PublisherEndpoint = d.PublisherEndpoint
	}
	if c.SubscriberEndpoint == "" {
		c.SubscriberEndpoint = d.SubscriberEndpoint
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	return c
}

// Observer is notified about relay activity.
type Observer interface {
	OnForwarded(size int)
	OnDropped(reason string)
	OnPeerConnected(side string)
	OnPeerDisconnected(side string)
	OnPrefixesChanged(n int)
}

type nopObserver struct{}

func (nopObserver) OnForwarded(int)           {}
func (nopObserver) OnDropped(string)          {}
func (nopObserver) OnPeerConnected(string)    {}
func (nopObserver) OnPeerDisconnected(string) {}
func (nopObserver) OnPrefixesChanged(int)     {}

// Option customizes a Broker.
type Option func(*Broker)

// WithObserver installs an observer for relay events.
func WithObserver(o Observer) Option {
	return func(b *Broker) {
		if o != nil {
			b.observer = o
		}
	}
}

// Broker relays messages between the two frontends.
type Broker struct {
	config   Config
	logger   log.Log
	registry *protocol.Registry
	observer Observer
	peerIDs  atomic.Uint64

	mu         sync.Mutex
	state      State
	publishers protocol.Listener
	subscriber protocol.Listener
	cancel     context.CancelFunc
	done       chan struct{}
	err        error
	stopping   bool
}

// New creates a broker. Nothing is bound until Start.
func New(config Config, logger log.Log, registry *protocol.Registry, opts ...Option) *Broker {
	if logger == nil {
		logger = log.Nop()
	}
	b := &Broker{
		config:   config.withDefaults(),
		logger:   logger.With(log.String("component", "broker")),
		registry: registry,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// PublisherEndpoint returns the bound publisher frontend, with the resolved
// port. It is the zero Endpoint before Start.
func (b *Broker) PublisherEndpoint() protocol.Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishers == nil {
		return protocol.Endpoint{}
	}
	return b.publishers.Endpoint()
}

// SubscriberEndpoint returns the bound subscriber frontend.
func (b *Broker) SubscriberEndpoint() protocol.Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscriber == nil {
		return protocol.Endpoint{}
	}
	return b.subscriber.Endpoint()
}

// Start binds both frontends and launches the forwarding loop.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateCreated {
		return ErrAlreadyStarted
	}

	pubLn, err := b.registry.Listen(ctx, b.config.PublisherEndpoint)
	if err != nil {
		return fmt.Errorf("bind publisher frontend %s: %w", b.config.PublisherEndpoint, err)
	}
	subLn, err := b.registry.Listen(ctx, b.config.SubscriberEndpoint)
	if err != nil {
		_ = pubLn.Close()
		return fmt.Errorf("bind subscriber frontend %s: %w", b.config.SubscriberEndpoint, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	fwd := newForwarder(b.logger, b.observer)

	g.Go(func() error { return fwd.run(gctx) })
	g.Go(func() error { return b.acceptLoop(gctx, g, pubLn, sidePublisher, fwd) })
	g.Go(func() error { return b.acceptLoop(gctx, g, subLn, sideSubscriber, fwd) })

	b.publishers, b.subscriber = pubLn, subLn
	b.cancel = cancel
	b.done = make(chan struct{})
	b.state = StateRunning

	go b.supervise(g, cancel)

	b.logger.Info("Broker started",
		log.String("publisher_endpoint", pubLn.Endpoint().String()),
		log.String("subscriber_endpoint", subLn.Endpoint().String()))
	return nil
}

// supervise waits for every broker goroutine, then releases the listeners.
func (b *Broker) supervise(g *errgroup.Group, cancel context.CancelFunc) {
	err := g.Wait()
	cancel()

	b.mu.Lock()
	closeErr := errors.Join(b.publishers.Close(), b.subscriber.Close())
	if closeErr != nil {
		b.logger.Warn("Closing frontends failed", log.Error(closeErr))
	}
	if err != nil {
		b.logger.Error("Broker stopped on fatal error", log.Error(err))
	}
	b.err = err
	b.state = StateStopped
	done := b.done
	b.mu.Unlock()

	close(done)
}

func (b *Broker) acceptLoop(ctx context.Context, g *errgroup.Group, ln protocol.Listener, side string, fwd *forwarder) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: accept on %s frontend: %w", ErrForwarderExited, side, err)
		}

		p := newPeer(b.peerIDs.Add(1), side, conn, b.config.SendQueueSize, b.logger)
		select {
		case fwd.events <- event{kind: eventJoined, peer: p}:
		case <-ctx.Done():
			p.close()
			return nil
		}
		g.Go(func() error {
			p.writeLoop(ctx)
			return nil
		})
		g.Go(func() error {
			p.readLoop(ctx, fwd.events)
			return nil
		})
	}
}

// Wait blocks until the broker has stopped and returns the fatal error, if
// any. It returns immediately for a broker that was never started.
func (b *Broker) Wait() error {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Shutdown cancels the forwarding loop and waits, at most for the grace
// period, until every peer connection and both frontends are closed.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case StateCreated:
		b.state = StateStopped
		b.mu.Unlock()
		return nil
	case StateRunning:
		b.state = StateShuttingDown
	}
	b.stopping = true
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	b.logger.Info("Broker shutting down", log.Duration("grace_period", b.config.GracePeriod))

	ctx, stop := context.WithTimeout(ctx, b.config.GracePeriod)
	defer stop()
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger.Info("Broker stopped")
	return b.err
}

// Run starts the broker and blocks until ctx is cancelled or the forwarding
// loop fails. A failure is returned as ErrForwarderExited; the process is
// expected to exit and be restarted by its supervisor.
func (b *Broker) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	done := b.done
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return b.Shutdown(context.Background())
	case <-done:
		b.mu.Lock()
		err, stopping := b.err, b.stopping
		b.mu.Unlock()
		if err == nil && !stopping {
			err = ErrForwarderExited
		}
		return err
	}
}
