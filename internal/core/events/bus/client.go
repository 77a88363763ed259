package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeusync/pocketbus/internal/core/events/codec"
	"github.com/zeusync/pocketbus/internal/core/events/pattern"
	"github.com/zeusync/pocketbus/internal/core/observability/log"
)

// State is the connection state of a Client.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var _ EventBus = (*Client)(nil)

// Client is the per-process event bus endpoint. It publishes through the
// broker's publisher frontend and receives from its subscriber frontend.
type Client struct {
	config    Config
	connector Connector
	logger    log.Log
	observer  Observer

	mu       sync.Mutex
	state    State
	registry *registry
	pub      Publisher
	sub      Subscriber

	loopCancel context.CancelFunc
	loopDone   chan struct{}
	// staleDone is the done channel of a loop that outlived Stop's timeout.
	staleDone chan struct{}
}

// New creates a stopped client. Subscriptions may be registered before Start.
func New(config Config, connector Connector, logger log.Log, opts ...Option) *Client {
	config = config.withDefaults()
	if config.Identity == "" {
		config.Identity = "eventbus-" + uuid.NewString()[:8]
	}
	if logger == nil {
		logger = log.Nop()
	}
	c := &Client{
		config:    config,
		connector: connector,
		logger:    logger.With(log.String("component", "eventbus"), log.String("identity", config.Identity)),
		observer:  nopObserver{},
		registry:  newRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Identity() string { return c.config.Identity }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscriptions returns the registered subscriptions in registration order.
func (c *Client) Subscriptions() []SubscriptionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.info()
}

// Prefixes returns the reference count of every active transport prefix.
func (c *Client) Prefixes() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.registry.prefixRefs))
	for p, n := range c.registry.prefixRefs {
		out[p] = n
	}
	return out
}

func (c *Client) Subscribe(topicPattern string, handler Handler, opts ...SubscribeOption) (string, error) {
	if handler == nil {
		return "", ErrNilHandler
	}
	compiled, err := pattern.Compile(topicPattern)
	if err != nil {
		return "", err
	}
	s := &subscription{
		id:      uuid.NewString(),
		pattern: compiled,
		handler: handler,
	}
	for _, opt := range opts {
		opt(s)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prefix, first := c.registry.add(s)
	if first && c.state == StateRunning {
		if err := c.sub.Subscribe(context.Background(), prefix); err != nil {
			c.logger.Warn("Transport subscribe failed", log.String("prefix", prefix), log.Error(err))
		}
	}
	c.logger.Debug("Subscribed",
		log.String("subscription_id", s.id),
		log.String("pattern", topicPattern),
		log.String("prefix", prefix),
		log.Int("priority", s.priority))
	return s.id, nil
}

func (c *Client) Unsubscribe(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix, last, ok := c.registry.remove(id)
	if !ok {
		return false
	}
	if last && c.state == StateRunning {
		if err := c.sub.Unsubscribe(context.Background(), prefix); err != nil {
			c.logger.Warn("Transport unsubscribe failed", log.String("prefix", prefix), log.Error(err))
		}
	}
	c.logger.Debug("Unsubscribed", log.String("subscription_id", id), log.String("prefix", prefix))
	return true
}

// Publish sends payload under topic without waiting for delivery.
func (c *Client) Publish(ctx context.Context, topic string, payload any) error {
	c.mu.Lock()
	state, pub := c.state, c.pub
	c.mu.Unlock()

	err := c.publish(ctx, state, pub, topic, payload)
	c.observer.OnPublish(topic, err)
	return err
}

func (c *Client) publish(ctx context.Context, state State, pub Publisher, topic string, payload any) error {
	if state != StateRunning || pub == nil {
		return fmt.Errorf("publish %q: %w", topic, ErrNotRunning)
	}
	msg, err := codec.Encode(topic, payload)
	if err != nil {
		return fmt.Errorf("publish %q: %w", topic, err)
	}
	if err := pub.Send(ctx, msg); err != nil {
		return fmt.Errorf("publish %q: %w", topic, err)
	}
	return nil
}

// Start connects to the broker, announces every registered prefix and starts
// the receive loop. Starting a running client is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateStopped:
	case StateRunning:
		c.mu.Unlock()
		c.logger.Warn("Start called on a running client")
		return nil
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("start: client is %s", state)
	}
	c.state = StateStarting
	stale := c.staleDone
	c.mu.Unlock()

	// Handlers never run on two loops at once.
	if stale != nil {
		select {
		case <-stale:
		case <-ctx.Done():
			c.mu.Lock()
			c.state = StateStopped
			c.mu.Unlock()
			return fmt.Errorf("start: %w: %w", ErrLoopRunning, ctx.Err())
		}
		c.mu.Lock()
		c.staleDone = nil
		c.mu.Unlock()
	}

	pub, sub, err := c.connect(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	prefixes := c.registry.prefixes()
	for _, prefix := range prefixes {
		if err := sub.Subscribe(ctx, prefix); err != nil {
			c.logger.Warn("Transport subscribe failed", log.String("prefix", prefix), log.Error(err))
		}
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.pub, c.sub = pub, sub
	c.loopCancel, c.loopDone = cancel, done
	c.state = StateRunning
	c.mu.Unlock()

	go c.receiveLoop(loopCtx, sub, done)

	c.logger.Info("Event bus client started", log.Int("prefixes", len(prefixes)))
	return nil
}

func (c *Client) connect(ctx context.Context) (Publisher, Subscriber, error) {
	pub, err := c.connector.ConnectPublisher(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: publisher: %w", ErrConnect, err)
	}
	sub, err := c.connector.ConnectSubscriber(ctx)
	if err != nil {
		_ = pub.Close()
		return nil, nil, fmt.Errorf("%w: subscriber: %w", ErrConnect, err)
	}
	return pub, sub, nil
}

// Stop cancels the receive loop and waits up to timeout for it to return.
// A loop still blocked in a handler after the timeout is abandoned and
// ErrStopTimeout is returned; the handler's context is cancelled either way,
// the abandoned loop invokes no further handlers and the next Start waits
// for it to exit.
// Both connections are closed and the client is stopped on return.
// Subscriptions are kept for the next Start.
func (c *Client) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	cancel, done := c.loopCancel, c.loopDone
	pub, sub := c.pub, c.sub
	c.mu.Unlock()

	if timeout <= 0 {
		timeout = c.config.StopTimeout
	}

	var err error
	cancel()
	timer := time.NewTimer(timeout)
	select {
	case <-done:
	case <-timer.C:
		err = ErrStopTimeout
		c.logger.Error("Receive loop did not stop in time, it exits after the running handler returns",
			log.Duration("timeout", timeout))
	}
	timer.Stop()

	if closeErr := errors.Join(sub.Close(), pub.Close()); closeErr != nil {
		c.logger.Warn("Closing broker connections failed", log.Error(closeErr))
	}

	c.mu.Lock()
	c.pub, c.sub = nil, nil
	c.loopCancel, c.loopDone = nil, nil
	if err != nil {
		c.staleDone = done
	}
	c.state = StateStopped
	c.mu.Unlock()

	c.logger.Info("Event bus client stopped")
	return err
}
