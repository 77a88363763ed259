package bus

import (
	"context"
	"time"

	"github.com/zeusync/pocketbus/internal/core/protocol"
)

// EventBus is a publish/subscribe client connected to a broker.
//
// Key characteristics:
// - Glob routing: handlers subscribe with a glob pattern over dotted topics; wildcards cross dots.
// - Coarse transport filters: each pattern contributes its literal prefix to a reference-counted
// set of transport subscriptions, so patterns sharing a prefix cost one transport subscription.
// - Ordered delivery: handlers for one message run sequentially by ascending priority, in
// registration order for equal priorities, and a handler may consume the message.
// - Failure isolation: handler errors and panics are logged and never reach publishers or other handlers.
//
// Notes:
// - Subscriptions outlive Stop; a later Start replays them against the new connection.
// - Publish is fire-and-forget. Delivery is at most once.
type EventBus interface {
	// Subscribe registers handler for topics matching pattern and returns the subscription id.
	Subscribe(pattern string, handler Handler, opts ...SubscribeOption) (string, error)
	// Unsubscribe removes a subscription. It reports false for unknown ids.
	Unsubscribe(id string) bool
	// Publish encodes payload as JSON and sends it under topic.
	Publish(ctx context.Context, topic string, payload any) error

	// Start connects to both broker frontends and launches the receive loop.
	Start(ctx context.Context) error
	// Stop ends the receive loop, waiting at most timeout, and closes both connections.
	Stop(timeout time.Duration) error
}

// Result tells the dispatcher whether to keep delivering the current message.
type Result int

const (
	// Continue lets lower-priority handlers see the message.
	Continue Result = iota
	// Consumed stops dispatch of the current message.
	Consumed
)

func (r Result) String() string {
	if r == Consumed {
		return "consumed"
	}
	return "continue"
}

type (
	// Handler is invoked with the actual topic and the decoded JSON payload.
	// A returned error is logged; dispatch continues with the next handler.
	Handler func(ctx context.Context, topic string, payload any) (Result, error)
	// Filter decides whether a matching subscription sees a message. A
	// panicking filter counts as not passing.
	Filter func(topic string, payload any) bool
)

// Publisher is the outbound side of the broker connection.
type Publisher interface {
	Send(ctx context.Context, msg protocol.Message) error
	Close() error
}

// Subscriber is the inbound side of the broker connection. Its prefix set is
// the transport-level filter.
type Subscriber interface {
	Subscribe(ctx context.Context, prefix string) error
	Unsubscribe(ctx context.Context, prefix string) error
	Recv(ctx context.Context) (protocol.Message, error)
	Close() error
}

// Connector opens both sides of a broker connection. It is called on every Start.
type Connector interface {
	ConnectPublisher(ctx context.Context) (Publisher, error)
	ConnectSubscriber(ctx context.Context) (Subscriber, error)
}

// Observer is notified about publishes and deliveries. Implementations export
// metrics and must return quickly.
type Observer interface {
	OnPublish(topic string, err error)
	OnReceive(topic string)
	OnDecodeError(err error)
	OnHandlerError(topic, kind string)
	OnDelivered(topic string, handlers int, consumed bool, elapsed time.Duration)
	OnTransportError(err error)
}

// Handler failure kinds passed to Observer.OnHandlerError.
const (
	FailureError       = "error"
	FailurePanic       = "panic"
	FailureFilterPanic = "filter_panic"
)

type nopObserver struct{}

func (nopObserver) OnPublish(string, error)                      {}
func (nopObserver) OnReceive(string)                             {}
func (nopObserver) OnDecodeError(error)                          {}
func (nopObserver) OnHandlerError(string, string)                {}
func (nopObserver) OnDelivered(string, int, bool, time.Duration) {}
func (nopObserver) OnTransportError(error)                       {}
