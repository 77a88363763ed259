package bus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/zeusync/pocketbus/internal/core/events/codec"
	"github.com/zeusync/pocketbus/internal/core/observability/log"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

func (c *Client) receiveLoop(ctx context.Context, sub Subscriber, done chan<- struct{}) {
	defer close(done)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = c.config.RetryMin
	retry.MaxInterval = c.config.RetryMax

	for {
		msg, err := sub.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := retry.NextBackOff()
			c.observer.OnTransportError(err)
			c.logger.Warn("Receive failed, retrying", log.Error(err), log.Duration("retry_in", wait))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		retry.Reset()
		c.dispatch(ctx, msg)
	}
}

// dispatch delivers one inbound message to every matching subscription,
// sequentially by ascending priority, until a handler consumes it.
func (c *Client) dispatch(ctx context.Context, msg protocol.Message) {
	topic, payload, err := codec.Decode(msg)
	if err != nil {
		c.observer.OnDecodeError(err)
		c.logger.Warn("Dropping undecodable message", log.Error(err), log.Int("frames", len(msg)))
		return
	}
	c.observer.OnReceive(topic)
	c.logger.Debug("Received message",
		log.String("topic", topic),
		log.Uint64("digest", codec.Digest(msg[1])),
		log.String("payload", codec.Preview(msg[1], c.config.PreviewBytes)))

	candidates := c.candidates(topic, payload)
	if len(candidates) == 0 {
		return
	}

	start := time.Now()
	invoked, consumed := 0, false
	for _, s := range candidates {
		if ctx.Err() != nil {
			c.logger.Debug("Dispatch cancelled",
				log.String("topic", topic),
				log.Int("skipped", len(candidates)-invoked))
			break
		}
		invoked++
		result, err := c.invoke(ctx, s, topic, payload)
		if err != nil {
			kind := FailureError
			if isPanic(err) {
				kind = FailurePanic
			}
			c.observer.OnHandlerError(topic, kind)
			c.logger.Error("Handler failed",
				log.String("topic", topic),
				log.String("subscription_id", s.id),
				log.String("pattern", s.pattern.String()),
				log.String("kind", kind),
				log.Error(err))
			continue
		}
		if result == Consumed {
			consumed = true
			c.logger.Debug("Message consumed",
				log.String("topic", topic),
				log.String("subscription_id", s.id),
				log.Int("skipped", len(candidates)-invoked))
			break
		}
	}
	c.observer.OnDelivered(topic, invoked, consumed, time.Since(start))
}

// candidates returns the subscriptions whose pattern and filter accept the
// message, stably sorted by priority. Filters run outside the client lock so
// they may call back into the client.
func (c *Client) candidates(topic string, payload any) []*subscription {
	c.mu.Lock()
	subs := c.registry.snapshot()
	c.mu.Unlock()

	out := subs[:0]
	for _, s := range subs {
		if s.pattern.Match(topic) && c.passes(s, topic, payload) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].priority < out[j].priority })
	return out
}

func (c *Client) passes(s *subscription, topic string, payload any) (ok bool) {
	if s.filter == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
			c.observer.OnHandlerError(topic, FailureFilterPanic)
			c.logger.Error("Filter panicked",
				log.String("topic", topic),
				log.String("subscription_id", s.id),
				log.Any("panic", r))
		}
	}()
	return s.filter(topic, payload)
}

func (c *Client) invoke(ctx context.Context, s *subscription, topic string, payload any) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = Continue
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return s.handler(ctx, topic, payload)
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("%v: %v\n%s", ErrHandlerPanic, e.value, e.stack)
}

func (e *panicError) Unwrap() error { return ErrHandlerPanic }

func isPanic(err error) bool {
	_, ok := err.(*panicError)
	return ok
}
