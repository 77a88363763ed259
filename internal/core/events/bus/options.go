package bus

import "time"

// Config configures a Client.
type Config struct {
	// Identity names the client in logs. Generated when empty.
	Identity string
	// StopTimeout is used by Stop when it is called with a non-positive timeout.
	StopTimeout time.Duration
	// RetryMin and RetryMax bound the receive loop's backoff after transport errors.
	RetryMin time.Duration
	RetryMax time.Duration
	// PreviewBytes caps the payload preview in debug logs.
	PreviewBytes int
}

// DefaultConfig returns the settings used for zero Config fields.
func DefaultConfig() Config {
	return Config{
		StopTimeout:  5 * time.Second,
		RetryMin:     100 * time.Millisecond,
		RetryMax:     5 * time.Second,
		PreviewBytes: 200,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.RetryMin <= 0 {
		c.RetryMin = d.RetryMin
	}
	if c.RetryMax < c.RetryMin {
		c.RetryMax = max(d.RetryMax, c.RetryMin)
	}
	if c.PreviewBytes <= 0 {
		c.PreviewBytes = d.PreviewBytes
	}
	return c
}

// Option customizes a Client at construction.
type Option func(*Client)

// WithObserver installs an observer for publish and delivery events.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// SubscribeOption customizes a single subscription.
type SubscribeOption func(*subscription)

// WithPriority sets the dispatch priority. Lower values run first; the default is 0.
func WithPriority(priority int) SubscribeOption {
	return func(s *subscription) { s.priority = priority }
}

// WithFilter adds a predicate evaluated after the pattern matches.
func WithFilter(f Filter) SubscribeOption {
	return func(s *subscription) { s.filter = f }
}
