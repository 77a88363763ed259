package protocol

import "time"

// Config holds settings shared by every transport implementation.
type Config struct {
	// MaxMessageSize bounds one encoded message; zero means DefaultMaxMessageSize.
	MaxMessageSize int
	// DialTimeout bounds connection establishment when the caller's context has no deadline.
	DialTimeout time.Duration
	// WriteTimeout bounds a single Send; zero disables it.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the per-connection handshake on the accepting side.
	HandshakeTimeout time.Duration
	// AcceptBacklog is the number of handshaken connections waiting for Accept.
	AcceptBacklog int
}

// DefaultConfig returns sane defaults for local and LAN deployments.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:   DefaultMaxMessageSize,
		DialTimeout:      5 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		AcceptBacklog:    64,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	} else if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.AcceptBacklog <= 0 {
		c.AcceptBacklog = d.AcceptBacklog
	}
	return c
}
