package bus

import (
	"errors"

	"github.com/zeusync/pocketbus/internal/core/events/codec"
)

var (
	ErrNotRunning  = errors.New("event bus client is not running")
	ErrNilHandler  = errors.New("handler is nil")
	ErrConnect     = errors.New("connect to broker")
	ErrStopTimeout = errors.New("receive loop did not stop in time")
	// ErrLoopRunning is returned by Start while a receive loop abandoned by a
	// timed out Stop is still inside a handler.
	ErrLoopRunning = errors.New("previous receive loop is still running")

	// ErrEncode is returned by Publish for payloads that cannot be encoded.
	ErrEncode = codec.ErrEncode

	// ErrHandlerPanic wraps the value recovered from a panicking handler.
	ErrHandlerPanic = errors.New("handler panicked")
)
