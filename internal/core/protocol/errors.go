package protocol

import "errors"

var (
	// Connection errors

	ErrConnectionClosed = errors.New("connection is closed")
	ErrSocketClosed     = errors.New("socket is closed")
	ErrListenerClosed   = errors.New("listener is closed")

	// Framing errors

	ErrInvalidFrame    = errors.New("invalid frame")
	ErrFrameTooLarge   = errors.New("frame too large")
	ErrTooManyFrames   = errors.New("too many frames")
	ErrInvalidControl  = errors.New("invalid control message")
	ErrHandshakeFailed = errors.New("handshake failed")

	// Addressing errors

	ErrInvalidAddress        = errors.New("invalid address")
	ErrTransportNotSupported = errors.New("transport not supported")
	ErrAlreadyRegistered     = errors.New("transport already registered")
)
