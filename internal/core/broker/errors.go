package broker

import "errors"

var (
	ErrAlreadyStarted  = errors.New("broker already started")
	ErrForwarderExited = errors.New("forwarding loop exited unexpectedly")
	ErrShutdownTimeout = errors.New("broker did not stop within the grace period")
)
