package rpc

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotStarted is returned by operations on a stopped server or client
	ErrNotStarted = errors.New("rpc: not started")
	// ErrDisconnected reports that heartbeats stopped arriving
	ErrDisconnected = errors.New("rpc: server disconnected (heartbeat timeout)")
)

// RemoteError is a failure reported by the server for one call
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}

// TimeoutError is returned when no reply arrived within the deadline.
// The procedure may or may not have run.
type TimeoutError struct {
	Timeout time.Duration
	Request Request
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout of %dms reached for request: %s", e.Timeout.Milliseconds(), e.Request.Method)
}

// TransportError wraps an I/O failure on a socket
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SerializationError wraps a frame that could not be encoded or decoded
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("rpc serialization: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
