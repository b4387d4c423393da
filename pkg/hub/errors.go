package hub

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("hub: connection closed")

	// ErrSendQueueFull is returned when a connection's outbound queue is full.
	// The frame is dropped for that connection only.
	ErrSendQueueFull = errors.New("hub: send queue full")
)

// SendError wraps a per-connection delivery failure with its context.
type SendError struct {
	ConnID string
	Op     string
	Err    error
}

// Error returns the error message with connection context.
func (e *SendError) Error() string {
	return fmt.Sprintf("hub: conn %s: %s: %v", e.ConnID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SendError) Unwrap() error {
	return e.Err
}

func newSendError(connID, op string, err error) *SendError {
	return &SendError{ConnID: connID, Op: op, Err: err}
}
