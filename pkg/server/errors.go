package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for server conditions.
var (
	// ErrNoLockManager is returned by lock-dependent routes when the server
	// was built without a lock manager.
	ErrNoLockManager = errors.New("server: no lock manager")

	// ErrNoStore is returned by paragraph routes when the server was built
	// without a document store.
	ErrNoStore = errors.New("server: no document store")

	// ErrNotLockOwner is returned when a paragraph write comes from a user
	// that does not hold the paragraph lock.
	ErrNotLockOwner = errors.New("server: paragraph not locked by user")

	// ErrMissingUser is returned when a request does not name a user.
	ErrMissingUser = errors.New("server: user ID is required")

	// ErrServerClosed is returned when a shut-down server is asked to serve.
	ErrServerClosed = errors.New("server: closed")
)

// ChannelError wraps an error with channel context for debugging.
type ChannelError struct {
	Channel string
	Op      string // Operation that failed
	Err     error  // Underlying error
}

// Error returns the error message with channel context.
func (e *ChannelError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: channel %s: %s: %v", e.Channel, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ChannelError) Unwrap() error {
	return e.Err
}

// NewChannelError creates a new ChannelError.
func NewChannelError(channel, op string, err error) *ChannelError {
	return &ChannelError{
		Channel: channel,
		Op:      op,
		Err:     err,
	}
}
