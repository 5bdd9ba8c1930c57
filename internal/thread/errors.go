package thread

import (
	"errors"
	"fmt"
)

// Sentinel errors for lifecycle conflicts.
var (
	// ErrAlreadyOpen means the user already has an open thread.
	ErrAlreadyOpen = errors.New("thread: user already has an open thread")
	// ErrConflict means a state transition would violate the single-open-
	// thread invariant, e.g. unsuspending while another open thread exists.
	ErrConflict = errors.New("thread: conflicting open thread")
	// ErrSuspended means the operation is gated while the thread is suspended.
	ErrSuspended = errors.New("thread: thread is suspended")
	// ErrNotAuthor means the requester did not author the targeted reply.
	ErrNotAuthor = errors.New("thread: not the reply author")
)

// ValidationError rejects an operation before anything is sent or persisted.
// The message is safe to show to staff.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "thread: " + e.Message
}

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// DeliveryError wraps a chat send failure with the direction it happened in.
type DeliveryError struct {
	Direction string // "dm" or "inbox"
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("thread: %s delivery failed: %v", e.Direction, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
