package notifications

import (
	"errors"
	"fmt"
)

// Queue errors.
var (
	ErrQueueUnavailable = errors.New("notification queue unavailable")
)

// Producer errors.
var (
	ErrInvalidNotification = errors.New("invalid notification")
	ErrNoSender            = errors.New("no sender for channel")
	ErrBroadcastDisabled   = errors.New("broadcast is not configured")
)

// QueueUnavailableError reports a failure of the queue backing store.
// It matches both ErrQueueUnavailable and the underlying cause.
type QueueUnavailableError struct {
	Op  string
	Err error
}

// NewQueueUnavailableError wraps a backing store failure for operation op.
func NewQueueUnavailableError(op string, err error) *QueueUnavailableError {
	return &QueueUnavailableError{Op: op, Err: err}
}

func (e *QueueUnavailableError) Error() string {
	return fmt.Sprintf("queue %s: %v", e.Op, e.Err)
}

// Unwrap returns the sentinel and the cause.
func (e *QueueUnavailableError) Unwrap() []error {
	return []error{ErrQueueUnavailable, e.Err}
}
