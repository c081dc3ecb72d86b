package conversation

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAPIKey    = errors.New("conversation: no API key or Vertex project configured")
	ErrNotConnected     = errors.New("conversation: not connected")
	ErrAlreadyConnected = errors.New("conversation: already connected")
	ErrConnectionClosed = errors.New("conversation: connection closed")
	ErrTimeout          = errors.New("conversation: timed out")

	// ErrSetupRejected means the first server reply was not setupComplete.
	ErrSetupRejected = errors.New("conversation: setup rejected")
)

// ConnectionError wraps a failure to open or use the live connection.
// Retryable is set when a fresh Connect might succeed.
type ConnectionError struct {
	Reason    string
	Cause     error
	Retryable bool
}

func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{Reason: reason, Cause: cause, Retryable: retryable}
}

func (e *ConnectionError) Error() string {
	if e.Cause == nil {
		return "conversation: " + e.Reason
	}
	return fmt.Sprintf("conversation: %s: %v", e.Reason, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

func (e *ConnectionError) IsRetryable() bool { return e.Retryable }

// DecodeError reports an inbound payload that was dropped. Field names
// the payload, e.g. "inlineData".
type DecodeError struct {
	Field string
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("conversation: decode %s: %v", e.Field, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// IsNotConnected matches ErrNotConnected and ErrConnectionClosed.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrConnectionClosed)
}

// IsRetryable reports whether err is a retryable ConnectionError or a timeout.
func IsRetryable(err error) bool {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return errors.Is(err, ErrTimeout)
}
