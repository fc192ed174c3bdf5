package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned when a single named recipient cannot be resolved.
	ErrUserNotFound = errors.New("user not found")
	// ErrRecordNotFound is returned when a notification record does not exist for its owner.
	ErrRecordNotFound = errors.New("notification record not found")
	// ErrProviderUnavailable means the selected push backend has no credentials.
	ErrProviderUnavailable = errors.New("push provider unavailable")
	// ErrInvalidToken rejects empty device tokens.
	ErrInvalidToken = errors.New("invalid device token")
	// ErrInvalidTarget rejects malformed recipient targets.
	ErrInvalidTarget = errors.New("invalid dispatch target")
	// ErrInvalidNotification rejects notifications that fail validation.
	ErrInvalidNotification = errors.New("invalid notification")
)

// TransportError wraps a network or HTTP failure talking to a provider.
// It is logged and counted, never returned to dispatch callers.
type TransportError struct {
	Provider string
	Tokens   int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport failed for %d tokens: %v", e.Provider, e.Tokens, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PartialDeliveryError describes a batch where the provider rejected some tokens.
type PartialDeliveryError struct {
	Provider string
	Failed   []string
}

func (e *PartialDeliveryError) Error() string {
	return fmt.Sprintf("%s rejected %d tokens", e.Provider, len(e.Failed))
}

// RecordWriteError is a single user's failed notification-record insert.
type RecordWriteError struct {
	UserID string
	Err    error
}

func (e *RecordWriteError) Error() string {
	return fmt.Sprintf("notification record for user %s: %v", e.UserID, e.Err)
}

func (e *RecordWriteError) Unwrap() error { return e.Err }
