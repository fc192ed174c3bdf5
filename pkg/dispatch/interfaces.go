package dispatch

import (
	"context"
)

// Adapter defines the contract for a push backend (FCM, APNs, Expo, ...).
// Implementations never return transport failures: they are reported as
// failed tokens in the DeliveryResult.
type Adapter interface {
	// Name identifies the backend in the provider registry and in logs.
	Name() string
	// Send delivers msg to every token, batching as the backend allows.
	Send(ctx context.Context, tokens []string, msg Message) DeliveryResult
}

// UserStore is the narrow view of the user table this service needs.
// Token writes MUST be atomic set operations at the storage layer.
type UserStore interface {
	// GetUser returns ErrUserNotFound for unknown or deleted users.
	GetUser(ctx context.Context, userID string) (*User, error)
	// GetUsers returns the users that exist and are not deleted. Missing ids are omitted.
	GetUsers(ctx context.Context, userIDs []string) ([]User, error)
	// ListUsers returns every non-deleted user.
	ListUsers(ctx context.Context) ([]User, error)
	// ListAdmins returns every non-deleted user with the admin role.
	ListAdmins(ctx context.Context) ([]User, error)

	// Tokens returns the device tokens registered for a user.
	Tokens(ctx context.Context, userID string) ([]string, error)
	// AddToken adds token to the user's set if absent. ErrUserNotFound if the user is unknown.
	AddToken(ctx context.Context, userID, token, platform string) error
	// RemoveToken removes every exact match of token. Absent tokens are not an error.
	RemoveToken(ctx context.Context, userID, token string) error
	// SetPushEnabled toggles the user's push preference.
	SetPushEnabled(ctx context.Context, userID string, enabled bool) error
}

// NotificationStore persists in-app notification records.
type NotificationStore interface {
	// Insert writes a new record. Records are never overwritten.
	Insert(ctx context.Context, rec Record) error
	// ListForUser returns the user's records, newest first.
	ListForUser(ctx context.Context, userID string, limit int) ([]Record, error)
	// MarkRead flips IsRead for a record owned by userID. ErrRecordNotFound otherwise.
	MarkRead(ctx context.Context, userID, recordID string) error
}
