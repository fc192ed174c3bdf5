// Package devices manages the set of push tokens registered to each user.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Registry registers and unregisters device tokens. Every mutation is a single
// atomic set operation in the backing store, so concurrent registrations for
// the same user never lose tokens.
type Registry struct {
	store  dispatch.UserStore
	logger *slog.Logger
}

func NewRegistry(store dispatch.UserStore, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger.With("component", "DeviceRegistry"),
	}
}

// Register adds token to the user's token set. Registering an already present
// token is a no-op.
func (r *Registry) Register(ctx context.Context, userID, token, platform string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return dispatch.ErrInvalidToken
	}
	if err := r.store.AddToken(ctx, userID, token, platform); err != nil {
		if errors.Is(err, dispatch.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("register token for user %s: %w", userID, err)
	}
	r.logger.Debug("Device token registered", "user", userID, "platform", platform)
	return nil
}

// Unregister removes token from the user's set. Absent tokens and unknown
// users are not errors. Tokens are trimmed the same way Register trims them.
func (r *Registry) Unregister(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := r.store.RemoveToken(ctx, userID, token); err != nil {
		if errors.Is(err, dispatch.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("unregister token for user %s: %w", userID, err)
	}
	r.logger.Debug("Device token unregistered", "user", userID)
	return nil
}

func (r *Registry) Tokens(ctx context.Context, userID string) ([]string, error) {
	return r.store.Tokens(ctx, userID)
}

func (r *Registry) SetPushEnabled(ctx context.Context, userID string, enabled bool) error {
	if err := r.store.SetPushEnabled(ctx, userID, enabled); err != nil {
		if errors.Is(err, dispatch.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("set push preference for user %s: %w", userID, err)
	}
	r.logger.Info("Push preference updated", "user", userID, "enabled", enabled)
	return nil
}
