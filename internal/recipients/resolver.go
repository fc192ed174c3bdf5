// Package recipients expands a dispatch target into concrete users.
package recipients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Recipients splits the targeted users into everyone (who gets an in-app
// record) and the push-eligible subset. Eligible is always a subset of All.
type Recipients struct {
	All      []dispatch.User
	Eligible []dispatch.User
}

// IDs returns the ids of All in order.
func (r Recipients) IDs() []string {
	ids := make([]string, len(r.All))
	for i, u := range r.All {
		ids[i] = u.ID
	}
	return ids
}

type Resolver struct {
	store  dispatch.UserStore
	logger *slog.Logger
}

func NewResolver(store dispatch.UserStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With("component", "RecipientResolver"),
	}
}

// Resolve dispatches on the target variant.
func (r *Resolver) Resolve(ctx context.Context, target dispatch.Target) (Recipients, error) {
	if err := target.Validate(); err != nil {
		return Recipients{}, err
	}
	switch target.Kind {
	case dispatch.TargetUser:
		return r.ResolveUser(ctx, target.UserIDs[0])
	case dispatch.TargetUsers:
		return r.ResolveUsers(ctx, target.UserIDs)
	case dispatch.TargetAll:
		return r.ResolveAll(ctx)
	default:
		return r.ResolveAdmins(ctx)
	}
}

// ResolveUser returns dispatch.ErrUserNotFound for unknown or deleted users.
func (r *Resolver) ResolveUser(ctx context.Context, userID string) (Recipients, error) {
	u, err := r.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, dispatch.ErrUserNotFound) {
			return Recipients{}, fmt.Errorf("%w: %s", dispatch.ErrUserNotFound, userID)
		}
		return Recipients{}, fmt.Errorf("resolve user %s: %w", userID, err)
	}
	return split([]dispatch.User{*u}), nil
}

// ResolveUsers deduplicates ids preserving first-seen order. Unknown ids are
// dropped since they cannot own a record.
func (r *Resolver) ResolveUsers(ctx context.Context, userIDs []string) (Recipients, error) {
	ids := dedupe(userIDs)
	if len(ids) == 0 {
		return Recipients{}, nil
	}
	found, err := r.store.GetUsers(ctx, ids)
	if err != nil {
		return Recipients{}, fmt.Errorf("resolve %d users: %w", len(ids), err)
	}

	byID := make(map[string]dispatch.User, len(found))
	for _, u := range found {
		if !u.IsDeleted {
			byID[u.ID] = u
		}
	}
	users := make([]dispatch.User, 0, len(byID))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			r.logger.Warn("Dropping unknown recipient", "user", id)
			continue
		}
		users = append(users, u)
	}
	return split(users), nil
}

func (r *Resolver) ResolveAll(ctx context.Context) (Recipients, error) {
	users, err := r.store.ListUsers(ctx)
	if err != nil {
		return Recipients{}, fmt.Errorf("list users: %w", err)
	}
	return split(live(users)), nil
}

func (r *Resolver) ResolveAdmins(ctx context.Context) (Recipients, error) {
	users, err := r.store.ListAdmins(ctx)
	if err != nil {
		return Recipients{}, fmt.Errorf("list admins: %w", err)
	}
	admins := users[:0:0]
	for _, u := range live(users) {
		if u.Role == dispatch.RoleAdmin {
			admins = append(admins, u)
		}
	}
	return split(admins), nil
}

func split(users []dispatch.User) Recipients {
	out := Recipients{All: users}
	for _, u := range users {
		if u.Eligible() {
			out.Eligible = append(out.Eligible, u)
		}
	}
	return out
}

func live(users []dispatch.User) []dispatch.User {
	out := make([]dispatch.User, 0, len(users))
	for _, u := range users {
		if !u.IsDeleted {
			out = append(out, u)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
