package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

const usersCollection = "users"

// UserStore implements dispatch.UserStore on a users/{userID} collection.
// Device tokens live in an array field mutated with ArrayUnion/ArrayRemove,
// which Firestore applies atomically on the server.
type UserStore struct {
	client *firestore.Client
}

func NewUserStore(client *firestore.Client) *UserStore {
	return &UserStore{client: client}
}

// userDoc is the internal DB representation.
type userDoc struct {
	PushEnabled  bool      `firestore:"push_enabled"`
	DeviceTokens []string  `firestore:"device_tokens"`
	Role         string    `firestore:"role,omitempty"`
	IsDeleted    bool      `firestore:"is_deleted"`
	UpdatedAt    time.Time `firestore:"updated_at,omitempty"`
}

func (d userDoc) toUser(id string) dispatch.User {
	return dispatch.User{
		ID:          id,
		PushEnabled: d.PushEnabled,
		Tokens:      d.DeviceTokens,
		Role:        d.Role,
		IsDeleted:   d.IsDeleted,
	}
}

// PutUser writes a full user document. Used for seeding and tests.
func (s *UserStore) PutUser(ctx context.Context, u dispatch.User) error {
	doc := userDoc{
		PushEnabled:  u.PushEnabled,
		DeviceTokens: u.Tokens,
		Role:         u.Role,
		IsDeleted:    u.IsDeleted,
		UpdatedAt:    time.Now().UTC(),
	}
	if doc.DeviceTokens == nil {
		doc.DeviceTokens = []string{}
	}
	_, err := s.users().Doc(u.ID).Set(ctx, doc)
	return err
}

func (s *UserStore) GetUser(ctx context.Context, userID string) (*dispatch.User, error) {
	snap, err := s.users().Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, dispatch.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", userID, err)
	}
	if doc.IsDeleted {
		return nil, dispatch.ErrUserNotFound
	}
	u := doc.toUser(userID)
	return &u, nil
}

func (s *UserStore) GetUsers(ctx context.Context, userIDs []string) ([]dispatch.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	refs := make([]*firestore.DocumentRef, len(userIDs))
	for i, id := range userIDs {
		refs[i] = s.users().Doc(id)
	}
	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("get %d users: %w", len(userIDs), err)
	}
	out := make([]dispatch.User, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc userDoc
		if err := snap.DataTo(&doc); err != nil || doc.IsDeleted {
			continue
		}
		out = append(out, doc.toUser(snap.Ref.ID))
	}
	return out, nil
}

func (s *UserStore) ListUsers(ctx context.Context) ([]dispatch.User, error) {
	return s.collect(s.users().Documents(ctx))
}

func (s *UserStore) ListAdmins(ctx context.Context) ([]dispatch.User, error) {
	return s.collect(s.users().Where("role", "==", dispatch.RoleAdmin).Documents(ctx))
}

func (s *UserStore) Tokens(ctx context.Context, userID string) ([]string, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Tokens, nil
}

// AddToken checks the user inside a transaction and applies ArrayUnion, so
// the add is a set operation and never overwrites concurrent registrations.
func (s *UserStore) AddToken(ctx context.Context, userID, token, _ string) error {
	ref := s.users().Doc(userID)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return dispatch.ErrUserNotFound
			}
			return err
		}
		if deleted, _ := snap.DataAt("is_deleted"); deleted == true {
			return dispatch.ErrUserNotFound
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "device_tokens", Value: firestore.ArrayUnion(token)},
			{Path: "updated_at", Value: firestore.ServerTimestamp},
		})
	})
}

func (s *UserStore) RemoveToken(ctx context.Context, userID, token string) error {
	_, err := s.users().Doc(userID).Update(ctx, []firestore.Update{
		{Path: "device_tokens", Value: firestore.ArrayRemove(token)},
		{Path: "updated_at", Value: firestore.ServerTimestamp},
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (s *UserStore) SetPushEnabled(ctx context.Context, userID string, enabled bool) error {
	_, err := s.users().Doc(userID).Update(ctx, []firestore.Update{
		{Path: "push_enabled", Value: enabled},
		{Path: "updated_at", Value: firestore.ServerTimestamp},
	})
	if status.Code(err) == codes.NotFound {
		return dispatch.ErrUserNotFound
	}
	return err
}

// --- Helpers ---

func (s *UserStore) users() *firestore.CollectionRef {
	return s.client.Collection(usersCollection)
}

func (s *UserStore) collect(iter *firestore.DocumentIterator) ([]dispatch.User, error) {
	defer iter.Stop()
	var out []dispatch.User
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var doc userDoc
		if err := snap.DataTo(&doc); err != nil {
			// Usually safe to skip corrupt rows.
			continue
		}
		if doc.IsDeleted {
			continue
		}
		out = append(out, doc.toUser(snap.Ref.ID))
	}
	return out, nil
}
