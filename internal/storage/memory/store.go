// Package memory provides process-local user and notification stores for
// local development and tests. Token mutations happen under the store lock,
// which gives the same add-if-absent guarantee as the persistent stores.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

type UserStore struct {
	mu    sync.RWMutex
	users map[string]*dispatch.User
	order []string
}

func NewUserStore(users ...dispatch.User) *UserStore {
	s := &UserStore{users: make(map[string]*dispatch.User)}
	for _, u := range users {
		s.Put(u)
	}
	return s
}

// Put inserts or replaces a user.
func (s *UserStore) Put(u dispatch.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		s.order = append(s.order, u.ID)
	}
	u.Tokens = slices.Clone(u.Tokens)
	s.users[u.ID] = &u
}

func (s *UserStore) GetUser(_ context.Context, userID string) (*dispatch.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.live(userID)
	if !ok {
		return nil, dispatch.ErrUserNotFound
	}
	c := clone(u)
	return &c, nil
}

func (s *UserStore) GetUsers(_ context.Context, userIDs []string) ([]dispatch.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dispatch.User, 0, len(userIDs))
	for _, id := range userIDs {
		if u, ok := s.live(id); ok {
			out = append(out, clone(u))
		}
	}
	return out, nil
}

func (s *UserStore) ListUsers(_ context.Context) ([]dispatch.User, error) {
	return s.filter(func(*dispatch.User) bool { return true }), nil
}

func (s *UserStore) ListAdmins(_ context.Context) ([]dispatch.User, error) {
	return s.filter(func(u *dispatch.User) bool { return u.Role == dispatch.RoleAdmin }), nil
}

func (s *UserStore) Tokens(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.live(userID)
	if !ok {
		return nil, dispatch.ErrUserNotFound
	}
	return slices.Clone(u.Tokens), nil
}

func (s *UserStore) AddToken(_ context.Context, userID, token, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.live(userID)
	if !ok {
		return dispatch.ErrUserNotFound
	}
	if !slices.Contains(u.Tokens, token) {
		u.Tokens = append(u.Tokens, token)
	}
	return nil
}

func (s *UserStore) RemoveToken(_ context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.Tokens = slices.DeleteFunc(u.Tokens, func(t string) bool { return t == token })
	}
	return nil
}

func (s *UserStore) SetPushEnabled(_ context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.live(userID)
	if !ok {
		return dispatch.ErrUserNotFound
	}
	u.PushEnabled = enabled
	return nil
}

// live must be called with the lock held.
func (s *UserStore) live(userID string) (*dispatch.User, bool) {
	u, ok := s.users[userID]
	if !ok || u.IsDeleted {
		return nil, false
	}
	return u, true
}

func (s *UserStore) filter(keep func(*dispatch.User) bool) []dispatch.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []dispatch.User
	for _, id := range s.order {
		u := s.users[id]
		if u.IsDeleted || !keep(u) {
			continue
		}
		out = append(out, clone(u))
	}
	return out
}

func clone(u *dispatch.User) dispatch.User {
	c := *u
	c.Tokens = slices.Clone(u.Tokens)
	return c
}

// NotificationStore keeps records in insertion order.
type NotificationStore struct {
	mu      sync.RWMutex
	records []dispatch.Record
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{}
}

func (s *NotificationStore) Insert(_ context.Context, rec dispatch.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Metadata = cloneMap(rec.Metadata)
	s.records = append(s.records, rec)
	return nil
}

func (s *NotificationStore) ListForUser(_ context.Context, userID string, limit int) ([]dispatch.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []dispatch.Record
	for _, r := range s.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *NotificationStore) MarkRead(_ context.Context, userID, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == recordID && s.records[i].UserID == userID {
			s.records[i].IsRead = true
			return nil
		}
	}
	return dispatch.ErrRecordNotFound
}

// All returns a snapshot of every record.
func (s *NotificationStore) All() []dispatch.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
