package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Client defines the subset of Redis commands we need.
type Client interface {
	// Get returns ErrMiss if the key does not exist.
	Get(ctx context.Context, key string, dest any) error
	// Set stores value; a zero ttl means no expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CachedUserStore is a read-aside decorator over any dispatch.UserStore.
// GetUser and Tokens are cached per user under keys tagged with the user's
// current generation. Every token or preference write goes to the real store
// first and then bumps the generation, so a fill that raced the write lands
// on a key no reader looks up again. Bulk listings are not cached.
type CachedUserStore struct {
	dispatch.UserStore
	cache  Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedUserStore(real dispatch.UserStore, cache Client, ttl time.Duration, logger *slog.Logger) *CachedUserStore {
	return &CachedUserStore{
		UserStore: real,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "UserCache"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedUserStore) GetUser(ctx context.Context, userID string) (*dispatch.User, error) {
	gen, ok := s.generation(ctx, userID)
	if !ok {
		return s.UserStore.GetUser(ctx, userID)
	}
	key := userKey(userID, gen)
	var cached dispatch.User
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, ErrMiss) {
		s.logger.Warn("Cache read failed, using store", "key", key, "err", err)
	}

	u, err := s.UserStore.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, key, u)
	return u, nil
}

func (s *CachedUserStore) Tokens(ctx context.Context, userID string) ([]string, error) {
	gen, ok := s.generation(ctx, userID)
	if !ok {
		return s.UserStore.Tokens(ctx, userID)
	}
	key := tokensKey(userID, gen)
	var cached []string
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, ErrMiss) {
		s.logger.Warn("Cache read failed, using store", "key", key, "err", err)
	}

	tokens, err := s.UserStore.Tokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		tokens = []string{}
	}
	s.fill(ctx, key, tokens)
	return tokens, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedUserStore) AddToken(ctx context.Context, userID, token, platform string) error {
	if err := s.UserStore.AddToken(ctx, userID, token, platform); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

// RemoveToken must invalidate even though the write already landed,
// otherwise the removed device keeps receiving pushes until the TTL expires.
func (s *CachedUserStore) RemoveToken(ctx context.Context, userID, token string) error {
	if err := s.UserStore.RemoveToken(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedUserStore) SetPushEnabled(ctx context.Context, userID string, enabled bool) error {
	if err := s.UserStore.SetPushEnabled(ctx, userID, enabled); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

// --- Helpers ---

// generation returns the user's current cache generation. It must be read
// before the store is. ok is false when the cache is unreachable, in which
// case the caller skips the cache entirely.
func (s *CachedUserStore) generation(ctx context.Context, userID string) (string, bool) {
	key := genKey(userID)
	var gen string
	err := s.cache.Get(ctx, key, &gen)
	switch {
	case err == nil:
		return gen, true
	case errors.Is(err, ErrMiss):
		return "0", true
	default:
		s.logger.Warn("Cache read failed, using store", "key", key, "err", err)
		return "", false
	}
}

// fill populates the cache. Failures are ignored; Redis being down only
// means reads go to the store.
func (s *CachedUserStore) fill(ctx context.Context, key string, value any) {
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Debug("Cache fill failed", "key", key, "err", err)
	}
}

// invalidate moves the user to a fresh generation. The generation key never
// expires; entries of old generations age out with the regular TTL.
func (s *CachedUserStore) invalidate(ctx context.Context, userID string) error {
	if err := s.cache.Set(ctx, genKey(userID), uuid.NewString(), 0); err != nil {
		return fmt.Errorf("invalidate cache for user %s: %w", userID, err)
	}
	return nil
}

func genKey(userID string) string {
	return fmt.Sprintf("push:gen:%s", userID)
}

func userKey(userID, gen string) string {
	return fmt.Sprintf("push:user:%s:%s", userID, gen)
}

func tokensKey(userID, gen string) string {
	return fmt.Sprintf("push:tokens:%s:%s", userID, gen)
}
