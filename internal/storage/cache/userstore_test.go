package cache_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/cache"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/memory"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest any) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

// mapCache is an in-memory Client that round-trips values through JSON
// like RedisClient does.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, key string, dest any) error {
	c.mu.Lock()
	b, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(b, dest)
}

func (c *mapCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = b
	c.mu.Unlock()
	return nil
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) GetUser(ctx context.Context, userID string) (*dispatch.User, error) {
	args := m.Called(ctx, userID)
	u, _ := args.Get(0).(*dispatch.User)
	return u, args.Error(1)
}
func (m *MockRealStore) GetUsers(ctx context.Context, userIDs []string) ([]dispatch.User, error) {
	args := m.Called(ctx, userIDs)
	return args.Get(0).([]dispatch.User), args.Error(1)
}
func (m *MockRealStore) ListUsers(ctx context.Context) ([]dispatch.User, error) {
	args := m.Called(ctx)
	return args.Get(0).([]dispatch.User), args.Error(1)
}
func (m *MockRealStore) ListAdmins(ctx context.Context) ([]dispatch.User, error) {
	args := m.Called(ctx)
	return args.Get(0).([]dispatch.User), args.Error(1)
}
func (m *MockRealStore) Tokens(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	t, _ := args.Get(0).([]string)
	return t, args.Error(1)
}
func (m *MockRealStore) AddToken(ctx context.Context, userID, token, platform string) error {
	return m.Called(ctx, userID, token, platform).Error(0)
}
func (m *MockRealStore) RemoveToken(ctx context.Context, userID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}
func (m *MockRealStore) SetPushEnabled(ctx context.Context, userID string, enabled bool) error {
	return m.Called(ctx, userID, enabled).Error(0)
}

// genMiss makes userID look like it has never been written.
func genMiss(m *MockCache, userID string) {
	m.On("Get", mock.Anything, "push:gen:"+userID, mock.Anything).Return(cache.ErrMiss)
}

func TestCachedStore_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)

	store := cache.NewCachedUserStore(mockDB, mockCache, time.Hour, newTestLogger())
	bump := func() {
		mockCache.On("Set", ctx, "push:gen:annoyed-user", mock.AnythingOfType("string"), time.Duration(0)).
			Return(nil).Once()
	}

	t.Run("RemoveToken invalidates cache immediately", func(t *testing.T) {
		mockDB.On("RemoveToken", ctx, "annoyed-user", "old-token").Return(nil)
		bump()

		err := store.RemoveToken(ctx, "annoyed-user", "old-token")

		require.NoError(t, err)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("SetPushEnabled invalidates", func(t *testing.T) {
		mockDB.On("SetPushEnabled", ctx, "annoyed-user", false).Return(nil)
		bump()

		require.NoError(t, store.SetPushEnabled(ctx, "annoyed-user", false))
		mockCache.AssertExpectations(t)
	})

	t.Run("AddToken invalidates", func(t *testing.T) {
		mockDB.On("AddToken", ctx, "annoyed-user", "new", "ios").Return(nil)
		bump()

		require.NoError(t, store.AddToken(ctx, "annoyed-user", "new", "ios"))
		mockCache.AssertExpectations(t)
	})

	t.Run("Invalidation failure is reported", func(t *testing.T) {
		mockDB.On("RemoveToken", ctx, "annoyed-user", "t2").Return(nil)
		mockCache.On("Set", ctx, "push:gen:annoyed-user", mock.AnythingOfType("string"), time.Duration(0)).
			Return(assert.AnError).Once()

		err := store.RemoveToken(ctx, "annoyed-user", "t2")
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestCachedStore_WriteFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)
	store := cache.NewCachedUserStore(mockDB, mockCache, time.Minute, newTestLogger())

	mockDB.On("AddToken", ctx, "u", "t", "").Return(dispatch.ErrUserNotFound)

	err := store.AddToken(ctx, "u", "t", "")
	assert.ErrorIs(t, err, dispatch.ErrUserNotFound)
	mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCachedStore_ReadPaths(t *testing.T) {
	ctx := context.Background()

	t.Run("Tokens cache hit skips DB", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedUserStore(mockDB, mockCache, time.Minute, newTestLogger())

		mockCache.On("Get", ctx, "push:gen:u", mock.Anything).
			Run(func(args mock.Arguments) {
				*(args.Get(2).(*string)) = "g7"
			}).Return(nil)
		mockCache.On("Get", ctx, "push:tokens:u:g7", mock.Anything).
			Run(func(args mock.Arguments) {
				*(args.Get(2).(*[]string)) = []string{"a", "b"}
			}).Return(nil)

		tokens, err := store.Tokens(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, tokens)
		mockDB.AssertNotCalled(t, "Tokens", mock.Anything, mock.Anything)
	})

	t.Run("Tokens miss fills an empty set", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedUserStore(mockDB, mockCache, time.Hour, newTestLogger())

		genMiss(mockCache, "u")
		mockCache.On("Get", ctx, "push:tokens:u:0", mock.Anything).Return(cache.ErrMiss).Once()
		mockDB.On("Tokens", ctx, "u").Return(nil, nil).Once()
		mockCache.On("Set", ctx, "push:tokens:u:0", []string{}, time.Hour).Return(nil).Once()

		tokens, err := store.Tokens(ctx, "u")

		require.NoError(t, err)
		assert.Empty(t, tokens)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("GetUser fills on miss", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedUserStore(mockDB, mockCache, time.Minute, newTestLogger())
		user := &dispatch.User{ID: "u", PushEnabled: true, Tokens: []string{"a"}}

		genMiss(mockCache, "u")
		mockCache.On("Get", ctx, "push:user:u:0", mock.Anything).Return(cache.ErrMiss)
		mockDB.On("GetUser", ctx, "u").Return(user, nil)
		mockCache.On("Set", ctx, "push:user:u:0", user, time.Minute).Return(nil)

		got, err := store.GetUser(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, user, got)
		mockCache.AssertExpectations(t)
	})

	t.Run("Redis down falls back to DB", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedUserStore(mockDB, mockCache, time.Minute, newTestLogger())

		mockCache.On("Get", ctx, "push:gen:u", mock.Anything).Return(assert.AnError)
		mockDB.On("GetUser", ctx, "u").Return(nil, dispatch.ErrUserNotFound)

		_, err := store.GetUser(ctx, "u")
		assert.ErrorIs(t, err, dispatch.ErrUserNotFound)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Listings pass through", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedUserStore(mockDB, mockCache, time.Minute, newTestLogger())

		mockDB.On("ListAdmins", ctx).Return([]dispatch.User{{ID: "a"}}, nil)
		admins, err := store.ListAdmins(ctx)
		require.NoError(t, err)
		assert.Len(t, admins, 1)
		mockCache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCachedStore_FillRacingRemoval(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewUserStore(dispatch.User{ID: "u", PushEnabled: true, Tokens: []string{"a", "b"}})
	shared := newMapCache()
	store := cache.NewCachedUserStore(backing, shared, time.Hour, newTestLogger())

	// The reader loads the token set, then RemoveToken lands before the
	// reader writes its fill.
	racing := &interleavedStore{UserStore: backing}
	racing.afterTokens = func() {
		require.NoError(t, store.RemoveToken(ctx, "u", "a"))
	}
	reader := cache.NewCachedUserStore(racing, shared, time.Hour, newTestLogger())

	stale, err := reader.Tokens(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stale)

	tokens, err := store.Tokens(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, tokens)
}

// interleavedStore runs afterTokens once, between the store read and the
// cache fill of the first Tokens call.
type interleavedStore struct {
	dispatch.UserStore
	afterTokens func()
}

func (s *interleavedStore) Tokens(ctx context.Context, userID string) ([]string, error) {
	tokens, err := s.UserStore.Tokens(ctx, userID)
	if s.afterTokens != nil {
		s.afterTokens()
		s.afterTokens = nil
	}
	return tokens, err
}
