package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-dispatch/internal/api"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// --- Mocks ---
type MockDevices struct {
	mock.Mock
}

func (m *MockDevices) Register(ctx context.Context, userID, token, platform string) error {
	args := m.Called(ctx, userID, token, platform)
	return args.Error(0)
}
func (m *MockDevices) Unregister(ctx context.Context, userID, token string) error {
	args := m.Called(ctx, userID, token)
	return args.Error(0)
}
func (m *MockDevices) SetPushEnabled(ctx context.Context, userID string, enabled bool) error {
	args := m.Called(ctx, userID, enabled)
	return args.Error(0)
}

// --- Setup ---
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTokenAPI() (*api.TokenAPI, *MockDevices) {
	devices := new(MockDevices)
	return api.NewTokenAPI(devices, newTestLogger()), devices
}

// withUser injects the user id the auth middleware would set.
func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(req.Context(), userID)
	return req.WithContext(ctx)
}

func jsonBody(v any) *bytes.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

// --- Tests ---

func TestRegisterDevice(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, devices := setupTokenAPI()
		devices.On("Register", mock.Anything, "user-123", "fcm-token-abc", "android").Return(nil)

		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices/register",
			jsonBody(map[string]string{"token": "fcm-token-abc", "platform": "android"})), "user-123")
		w := httptest.NewRecorder()

		handler.RegisterDevice(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		devices.AssertExpectations(t)
	})

	t.Run("Unauthorized", func(t *testing.T) {
		handler, devices := setupTokenAPI()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/register", jsonBody(map[string]string{"token": "x"}))
		w := httptest.NewRecorder()

		handler.RegisterDevice(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		devices.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Bad JSON", func(t *testing.T) {
		handler, _ := setupTokenAPI()
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices/register", bytes.NewBufferString("{")), "user-123")
		w := httptest.NewRecorder()

		handler.RegisterDevice(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	testCases := []struct {
		name     string
		storeErr error
		wantCode int
	}{
		{name: "Empty token", storeErr: dispatch.ErrInvalidToken, wantCode: http.StatusBadRequest},
		{name: "Unknown user", storeErr: dispatch.ErrUserNotFound, wantCode: http.StatusNotFound},
		{name: "Storage failure", storeErr: errors.New("db down"), wantCode: http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler, devices := setupTokenAPI()
			devices.On("Register", mock.Anything, "user-123", mock.Anything, mock.Anything).Return(tc.storeErr)

			req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices/register",
				jsonBody(map[string]string{"token": ""})), "user-123")
			w := httptest.NewRecorder()

			handler.RegisterDevice(w, req)

			assert.Equal(t, tc.wantCode, w.Code)
		})
	}
}

func TestUnregisterDevice(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, devices := setupTokenAPI()
		devices.On("Unregister", mock.Anything, "user-123", "old-token").Return(nil)

		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices/unregister",
			jsonBody(map[string]string{"token": "old-token"})), "user-123")
		w := httptest.NewRecorder()

		handler.UnregisterDevice(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		devices.AssertExpectations(t)
	})

	t.Run("Storage failure is 500", func(t *testing.T) {
		handler, devices := setupTokenAPI()
		devices.On("Unregister", mock.Anything, "user-123", "old-token").Return(errors.New("db down"))

		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices/unregister",
			jsonBody(map[string]string{"token": "old-token"})), "user-123")
		w := httptest.NewRecorder()

		handler.UnregisterDevice(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		devices.AssertExpectations(t)
	})
}

func TestSetPushPreference(t *testing.T) {
	t.Run("Disable", func(t *testing.T) {
		handler, devices := setupTokenAPI()
		devices.On("SetPushEnabled", mock.Anything, "user-123", false).Return(nil)

		req := withUser(httptest.NewRequest(http.MethodPut, "/api/v1/preferences/push",
			jsonBody(map[string]bool{"enabled": false})), "user-123")
		w := httptest.NewRecorder()

		handler.SetPushPreference(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		devices.AssertExpectations(t)
	})

	t.Run("Missing field", func(t *testing.T) {
		handler, _ := setupTokenAPI()
		req := withUser(httptest.NewRequest(http.MethodPut, "/api/v1/preferences/push", jsonBody(map[string]string{})), "user-123")
		w := httptest.NewRecorder()

		handler.SetPushPreference(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unknown user", func(t *testing.T) {
		handler, devices := setupTokenAPI()
		devices.On("SetPushEnabled", mock.Anything, "ghost", true).Return(dispatch.ErrUserNotFound)

		req := withUser(httptest.NewRequest(http.MethodPut, "/api/v1/preferences/push",
			jsonBody(map[string]bool{"enabled": true})), "ghost")
		w := httptest.NewRecorder()

		handler.SetPushPreference(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
