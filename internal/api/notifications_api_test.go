package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch/internal/api"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/memory"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

func seededNotifications(t *testing.T, n int) *memory.NotificationStore {
	t.Helper()
	store := memory.NewNotificationStore()
	base := time.Now().UTC()
	for i := 0; i < n; i++ {
		require.NoError(t, store.Insert(t.Context(), dispatch.Record{
			ID:        string(rune('a' + i)),
			UserID:    "user-123",
			Title:     "t",
			Category:  dispatch.CategoryAnnouncement,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	return store
}

func TestNotificationsAPI_List(t *testing.T) {
	store := seededNotifications(t, 3)
	handler := api.NewNotificationsAPI(store, newTestLogger())

	t.Run("Newest first with limit", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=2", nil), "user-123")
		w := httptest.NewRecorder()

		handler.List(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var body api.ListNotificationsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Notifications, 2)
		assert.Equal(t, "c", body.Notifications[0].ID)
		assert.Equal(t, "b", body.Notifications[1].ID)
	})

	t.Run("Other users see nothing", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil), "someone-else")
		w := httptest.NewRecorder()

		handler.List(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"notifications":[]}`, w.Body.String())
	})

	t.Run("Bad limit", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=-1", nil), "user-123")
		w := httptest.NewRecorder()

		handler.List(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unauthorized", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.List(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestNotificationsAPI_MarkRead(t *testing.T) {
	store := seededNotifications(t, 1)
	handler := api.NewNotificationsAPI(store, newTestLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/notifications/{id}/read", handler.MarkRead)

	t.Run("Owner marks read", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/notifications/a/read", nil), "user-123")
		w := httptest.NewRecorder()

		mux.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.True(t, store.All()[0].IsRead)
	})

	t.Run("Foreign record is 404", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/notifications/a/read", nil), "intruder")
		w := httptest.NewRecorder()

		mux.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
