package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// NotificationsAPI serves the in-app notification centre.
type NotificationsAPI struct {
	Store  dispatch.NotificationStore
	Logger *slog.Logger
}

func NewNotificationsAPI(store dispatch.NotificationStore, logger *slog.Logger) *NotificationsAPI {
	return &NotificationsAPI{
		Store:  store,
		Logger: logger,
	}
}

type ListNotificationsResponse struct {
	Notifications []dispatch.Record `json:"notifications"`
}

// List handles GET /api/v1/notifications?limit=N.
func (api *NotificationsAPI) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	recs, err := api.Store.ListForUser(ctx, userID, limit)
	if err != nil {
		api.Logger.Error("failed to list notifications", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	if recs == nil {
		recs = []dispatch.Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(ListNotificationsResponse{Notifications: recs}); err != nil {
		api.Logger.Warn("failed to encode notifications", "err", err)
	}
}

// MarkRead handles POST /api/v1/notifications/{id}/read.
func (api *NotificationsAPI) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing id")
		return
	}

	err := api.Store.MarkRead(ctx, userID, id)
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrRecordNotFound):
		response.WriteJSONError(w, http.StatusNotFound, "notification not found")
		return
	default:
		api.Logger.Error("failed to mark notification read", "user", userID, "id", id, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
