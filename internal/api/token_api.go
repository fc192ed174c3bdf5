package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// DeviceRegistry is the token lifecycle the handlers drive; satisfied by
// devices.Registry.
type DeviceRegistry interface {
	Register(ctx context.Context, userID, token, platform string) error
	Unregister(ctx context.Context, userID, token string) error
	SetPushEnabled(ctx context.Context, userID string, enabled bool) error
}

type TokenAPI struct {
	Devices DeviceRegistry
	Logger  *slog.Logger
}

func NewTokenAPI(devices DeviceRegistry, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Devices: devices,
		Logger:  logger,
	}
}

type RegisterDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform,omitempty"`
}

type UnregisterDeviceRequest struct {
	Token string `json:"token"`
}

type PushPreferenceRequest struct {
	Enabled *bool `json:"enabled"`
}

func (api *TokenAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	err := api.Devices.Register(ctx, userID, req.Token, req.Platform)
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrInvalidToken):
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	case errors.Is(err, dispatch.ErrUserNotFound):
		response.WriteJSONError(w, http.StatusNotFound, "user not found")
		return
	default:
		api.Logger.Error("failed to register device", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("RegisterDevice: token registered", "user", userID, "platform", req.Platform)

	w.WriteHeader(http.StatusNoContent)
}

// UnregisterDevice is idempotent for absent tokens and unknown users. A storage
// failure is reported as 500 so the client can retry.
func (api *TokenAPI) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UnregisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := api.Devices.Unregister(ctx, userID, req.Token); err != nil {
		api.Logger.Error("failed to unregister device", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *TokenAPI) SetPushPreference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req PushPreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Enabled == nil {
		response.WriteJSONError(w, http.StatusBadRequest, "missing enabled")
		return
	}

	err := api.Devices.SetPushEnabled(ctx, userID, *req.Enabled)
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrUserNotFound):
		response.WriteJSONError(w, http.StatusNotFound, "user not found")
		return
	default:
		api.Logger.Error("failed to update push preference", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
