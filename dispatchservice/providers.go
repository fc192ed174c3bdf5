package dispatchservice

import (
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-dispatch/dispatchservice/config"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/apns"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/expo"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/onesignal"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/web"
)

// NewProviderRegistry registers every backend whose credentials are present.
// fcmClient may be nil when Firebase is disabled.
func NewProviderRegistry(cfg *config.Config, fcmClient fcm.MessagingClient, logger *slog.Logger) (*platform.Registry, error) {
	reg := platform.NewRegistry(logger)

	if fcmClient != nil {
		reg.Register(fcm.NewDispatcher(fcmClient, cfg.FCM.WebIcon, logger))
	}
	if cfg.APNS.Configured() {
		d, err := apns.NewDispatcher(cfg.APNS, logger)
		if err != nil {
			return nil, fmt.Errorf("apns provider: %w", err)
		}
		reg.Register(d)
	}
	if cfg.Vapid.Configured() {
		reg.Register(web.NewDispatcher(cfg.Vapid, logger))
	}
	if cfg.Expo.Configured() {
		reg.Register(expo.NewDispatcher(cfg.Expo, logger))
	}
	if cfg.OneSignal.Configured() {
		reg.Register(onesignal.NewDispatcher(cfg.OneSignal, logger))
	}
	return reg, nil
}
