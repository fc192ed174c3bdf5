package platform

import (
	"context"
	"log/slog"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Noop stands in for a backend without credentials. It claims neither
// successes nor failures, so an unconfigured environment never looks like
// it dropped real traffic.
type Noop struct {
	wanted string
	logger *slog.Logger
}

func NewNoop(wanted string, logger *slog.Logger) *Noop {
	return &Noop{wanted: wanted, logger: logger.With("component", "NoopDispatcher")}
}

func (n *Noop) Name() string { return "noop" }

func (n *Noop) Send(_ context.Context, tokens []string, msg dispatch.Message) dispatch.DeliveryResult {
	if len(tokens) == 0 {
		return dispatch.DeliveryResult{}
	}
	n.logger.Info("Push skipped: provider unavailable",
		"provider", n.wanted,
		"tokens", len(tokens),
		"title", msg.Title,
		"err", dispatch.ErrProviderUnavailable,
	)
	return dispatch.DeliveryResult{}
}
