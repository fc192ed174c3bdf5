package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Dispatcher is satisfied by dispatcher.Coordinator.
type Dispatcher interface {
	Dispatch(ctx context.Context, target dispatch.Target, msg dispatch.Message) (dispatch.Summary, error)
}

// NewProcessor hands each request to the coordinator. Requests that can
// never succeed (unknown recipient, invalid content) are acked and logged;
// datastore failures are returned so the message is redelivered.
func NewProcessor(d Dispatcher, logger *slog.Logger) messagepipeline.StreamProcessor[DispatchRequest] {
	return func(ctx context.Context, original messagepipeline.Message, req *DispatchRequest) error {
		procLogger := logger.With(
			"target", req.Target.Kind,
			"pubsub_msg_id", original.ID,
		)

		summary, err := d.Dispatch(ctx, req.Target, req.Notification.Message())
		switch {
		case err == nil:
		case errors.Is(err, dispatch.ErrUserNotFound),
			errors.Is(err, dispatch.ErrInvalidTarget),
			errors.Is(err, dispatch.ErrInvalidNotification):
			procLogger.Warn("Dropping undeliverable dispatch request", "err", err)
			return nil
		default:
			procLogger.Error("Dispatch failed", "err", err)
			return err
		}

		procLogger.Info("Dispatch request processed",
			"targeted", summary.RecipientsTargeted,
			"delivered", summary.Delivered,
			"failed", summary.Failed,
			"records_failed", summary.RecordsFailed,
		)
		return nil
	}
}
