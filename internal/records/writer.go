// Package records writes the durable in-app notification rows. Every targeted
// user gets exactly one record per dispatch, whether or not a push went out.
package records

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

// RecordInput is the user-independent content of a notification record.
type RecordInput struct {
	Title             string
	Message           string
	Category          dispatch.Category
	RelatedEntityID   string
	RelatedEntityType string
	Metadata          map[string]string
}

// InputFromMessage projects a dispatch message onto record content.
func InputFromMessage(msg dispatch.Message) RecordInput {
	return RecordInput{
		Title:             msg.Title,
		Message:           msg.Body,
		Category:          msg.Category,
		RelatedEntityID:   msg.RelatedEntityID,
		RelatedEntityType: msg.RelatedEntityType,
		Metadata:          msg.Data,
	}
}

// Result is the outcome of a single user's insert.
type Result struct {
	UserID   string
	RecordID string
	Err      error
}

type Writer struct {
	store       dispatch.NotificationStore
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

func NewWriter(store dispatch.NotificationStore, concurrency int, logger *slog.Logger) *Writer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Writer{
		store:       store,
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger.With("component", "RecordWriter"),
	}
}

// CreateForUsers inserts one record per user id. Inserts are independent: a
// failure is logged and reported in that user's Result only. The returned
// slice is aligned with userIDs.
func (w *Writer) CreateForUsers(ctx context.Context, userIDs []string, in RecordInput) []Result {
	results := make([]Result, len(userIDs))
	if len(userIDs) == 0 {
		return results
	}
	createdAt := w.now().UTC()

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for i, userID := range userIDs {
		g.Go(func() error {
			rec := dispatch.Record{
				ID:                uuid.NewString(),
				UserID:            userID,
				Title:             in.Title,
				Message:           in.Message,
				Category:          in.Category,
				RelatedEntityID:   in.RelatedEntityID,
				RelatedEntityType: in.RelatedEntityType,
				Metadata:          in.Metadata,
				CreatedAt:         createdAt,
			}
			results[i] = Result{UserID: userID, RecordID: rec.ID}
			if err := w.store.Insert(ctx, rec); err != nil {
				werr := &dispatch.RecordWriteError{UserID: userID, Err: err}
				w.logger.Error("Failed to write notification record", "user", userID, "err", werr)
				results[i].Err = werr
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
