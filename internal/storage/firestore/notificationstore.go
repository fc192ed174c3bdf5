package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

const notificationsCollection = "notifications"

// NotificationStore keeps records in a top-level notifications collection
// keyed by record id.
type NotificationStore struct {
	client *firestore.Client
}

func NewNotificationStore(client *firestore.Client) *NotificationStore {
	return &NotificationStore{client: client}
}

type recordDoc struct {
	UserID            string            `firestore:"user_id"`
	Title             string            `firestore:"title"`
	Message           string            `firestore:"message"`
	Category          string            `firestore:"category"`
	RelatedEntityID   string            `firestore:"related_entity_id,omitempty"`
	RelatedEntityType string            `firestore:"related_entity_type,omitempty"`
	Metadata          map[string]string `firestore:"metadata,omitempty"`
	IsRead            bool              `firestore:"is_read"`
	CreatedAt         time.Time         `firestore:"created_at"`
}

// Insert uses Create so an existing record is never overwritten.
func (s *NotificationStore) Insert(ctx context.Context, rec dispatch.Record) error {
	doc := recordDoc{
		UserID:            rec.UserID,
		Title:             rec.Title,
		Message:           rec.Message,
		Category:          string(rec.Category),
		RelatedEntityID:   rec.RelatedEntityID,
		RelatedEntityType: rec.RelatedEntityType,
		Metadata:          rec.Metadata,
		IsRead:            rec.IsRead,
		CreatedAt:         rec.CreatedAt,
	}
	_, err := s.client.Collection(notificationsCollection).Doc(rec.ID).Create(ctx, doc)
	return err
}

func (s *NotificationStore) ListForUser(ctx context.Context, userID string, limit int) ([]dispatch.Record, error) {
	q := s.client.Collection(notificationsCollection).
		Where("user_id", "==", userID).
		OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []dispatch.Record
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var doc recordDoc
		if err := snap.DataTo(&doc); err != nil {
			continue
		}
		out = append(out, dispatch.Record{
			ID:                snap.Ref.ID,
			UserID:            doc.UserID,
			Title:             doc.Title,
			Message:           doc.Message,
			Category:          dispatch.Category(doc.Category),
			RelatedEntityID:   doc.RelatedEntityID,
			RelatedEntityType: doc.RelatedEntityType,
			Metadata:          doc.Metadata,
			IsRead:            doc.IsRead,
			CreatedAt:         doc.CreatedAt,
		})
	}
	return out, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, userID, recordID string) error {
	ref := s.client.Collection(notificationsCollection).Doc(recordID)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return dispatch.ErrRecordNotFound
			}
			return err
		}
		owner, err := snap.DataAt("user_id")
		if err != nil || owner != userID {
			return dispatch.ErrRecordNotFound
		}
		return tx.Update(ref, []firestore.Update{{Path: "is_read", Value: true}})
	})
}
