// Package postgres implements the user and notification stores on
// PostgreSQL through GORM. Device tokens live in their own table keyed by
// (user_id, token).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Open connects to the database at dsn.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the tables this service owns.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&userRow{}, &deviceTokenRow{}, &notificationRow{})
}

type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) GetUser(ctx context.Context, userID string) (*dispatch.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).
		Preload("Tokens").
		Where("id = ? AND is_deleted = ?", userID, false).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dispatch.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	u := toUser(row)
	return &u, nil
}

func (s *UserStore) GetUsers(ctx context.Context, userIDs []string) ([]dispatch.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var rows []userRow
	err := s.db.WithContext(ctx).
		Preload("Tokens").
		Where("id IN ? AND is_deleted = ?", userIDs, false).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get %d users: %w", len(userIDs), err)
	}
	return toUsers(rows), nil
}

func (s *UserStore) ListUsers(ctx context.Context) ([]dispatch.User, error) {
	var rows []userRow
	err := s.db.WithContext(ctx).
		Preload("Tokens").
		Where("is_deleted = ?", false).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return toUsers(rows), nil
}

func (s *UserStore) ListAdmins(ctx context.Context) ([]dispatch.User, error) {
	var rows []userRow
	err := s.db.WithContext(ctx).
		Preload("Tokens").
		Where("role = ? AND is_deleted = ?", dispatch.RoleAdmin, false).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return toUsers(rows), nil
}

// Tokens does not check the owning user; unknown users have no tokens.
func (s *UserStore) Tokens(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	err := s.db.WithContext(ctx).
		Model(&deviceTokenRow{}).
		Where("user_id = ?", userID).
		Order("created_at").
		Pluck("token", &tokens).Error
	if err != nil {
		return nil, fmt.Errorf("tokens for user %s: %w", userID, err)
	}
	return tokens, nil
}

// AddToken is an atomic set-add: INSERT ... ON CONFLICT (user_id, token) DO NOTHING.
func (s *UserStore) AddToken(ctx context.Context, userID, token, platform string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&userRow{}).Where("id = ? AND is_deleted = ?", userID, false).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return dispatch.ErrUserNotFound
		}
		row := &deviceTokenRow{
			UserID:    userID,
			Token:     token,
			Platform:  platform,
			CreatedAt: time.Now().UTC(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "token"}},
			DoNothing: true,
		}).Create(row).Error
	})
}

func (s *UserStore) RemoveToken(ctx context.Context, userID, token string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND token = ?", userID, token).
		Delete(&deviceTokenRow{}).Error
}

func (s *UserStore) SetPushEnabled(ctx context.Context, userID string, enabled bool) error {
	res := s.db.WithContext(ctx).
		Model(&userRow{}).
		Where("id = ? AND is_deleted = ?", userID, false).
		Update("push_enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return dispatch.ErrUserNotFound
	}
	return nil
}

func toUser(row userRow) dispatch.User {
	tokens := make([]string, 0, len(row.Tokens))
	for _, t := range row.Tokens {
		tokens = append(tokens, t.Token)
	}
	return dispatch.User{
		ID:          row.ID,
		PushEnabled: row.PushEnabled,
		Tokens:      tokens,
		Role:        row.Role,
		IsDeleted:   row.IsDeleted,
	}
}

func toUsers(rows []userRow) []dispatch.User {
	out := make([]dispatch.User, len(rows))
	for i, r := range rows {
		out[i] = toUser(r)
	}
	return out
}

type NotificationStore struct {
	db *gorm.DB
}

func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func (s *NotificationStore) Insert(ctx context.Context, rec dispatch.Record) error {
	row := &notificationRow{
		ID:                rec.ID,
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
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *NotificationStore) ListForUser(ctx context.Context, userID string, limit int) ([]dispatch.Record, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []notificationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list notifications for user %s: %w", userID, err)
	}
	out := make([]dispatch.Record, len(rows))
	for i, r := range rows {
		out[i] = dispatch.Record{
			ID:                r.ID,
			UserID:            r.UserID,
			Title:             r.Title,
			Message:           r.Message,
			Category:          dispatch.Category(r.Category),
			RelatedEntityID:   r.RelatedEntityID,
			RelatedEntityType: r.RelatedEntityType,
			Metadata:          r.Metadata,
			IsRead:            r.IsRead,
			CreatedAt:         r.CreatedAt,
		}
	}
	return out, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, userID, recordID string) error {
	res := s.db.WithContext(ctx).
		Model(&notificationRow{}).
		Where("id = ? AND user_id = ?", recordID, userID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return dispatch.ErrRecordNotFound
	}
	return nil
}
