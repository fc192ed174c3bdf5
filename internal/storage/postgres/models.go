package postgres

import "time"

type userRow struct {
	ID          string           `gorm:"primaryKey"`
	PushEnabled bool             `gorm:"not null;default:false"`
	Role        string           `gorm:"index"`
	IsDeleted   bool             `gorm:"not null;default:false"`
	Tokens      []deviceTokenRow `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (userRow) TableName() string { return "users" }

// deviceTokenRow has a composite primary key, which makes token
// registration an INSERT ... ON CONFLICT DO NOTHING set-add.
type deviceTokenRow struct {
	UserID    string `gorm:"primaryKey"`
	Token     string `gorm:"primaryKey"`
	Platform  string
	CreatedAt time.Time
}

func (deviceTokenRow) TableName() string { return "device_tokens" }

type notificationRow struct {
	ID                string `gorm:"primaryKey"`
	UserID            string `gorm:"index:idx_notifications_user_created,priority:1;not null"`
	Title             string `gorm:"not null"`
	Message           string
	Category          string `gorm:"not null"`
	RelatedEntityID   string
	RelatedEntityType string
	Metadata          map[string]string `gorm:"serializer:json"`
	IsRead            bool              `gorm:"not null"`
	CreatedAt         time.Time         `gorm:"index:idx_notifications_user_created,priority:2,sort:desc"`
}

func (notificationRow) TableName() string { return "notifications" }
