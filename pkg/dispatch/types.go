// Package dispatch contains the public domain model and ports of the push
// dispatch service: who receives a notification, what it says, and how the
// stores and push backends are reached.
package dispatch

import (
	"fmt"
	"strings"
	"time"
)

// RoleAdmin is the role matched by admins-only targeting.
const RoleAdmin = "admin"

// User is the subset of a member account the dispatcher reads.
type User struct {
	ID          string
	PushEnabled bool
	Tokens      []string
	Role        string
	IsDeleted   bool
}

// Eligible reports whether a push attempt makes sense for the user.
// Ineligible users still receive in-app records.
func (u User) Eligible() bool {
	return u.PushEnabled && len(u.Tokens) > 0
}

// Category is the closed set of reasons a notification is sent.
type Category string

const (
	CategoryBoardCreated Category = "board_created"
	CategoryBoardUpdated Category = "board_updated"
	CategoryBoardDeleted Category = "board_deleted"
	CategoryMealsAdded   Category = "meals_added"
	CategoryMealsRemoved Category = "meals_removed"
	CategoryAnnouncement Category = "announcement"
	CategoryModeration   Category = "moderation"
	CategoryBroadcast    Category = "broadcast"
)

var categories = map[Category]struct{}{
	CategoryBoardCreated: {},
	CategoryBoardUpdated: {},
	CategoryBoardDeleted: {},
	CategoryMealsAdded:   {},
	CategoryMealsRemoved: {},
	CategoryAnnouncement: {},
	CategoryModeration:   {},
	CategoryBroadcast:    {},
}

// ParseCategory validates a raw category value. Empty means broadcast.
func ParseCategory(raw string) (Category, error) {
	if raw == "" {
		return CategoryBroadcast, nil
	}
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := categories[c]; !ok {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidNotification, raw)
	}
	return c, nil
}

// Priority maps onto each provider's delivery urgency.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Message is the canonical notification handed to the dispatcher.
// Push fields are mapped onto each provider's wire schema; the record
// fields (Category, RelatedEntity*) feed the in-app notification centre.
type Message struct {
	Title             string
	Body              string
	Category          Category
	RelatedEntityID   string
	RelatedEntityType string
	Data              map[string]string
	Image             string
	Badge             *int
	Sound             string
	Priority          Priority
	TTL               time.Duration
}

// Validate normalises defaults and rejects malformed messages.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidNotification)
	}
	c, err := ParseCategory(string(m.Category))
	if err != nil {
		return err
	}
	m.Category = c

	switch m.Priority {
	case "":
		m.Priority = PriorityNormal
	case PriorityNormal, PriorityHigh:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidNotification, m.Priority)
	}
	if m.TTL < 0 {
		return fmt.Errorf("%w: negative ttl", ErrInvalidNotification)
	}
	return nil
}

// Record is the durable in-app notification row.
type Record struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	Title             string            `json:"title"`
	Message           string            `json:"message"`
	Category          Category          `json:"category"`
	RelatedEntityID   string            `json:"related_entity_id,omitempty"`
	RelatedEntityType string            `json:"related_entity_type,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	IsRead            bool              `json:"is_read"`
	CreatedAt         time.Time         `json:"created_at"`
}

// TargetKind tags the Target variant.
type TargetKind string

const (
	TargetUser   TargetKind = "user"
	TargetUsers  TargetKind = "users"
	TargetAll    TargetKind = "all"
	TargetAdmins TargetKind = "admins"
)

// Target describes the recipients supplied by collaborators.
type Target struct {
	Kind    TargetKind `json:"kind"`
	UserIDs []string   `json:"user_ids,omitempty"`
}

func SingleUser(userID string) Target { return Target{Kind: TargetUser, UserIDs: []string{userID}} }

func UserList(userIDs ...string) Target { return Target{Kind: TargetUsers, UserIDs: userIDs} }

func AllUsers() Target { return Target{Kind: TargetAll} }

func AdminsOnly() Target { return Target{Kind: TargetAdmins} }

// Validate checks the variant is well formed.
func (t Target) Validate() error {
	switch t.Kind {
	case TargetUser:
		if len(t.UserIDs) != 1 || t.UserIDs[0] == "" {
			return fmt.Errorf("%w: single user target needs exactly one id", ErrInvalidTarget)
		}
	case TargetUsers, TargetAll, TargetAdmins:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTarget, t.Kind)
	}
	return nil
}

// DeliveryResult is what an Adapter reports for one Send call.
type DeliveryResult struct {
	SuccessCount int
	FailureCount int
	FailedTokens []string
}

// Merge folds another batch result into r.
func (r *DeliveryResult) Merge(other DeliveryResult) {
	r.SuccessCount += other.SuccessCount
	r.FailureCount += other.FailureCount
	r.FailedTokens = append(r.FailedTokens, other.FailedTokens...)
}

// PushOutcome is the per-recipient push result.
type PushOutcome string

const (
	PushDelivered PushOutcome = "delivered"
	PushSkipped   PushOutcome = "skipped"
	PushFailed    PushOutcome = "failed"
)

// RecipientOutcome is the typed per-user result of a dispatch.
type RecipientOutcome struct {
	UserID        string
	Push          PushOutcome
	RecordWritten bool
	RecordErr     error
}

// Summary is the best-effort report returned to dispatch callers.
// Delivered and Failed count device tokens, not users.
type Summary struct {
	RecipientsTargeted int
	PushEligible       int
	Delivered          int
	Failed             int
	FailedTokens       []string
	RecordsWritten     int
	RecordsFailed      int
	Recipients         []RecipientOutcome
}
