package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType represents the origin domain of the notification.
type NotificationType string

const (
	TypeSystem  NotificationType = "SYSTEM"
	TypeSnippet NotificationType = "SNIPPET"
	TypeComment NotificationType = "COMMENT"
	TypeMessage NotificationType = "MESSAGE"
	TypeShare   NotificationType = "SHARE"
	TypeCustom  NotificationType = "CUSTOM"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case TypeSystem, TypeSnippet, TypeComment, TypeMessage, TypeShare, TypeCustom:
		return true
	}
	return false
}

// Status is the lifecycle state shared by all synchronized records.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusArchived  Status = "ARCHIVED"
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
)

// TargetScope defines who should receive the notification (before fan-out).
type TargetScope string

const (
	// ScopeUser targets a single user ID directly.
	ScopeUser TargetScope = "USER"
	// ScopeGroup fans-out to every member of a sharing group.
	ScopeGroup TargetScope = "GROUP"
	// ScopeTenant fans-out to all active users within a tenant realm.
	ScopeTenant TargetScope = "TENANT"
)

// Notification is the core domain entity.
type Notification struct {
	ID            uuid.UUID        `json:"id"`
	TenantKey     string           `json:"tenant_key"`
	UserID        string           `json:"user_id"`
	Type          NotificationType `json:"type"`
	Title         string           `json:"title"`
	Body          string           `json:"body"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
	Status        Status           `json:"status"`
	IsRead        bool             `json:"is_read"`
	ReadAt        *time.Time       `json:"read_at,omitempty"`
	ArchivedAt    *time.Time       `json:"archived_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	SourceEventID string           `json:"source_event_id,omitempty"`
}

func (n Notification) RecordID() string { return n.ID.String() }

func (n Notification) Unread() bool { return !n.IsRead }

// AsRead returns a copy of n flagged as read at the given time.
// Already-read notifications are returned unchanged so read_at keeps its first value.
func (n Notification) AsRead(at time.Time) Notification {
	if n.IsRead {
		return n
	}
	n.IsRead = true
	n.ReadAt = &at
	return n
}

// NotificationFilter holds query parameters for listing notifications.
type NotificationFilter struct {
	TenantKey string
	UserID    string
	IsRead    *bool
	Type      NotificationType
	Status    Status
	Limit     int
	Offset    int
}

// CreateNotificationInput is the post-fan-out DTO; it always has a concrete user_id.
// Used by Repository.Create / Repository.BatchCreate.
type CreateNotificationInput struct {
	TenantKey     string
	UserID        string
	Type          NotificationType
	Title         string
	Body          string
	Metadata      map[string]any
	SourceEventID string
}

// NotificationPatch is the set of mutable fields accepted by Repository.Update.
// Nil fields are left untouched.
type NotificationPatch struct {
	Status   *Status
	Archived *bool
}

// FanoutInput is the pre-fan-out DTO produced by Kafka handlers.
// The application Service resolves TargetScope → concrete user IDs,
// then batch-inserts CreateNotificationInput rows.
type FanoutInput struct {
	TargetScope TargetScope
	// TargetID is the userID (USER) or groupID (GROUP). Empty for TENANT scope.
	TargetID      string
	TenantKey     string
	Type          NotificationType
	Title         string
	Body          string
	Metadata      map[string]any
	SourceEventID string
	// OriginUserID is the user who performed the action; never notified about their own action.
	OriginUserID string
}

// CreateNotificationRequest is the REST body for POST /notifications.
type CreateNotificationRequest struct {
	UserID   string           `json:"user_id,omitempty"`
	Type     NotificationType `json:"type"`
	Title    string           `json:"title"`
	Body     string           `json:"body"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// Placeholder builds the optimistic record shown until the server confirms the create.
func (r CreateNotificationRequest) Placeholder(id uuid.UUID, now time.Time) Notification {
	return Notification{
		ID:        id,
		UserID:    r.UserID,
		Type:      r.Type,
		Title:     r.Title,
		Body:      r.Body,
		Metadata:  r.Metadata,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// UpdateNotificationRequest is the REST body for PATCH /notifications/:id.
type UpdateNotificationRequest struct {
	Status   *Status `json:"status,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}
