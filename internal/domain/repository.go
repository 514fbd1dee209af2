package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the port for notification persistence.
// Implementations live in infrastructure/postgres.
type Repository interface {
	// Create stores a new notification and returns the saved entity.
	// A nil notification with nil error means the source event was already processed.
	Create(ctx context.Context, input CreateNotificationInput) (*Notification, error)

	// BatchCreate inserts multiple notifications in a single operation (used by fan-out).
	// Returns the successfully inserted notifications.
	BatchCreate(ctx context.Context, inputs []CreateNotificationInput) ([]*Notification, error)

	// List fetches one page of notifications matching the filter and the total match count.
	List(ctx context.Context, filter NotificationFilter) ([]*Notification, int, error)

	// GetByID fetches a single notification owned by the user.
	GetByID(ctx context.Context, id uuid.UUID, tenantKey, userID string) (*Notification, error)

	// Update applies a patch and returns the updated notification.
	Update(ctx context.Context, id uuid.UUID, tenantKey, userID string, patch NotificationPatch) (*Notification, error)

	// MarkRead flags the given notifications as read and returns the ids that were unread before.
	MarkRead(ctx context.Context, ids []uuid.UUID, tenantKey, userID string, at time.Time) ([]uuid.UUID, error)

	// MarkAllRead marks all unread notifications for a user as read and returns their ids.
	MarkAllRead(ctx context.Context, tenantKey, userID string, at time.Time) ([]uuid.UUID, error)

	// Delete removes a notification belonging to the user.
	Delete(ctx context.Context, id uuid.UUID, tenantKey, userID string) error

	// CountUnread returns the number of unread notifications for a user.
	CountUnread(ctx context.Context, tenantKey, userID string) (int64, error)

	// PurgeOlderThan deletes notifications older than the specified number of days (TTL cleanup).
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}
