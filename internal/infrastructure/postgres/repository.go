package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vn.io.arda/realtime/internal/domain"
)

const columns = "id, tenant_key, user_id, type, title, body, metadata, status, is_read, read_at, archived_at, created_at, updated_at, source_event_id"

// Repository is the PostgreSQL implementation of domain.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new postgres Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new notification record.
func (r *Repository) Create(ctx context.Context, input domain.CreateNotificationInput) (*domain.Notification, error) {
	metaJSON, _ := json.Marshal(input.Metadata)

	row := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (tenant_key, user_id, type, title, body, metadata, source_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_event_id, user_id) WHERE source_event_id IS NOT NULL DO NOTHING
		RETURNING `+columns,
		input.TenantKey, input.UserID, string(input.Type), input.Title, input.Body, metaJSON, nullable(input.SourceEventID))

	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Duplicate source_event_id is not an error
			return nil, nil
		}
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

func (r *Repository) BatchCreate(ctx context.Context, inputs []domain.CreateNotificationInput) ([]*domain.Notification, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	// Each row has 7 params: tenant_key, user_id, type, title, body, metadata, source_event_id
	const paramsPerRow = 7
	args := make([]any, 0, len(inputs)*paramsPerRow)
	valuesClauses := make([]string, 0, len(inputs))

	for i, input := range inputs {
		base := i * paramsPerRow
		metaJSON, _ := json.Marshal(input.Metadata)

		valuesClauses = append(valuesClauses, fmt.Sprintf(
			"($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			input.TenantKey, input.UserID, string(input.Type),
			input.Title, input.Body, metaJSON, nullable(input.SourceEventID),
		)
	}

	query := "INSERT INTO notifications (tenant_key, user_id, type, title, body, metadata, source_event_id) VALUES " +
		strings.Join(valuesClauses, ",") +
		" ON CONFLICT (source_event_id, user_id) WHERE source_event_id IS NOT NULL DO NOTHING " +
		"RETURNING " + columns

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("batch insert notifications: %w", err)
	}
	defer rows.Close()

	var inserted []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, n)
	}
	return inserted, rows.Err()
}

// listWhere renders the WHERE clause shared by List and its count query.
func listWhere(f domain.NotificationFilter) (string, []any) {
	clauses := []string{"tenant_key = $1", "user_id = $2"}
	args := []any{f.TenantKey, f.UserID}

	if f.IsRead != nil {
		args = append(args, *f.IsRead)
		clauses = append(clauses, fmt.Sprintf("is_read = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List fetches one page of a user's notifications, newest first, and the total match count.
func (r *Repository) List(ctx context.Context, f domain.NotificationFilter) ([]*domain.Notification, int, error) {
	where, args := listWhere(f)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM notifications"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	query := "SELECT " + columns + " FROM notifications" + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var results []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, n)
	}
	return results, total, rows.Err()
}

// GetByID fetches a single notification owned by the user.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID, tenantKey, userID string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+columns+" FROM notifications WHERE id = $1 AND tenant_key = $2 AND user_id = $3",
		id, tenantKey, userID)
	return notFound(scanNotification(row))
}

// Update applies a patch. Archiving sets status ARCHIVED and stamps archived_at;
// un-archiving returns the notification to ACTIVE.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, tenantKey, userID string, patch domain.NotificationPatch) (*domain.Notification, error) {
	status := patch.Status
	if patch.Archived != nil {
		s := domain.StatusActive
		if *patch.Archived {
			s = domain.StatusArchived
		}
		status = &s
	}
	if status == nil {
		return r.GetByID(ctx, id, tenantKey, userID)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE notifications
		SET status = $1,
		    archived_at = CASE WHEN $1 = 'ARCHIVED' THEN COALESCE(archived_at, NOW()) ELSE NULL END,
		    updated_at = NOW()
		WHERE id = $2 AND tenant_key = $3 AND user_id = $4
		RETURNING `+columns,
		string(*status), id, tenantKey, userID)
	return notFound(scanNotification(row))
}

// MarkRead flags ids as read and returns those that were unread.
func (r *Repository) MarkRead(ctx context.Context, ids []uuid.UUID, tenantKey, userID string, at time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $1, updated_at = $1
		WHERE id = ANY($2) AND tenant_key = $3 AND user_id = $4 AND is_read = FALSE
		RETURNING id
	`, at, ids, tenantKey, userID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return collectIDs(rows)
}

// MarkAllRead marks all unread notifications for a user as read.
func (r *Repository) MarkAllRead(ctx context.Context, tenantKey, userID string, at time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $1, updated_at = $1
		WHERE tenant_key = $2 AND user_id = $3 AND is_read = FALSE
		RETURNING id
	`, at, tenantKey, userID)
	if err != nil {
		return nil, fmt.Errorf("mark all read: %w", err)
	}
	return collectIDs(rows)
}

// Delete removes a notification belonging to the user.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID, tenantKey, userID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications WHERE id = $1 AND tenant_key = $2 AND user_id = $3
	`, id, tenantKey, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountUnread returns the count of unread notifications for a user.
func (r *Repository) CountUnread(ctx context.Context, tenantKey, userID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE tenant_key = $1 AND user_id = $2 AND is_read = FALSE`,
		tenantKey, userID,
	).Scan(&count)
	return count, err
}

// PurgeOlderThan deletes notifications older than the given number of days.
func (r *Repository) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanNotification(row scannable) (*domain.Notification, error) {
	var n domain.Notification
	var metaJSON []byte
	var sourceEventID *string

	err := row.Scan(
		&n.ID, &n.TenantKey, &n.UserID, &n.Type, &n.Title, &n.Body,
		&metaJSON, &n.Status, &n.IsRead, &n.ReadAt, &n.ArchivedAt,
		&n.CreatedAt, &n.UpdatedAt, &sourceEventID,
	)
	if err != nil {
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	if sourceEventID != nil {
		n.SourceEventID = *sourceEventID
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &n.Metadata)
	}
	return &n, nil
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("collect ids: %w", err)
	}
	return ids, nil
}

func notFound(n *domain.Notification, err error) (*domain.Notification, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
