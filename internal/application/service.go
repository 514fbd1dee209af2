package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/domain"
)

// ErrInvalidID is returned for a malformed notification id.
var ErrInvalidID = errors.New("invalid notification id")

// ValidationError lists the rejected fields of a request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Service holds all notification use-cases. Every mutation is announced to
// the owner's realtime connections as a notifications.* event.
type Service struct {
	repo     domain.Repository
	pub      Publisher
	resolver MemberResolver
	now      func() time.Time
}

// NewService creates a new application Service.
func NewService(repo domain.Repository, pub Publisher, resolver MemberResolver) *Service {
	return &Service{repo: repo, pub: pub, resolver: resolver, now: func() time.Time { return time.Now().UTC() }}
}

// Create persists a single notification (from the REST API or direct commands)
// and pushes it to the recipient.
func (s *Service) Create(ctx context.Context, input domain.CreateNotificationInput) (*domain.Notification, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}
	n, err := s.repo.Create(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	if n == nil {
		// Duplicate source_event_id: already delivered.
		return nil, nil
	}

	s.publish(n.TenantKey, n.UserID, domain.ActionCreated, n)

	log.Info().
		Str("id", n.ID.String()).
		Str("tenant", n.TenantKey).
		Str("user", n.UserID).
		Str("type", string(n.Type)).
		Msg("notification created and published")

	return n, nil
}

func validateCreate(input domain.CreateNotificationInput) error {
	fields := map[string]string{}
	if strings.TrimSpace(input.UserID) == "" {
		fields["user_id"] = "required"
	}
	if strings.TrimSpace(input.Title) == "" {
		fields["title"] = "required"
	}
	if !input.Type.Valid() {
		fields["type"] = "unknown notification type"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Fanout resolves a FanoutInput to concrete user IDs based on TargetScope,
// then batch-inserts one notification row per user (fan-out on write).
// This is the primary entry point for Kafka-driven notifications.
func (s *Service) Fanout(ctx context.Context, input domain.FanoutInput) error {
	userIDs, err := s.resolveTargets(ctx, input)
	if err != nil {
		return fmt.Errorf("resolve fan-out targets: %w", err)
	}

	batch := make([]domain.CreateNotificationInput, 0, len(userIDs))
	for _, uid := range userIDs {
		batch = append(batch, domain.CreateNotificationInput{
			TenantKey:     input.TenantKey,
			UserID:        uid,
			Type:          input.Type,
			Title:         input.Title,
			Body:          input.Body,
			Metadata:      input.Metadata,
			SourceEventID: input.SourceEventID,
		})
	}

	if len(batch) == 0 {
		log.Warn().
			Str("scope", string(input.TargetScope)).
			Str("target_id", input.TargetID).
			Msg("fan-out resolved to zero users, skipping")
		return nil
	}

	inserted, err := s.repo.BatchCreate(ctx, batch)
	if err != nil {
		return fmt.Errorf("batch create notifications: %w", err)
	}

	for _, n := range inserted {
		s.publish(n.TenantKey, n.UserID, domain.ActionCreated, n)
	}

	log.Info().
		Str("scope", string(input.TargetScope)).
		Str("target_id", input.TargetID).
		Int("batch_size", len(batch)).
		Int("inserted", len(inserted)).
		Msg("fan-out notifications created and published")

	return nil
}

// resolveTargets maps a FanoutInput to user IDs within its tenant. The user
// who performed the action is never notified about it.
func (s *Service) resolveTargets(ctx context.Context, input domain.FanoutInput) ([]string, error) {
	var userIDs []string

	switch input.TargetScope {
	case domain.ScopeUser:
		// Direct single-user delivery, no member lookup.
		if input.TargetID != "" {
			userIDs = []string{input.TargetID}
		}

	case domain.ScopeGroup:
		ids, err := s.resolver.UsersByGroup(ctx, input.TenantKey, input.TargetID)
		if err != nil {
			return nil, fmt.Errorf("UsersByGroup(%s, %s): %w", input.TenantKey, input.TargetID, err)
		}
		userIDs = ids

	case domain.ScopeTenant:
		ids, err := s.resolver.UsersByTenant(ctx, input.TenantKey)
		if err != nil {
			return nil, fmt.Errorf("UsersByTenant(%s): %w", input.TenantKey, err)
		}
		userIDs = ids

	default:
		return nil, fmt.Errorf("unknown target scope: %q", input.TargetScope)
	}

	seen := make(map[string]struct{}, len(userIDs))
	out := userIDs[:0:0]
	for _, uid := range userIDs {
		if uid == "" || uid == input.OriginUserID {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, uid)
	}
	return out, nil
}

// List returns one page of the user's notifications with the total match count.
func (s *Service) List(ctx context.Context, tenantKey, userID string, f domain.Filter) (domain.Page[domain.Notification], error) {
	f = f.Normalize()
	filter := domain.NotificationFilter{
		TenantKey: tenantKey,
		UserID:    userID,
		IsRead:    f.IsRead,
		Type:      domain.NotificationType(f.Type),
		Status:    domain.Status(f.Status),
		Limit:     f.PageSize,
		Offset:    f.Offset(),
	}

	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return domain.Page[domain.Notification]{}, fmt.Errorf("list notifications: %w", err)
	}

	items := make([]domain.Notification, 0, len(rows))
	for _, n := range rows {
		items = append(items, *n)
	}
	return domain.Page[domain.Notification]{Items: items, TotalCount: total, Page: f.Page, PageSize: f.PageSize}, nil
}

func (s *Service) Get(ctx context.Context, idStr, tenantKey, userID string) (*domain.Notification, error) {
	id, err := parseID(idStr)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id, tenantKey, userID)
}

// Update changes status or archives a notification.
func (s *Service) Update(ctx context.Context, idStr, tenantKey, userID string, req domain.UpdateNotificationRequest) (*domain.Notification, error) {
	id, err := parseID(idStr)
	if err != nil {
		return nil, err
	}
	if req.Status != nil {
		switch *req.Status {
		case domain.StatusActive, domain.StatusArchived:
		default:
			return nil, &ValidationError{Fields: map[string]string{"status": "must be ACTIVE or ARCHIVED"}}
		}
	}

	n, err := s.repo.Update(ctx, id, tenantKey, userID, domain.NotificationPatch{Status: req.Status, Archived: req.Archived})
	if err != nil {
		return nil, err
	}
	s.publish(tenantKey, userID, domain.ActionUpdated, n)
	return n, nil
}

// CountUnread returns the unread badge count for a user.
func (s *Service) CountUnread(ctx context.Context, tenantKey, userID string) (int64, error) {
	return s.repo.CountUnread(ctx, tenantKey, userID)
}

// MarkRead marks notifications as read and returns the ids that were unread.
// Only those are announced, so a repeated request produces no event.
func (s *Service) MarkRead(ctx context.Context, idStrs []string, tenantKey, userID string) ([]string, error) {
	ids := make([]uuid.UUID, 0, len(idStrs))
	for _, raw := range idStrs {
		id, err := parseID(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	at := s.now()
	flipped, err := s.repo.MarkRead(ctx, ids, tenantKey, userID, at)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return s.announceRead(tenantKey, userID, flipped, at), nil
}

// MarkAllRead marks all notifications for a user as read.
func (s *Service) MarkAllRead(ctx context.Context, tenantKey, userID string) ([]string, error) {
	at := s.now()
	flipped, err := s.repo.MarkAllRead(ctx, tenantKey, userID, at)
	if err != nil {
		return nil, fmt.Errorf("mark all read: %w", err)
	}
	return s.announceRead(tenantKey, userID, flipped, at), nil
}

func (s *Service) announceRead(tenantKey, userID string, flipped []uuid.UUID, at time.Time) []string {
	ids := make([]string, 0, len(flipped))
	for _, id := range flipped {
		ids = append(ids, id.String())
	}
	if len(ids) > 0 {
		s.publish(tenantKey, userID, domain.ActionRead, domain.IDsPayload{IDs: ids, At: &at})
	}
	return ids
}

// Delete removes a notification (must belong to the requesting user).
func (s *Service) Delete(ctx context.Context, idStr, tenantKey, userID string) error {
	id, err := parseID(idStr)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id, tenantKey, userID); err != nil {
		return err
	}
	s.publish(tenantKey, userID, domain.ActionDeleted, domain.IDsPayload{ID: id.String()})
	return nil
}

// PurgeTTL deletes old notifications. Called by a background scheduler.
func (s *Service) PurgeTTL(ctx context.Context, days int) {
	count, err := s.repo.PurgeOlderThan(ctx, days)
	if err != nil {
		log.Error().Err(err).Msg("notification TTL purge failed")
		return
	}
	log.Info().Int64("deleted", count).Int("older_than_days", days).Msg("notification TTL purge completed")
}

func (s *Service) publish(tenantKey, userID string, action domain.Action, data any) {
	evt, err := domain.NewEvent(domain.EventType(domain.ResourceNotifications, action), data)
	if err != nil {
		log.Error().Err(err).Str("action", string(action)).Msg("failed to encode realtime event")
		return
	}
	s.pub.Publish(tenantKey, userID, evt)
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return id, nil
}
