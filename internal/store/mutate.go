package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/apiclient"
	"vn.io.arda/realtime/internal/retry"
)

// Create sends in to the server. With a Placeholder configured, an optimistic
// record is shown first; it is removed when the server answers, and on
// success the authoritative record takes its place in the same step.
// Transient failures are also queued for replay. A record created for another
// user is returned but never shown in this list.
func (s *Store[T, C, U]) Create(ctx context.Context, in C) (T, error) {
	localID := uuid.New()
	placeholderID := ""
	if s.cfg.Placeholder != nil {
		if ph := s.cfg.Placeholder(in, localID, s.now()); s.listed(ph) {
			placeholderID = ph.RecordID()
			s.mu.Lock()
			s.upsertLocked(ph, true)
			s.mu.Unlock()
			s.notify()
		}
	}

	rec, err := s.api.Create(ctx, in)

	s.mu.Lock()
	if placeholderID != "" {
		s.removeLocked(placeholderID)
	}
	if err == nil && s.listed(rec) {
		s.upsertLocked(rec, true)
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		key := s.taskKey("create", localID.String())
		s.enqueue(key, err, func(ctx context.Context) error {
			rec, err := s.api.Create(ctx, in)
			if err != nil {
				return err
			}
			if !s.listed(rec) {
				return nil
			}
			s.mu.Lock()
			s.upsertLocked(rec, true)
			s.mu.Unlock()
			s.notify()
			return nil
		})
		var zero T
		return zero, fmt.Errorf("create %s: %w", s.cfg.Resource, err)
	}
	return rec, nil
}

// Update applies the server-confirmed result of patching id.
func (s *Store[T, C, U]) Update(ctx context.Context, id string, patch U) (T, error) {
	apply := func(ctx context.Context) (T, error) {
		rec, err := s.api.Update(ctx, id, patch)
		if err != nil {
			return rec, err
		}
		s.mu.Lock()
		s.upsertLocked(rec, false)
		s.mu.Unlock()
		s.notify()
		return rec, nil
	}

	rec, err := apply(ctx)
	if err != nil {
		s.enqueue(s.taskKey("update", id), err, func(ctx context.Context) error {
			_, err := apply(ctx)
			return err
		})
		var zero T
		return zero, fmt.Errorf("update %s %s: %w", s.cfg.Resource, id, err)
	}
	return rec, nil
}

// Delete removes id once the server confirms.
func (s *Store[T, C, U]) Delete(ctx context.Context, id string) error {
	apply := func(ctx context.Context) error {
		if err := s.api.Delete(ctx, id); err != nil {
			return err
		}
		s.mu.Lock()
		s.removeLocked(id)
		s.mu.Unlock()
		s.notify()
		return nil
	}

	if err := apply(ctx); err != nil {
		s.enqueue(s.taskKey("delete", id), err, apply)
		return fmt.Errorf("delete %s %s: %w", s.cfg.Resource, id, err)
	}
	return nil
}

// MarkAsRead marks ids read with one request, then flips the local copies.
// The unread counter drops by the number of those that were actually unread.
func (s *Store[T, C, U]) MarkAsRead(ctx context.Context, ids ...string) error {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil
	}

	apply := func(ctx context.Context) error {
		if err := s.api.MarkRead(ctx, ids); err != nil {
			return err
		}
		s.mu.Lock()
		s.markReadLocked(ids, s.now())
		s.mu.Unlock()
		s.notify()
		return nil
	}

	if err := apply(ctx); err != nil {
		s.enqueue(s.taskKey("read", strings.Join(ids, ",")), err, apply)
		return fmt.Errorf("mark %s read: %w", s.cfg.Resource, err)
	}
	return nil
}

// MarkAllAsRead marks every record of the collection read.
func (s *Store[T, C, U]) MarkAllAsRead(ctx context.Context) error {
	if err := s.api.MarkAllRead(ctx); err != nil {
		return fmt.Errorf("mark all %s read: %w", s.cfg.Resource, err)
	}
	s.mu.Lock()
	s.markReadLocked(s.unreadIDsLocked(), s.now())
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Store[T, C, U]) taskKey(op, id string) string {
	return string(s.cfg.Resource) + ":" + op + ":" + id
}

// enqueue queues op when cause is transient. A replay that fails permanently
// is dropped instead of being retried.
func (s *Store[T, C, U]) enqueue(key string, cause error, op func(ctx context.Context) error) {
	if s.retry == nil || !apiclient.IsRetryable(cause) {
		return
	}
	s.retry.Enqueue(key, func(ctx context.Context) error {
		err := op(ctx)
		if err != nil && !apiclient.IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	}, s.cfg.MaxRetries)
	log.Info().Str("task", key).Msg("operation queued for retry")
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
