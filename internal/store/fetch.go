package store

import (
	"context"
	"fmt"

	"vn.io.arda/realtime/internal/cache"
	"vn.io.arda/realtime/internal/domain"
)

func (s *Store[T, C, U]) listKey(f domain.Filter) string {
	return string(s.cfg.Resource) + ":list:" + f.Key()
}

func (s *Store[T, C, U]) listPattern() string {
	return string(s.cfg.Resource) + ":list:*"
}

func (s *Store[T, C, U]) itemKey(id string) string {
	return string(s.cfg.Resource) + ":item:" + id
}

// list serves f from the cache when fresh, otherwise from the API.
func (s *Store[T, C, U]) list(ctx context.Context, f domain.Filter) (domain.Page[T], error) {
	key := s.listKey(f)
	if page, ok := cache.GetAs[domain.Page[T]](s.cache, key); ok {
		return page, nil
	}
	page, err := s.api.List(ctx, f)
	if err != nil {
		return page, err
	}
	if page.Page == 0 {
		page.Page = f.Page
	}
	if page.PageSize == 0 {
		page.PageSize = f.PageSize
	}
	s.cache.Set(key, page, s.cfg.ListTTL)
	return page, nil
}

// FetchList makes f the active filter and replaces the list with the page it
// names. A response overtaken by a later FetchList is discarded and reported
// as ErrStale. The filter is persisted once its page has been applied.
func (s *Store[T, C, U]) FetchList(ctx context.Context, f domain.Filter) error {
	f = f.Normalize()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.filter = f
	s.loading = true
	s.mu.Unlock()
	s.notify()

	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.loading = false
		}
		s.mu.Unlock()
		s.notify()
	}()

	page, err := s.list(ctx, f)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return fmt.Errorf("list %s: %w", s.cfg.Resource, err)
	}
	s.lastErr = nil
	s.replaceLocked(page)
	s.mu.Unlock()

	s.saveFilter(f)
	return nil
}

// Refresh drops every cached page and refetches the active filter from its
// first page.
func (s *Store[T, C, U]) Refresh(ctx context.Context) error {
	s.cache.Invalidate(s.listPattern())
	return s.FetchList(ctx, s.Filter().WithPage(1))
}

// FetchMore appends the next page of the active filter. It does nothing while
// another fetch is in flight or when the last page is already loaded.
func (s *Store[T, C, U]) FetchMore(ctx context.Context) error {
	s.mu.Lock()
	if s.loading || s.loadingMore || !s.hasMoreLocked() {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	next := s.filter.WithPage(s.page + 1)
	s.loadingMore = true
	s.mu.Unlock()
	s.notify()

	defer func() {
		s.mu.Lock()
		s.loadingMore = false
		s.mu.Unlock()
		s.notify()
	}()

	page, err := s.list(ctx, next)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return ErrStale
	}
	if err != nil {
		s.lastErr = err
		return fmt.Errorf("list %s page %d: %w", s.cfg.Resource, next.Page, err)
	}
	s.lastErr = nil
	s.appendLocked(page)
	return nil
}

// Get opens one record, from the item cache when possible, and makes it
// the current record.
func (s *Store[T, C, U]) Get(ctx context.Context, id string) (T, error) {
	if rec, ok := cache.GetAs[T](s.cache, s.itemKey(id)); ok {
		s.mu.Lock()
		c := rec
		s.current = &c
		s.mu.Unlock()
		s.notify()
		return rec, nil
	}

	rec, err := s.api.Get(ctx, id)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("get %s %s: %w", s.cfg.Resource, id, err)
	}

	s.mu.Lock()
	s.upsertLocked(rec, false)
	c := rec
	s.current = &c
	s.mu.Unlock()
	s.notify()
	return rec, nil
}
