package store_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vn.io.arda/realtime/internal/domain"
)

// fakeNotifications is an in-memory notification API.
type fakeNotifications struct {
	mu        sync.Mutex
	all       []domain.Notification
	listCalls int
	getCalls  int
	markCalls [][]string

	listErr   error
	createErr error
	updateErr error

	// block pauses List for filters of the given type until the channel closes.
	block map[string]chan struct{}
	// onCreate runs inside Create after the record exists server-side.
	onCreate func(n domain.Notification)
}

func seed(n int, unreadEvery int) *fakeNotifications {
	f := &fakeNotifications{block: map[string]chan struct{}{}}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		f.all = append(f.all, domain.Notification{
			ID:        uuid.New(),
			Type:      domain.TypeSnippet,
			Title:     fmt.Sprintf("n%02d", i),
			Status:    domain.StatusActive,
			IsRead:    unreadEvery == 0 || i%unreadEvery != 0,
			CreatedAt: base.Add(-time.Duration(i) * time.Minute),
		})
	}
	return f
}

func (f *fakeNotifications) List(ctx context.Context, filter domain.Filter) (domain.Page[domain.Notification], error) {
	f.mu.Lock()
	gate := f.block[filter.Type]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Page[domain.Notification]{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return domain.Page[domain.Notification]{}, f.listErr
	}

	var matched []domain.Notification
	for _, n := range f.all {
		if filter.Type != "" && string(n.Type) != filter.Type {
			continue
		}
		if filter.IsRead != nil && n.IsRead != *filter.IsRead {
			continue
		}
		matched = append(matched, n)
	}
	start := min(filter.Offset(), len(matched))
	end := min(start+filter.PageSize, len(matched))
	return domain.Page[domain.Notification]{
		Items:      append([]domain.Notification(nil), matched[start:end]...),
		TotalCount: len(matched),
		Page:       filter.Page,
		PageSize:   filter.PageSize,
	}, nil
}

func (f *fakeNotifications) Get(_ context.Context, id string) (domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	for _, n := range f.all {
		if n.ID.String() == id {
			return n, nil
		}
	}
	return domain.Notification{}, domain.ErrNotFound
}

func (f *fakeNotifications) Create(_ context.Context, in domain.CreateNotificationRequest) (domain.Notification, error) {
	f.mu.Lock()
	if f.createErr != nil {
		err := f.createErr
		f.mu.Unlock()
		return domain.Notification{}, err
	}
	now := time.Now().UTC()
	n := domain.Notification{
		ID: uuid.New(), UserID: in.UserID, Type: in.Type, Title: in.Title, Body: in.Body,
		Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now,
	}
	f.all = append([]domain.Notification{n}, f.all...)
	hook := f.onCreate
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return n, nil
}

func (f *fakeNotifications) Update(_ context.Context, id string, patch domain.UpdateNotificationRequest) (domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return domain.Notification{}, f.updateErr
	}
	for i, n := range f.all {
		if n.ID.String() != id {
			continue
		}
		if patch.Status != nil {
			n.Status = *patch.Status
		}
		if patch.Archived != nil && *patch.Archived {
			n.Status = domain.StatusArchived
			now := time.Now().UTC()
			n.ArchivedAt = &now
		}
		f.all[i] = n
		return n, nil
	}
	return domain.Notification{}, domain.ErrNotFound
}

func (f *fakeNotifications) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.all {
		if n.ID.String() == id {
			f.all = append(f.all[:i], f.all[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeNotifications) MarkRead(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls = append(f.markCalls, ids)
	now := time.Now().UTC()
	for _, id := range ids {
		for i := range f.all {
			if f.all[i].ID.String() == id {
				f.all[i] = f.all[i].AsRead(now)
			}
		}
	}
	return nil
}

func (f *fakeNotifications) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	var ids []string
	for _, n := range f.all {
		if !n.IsRead {
			ids = append(ids, n.ID.String())
		}
	}
	f.mu.Unlock()
	return f.MarkRead(ctx, ids)
}

func (f *fakeNotifications) set(fn func(f *fakeNotifications)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// memPrefs is an in-memory Prefs; values marked corrupt fail to load.
type memPrefs struct {
	mu      sync.Mutex
	values  map[string]domain.Filter
	corrupt map[string]bool
}

func newMemPrefs() *memPrefs {
	return &memPrefs{values: map[string]domain.Filter{}, corrupt: map[string]bool{}}
}

func (p *memPrefs) Load(key string, dst any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[key]
	if !ok || p.corrupt[key] {
		return false
	}
	*(dst.(*domain.Filter)) = v
	return true
}

func (p *memPrefs) Save(key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = v.(domain.Filter)
	return nil
}
