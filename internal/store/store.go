// Package store keeps the client-side copy of one record collection
// (notifications, messages or comments) consistent across REST responses,
// optimistic placeholders and realtime deltas.
//
// All state lives behind one mutex. REST and socket I/O happen outside it;
// each reconciliation step (list, item cache, current record, unread counter)
// runs inside a single critical section so no reader sees a partial change.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/cache"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/retry"
)

// ErrStale is returned by a fetch whose response arrived after a newer fetch
// had started. The response is discarded.
var ErrStale = errors.New("store: superseded by a newer fetch")

// Record is what a store can hold.
type Record[T any] interface {
	RecordID() string
	Unread() bool
	AsRead(at time.Time) T
}

// API is the REST surface a store synchronizes against.
type API[T, C, U any] interface {
	List(ctx context.Context, f domain.Filter) (domain.Page[T], error)
	Get(ctx context.Context, id string) (T, error)
	Create(ctx context.Context, in C) (T, error)
	Update(ctx context.Context, id string, patch U) (T, error)
	Delete(ctx context.Context, id string) error
	MarkRead(ctx context.Context, ids []string) error
	MarkAllRead(ctx context.Context) error
}

// Prefs persists the active filter between runs.
type Prefs interface {
	Load(key string, dst any) bool
	Save(key string, v any) error
}

// Retrier queues failed mutations for replay. *retry.Queue implements it.
type Retrier interface {
	Enqueue(key string, op retry.Operation, maxRetries int)
}

// Config describes one collection.
type Config[T, C any] struct {
	Resource   domain.Resource
	ListTTL    time.Duration
	ItemTTL    time.Duration
	MaxRetries int

	// Placeholder, when set, renders a create request as an optimistic record
	// shown until the server answers.
	Placeholder func(in C, id uuid.UUID, now time.Time) T

	// Owner and User keep records created for someone else out of the list:
	// a created record whose non-empty Owner differs from User is returned
	// to the caller but not shown. Either left empty disables the check.
	Owner func(rec T) string
	User  string

	Clock func() time.Time
}

type deps struct {
	cache *cache.Cache
	retry Retrier
	prefs Prefs
}

type Option func(*deps)

// WithCache shares c between stores. Keys are namespaced per resource.
func WithCache(c *cache.Cache) Option {
	return func(d *deps) { d.cache = c }
}

func WithRetry(r Retrier) Option {
	return func(d *deps) { d.retry = r }
}

func WithPrefs(p Prefs) Option {
	return func(d *deps) { d.prefs = p }
}

// Snapshot is a point-in-time copy of a store's state.
type Snapshot[T any] struct {
	Items       []T
	TotalCount  int
	Page        int
	PageSize    int
	HasMore     bool
	UnreadCount int
	Current     *T
	Filter      domain.Filter
	Loading     bool
	LoadingMore bool
	Err         error
}

// Store is the synchronized collection of T, created with C and patched with U.
type Store[T Record[T], C, U any] struct {
	api   API[T, C, U]
	cfg   Config[T, C]
	cache *cache.Cache
	retry Retrier
	prefs Prefs

	mu          sync.Mutex
	items       []T
	total       int
	page        int
	pageSize    int
	unread      int
	current     *T
	filter      domain.Filter
	loading     bool
	loadingMore bool
	lastErr     error
	gen         uint64
	observers   []func(Snapshot[T])
}

func New[T Record[T], C, U any](api API[T, C, U], cfg Config[T, C], opts ...Option) *Store[T, C, U] {
	var d deps
	for _, opt := range opts {
		opt(&d)
	}
	if d.cache == nil {
		d.cache = cache.New(cfg.ListTTL, 0)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = retry.DefaultMaxRetries
	}

	s := &Store[T, C, U]{
		api:    api,
		cfg:    cfg,
		cache:  d.cache,
		retry:  d.retry,
		prefs:  d.prefs,
		filter: domain.DefaultFilter(),
	}
	s.pageSize = s.filter.PageSize
	s.loadFilter()
	return s
}

func (s *Store[T, C, U]) Resource() domain.Resource { return s.cfg.Resource }

// listed reports whether a record created through this store belongs in it.
func (s *Store[T, C, U]) listed(rec T) bool {
	if s.cfg.Owner == nil || s.cfg.User == "" {
		return true
	}
	owner := s.cfg.Owner(rec)
	return owner == "" || owner == s.cfg.User
}

// OnChange registers fn to receive a snapshot after every state change.
func (s *Store[T, C, U]) OnChange(fn func(Snapshot[T])) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store[T, C, U]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store[T, C, U]) snapshotLocked() Snapshot[T] {
	snap := Snapshot[T]{
		Items:       append([]T(nil), s.items...),
		TotalCount:  s.total,
		Page:        s.page,
		PageSize:    s.pageSize,
		HasMore:     s.hasMoreLocked(),
		UnreadCount: s.unread,
		Filter:      s.filter,
		Loading:     s.loading,
		LoadingMore: s.loadingMore,
		Err:         s.lastErr,
	}
	if s.current != nil {
		c := *s.current
		snap.Current = &c
	}
	return snap
}

func (s *Store[T, C, U]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]T(nil), s.items...)
}

func (s *Store[T, C, U]) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Store[T, C, U]) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMoreLocked()
}

func (s *Store[T, C, U]) Filter() domain.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// Current returns the record last opened with Get.
func (s *Store[T, C, U]) Current() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		var zero T
		return zero, false
	}
	return *s.current, true
}

func (s *Store[T, C, U]) ClearCurrent() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Store[T, C, U]) hasMoreLocked() bool {
	return s.page*s.pageSize < s.total
}

// notify hands observers a fresh snapshot. Never call it with s.mu held.
func (s *Store[T, C, U]) notify() {
	s.mu.Lock()
	if len(s.observers) == 0 {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	observers := append([]func(Snapshot[T]){}, s.observers...)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func (s *Store[T, C, U]) now() time.Time {
	return s.cfg.Clock().UTC()
}

func (s *Store[T, C, U]) filterKey() string {
	return "filter:" + string(s.cfg.Resource)
}

func (s *Store[T, C, U]) loadFilter() {
	if s.prefs == nil {
		return
	}
	f := domain.DefaultFilter()
	if s.prefs.Load(s.filterKey(), &f) {
		s.filter = f.Normalize()
		s.pageSize = s.filter.PageSize
	}
}

func (s *Store[T, C, U]) saveFilter(f domain.Filter) {
	if s.prefs == nil {
		return
	}
	if err := s.prefs.Save(s.filterKey(), f); err != nil {
		log.Warn().Err(err).Str("resource", string(s.cfg.Resource)).Msg("failed to persist filter")
	}
}
