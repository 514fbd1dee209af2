package store_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/realtime/internal/apiclient"
	"vn.io.arda/realtime/internal/connectivity"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/events"
	"vn.io.arda/realtime/internal/retry"
	"vn.io.arda/realtime/internal/store"
)

type notificationStore = store.Store[domain.Notification, domain.CreateNotificationRequest, domain.UpdateNotificationRequest]

func newStore(api *fakeNotifications, opts ...store.Option) *notificationStore {
	return store.New[domain.Notification, domain.CreateNotificationRequest, domain.UpdateNotificationRequest](api,
		store.Config[domain.Notification, domain.CreateNotificationRequest]{
			Resource:    domain.ResourceNotifications,
			ListTTL:     time.Minute,
			ItemTTL:     time.Minute,
			Placeholder: domain.CreateNotificationRequest.Placeholder,
		}, opts...)
}

func assertUnreadInvariant(t *testing.T, s *notificationStore) {
	t.Helper()
	snap := s.Snapshot()
	unread := 0
	for _, n := range snap.Items {
		if !n.IsRead {
			unread++
		}
	}
	assert.Equal(t, unread, snap.UnreadCount, "unread counter matches the list")
}

func event(t *testing.T, eventType string, data any) domain.Event {
	t.Helper()
	evt, err := domain.NewEvent(eventType, data)
	require.NoError(t, err)
	return evt
}

func TestFetchListAndFetchMore(t *testing.T) {
	api := seed(45, 3)
	s := newStore(api)
	ctx := context.Background()

	require.NoError(t, s.FetchList(ctx, domain.DefaultFilter()))
	snap := s.Snapshot()
	assert.Len(t, snap.Items, 20)
	assert.Equal(t, 45, snap.TotalCount)
	assert.Equal(t, 1, snap.Page)
	assert.True(t, snap.HasMore)

	require.NoError(t, s.FetchMore(ctx))
	snap = s.Snapshot()
	assert.Len(t, snap.Items, 40)
	assert.Equal(t, 2, snap.Page)
	assert.Equal(t, "n20", snap.Items[20].Title)

	require.NoError(t, s.FetchMore(ctx))
	assert.Len(t, s.Items(), 45)
	assert.False(t, s.HasMore())

	calls := api.listCalls
	require.NoError(t, s.FetchMore(ctx))
	assert.Equal(t, calls, api.listCalls, "no next page, no request")
	assertUnreadInvariant(t, s)
}

func TestFetchListIsServedFromCacheUntilInvalidated(t *testing.T) {
	api := seed(5, 2)
	s := newStore(api)
	ctx := context.Background()

	require.NoError(t, s.FetchList(ctx, domain.DefaultFilter()))
	require.NoError(t, s.FetchList(ctx, domain.DefaultFilter()))
	assert.Equal(t, 1, api.listCalls)

	s.HandleEvent(event(t, "notifications.created", domain.Notification{ID: uuid.New(), Title: "pushed"}))
	require.NoError(t, s.FetchList(ctx, domain.DefaultFilter()))
	assert.Equal(t, 2, api.listCalls, "a delta evicts cached pages")
}

func TestRefreshBypassesCachedPages(t *testing.T) {
	api := seed(2, 0)
	s := newStore(api)
	ctx := context.Background()

	require.NoError(t, s.FetchList(ctx, domain.DefaultFilter()))
	api.set(func(f *fakeNotifications) {
		f.all = append(f.all, domain.Notification{ID: uuid.New(), Title: "silent", Status: domain.StatusActive})
	})

	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, 2, api.listCalls)
	assert.Len(t, s.Items(), 3)
	assert.Equal(t, 3, s.Snapshot().TotalCount)
	assertUnreadInvariant(t, s)
}

func TestUnreadInvariantAcrossOperations(t *testing.T) {
	api := seed(10, 2)
	s := newStore(api)
	ctx := context.Background()

	require.NoError(t, s.FetchList(ctx, domain.DefaultFilter()))
	assert.Equal(t, 5, s.UnreadCount())
	assertUnreadInvariant(t, s)

	items := s.Items()
	require.NoError(t, s.MarkAsRead(ctx, items[0].ID.String(), items[1].ID.String(), items[1].ID.String()))
	assert.Equal(t, 4, s.UnreadCount(), "only the previously unread one counts")
	assertUnreadInvariant(t, s)

	_, err := s.Create(ctx, domain.CreateNotificationRequest{Type: domain.TypeSystem, Title: "made here"})
	require.NoError(t, err)
	assert.Equal(t, 5, s.UnreadCount())
	assertUnreadInvariant(t, s)

	pushed := domain.Notification{ID: uuid.New(), Title: "pushed"}
	s.HandleEvent(event(t, "notifications.created", pushed))
	assert.Equal(t, 6, s.UnreadCount())
	assertUnreadInvariant(t, s)

	s.HandleEvent(event(t, "notifications.deleted", domain.IDsPayload{ID: pushed.ID.String()}))
	assert.Equal(t, 5, s.UnreadCount())
	assertUnreadInvariant(t, s)

	archived := true
	_, err = s.Update(ctx, items[2].ID.String(), domain.UpdateNotificationRequest{Archived: &archived})
	require.NoError(t, err)
	assertUnreadInvariant(t, s)

	require.NoError(t, s.Delete(ctx, items[2].ID.String()))
	assertUnreadInvariant(t, s)

	s.HandleEvent(event(t, "notifications.read", domain.IDsPayload{IDs: []string{items[4].ID.String()}}))
	assertUnreadInvariant(t, s)

	require.NoError(t, s.MarkAllAsRead(ctx))
	assert.Equal(t, 0, s.UnreadCount())
	assertUnreadInvariant(t, s)
}

func TestMarkAsReadEchoIsIdempotent(t *testing.T) {
	api := seed(4, 1)
	s := newStore(api)
	ctx := context.Background()
	require.NoError(t, s.FetchList(ctx, domain.DefaultFilter()))
	require.Equal(t, 4, s.UnreadCount())

	id := s.Items()[0].ID.String()
	require.NoError(t, s.MarkAsRead(ctx, id))
	assert.Equal(t, 3, s.UnreadCount())
	first := s.Items()[0]
	require.NotNil(t, first.ReadAt)

	later := time.Now().Add(time.Hour)
	s.HandleEvent(event(t, "notifications.read", domain.IDsPayload{IDs: []string{id}, At: &later}))

	assert.Equal(t, 3, s.UnreadCount())
	again := s.Items()[0]
	assert.True(t, again.IsRead)
	assert.Equal(t, *first.ReadAt, *again.ReadAt, "first read time is kept")
	assertUnreadInvariant(t, s)
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	api := seed(6, 0)
	api.all[0].Type = domain.TypeComment
	gate := make(chan struct{})
	api.block[string(domain.TypeSnippet)] = gate
	s := newStore(api)
	ctx := context.Background()

	older := domain.DefaultFilter()
	older.Type = string(domain.TypeSnippet)
	done := make(chan error, 1)
	go func() { done <- s.FetchList(ctx, older) }()
	require.Eventually(t, func() bool { return s.Snapshot().Loading }, time.Second, time.Millisecond)

	newer := domain.DefaultFilter()
	newer.Type = string(domain.TypeComment)
	require.NoError(t, s.FetchList(ctx, newer))

	close(gate)
	assert.ErrorIs(t, <-done, store.ErrStale)

	snap := s.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, domain.TypeComment, snap.Items[0].Type)
	assert.Equal(t, newer, snap.Filter)
	assert.False(t, snap.Loading)
}

func TestLoadingFlagIsResetOnFailure(t *testing.T) {
	api := seed(3, 0)
	api.listErr = &apiclient.Error{Status: http.StatusInternalServerError}
	s := newStore(api)

	err := s.FetchList(context.Background(), domain.DefaultFilter())
	require.Error(t, err)
	snap := s.Snapshot()
	assert.False(t, snap.Loading)
	assert.Error(t, snap.Err)

	api.set(func(f *fakeNotifications) { f.listErr = nil })
	require.NoError(t, s.FetchList(context.Background(), domain.DefaultFilter()))
	assert.NoError(t, s.Snapshot().Err)
}

func TestCreateRollsBackPlaceholderOnFailure(t *testing.T) {
	api := seed(2, 0)
	s := newStore(api)
	ctx := context.Background()
	require.NoError(t, s.FetchList(ctx, domain.DefaultFilter()))

	var sawPlaceholder bool
	s.OnChange(func(snap store.Snapshot[domain.Notification]) {
		for _, n := range snap.Items {
			if n.Status == domain.StatusPending {
				sawPlaceholder = true
			}
		}
	})
	api.createErr = &apiclient.Error{Status: http.StatusUnprocessableEntity, Message: "title is required"}

	_, err := s.Create(ctx, domain.CreateNotificationRequest{Type: domain.TypeSystem})
	require.Error(t, err)
	assert.True(t, apiclient.IsValidation(err))
	assert.True(t, sawPlaceholder)

	snap := s.Snapshot()
	assert.Len(t, snap.Items, 2)
	assert.Equal(t, 2, snap.TotalCount)
	for _, n := range snap.Items {
		assert.NotEqual(t, domain.StatusPending, n.Status)
	}
	assertUnreadInvariant(t, s)
}

func TestCreateConvergesWithEarlierRealtimeEcho(t *testing.T) {
	api := seed(1, 0)
	s := newStore(api)
	ctx := context.Background()
	require.NoError(t, s.FetchList(ctx, domain.DefaultFilter()))

	api.onCreate = func(n domain.Notification) {
		s.HandleEvent(event(t, "notifications.created", n))
	}
	created, err := s.Create(ctx, domain.CreateNotificationRequest{Type: domain.TypeSystem, Title: "hello"})
	require.NoError(t, err)

	items := s.Items()
	require.Len(t, items, 2)
	assert.Equal(t, created.ID, items[0].ID)
	assert.Equal(t, domain.StatusActive, items[0].Status)
	assert.Equal(t, 2, s.Snapshot().TotalCount)
	assertUnreadInvariant(t, s)
}

func TestOfflineCreateIsQueuedAndReplayed(t *testing.T) {
	net := connectivity.NewMonitor(false)
	q := retry.New(net)
	api := seed(0, 0)
	api.createErr = &apiclient.Error{Status: http.StatusServiceUnavailable}
	s := newStore(api, store.WithRetry(q))
	ctx := context.Background()

	_, err := s.Create(ctx, domain.CreateNotificationRequest{Type: domain.TypeSystem, Title: "later"})
	require.Error(t, err)
	assert.True(t, apiclient.IsRetryable(err))
	assert.Empty(t, s.Items(), "placeholder rolled back")
	assert.Equal(t, 1, q.Len())

	assert.Equal(t, 0, q.Drain(ctx), "offline drain does nothing")

	api.set(func(f *fakeNotifications) { f.createErr = nil })
	net.Set(true)
	assert.Equal(t, 1, q.Drain(ctx))

	assert.Equal(t, 0, q.Len())
	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "later", items[0].Title)
	assert.Equal(t, 1, s.UnreadCount())
}

func TestReplayRejectedByServerIsNotCountedAsSuccess(t *testing.T) {
	var dropped string
	q := retry.New(nil, retry.OnExhausted(func(key string, _ error) { dropped = key }))
	api := seed(0, 0)
	api.createErr = &apiclient.Error{Status: http.StatusServiceUnavailable}
	s := newStore(api, store.WithRetry(q))

	_, err := s.Create(context.Background(), domain.CreateNotificationRequest{Type: domain.TypeSystem, Title: "denied"})
	require.Error(t, err)
	require.Equal(t, 1, q.Len())

	api.set(func(f *fakeNotifications) { f.createErr = &apiclient.Error{Status: http.StatusForbidden} })
	assert.Equal(t, 0, q.Drain(context.Background()))
	assert.Equal(t, 0, q.Len())
	assert.Contains(t, dropped, "create")
	assert.Empty(t, s.Items())
}

func TestCreateForAnotherUserStaysOutOfTheList(t *testing.T) {
	api := seed(1, 0)
	s := store.New[domain.Notification, domain.CreateNotificationRequest, domain.UpdateNotificationRequest](api,
		store.Config[domain.Notification, domain.CreateNotificationRequest]{
			Resource:    domain.ResourceNotifications,
			Placeholder: domain.CreateNotificationRequest.Placeholder,
			Owner:       func(n domain.Notification) string { return n.UserID },
			User:        "alice",
		})
	ctx := context.Background()
	require.NoError(t, s.FetchList(ctx, domain.DefaultFilter()))

	var shown []int
	s.OnChange(func(snap store.Snapshot[domain.Notification]) { shown = append(shown, len(snap.Items)) })

	rec, err := s.Create(ctx, domain.CreateNotificationRequest{UserID: "bob", Type: domain.TypeShare, Title: "for bob"})
	require.NoError(t, err)
	assert.Equal(t, "bob", rec.UserID)
	assert.Len(t, s.Items(), 1)
	assert.Equal(t, 1, s.Snapshot().TotalCount)
	assert.NotContains(t, shown, 2, "no placeholder for another user's record")

	_, err = s.Create(ctx, domain.CreateNotificationRequest{UserID: "alice", Type: domain.TypeSystem, Title: "mine"})
	require.NoError(t, err)
	_, err = s.Create(ctx, domain.CreateNotificationRequest{Type: domain.TypeSystem, Title: "implicit"})
	require.NoError(t, err)
	assert.Len(t, s.Items(), 3)
	assertUnreadInvariant(t, s)
}

func TestPermanentFailureIsNotQueued(t *testing.T) {
	q := retry.New(nil)
	api := seed(1, 0)
	api.updateErr = &apiclient.Error{Status: http.StatusForbidden}
	s := newStore(api, store.WithRetry(q))

	archived := true
	_, err := s.Update(context.Background(), api.all[0].ID.String(), domain.UpdateNotificationRequest{Archived: &archived})
	require.Error(t, err)
	assert.Equal(t, 0, q.Len())
}

func TestUpdateAndDeleteKeepAllViewsInSync(t *testing.T) {
	api := seed(3, 1)
	s := newStore(api)
	ctx := context.Background()
	require.NoError(t, s.FetchList(ctx, domain.DefaultFilter()))

	id := s.Items()[1].ID.String()
	_, err := s.Get(ctx, id)
	require.NoError(t, err)
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, id, cur.ID.String())

	archived := true
	_, err = s.Update(ctx, id, domain.UpdateNotificationRequest{Archived: &archived})
	require.NoError(t, err)

	cur, _ = s.Current()
	assert.Equal(t, domain.StatusArchived, cur.Status)
	assert.Equal(t, domain.StatusArchived, s.Items()[1].Status)

	gets := api.getCalls
	fromCache, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, fromCache.Status)
	assert.Equal(t, gets, api.getCalls, "served from the item cache")

	require.NoError(t, s.MarkAsRead(ctx, id))
	cur, _ = s.Current()
	assert.True(t, cur.IsRead)

	require.NoError(t, s.Delete(ctx, id))
	_, ok = s.Current()
	assert.False(t, ok)
	assert.Len(t, s.Items(), 2)
	assert.Equal(t, 2, s.Snapshot().TotalCount)
	assertUnreadInvariant(t, s)
}

func TestHandleEventDropsBadDeltas(t *testing.T) {
	api := seed(2, 1)
	s := newStore(api)
	require.NoError(t, s.FetchList(context.Background(), domain.DefaultFilter()))
	before := s.Snapshot()

	s.HandleEvent(domain.Event{Type: "notifications.created", Data: json.RawMessage(`{"id":42}`)})
	s.HandleEvent(domain.Event{Type: "notifications.read"})
	s.HandleEvent(event(t, "messages.deleted", domain.IDsPayload{ID: before.Items[0].ID.String()}))
	s.HandleEvent(event(t, "notifications.pinned", domain.IDsPayload{ID: before.Items[0].ID.String()}))
	s.HandleEvent(domain.Event{Type: "garbage"})

	after := s.Snapshot()
	assert.Equal(t, before.Items, after.Items)
	assert.Equal(t, before.UnreadCount, after.UnreadCount)
}

func TestBindRoutesRegistryEvents(t *testing.T) {
	api := seed(1, 1)
	s := newStore(api)
	require.NoError(t, s.FetchList(context.Background(), domain.DefaultFilter()))

	reg := events.NewRegistry(nil)
	off := s.Bind(reg)
	assert.Len(t, reg.Types(), len(domain.Actions))

	reg.Emit(event(t, "notifications.read", domain.IDsPayload{ID: api.all[0].ID.String()}))
	assert.Equal(t, 0, s.UnreadCount())

	off()
	assert.Empty(t, reg.Types())
}

func TestFilterIsPersisted(t *testing.T) {
	prefs := newMemPrefs()
	api := seed(5, 0)
	s := newStore(api, store.WithPrefs(prefs))

	unread := false
	f := domain.DefaultFilter()
	f.IsRead = &unread
	f.PageSize = 10
	require.NoError(t, s.FetchList(context.Background(), f))

	reopened := newStore(api, store.WithPrefs(prefs))
	assert.Equal(t, f, reopened.Filter())

	prefs.corrupt["filter:notifications"] = true
	fallback := newStore(api, store.WithPrefs(prefs))
	assert.Equal(t, domain.DefaultFilter(), fallback.Filter())
}

func TestMessageDeliveredDelta(t *testing.T) {
	s := store.New[domain.Message, domain.CreateMessageRequest, domain.UpdateMessageRequest](nil,
		store.Config[domain.Message, domain.CreateMessageRequest]{Resource: domain.ResourceMessages})

	msg := domain.Message{ID: uuid.New(), Body: "hi", Status: domain.StatusSent}
	s.HandleEvent(event(t, "messages.created", msg))
	require.Equal(t, 1, s.UnreadCount())

	s.HandleEvent(event(t, "messages.delivered", domain.IDsPayload{ID: msg.ID.String()}))
	got := s.Items()[0]
	assert.Equal(t, domain.StatusDelivered, got.Status)
	assert.NotNil(t, got.DeliveredAt)
	assert.Equal(t, 1, s.UnreadCount(), "delivery is not reading")
}
