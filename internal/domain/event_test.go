package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/realtime/internal/domain"
)

func TestDecodeDelta_Created(t *testing.T) {
	n := domain.Notification{ID: uuid.New(), Title: "hello"}
	evt, err := domain.NewEvent(domain.EventType(domain.ResourceNotifications, domain.ActionCreated), n)
	require.NoError(t, err)

	d, err := domain.DecodeDelta[domain.Notification](evt)
	require.NoError(t, err)
	assert.Equal(t, domain.DeltaCreated, d.Kind)
	assert.Equal(t, domain.ResourceNotifications, d.Resource)
	assert.Equal(t, n.ID, d.Record.ID)
	assert.Equal(t, "hello", d.Record.Title)
}

func TestDecodeDelta_ReadMergesIDsAndUsesPayloadTime(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	evt, err := domain.NewEvent("messages.read", domain.IDsPayload{ID: "a", IDs: []string{"b"}, At: &at})
	require.NoError(t, err)

	d, err := domain.DecodeDelta[domain.Message](evt)
	require.NoError(t, err)
	assert.Equal(t, domain.DeltaRead, d.Kind)
	assert.Equal(t, []string{"a", "b"}, d.IDs)
	assert.True(t, at.Equal(d.At))
}

func TestDecodeDelta_UnknownTypeIsIgnored(t *testing.T) {
	d, err := domain.DecodeDelta[domain.Notification](domain.Event{Type: "presence"})
	require.NoError(t, err)
	assert.Equal(t, domain.DeltaUnknown, d.Kind)

	d, err = domain.DecodeDelta[domain.Notification](domain.Event{Type: "notifications.pinned", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, domain.DeltaUnknown, d.Kind)
}

func TestDecodeDelta_Malformed(t *testing.T) {
	tests := []struct {
		name string
		evt  domain.Event
	}{
		{"created without data", domain.Event{Type: "notifications.created"}},
		{"created with bad json", domain.Event{Type: "notifications.created", Data: json.RawMessage(`{"id":12}`)}},
		{"deleted without ids", domain.Event{Type: "notifications.deleted", Data: json.RawMessage(`{}`)}},
		{"read with wrong shape", domain.Event{Type: "notifications.read", Data: json.RawMessage(`[1,2]`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.DecodeDelta[domain.Notification](tt.evt)
			assert.ErrorIs(t, err, domain.ErrMalformedEvent)
		})
	}
}

func TestPageHasMore(t *testing.T) {
	assert.True(t, domain.Page[int]{Page: 1, PageSize: 20, TotalCount: 45}.HasMore())
	assert.True(t, domain.Page[int]{Page: 2, PageSize: 20, TotalCount: 45}.HasMore())
	assert.False(t, domain.Page[int]{Page: 3, PageSize: 20, TotalCount: 45}.HasMore())
	assert.False(t, domain.Page[int]{Page: 1, PageSize: 20, TotalCount: 20}.HasMore())
}

func TestFilterKeyIsDeterministic(t *testing.T) {
	read := false
	a := domain.Filter{Page: 2, PageSize: 10, IsRead: &read, Type: "SHARE"}
	b := a
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), a.WithPage(3).Key())
	assert.Equal(t, 10, a.Offset())
}

func TestFilterKeyEscapesValues(t *testing.T) {
	injected := domain.Filter{Page: 1, PageSize: 20, Type: "b&q=a"}
	split := domain.Filter{Page: 1, PageSize: 20, Type: "b", Search: "a"}
	assert.NotEqual(t, injected.Key(), split.Key())
	assert.NotContains(t, domain.Filter{Search: "a*b"}.Key(), "*", "keys never carry the cache wildcard")
}
