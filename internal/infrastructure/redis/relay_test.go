package redis

import (
	"encoding/json"
	"sync"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/realtime/internal/domain"
)

type delivery struct {
	tenant, user, group, typ string
}

type recorder struct {
	mu  sync.Mutex
	out []delivery
}

func (r *recorder) Publish(tenantKey, userID string, evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, delivery{tenant: tenantKey, user: userID, typ: evt.Type})
}

func (r *recorder) PublishGroup(tenantKey, group string, evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, delivery{tenant: tenantKey, group: group, typ: evt.Type})
}

func newRelay(local Local) *Relay {
	return New(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}), "test", local)
}

func TestReceiveRoutesEnvelopes(t *testing.T) {
	local := &recorder{}
	r := newRelay(local)

	evt, err := domain.NewEvent("notifications.created", map[string]string{"id": "n1"})
	require.NoError(t, err)
	for _, env := range []envelope{
		{TenantKey: "acme", UserID: "u1", Event: evt},
		{TenantKey: "acme", Group: "g1", Event: evt},
		{UserID: "u1", Event: evt},
	} {
		raw, err := json.Marshal(env)
		require.NoError(t, err)
		r.receive(string(raw))
	}
	r.receive("not json")

	assert.Equal(t, []delivery{
		{tenant: "acme", user: "u1", typ: "notifications.created"},
		{tenant: "acme", group: "g1", typ: "notifications.created"},
	}, local.out)
}

func TestFullOutboxDeliversLocally(t *testing.T) {
	local := &recorder{}
	r := newRelay(local)
	r.outbox = make(chan envelope, 1)

	r.Publish("acme", "u1", domain.Event{Type: "x"})
	assert.Empty(t, local.out, "queued for redis")

	r.PublishGroup("acme", "g1", domain.Event{Type: "y"})
	assert.Equal(t, []delivery{{tenant: "acme", group: "g1", typ: "y"}}, local.out)
}
