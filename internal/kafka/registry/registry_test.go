package registry_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/kafka/registry"
)

func makeJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func TestRegisterAndDispatch(t *testing.T) {
	called := false
	registry.Register("test-topic", "TEST_EVENT", func(data []byte) *domain.FanoutInput {
		called = true
		return &domain.FanoutInput{Title: "test"}
	})

	result := registry.Dispatch("test-topic", makeJSON(map[string]string{
		"eventType": "TEST_EVENT",
	}))

	assert.True(t, called, "handler was not called")
	require.NotNil(t, result)
	assert.Equal(t, "test", result.Title)
}

func TestDispatch_UnknownEvent_ReturnsNil(t *testing.T) {
	assert.Nil(t, registry.Dispatch("test-topic", makeJSON(map[string]string{"eventType": "UNKNOWN_EVENT_XYZ"})))
}

func TestDispatch_InvalidJSON_ReturnsNil(t *testing.T) {
	assert.Nil(t, registry.Dispatch("test-topic", []byte("not json")))
}

func TestDispatchDirect(t *testing.T) {
	registry.Register("direct-topic", "", func(data []byte) *domain.FanoutInput {
		return &domain.FanoutInput{Title: "direct"}
	})

	result := registry.DispatchDirect("direct-topic", []byte(`{}`))
	require.NotNil(t, result)
	assert.Equal(t, "direct", result.Title)
	assert.Nil(t, registry.DispatchDirect("other-topic", []byte(`{}`)))
}

func TestRegister_DuplicatePanics(t *testing.T) {
	registry.Register("dupe-topic", "DUPE_EVENT", func(_ []byte) *domain.FanoutInput { return nil })
	assert.Panics(t, func() {
		registry.Register("dupe-topic", "DUPE_EVENT", func(_ []byte) *domain.FanoutInput { return nil })
	})
}

func TestParseEnvelope(t *testing.T) {
	var payload struct {
		SnippetID string `json:"snippetId"`
	}
	env, err := registry.ParseEnvelope([]byte(`{"eventType":"X","eventId":"e1","tenantKey":"acme","actorId":"u1","payload":{"snippetId":"s1"}}`), &payload)
	require.NoError(t, err)
	assert.Equal(t, "e1", env.EventID)
	assert.Equal(t, "u1", env.ActorID)
	assert.Equal(t, "s1", payload.SnippetID)

	_, err = registry.ParseEnvelope([]byte(`{"payload":[1]}`), &payload)
	assert.Error(t, err)
}
