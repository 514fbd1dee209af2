package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/kafka/handlers"
)

type fanoutFunc func(context.Context, domain.FanoutInput) error

func (f fanoutFunc) Fanout(ctx context.Context, in domain.FanoutInput) error { return f(ctx, in) }

func TestProcessRoutesRecords(t *testing.T) {
	var got []domain.FanoutInput
	svc := fanoutFunc(func(_ context.Context, in domain.FanoutInput) error {
		got = append(got, in)
		return nil
	})
	ctx := context.Background()

	assert.True(t, process(ctx, svc, &kgo.Record{
		Topic: handlers.TopicMessageEvents,
		Value: []byte(`{"eventType":"MESSAGE_SENT","eventId":"e1","tenantKey":"acme","payload":{"messageId":"m1","recipientId":"bob","content":"hi"}}`),
	}))
	assert.True(t, process(ctx, svc, &kgo.Record{
		Topic: handlers.TopicNotificationCommands,
		Value: []byte(`{"commandId":"c1","tenantKey":"acme","targetId":"bob","title":"ping"}`),
	}))
	assert.False(t, process(ctx, svc, &kgo.Record{
		Topic: handlers.TopicSnippetEvents,
		Value: []byte(`{"eventType":"SNIPPET_DELETED","tenantKey":"acme"}`),
	}))

	require.Len(t, got, 2)
	assert.Equal(t, domain.TypeMessage, got[0].Type)
	assert.Equal(t, "c1", got[1].SourceEventID)
}

func TestProcessReportsFanoutFailure(t *testing.T) {
	svc := fanoutFunc(func(context.Context, domain.FanoutInput) error { return errors.New("db down") })
	assert.False(t, process(context.Background(), svc, &kgo.Record{
		Topic: handlers.TopicNotificationCommands,
		Value: []byte(`{"tenantKey":"acme","targetScope":"TENANT","title":"ping"}`),
	}))
}
