package kafka

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/kafka/registry"

	// Blank imports trigger init() in each handler file,
	// registering all event handlers into the registry.
	_ "vn.io.arda/realtime/internal/kafka/handlers"
)

// Fanouter turns a resolved FanoutInput into stored and pushed notifications.
type Fanouter interface {
	Fanout(ctx context.Context, input domain.FanoutInput) error
}

// Consumer wraps the franz-go Kafka client.
type Consumer struct {
	client  *kgo.Client
	service Fanouter
}

// New creates a Consumer with the given brokers, group ID, and topics.
func New(brokers []string, groupID string, topics []string, svc Fanouter) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{client: client, service: svc}, nil
}

// Start begins polling Kafka and processing records. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	log.Info().Msg("kafka consumer started")

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("kafka fetch error")
		})

		fetches.EachRecord(func(r *kgo.Record) {
			process(ctx, c.service, r)
		})

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			log.Error().Err(err).Msg("kafka commit error")
		}
	}

	c.client.Close()
	log.Info().Msg("kafka consumer stopped")
}

// process dispatches a Kafka record to the registered handler via the registry,
// then calls Fanout on the result. Failures are logged; the offset is still
// committed because replaying a malformed or unresolvable event cannot succeed.
func process(ctx context.Context, svc Fanouter, r *kgo.Record) bool {
	log.Debug().
		Str("topic", r.Topic).
		Str("key", string(r.Key)).
		Msg("processing kafka record")

	// notification-commands doesn't use eventType routing
	fanout := registry.DispatchDirect(r.Topic, r.Value)
	if fanout == nil {
		fanout = registry.Dispatch(r.Topic, r.Value)
	}

	if fanout == nil {
		log.Debug().Str("topic", r.Topic).Msg("no handler matched, skipping")
		return false
	}

	if err := svc.Fanout(ctx, *fanout); err != nil {
		log.Error().Err(err).
			Str("topic", r.Topic).
			Str("scope", string(fanout.TargetScope)).
			Str("target_id", fanout.TargetID).
			Str("source_event_id", fanout.SourceEventID).
			Msg("failed to fan-out notification from kafka event")
		return false
	}
	return true
}
