// Package redis relays hub deliveries between server instances over Redis pub/sub.
// Every instance publishes to one channel and replays what it receives,
// including its own messages, into its local hub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/domain"
)

const (
	publishTimeout = 2 * time.Second
	outboxSize     = 1024
)

// Local is the in-process hub the relay replays into.
type Local interface {
	Publish(tenantKey, userID string, evt domain.Event)
	PublishGroup(tenantKey, group string, evt domain.Event)
}

// envelope is the wire format on the relay channel.
type envelope struct {
	TenantKey string       `json:"tenantKey"`
	UserID    string       `json:"userId,omitempty"`
	Group     string       `json:"group,omitempty"`
	Event     domain.Event `json:"event"`
}

type Relay struct {
	client  *redis.Client
	channel string
	local   Local
	outbox  chan envelope
}

// Connect parses url, pings the server and returns a relay publishing on channel.
func Connect(ctx context.Context, url, channel string, local Local) (*Relay, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return New(client, channel, local), nil
}

func New(client *redis.Client, channel string, local Local) *Relay {
	return &Relay{
		client:  client,
		channel: channel,
		local:   local,
		outbox:  make(chan envelope, outboxSize),
	}
}

// Publish queues a delivery to one user on every instance. It never blocks:
// when the outbox is full the event is delivered locally only.
func (r *Relay) Publish(tenantKey, userID string, evt domain.Event) {
	r.enqueue(envelope{TenantKey: tenantKey, UserID: userID, Event: evt})
}

// PublishGroup queues a delivery to a group on every instance.
func (r *Relay) PublishGroup(tenantKey, group string, evt domain.Event) {
	r.enqueue(envelope{TenantKey: tenantKey, Group: group, Event: evt})
}

func (r *Relay) enqueue(env envelope) {
	select {
	case r.outbox <- env:
	default:
		log.Warn().Str("type", env.Event.Type).Msg("redis relay outbox full, delivering locally only")
		r.apply(env)
	}
}

// Run publishes queued deliveries and replays the channel into the local hub
// until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription so our own first publishes come back to us.
	if _, err := sub.Receive(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("channel", r.channel).Msg("redis relay subscribe failed")
	}
	msgs := sub.Channel()
	log.Info().Str("channel", r.channel).Msg("redis relay started")

	for {
		select {
		case env := <-r.outbox:
			r.publish(ctx, env)
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			r.receive(msg.Payload)
		case <-ctx.Done():
			log.Info().Msg("redis relay stopped")
			return
		}
	}
}

func (r *Relay) publish(ctx context.Context, env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("type", env.Event.Type).Msg("redis relay encode failed")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		log.Warn().Err(err).Str("type", env.Event.Type).Msg("redis publish failed, delivering locally only")
		r.apply(env)
	}
}

func (r *Relay) receive(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.Warn().Err(err).Msg("redis relay dropped malformed message")
		return
	}
	r.apply(env)
}

func (r *Relay) apply(env envelope) {
	switch {
	case env.TenantKey == "" || env.Event.Type == "":
		log.Warn().Msg("redis relay dropped incomplete message")
	case env.Group != "":
		r.local.PublishGroup(env.TenantKey, env.Group, env.Event)
	case env.UserID != "":
		r.local.Publish(env.TenantKey, env.UserID, env.Event)
	}
}

func (r *Relay) Close() error {
	return r.client.Close()
}
