// Package handlers maps upstream Kafka events to notification fan-outs.
// Each file registers its events from init().
package handlers

import (
	"vn.io.arda/realtime/internal/kafka/registry"
)

// Register is a convenience alias so each domain file calls Register(...)
// instead of registry.Register(...), keeping imports minimal.
func Register(topic, eventType string, h registry.EventHandler) {
	registry.Register(topic, eventType, h)
}

// RegisterDirect registers a handler for topics that don't use eventType routing.
func RegisterDirect(topic string, h registry.EventHandler) {
	registry.Register(topic, "", h)
}

// Topic names consumed by the server.
const (
	TopicSnippetEvents        = "snippet-events"
	TopicMessageEvents        = "message-events"
	TopicNotificationCommands = "notification-commands"
)
