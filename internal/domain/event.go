package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Resource names a synchronized record collection.
type Resource string

const (
	ResourceNotifications Resource = "notifications"
	ResourceMessages      Resource = "messages"
	ResourceComments      Resource = "comments"
)

// Action is the change an event announces.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionRead      Action = "read"
	ActionDelivered Action = "delivered"
)

// Actions is the fixed set of record actions a store listens to.
var Actions = []Action{ActionCreated, ActionUpdated, ActionDeleted, ActionRead, ActionDelivered}

// Hub-level event types that are not record deltas.
const (
	EventHeartbeatAck = "heartbeat.ack"
	EventError        = "error"
)

// EventType qualifies an action with its resource, e.g. "notifications.created".
func EventType(r Resource, a Action) string {
	return string(r) + "." + string(a)
}

// SplitEventType is the inverse of EventType.
func SplitEventType(t string) (Resource, Action, bool) {
	r, a, ok := strings.Cut(t, ".")
	if !ok || r == "" || a == "" {
		return "", "", false
	}
	return Resource(r), Action(a), true
}

// Event is the envelope of every server push: {type, data, timestamp}.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent marshals data into an event of the given type stamped with the current time.
func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return Event{Type: eventType, Data: raw, Timestamp: time.Now().UTC()}, nil
}

// IDsPayload is the data of deleted/read/delivered events.
type IDsPayload struct {
	ID  string     `json:"id,omitempty"`
	IDs []string   `json:"ids,omitempty"`
	At  *time.Time `json:"at,omitempty"`
}

// All merges the single and batch id forms.
func (p IDsPayload) All() []string {
	if p.ID == "" {
		return p.IDs
	}
	return append([]string{p.ID}, p.IDs...)
}

// DeltaKind discriminates the variants of Delta.
type DeltaKind int

const (
	DeltaUnknown DeltaKind = iota
	DeltaCreated
	DeltaUpdated
	DeltaDeleted
	DeltaRead
	DeltaDelivered
)

// Delta is a decoded server push. Created and Updated carry Record;
// Deleted, Read and Delivered carry IDs and At. Unknown is ignored by consumers.
type Delta[T any] struct {
	Kind     DeltaKind
	Resource Resource
	Record   T
	IDs      []string
	At       time.Time
}

var ErrMalformedEvent = errors.New("malformed event")

// DecodeDelta turns an event envelope into a typed delta. Event types outside
// the record actions decode to DeltaUnknown without error.
func DecodeDelta[T any](evt Event) (Delta[T], error) {
	var d Delta[T]
	res, action, ok := SplitEventType(evt.Type)
	if !ok {
		return d, nil
	}
	d.Resource = res
	d.At = evt.Timestamp

	switch action {
	case ActionCreated, ActionUpdated:
		if len(evt.Data) == 0 {
			return d, fmt.Errorf("%w: %s without record", ErrMalformedEvent, evt.Type)
		}
		if err := json.Unmarshal(evt.Data, &d.Record); err != nil {
			return d, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, evt.Type, err)
		}
		d.Kind = DeltaCreated
		if action == ActionUpdated {
			d.Kind = DeltaUpdated
		}
	case ActionDeleted, ActionRead, ActionDelivered:
		var p IDsPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return d, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, evt.Type, err)
		}
		d.IDs = p.All()
		if len(d.IDs) == 0 {
			return d, fmt.Errorf("%w: %s without ids", ErrMalformedEvent, evt.Type)
		}
		if p.At != nil {
			d.At = *p.At
		}
		switch action {
		case ActionDeleted:
			d.Kind = DeltaDeleted
		case ActionRead:
			d.Kind = DeltaRead
		default:
			d.Kind = DeltaDelivered
		}
	}
	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}
	return d, nil
}

// HubAction names a client → hub RPC.
type HubAction string

const (
	HubSubscribe   HubAction = "subscribe"
	HubUnsubscribe HubAction = "unsubscribe"
	HubHeartbeat   HubAction = "heartbeat"
	HubJoinGroup   HubAction = "joinGroup"
	HubLeaveGroup  HubAction = "leaveGroup"
	HubSendToUser  HubAction = "sendToUser"
	HubMarkRead    HubAction = "markNotificationAsRead"
)

// HubCommand is the frame a client sends over the realtime socket.
type HubCommand struct {
	Action    HubAction       `json:"action"`
	EventType string          `json:"eventType,omitempty"`
	Group     string          `json:"group,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	IDs       []string        `json:"ids,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}
