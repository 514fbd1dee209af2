package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a direct message between two users.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	RecipientID    string     `json:"recipient_id"`
	Body           string     `json:"body"`
	Status         Status     `json:"status"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (m Message) RecordID() string { return m.ID.String() }

func (m Message) Unread() bool { return !m.IsRead }

func (m Message) AsRead(at time.Time) Message {
	if m.IsRead {
		return m
	}
	m.IsRead = true
	m.ReadAt = &at
	if m.DeliveredAt == nil {
		m.DeliveredAt = &at
	}
	return m
}

// AsDelivered records delivery to the recipient's device.
func (m Message) AsDelivered(at time.Time) Message {
	if m.DeliveredAt != nil {
		return m
	}
	m.DeliveredAt = &at
	if m.Status != StatusArchived {
		m.Status = StatusDelivered
	}
	return m
}

type CreateMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	RecipientID    string `json:"recipient_id"`
	Body           string `json:"body"`
}

// Placeholder renders an outgoing message as pending until the server echoes it.
// Outgoing messages are never unread for their sender.
func (r CreateMessageRequest) Placeholder(id uuid.UUID, now time.Time) Message {
	return Message{
		ID:             id,
		ConversationID: r.ConversationID,
		RecipientID:    r.RecipientID,
		Body:           r.Body,
		Status:         StatusPending,
		IsRead:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

type UpdateMessageRequest struct {
	Body   *string `json:"body,omitempty"`
	Status *Status `json:"status,omitempty"`
}
