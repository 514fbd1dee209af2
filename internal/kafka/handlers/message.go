package handlers

import (
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/kafka/registry"
	"vn.io.arda/realtime/internal/messages"
)

func init() {
	Register(TopicMessageEvents, "MESSAGE_SENT", handleMessageSent)
}

func handleMessageSent(data []byte) *domain.FanoutInput {
	var p struct {
		MessageID   string `json:"messageId"`
		ThreadID    string `json:"threadId"`
		RecipientID string `json:"recipientId"`
		SenderName  string `json:"senderName"`
		Content     string `json:"content"`
	}
	env, err := registry.ParseEnvelope(data, &p)
	if err != nil || env.TenantKey == "" || p.RecipientID == "" || p.MessageID == "" {
		return nil
	}
	if p.SenderName == "" {
		p.SenderName = "Someone"
	}

	title, body := messages.MessageReceived(p.SenderName, p.Content)
	meta := map[string]any{"messageId": p.MessageID}
	if p.ThreadID != "" {
		meta["threadId"] = p.ThreadID
	}
	return &domain.FanoutInput{
		TargetScope:   domain.ScopeUser,
		TargetID:      p.RecipientID,
		TenantKey:     env.TenantKey,
		Type:          domain.TypeMessage,
		Title:         title,
		Body:          body,
		Metadata:      meta,
		SourceEventID: env.EventID,
		OriginUserID:  env.ActorID,
	}
}
