package handlers

import (
	"encoding/json"

	"vn.io.arda/realtime/internal/domain"
)

func init() {
	RegisterDirect(TopicNotificationCommands, handleDirectCommand)
}

// handleDirectCommand accepts a ready-made notification from another service.
func handleDirectCommand(data []byte) *domain.FanoutInput {
	var cmd struct {
		CommandID   string         `json:"commandId"`
		TenantKey   string         `json:"tenantKey"`
		TargetScope string         `json:"targetScope"`
		TargetID    string         `json:"targetId"`
		OriginID    string         `json:"originUserId"`
		Type        string         `json:"type"`
		Title       string         `json:"title"`
		Body        string         `json:"body"`
		Metadata    map[string]any `json:"metadata"`
	}

	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil
	}
	if cmd.TenantKey == "" || cmd.Title == "" {
		return nil
	}

	notifType := domain.NotificationType(cmd.Type)
	if !notifType.Valid() {
		notifType = domain.TypeCustom
	}

	scope := domain.TargetScope(cmd.TargetScope)
	switch scope {
	case domain.ScopeTenant:
	case domain.ScopeUser, domain.ScopeGroup:
		if cmd.TargetID == "" {
			return nil
		}
	default:
		if cmd.TargetID == "" {
			return nil
		}
		scope = domain.ScopeUser
	}

	return &domain.FanoutInput{
		TargetScope:   scope,
		TargetID:      cmd.TargetID,
		TenantKey:     cmd.TenantKey,
		Type:          notifType,
		Title:         cmd.Title,
		Body:          cmd.Body,
		Metadata:      cmd.Metadata,
		SourceEventID: cmd.CommandID,
		OriginUserID:  cmd.OriginID,
	}
}
