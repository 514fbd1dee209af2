package handlers

import (
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/kafka/registry"
	"vn.io.arda/realtime/internal/messages"
)

func init() {
	Register(TopicSnippetEvents, "SNIPPET_SHARED", handleSnippetShared)
	Register(TopicSnippetEvents, "SNIPPET_COMMENTED", handleSnippetCommented)
	Register(TopicSnippetEvents, "SNIPPET_FORKED", handleSnippetForked)
}

type snippetPayload struct {
	SnippetID    string `json:"snippetId"`
	SnippetTitle string `json:"snippetTitle"`
	OwnerID      string `json:"ownerId"`
	ActorName    string `json:"actorName"`
	// Share target: a sharing group or a single user.
	GroupID      string `json:"groupId"`
	TargetUserID string `json:"targetUserId"`
	// Comment events only.
	CommentID string `json:"commentId"`
	Comment   string `json:"comment"`
	// Fork events only.
	ForkID string `json:"forkId"`
}

func parseSnippet(data []byte) (*registry.Envelope, *snippetPayload, bool) {
	var p snippetPayload
	env, err := registry.ParseEnvelope(data, &p)
	if err != nil || env.TenantKey == "" || p.SnippetID == "" {
		return nil, nil, false
	}
	if p.ActorName == "" {
		p.ActorName = "Someone"
	}
	return env, &p, true
}

func (p *snippetPayload) metadata() map[string]any {
	m := map[string]any{"snippetId": p.SnippetID}
	if p.CommentID != "" {
		m["commentId"] = p.CommentID
	}
	if p.ForkID != "" {
		m["forkId"] = p.ForkID
	}
	return m
}

func handleSnippetShared(data []byte) *domain.FanoutInput {
	env, p, ok := parseSnippet(data)
	if !ok {
		return nil
	}
	scope, target := domain.ScopeUser, p.TargetUserID
	if p.GroupID != "" {
		scope, target = domain.ScopeGroup, p.GroupID
	}
	if target == "" {
		return nil
	}
	title, body := messages.SnippetShared(p.ActorName, p.SnippetTitle)
	return &domain.FanoutInput{
		TargetScope:   scope,
		TargetID:      target,
		TenantKey:     env.TenantKey,
		Type:          domain.TypeShare,
		Title:         title,
		Body:          body,
		Metadata:      p.metadata(),
		SourceEventID: env.EventID,
		OriginUserID:  env.ActorID,
	}
}

// handleSnippetCommented notifies the snippet owner.
func handleSnippetCommented(data []byte) *domain.FanoutInput {
	env, p, ok := parseSnippet(data)
	if !ok || p.OwnerID == "" {
		return nil
	}
	title, body := messages.SnippetCommented(p.ActorName, p.SnippetTitle, p.Comment)
	return &domain.FanoutInput{
		TargetScope:   domain.ScopeUser,
		TargetID:      p.OwnerID,
		TenantKey:     env.TenantKey,
		Type:          domain.TypeComment,
		Title:         title,
		Body:          body,
		Metadata:      p.metadata(),
		SourceEventID: env.EventID,
		OriginUserID:  env.ActorID,
	}
}

func handleSnippetForked(data []byte) *domain.FanoutInput {
	env, p, ok := parseSnippet(data)
	if !ok || p.OwnerID == "" {
		return nil
	}
	title, body := messages.SnippetForked(p.ActorName, p.SnippetTitle)
	return &domain.FanoutInput{
		TargetScope:   domain.ScopeUser,
		TargetID:      p.OwnerID,
		TenantKey:     env.TenantKey,
		Type:          domain.TypeSnippet,
		Title:         title,
		Body:          body,
		Metadata:      p.metadata(),
		SourceEventID: env.EventID,
		OriginUserID:  env.ActorID,
	}
}
