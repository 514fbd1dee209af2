package application

import (
	"context"

	"vn.io.arda/realtime/internal/domain"
)

// MemberResolver resolves a TargetScope to concrete user IDs.
// The default implementation calls the Keycloak Admin REST API.
type MemberResolver interface {
	// UsersByTenant returns all active user IDs in the given tenant realm.
	UsersByTenant(ctx context.Context, tenantKey string) ([]string, error)

	// UsersByGroup returns the members of a sharing group within a tenant realm.
	UsersByGroup(ctx context.Context, tenantKey, groupID string) ([]string, error)
}

// Publisher delivers a realtime event to every live connection of one user.
// Implementations must not block.
type Publisher interface {
	Publish(tenantKey, userID string, evt domain.Event)
}
