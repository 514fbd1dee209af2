package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vn.io.arda/realtime/internal/cache"
)

const defaultCacheTTL = 30 * time.Second

// Resolver implements application.MemberResolver by calling Keycloak Admin REST API.
// Each realm is a tenant; sharing groups are Keycloak groups within it.
type Resolver struct {
	adminURL     string // e.g. "http://keycloak:8080"
	adminRealm   string // realm used for admin login, usually "master"
	clientID     string
	clientSecret string

	httpClient *http.Client

	// Member lists are cached to avoid hammering Keycloak on every fan-out.
	// key: "tenant:<tenantKey>" | "group:<tenantKey>:<groupID>"
	cache    *cache.Cache
	cacheTTL time.Duration
}

type Option func(*Resolver)

// WithCacheTTL overrides the 30-second member cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(r *Resolver) { r.httpClient = hc }
}

// New creates a Keycloak Resolver.
func New(adminURL, adminRealm, clientID, clientSecret string, opts ...Option) *Resolver {
	r := &Resolver{
		adminURL:     strings.TrimRight(adminURL, "/"),
		adminRealm:   adminRealm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		cacheTTL:     defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = cache.New(r.cacheTTL, 2*r.cacheTTL)
	return r
}

// Run sweeps expired member lists until ctx is cancelled.
func (r *Resolver) Run(ctx context.Context) {
	r.cache.Run(ctx)
}

// keycloakUser is a minimal representation of a Keycloak user.
type keycloakUser struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// UsersByTenant returns all enabled user IDs in the given realm.
func (r *Resolver) UsersByTenant(ctx context.Context, tenantKey string) ([]string, error) {
	return r.members(ctx, "tenant:"+tenantKey,
		fmt.Sprintf("/admin/realms/%s/users?enabled=true&max=1000", url.PathEscape(tenantKey)))
}

// UsersByGroup returns the enabled members of a group within the given realm.
func (r *Resolver) UsersByGroup(ctx context.Context, tenantKey, groupID string) ([]string, error) {
	if groupID == "" {
		return nil, fmt.Errorf("keycloak group members: empty group id")
	}
	return r.members(ctx, "group:"+tenantKey+":"+groupID,
		fmt.Sprintf("/admin/realms/%s/groups/%s/members?max=1000", url.PathEscape(tenantKey), url.PathEscape(groupID)))
}

// Invalidate drops cached member lists of a tenant, e.g. after a membership change.
func (r *Resolver) Invalidate(tenantKey string) int {
	return r.cache.Invalidate("tenant:"+tenantKey) + r.cache.Invalidate("group:"+tenantKey+":*")
}

func (r *Resolver) members(ctx context.Context, cacheKey, path string) ([]string, error) {
	if ids, ok := cache.GetAs[[]string](r.cache, cacheKey); ok {
		return ids, nil
	}

	var users []keycloakUser
	if err := r.getJSON(ctx, path, &users); err != nil {
		return nil, err
	}
	ids := enabledIDs(users)
	r.cache.Set(cacheKey, ids, 0)
	return ids, nil
}

// --- internal helpers ---

func (r *Resolver) getJSON(ctx context.Context, path string, out any) error {
	token, err := r.adminToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.adminURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("keycloak GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("keycloak GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("keycloak GET %s: decode: %w", path, err)
	}
	return nil
}

// adminToken fetches a short-lived admin access token from Keycloak.
func (r *Resolver) adminToken(ctx context.Context) (string, error) {
	if tok, ok := cache.GetAs[string](r.cache, "admin-token"); ok {
		return tok, nil
	}

	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", r.adminURL, r.adminRealm)
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {r.clientID},
		"client_secret": {r.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("keycloak admin token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("keycloak admin token: status %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("keycloak returned empty access_token")
	}
	// Refresh ten seconds before Keycloak expires the token.
	if ttl := time.Duration(tok.ExpiresIn-10) * time.Second; ttl > 0 {
		r.cache.Set("admin-token", tok.AccessToken, ttl)
	}
	return tok.AccessToken, nil
}

func enabledIDs(users []keycloakUser) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.Enabled {
			ids = append(ids, u.ID)
		}
	}
	return ids
}
