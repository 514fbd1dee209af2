// Package session assembles one signed-in client: the shared cache, retry
// queue, connectivity monitor and realtime connection, and the notification,
// message and comment stores bound to them. Nothing here is global; tests and
// binaries each build their own Session.
package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/apiclient"
	"vn.io.arda/realtime/internal/cache"
	"vn.io.arda/realtime/internal/connectivity"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/metrics"
	"vn.io.arda/realtime/internal/prefs"
	"vn.io.arda/realtime/internal/realtime"
	"vn.io.arda/realtime/internal/retry"
	"vn.io.arda/realtime/internal/store"
)

type (
	NotificationStore = store.Store[domain.Notification, domain.CreateNotificationRequest, domain.UpdateNotificationRequest]
	MessageStore      = store.Store[domain.Message, domain.CreateMessageRequest, domain.UpdateMessageRequest]
	CommentStore      = store.Store[domain.Comment, domain.CreateCommentRequest, domain.UpdateCommentRequest]
)

type Config struct {
	BaseURL   string
	WSURL     string
	Token     string
	TenantKey string
	// UserID is the signed-in user; empty takes the token subject.
	UserID string
	// PrefsPath is the SQLite file for persisted filters; empty keeps them in memory only.
	PrefsPath string

	CacheTTL      time.Duration
	SweepInterval time.Duration
	DrainInterval time.Duration
	ProbeInterval time.Duration
	MaxRetries    int
	Realtime      realtime.Config
}

type Session struct {
	Cache         *cache.Cache
	Retry         *retry.Queue
	Net           *connectivity.Monitor
	Realtime      *realtime.Manager
	Notifications *NotificationStore
	Messages      *MessageStore
	Comments      *CommentStore

	cfg     Config
	prefs   *prefs.Store
	probe   connectivity.Probe
	unbinds []func()

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type options struct {
	metrics    *metrics.Metrics
	dialer     realtime.Dialer
	httpClient *http.Client
	probe      connectivity.Probe
}

type Option func(*options)

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d realtime.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithProbe replaces the default GET {BaseURL}/health reachability check.
func WithProbe(p connectivity.Probe) Option {
	return func(o *options) { o.probe = p }
}

func New(cfg Config, opts ...Option) (*Session, error) {
	o := options{httpClient: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = retry.DefaultDrainInterval
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 15 * time.Second
	}

	if cfg.UserID == "" {
		cfg.UserID = tokenSubject(cfg.Token)
	}
	s := &Session{cfg: cfg, probe: o.probe}

	if cfg.PrefsPath != "" {
		p, err := prefs.Open(cfg.PrefsPath)
		if err != nil {
			return nil, fmt.Errorf("open preferences: %w", err)
		}
		s.prefs = p
	}
	if s.probe == nil {
		s.probe = connectivity.HTTPProbe(o.httpClient, healthURL(cfg.BaseURL))
	}

	s.Cache = cache.New(cfg.CacheTTL, cfg.SweepInterval, cache.WithMetrics(o.metrics))
	s.Net = connectivity.NewMonitor(true)
	s.Retry = retry.New(s.Net, retry.WithMetrics(o.metrics))

	dialer := o.dialer
	if dialer == nil {
		dialer = realtime.WebSocketDialer{URL: cfg.WSURL, Token: cfg.Token, TenantKey: cfg.TenantKey}
	}
	s.Realtime = realtime.New(dialer, cfg.Realtime, realtime.WithMetrics(o.metrics))

	client := apiclient.New(cfg.BaseURL,
		apiclient.WithHTTPClient(o.httpClient),
		apiclient.WithToken(cfg.Token),
		apiclient.WithTenant(cfg.TenantKey),
	)
	storeOpts := []store.Option{store.WithCache(s.Cache), store.WithRetry(s.Retry)}
	if s.prefs != nil {
		storeOpts = append(storeOpts, store.WithPrefs(s.prefs))
	}

	s.Notifications = store.New[domain.Notification, domain.CreateNotificationRequest, domain.UpdateNotificationRequest](
		apiclient.NewResource[domain.Notification, domain.CreateNotificationRequest, domain.UpdateNotificationRequest](client, domain.ResourceNotifications),
		store.Config[domain.Notification, domain.CreateNotificationRequest]{
			Resource:    domain.ResourceNotifications,
			ListTTL:     cfg.CacheTTL,
			ItemTTL:     cfg.CacheTTL,
			MaxRetries:  cfg.MaxRetries,
			Placeholder: domain.CreateNotificationRequest.Placeholder,
			Owner:       func(n domain.Notification) string { return n.UserID },
			User:        cfg.UserID,
		}, storeOpts...)

	s.Messages = store.New[domain.Message, domain.CreateMessageRequest, domain.UpdateMessageRequest](
		apiclient.NewResource[domain.Message, domain.CreateMessageRequest, domain.UpdateMessageRequest](client, domain.ResourceMessages),
		store.Config[domain.Message, domain.CreateMessageRequest]{
			Resource:    domain.ResourceMessages,
			ListTTL:     cfg.CacheTTL,
			ItemTTL:     cfg.CacheTTL,
			MaxRetries:  cfg.MaxRetries,
			Placeholder: domain.CreateMessageRequest.Placeholder,
		}, storeOpts...)

	s.Comments = store.New[domain.Comment, domain.CreateCommentRequest, domain.UpdateCommentRequest](
		apiclient.NewResource[domain.Comment, domain.CreateCommentRequest, domain.UpdateCommentRequest](client, domain.ResourceComments),
		store.Config[domain.Comment, domain.CreateCommentRequest]{
			Resource:    domain.ResourceComments,
			ListTTL:     cfg.CacheTTL,
			ItemTTL:     cfg.CacheTTL,
			MaxRetries:  cfg.MaxRetries,
			Placeholder: domain.CreateCommentRequest.Placeholder,
		}, storeOpts...)

	reg := s.Realtime.Events()
	s.unbinds = append(s.unbinds,
		s.Notifications.Bind(reg),
		s.Messages.Bind(reg),
		s.Comments.Bind(reg),
	)

	s.Net.OnChange(s.onConnectivity)
	return s, nil
}

// Start launches the background loops and opens the realtime connection.
// A failed first dial is not an error: the manager keeps retrying.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(3)
	go func() { defer s.wg.Done(); s.Cache.Run(ctx) }()
	go func() { defer s.wg.Done(); s.Retry.Run(ctx, s.cfg.DrainInterval) }()
	go func() { defer s.wg.Done(); s.Net.Run(ctx, s.probe, s.cfg.ProbeInterval) }()

	if err := s.Realtime.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("realtime unavailable, will retry")
	}
}

// Close stops every loop, drops the connection and releases the preferences file.
func (s *Session) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	for _, off := range s.unbinds {
		off()
	}
	s.unbinds = nil
	s.Realtime.Disconnect()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if s.prefs != nil {
		return s.prefs.Close()
	}
	return nil
}

// onConnectivity replays queued work and reopens the socket as soon as the
// API is reachable again.
func (s *Session) onConnectivity(online bool) {
	if !online {
		return
	}
	s.Retry.Kick()

	s.mu.Lock()
	started := s.cancel != nil
	s.mu.Unlock()
	if !started {
		return
	}
	if st := s.Realtime.State(); st == realtime.StateDisconnected || st == realtime.StateError {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.Realtime.Connect(ctx); err != nil {
				log.Debug().Err(err).Msg("reconnect after connectivity change failed")
			}
		}()
	}
}

func healthURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	base = strings.TrimSuffix(base, "/api/v1")
	return base + "/health"
}

// tokenSubject reads the sub claim without verifying the signature.
func tokenSubject(token string) string {
	if token == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		log.Warn().Err(err).Msg("access token is not a JWT, user unknown")
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}
