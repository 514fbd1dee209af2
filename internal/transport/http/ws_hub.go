package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxCommandSize = 64 << 10
	markReadWait   = 10 * time.Second
)

// Router carries hub deliveries, possibly across server instances.
type Router interface {
	Publish(tenantKey, userID string, evt domain.Event)
	PublishGroup(tenantKey, group string, evt domain.Event)
}

// ReadMarker marks notifications read on behalf of a connected user.
type ReadMarker interface {
	MarkRead(ctx context.Context, ids []string, tenantKey, userID string) ([]string, error)
}

type HubConfig struct {
	// SendBuffer is the per-connection outbound queue; a full queue skips the event.
	SendBuffer int
	// RateLimit and RateBurst bound inbound commands per connection.
	RateLimit float64
	RateBurst int
	// PingInterval is how often the server pings; a peer silent for twice that is dropped.
	PingInterval time.Duration
}

func (c HubConfig) withDefaults() HubConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 40
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	return c
}

// Client is one realtime connection. It only receives the event types it
// subscribed to; direct replies (heartbeat acks, errors) always go through.
type Client struct {
	hub       *Hub
	tenantKey string
	userID    string
	conn      *websocket.Conn
	send      chan domain.Event
	limiter   *rate.Limiter

	mu     sync.Mutex
	subs   map[string]struct{}
	groups map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func (c *Client) wants(eventType string) bool {
	if eventType == domain.EventHeartbeatAck || eventType == domain.EventError {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[eventType]
	return ok
}

// enqueue never blocks; false means the client is too slow and the event was skipped.
func (c *Client) enqueue(evt domain.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub manages all active realtime connections of this instance.
type Hub struct {
	cfg      HubConfig
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[string]map[*Client]struct{} // tenant -> userID -> clients
	groups  map[string]map[*Client]struct{}            // tenant/group -> clients
	router  Router
	marker  ReadMarker
}

type HubOption func(*Hub)

func WithHubMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a new WebSocket Hub. Until SetRouter is called, client
// sendToUser commands are delivered locally.
func NewHub(cfg HubConfig, opts ...HubOption) *Hub {
	h := &Hub{
		cfg:     cfg.withDefaults(),
		clients: make(map[string]map[string]map[*Client]struct{}),
		groups:  make(map[string]map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origins are enforced by the CORS policy and the bearer token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.router = h
	return h
}

// SetRouter routes client-initiated deliveries through r (e.g. the Redis relay).
func (h *Hub) SetRouter(r Router) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.router = r
}

// SetReadMarker enables the markNotificationAsRead command.
func (h *Hub) SetReadMarker(m ReadMarker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.marker = m
}

func groupKey(tenantKey, group string) string {
	return tenantKey + "/" + group
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	users := h.clients[c.tenantKey]
	if users == nil {
		users = make(map[string]map[*Client]struct{})
		h.clients[c.tenantKey] = users
	}
	if users[c.userID] == nil {
		users[c.userID] = make(map[*Client]struct{})
	}
	users[c.userID][c] = struct{}{}
	h.metrics.HubConnected()

	log.Debug().Str("tenant", c.tenantKey).Str("user", c.userID).Msg("realtime client connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if users := h.clients[c.tenantKey]; users != nil {
		if set := users[c.userID]; set != nil {
			if _, ok := set[c]; ok {
				delete(set, c)
				h.metrics.HubDisconnected()
			}
			if len(set) == 0 {
				delete(users, c.userID)
			}
		}
		if len(users) == 0 {
			delete(h.clients, c.tenantKey)
		}
	}

	c.mu.Lock()
	for g := range c.groups {
		h.leaveLocked(groupKey(c.tenantKey, g), c)
	}
	c.groups = nil
	c.mu.Unlock()

	log.Debug().Str("tenant", c.tenantKey).Str("user", c.userID).Msg("realtime client disconnected")
}

func (h *Hub) join(c *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := groupKey(c.tenantKey, group)
	if h.groups[key] == nil {
		h.groups[key] = make(map[*Client]struct{})
	}
	h.groups[key][c] = struct{}{}

	c.mu.Lock()
	if c.groups != nil {
		c.groups[group] = struct{}{}
	}
	c.mu.Unlock()
}

func (h *Hub) leave(c *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(groupKey(c.tenantKey, group), c)

	c.mu.Lock()
	delete(c.groups, group)
	c.mu.Unlock()
}

func (h *Hub) leaveLocked(key string, c *Client) {
	set := h.groups[key]
	delete(set, c)
	if len(set) == 0 {
		delete(h.groups, key)
	}
}

// Publish delivers evt to every local connection of a user that subscribed to its type.
// It satisfies application.Publisher.
func (h *Hub) Publish(tenantKey, userID string, evt domain.Event) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[tenantKey][userID]))
	for c := range h.clients[tenantKey][userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.deliver(targets, evt)
}

// PublishGroup delivers evt to every local connection that joined the group.
func (h *Hub) PublishGroup(tenantKey, group string, evt domain.Event) {
	h.mu.RLock()
	set := h.groups[groupKey(tenantKey, group)]
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.deliver(targets, evt)
}

func (h *Hub) deliver(targets []*Client, evt domain.Event) {
	for _, c := range targets {
		if !c.wants(evt.Type) {
			continue
		}
		if c.enqueue(evt) {
			h.metrics.Delivered(evt.Type)
			continue
		}
		h.metrics.Dropped(evt.Type)
		// Client is slow/disconnected, skip
		log.Warn().Str("user", c.userID).Str("type", evt.Type).Msg("realtime send buffer full, skipping")
	}
}

// ConnectedCount returns the total number of connected realtime clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, users := range h.clients {
		for _, set := range users {
			total += len(set)
		}
	}
	return total
}

// Serve upgrades the request and runs the connection until the peer goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, tenantKey, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := h.newClient(conn, tenantKey, userID)
	h.register(c)
	defer h.unregister(c)

	go c.writePump(h.cfg.PingInterval)
	c.readPump(r.Context(), 2*h.cfg.PingInterval)
	c.close()
	return nil
}

func (h *Hub) newClient(conn *websocket.Conn, tenantKey, userID string) *Client {
	return &Client{
		hub:       h,
		tenantKey: tenantKey,
		userID:    userID,
		conn:      conn,
		send:      make(chan domain.Event, h.cfg.SendBuffer),
		limiter:   rate.NewLimiter(rate.Limit(h.cfg.RateLimit), h.cfg.RateBurst),
		subs:      make(map[string]struct{}),
		groups:    make(map[string]struct{}),
		done:      make(chan struct{}),
	}
}

func (c *Client) readPump(ctx context.Context, pongWait time.Duration) {
	c.conn.SetReadLimit(maxCommandSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("user", c.userID).Msg("realtime connection closed unexpectedly")
			}
			return
		}
		// Any inbound frame proves the peer is alive.
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd domain.HubCommand
		if err := json.Unmarshal(frame, &cmd); err != nil {
			c.reply(domain.EventError, map[string]string{"message": "malformed command"})
			continue
		}

		if !c.limiter.Allow() {
			c.reply(domain.EventError, map[string]string{"message": "rate limit exceeded", "action": string(cmd.Action)})
			continue
		}
		c.handle(ctx, cmd)
	}
}

func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case evt := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Client) handle(ctx context.Context, cmd domain.HubCommand) {
	switch cmd.Action {
	case domain.HubSubscribe, domain.HubUnsubscribe:
		if cmd.EventType == "" {
			c.fail(cmd, "eventType is required")
			return
		}
		c.mu.Lock()
		if cmd.Action == domain.HubSubscribe {
			c.subs[cmd.EventType] = struct{}{}
		} else {
			delete(c.subs, cmd.EventType)
		}
		c.mu.Unlock()

	case domain.HubHeartbeat:
		c.reply(domain.EventHeartbeatAck, nil)

	case domain.HubJoinGroup, domain.HubLeaveGroup:
		if cmd.Group == "" {
			c.fail(cmd, "group is required")
			return
		}
		if cmd.Action == domain.HubJoinGroup {
			c.hub.join(c, cmd.Group)
		} else {
			c.hub.leave(c, cmd.Group)
		}

	case domain.HubSendToUser:
		c.relay(cmd)

	case domain.HubMarkRead:
		c.markRead(ctx, cmd)

	default:
		c.fail(cmd, "unknown action")
	}
}

// relay forwards a peer-to-peer event to a user, or to a group when Group is set.
// Record events are server-authoritative and cannot be sent by clients.
func (c *Client) relay(cmd domain.HubCommand) {
	switch {
	case cmd.EventType == "":
		c.fail(cmd, "eventType is required")
		return
	case strings.HasPrefix(cmd.EventType, string(domain.ResourceNotifications)+"."),
		cmd.EventType == domain.EventHeartbeatAck, cmd.EventType == domain.EventError:
		c.fail(cmd, "event type is reserved")
		return
	case cmd.UserID == "" && cmd.Group == "":
		c.fail(cmd, "userId or group is required")
		return
	}

	evt := domain.Event{Type: cmd.EventType, Data: cmd.Data, Timestamp: time.Now().UTC()}
	c.hub.mu.RLock()
	router := c.hub.router
	c.hub.mu.RUnlock()

	if cmd.Group != "" {
		router.PublishGroup(c.tenantKey, cmd.Group, evt)
		return
	}
	router.Publish(c.tenantKey, cmd.UserID, evt)
}

func (c *Client) markRead(ctx context.Context, cmd domain.HubCommand) {
	c.hub.mu.RLock()
	marker := c.hub.marker
	c.hub.mu.RUnlock()

	if marker == nil {
		c.fail(cmd, "not supported")
		return
	}
	if len(cmd.IDs) == 0 {
		c.fail(cmd, "ids are required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, markReadWait)
	defer cancel()
	// The resulting notifications.read event is published by the service.
	if _, err := marker.MarkRead(ctx, cmd.IDs, c.tenantKey, c.userID); err != nil {
		log.Warn().Err(err).Str("user", c.userID).Msg("realtime mark-read failed")
		c.fail(cmd, "mark read failed")
	}
}

func (c *Client) fail(cmd domain.HubCommand, msg string) {
	c.reply(domain.EventError, map[string]string{"message": msg, "action": string(cmd.Action)})
}

func (c *Client) reply(eventType string, data any) {
	var evt domain.Event
	if data == nil {
		evt = domain.Event{Type: eventType, Timestamp: time.Now().UTC()}
	} else {
		var err error
		if evt, err = domain.NewEvent(eventType, data); err != nil {
			return
		}
	}
	if !c.enqueue(evt) {
		log.Debug().Str("user", c.userID).Str("type", eventType).Msg("reply dropped, send buffer full")
	}
}
