// Package realtime owns the client's single socket to the hub. It reconnects
// with capped exponential backoff and, after every (re)connect, restores the
// subscriptions and groups the application still holds.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/events"
	"vn.io.arda/realtime/internal/metrics"
)

// State is the connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrClosed       = errors.New("realtime: disconnected while dialing")
)

// Transport is one open socket. *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a Transport.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

type DialFunc func(ctx context.Context) (Transport, error)

func (f DialFunc) Dial(ctx context.Context) (Transport, error) { return f(ctx) }

type Config struct {
	HeartbeatInterval time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	DialTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = 60 * time.Second
		if c.MaxBackoff < c.InitialBackoff {
			c.MaxBackoff = c.InitialBackoff
		}
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// Manager implements events.Subscriber for its own registry.
type Manager struct {
	cfg     Config
	dialer  Dialer
	events  *events.Registry
	metrics *metrics.Metrics

	mu        sync.Mutex
	state     State
	conn      Transport
	cancel    context.CancelFunc
	timer     *time.Timer
	backoff   *backoff.ExponentialBackOff
	stopped   bool
	attempt   uint64
	groups    map[string]struct{}
	sent      map[string]struct{} // types subscribed on conn
	observers []func(State)

	writeMu sync.Mutex
}

type Option func(*Manager)

func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

func New(dialer Dialer, cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	m := &Manager{
		cfg:     cfg,
		dialer:  dialer,
		backoff: b,
		groups:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events = events.NewRegistry(m, events.WithMetrics(m.metrics))
	return m
}

// Events is the listener registry fed by this connection.
func (m *Manager) Events() *events.Registry { return m.events }

// On is shorthand for Events().On.
func (m *Manager) On(eventType string, fn events.Listener) func() {
	return m.events.On(eventType, fn)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers fn to observe every state transition.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Connect opens the socket. It is a no-op while connecting or connected, so
// concurrent attempts never overlap. A failed dial leaves the manager in the
// error state with a reconnect scheduled.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.stopped = false
	m.attempt++
	attempt := m.attempt
	m.stopTimerLocked()
	notify := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	notify()

	conn, err := m.dialer.Dial(ctx)

	m.mu.Lock()
	if m.stopped || m.attempt != attempt {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		if err != nil {
			return fmt.Errorf("dial realtime: %w", err)
		}
		return ErrClosed
	}
	if err != nil {
		notify = m.setStateLocked(StateError)
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		notify()
		log.Warn().Err(err).Msg("realtime dial failed")
		return fmt.Errorf("dial realtime: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	m.conn = conn
	m.sent = make(map[string]struct{})
	m.cancel = cancel
	m.backoff.Reset()
	groups := m.groupsLocked()
	notify = m.setStateLocked(StateConnected)
	m.mu.Unlock()
	notify()

	m.restore(conn, groups)
	go m.readLoop(sessCtx, conn)
	go m.heartbeatLoop(sessCtx, conn)

	log.Info().Int("subscriptions", len(m.events.Types())).Msg("realtime connected")
	return nil
}

// Disconnect tears the connection down and cancels any pending reconnect.
// Nothing reconnects until Connect is called again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	m.attempt++
	m.stopTimerLocked()
	conn := m.conn
	m.conn = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	notify := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	notify()

	if conn != nil {
		conn.Close()
		log.Info().Msg("realtime disconnected")
	}
}

// Subscribe asks the hub for eventType. While offline it does nothing; the
// type is restored from the registry on the next open.
func (m *Manager) Subscribe(eventType string) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil || !m.claim(conn, eventType) {
		return
	}
	if err := m.write(conn, domain.HubCommand{Action: domain.HubSubscribe, EventType: eventType}); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("realtime subscribe failed")
	}
}

func (m *Manager) Unsubscribe(eventType string) {
	m.mu.Lock()
	conn := m.conn
	_, sent := m.sent[eventType]
	delete(m.sent, eventType)
	m.mu.Unlock()
	if conn == nil || !sent {
		return
	}
	if err := m.write(conn, domain.HubCommand{Action: domain.HubUnsubscribe, EventType: eventType}); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("realtime unsubscribe failed")
	}
}

// claim records that eventType is about to be subscribed on conn. It reports
// false when conn is no longer live or the type was already sent on it.
func (m *Manager) claim(conn Transport, eventType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != conn || m.state != StateConnected {
		return false
	}
	if _, ok := m.sent[eventType]; ok {
		return false
	}
	m.sent[eventType] = struct{}{}
	return true
}

// JoinGroup adds this connection to a hub group. Membership is remembered
// and re-sent after reconnects.
func (m *Manager) JoinGroup(group string) error {
	m.mu.Lock()
	m.groups[group] = struct{}{}
	m.mu.Unlock()
	err := m.send(domain.HubCommand{Action: domain.HubJoinGroup, Group: group})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func (m *Manager) LeaveGroup(group string) error {
	m.mu.Lock()
	delete(m.groups, group)
	m.mu.Unlock()
	err := m.send(domain.HubCommand{Action: domain.HubLeaveGroup, Group: group})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// SendToUser relays an event of the given type to another user's connections.
func (m *Manager) SendToUser(userID, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return m.send(domain.HubCommand{Action: domain.HubSendToUser, UserID: userID, EventType: eventType, Data: raw})
}

// MarkNotificationAsRead asks the hub to mark notifications read; the
// confirmation arrives as a notifications.read event.
func (m *Manager) MarkNotificationAsRead(ids ...string) error {
	return m.send(domain.HubCommand{Action: domain.HubMarkRead, IDs: ids})
}

func (m *Manager) Heartbeat() error {
	return m.send(domain.HubCommand{Action: domain.HubHeartbeat})
}

func (m *Manager) send(cmd domain.HubCommand) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}
	return m.write(conn, cmd)
}

func (m *Manager) write(conn Transport, cmd domain.HubCommand) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(cmd)
}

// restore re-sends every active subscription and group on a fresh connection.
func (m *Manager) restore(conn Transport, groups []string) {
	for _, t := range m.events.Types() {
		if !m.claim(conn, t) {
			continue
		}
		if err := m.write(conn, domain.HubCommand{Action: domain.HubSubscribe, EventType: t}); err != nil {
			log.Warn().Err(err).Str("event_type", t).Msg("realtime resubscribe failed")
			return
		}
	}
	for _, g := range groups {
		if err := m.write(conn, domain.HubCommand{Action: domain.HubJoinGroup, Group: g}); err != nil {
			log.Warn().Err(err).Str("group", g).Msg("realtime rejoin failed")
			return
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Transport) {
	for {
		_, frame, err := conn.ReadMessage()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Msg("realtime connection lost")
			m.handleDrop(conn)
			return
		}
		var evt domain.Event
		if err := json.Unmarshal(frame, &evt); err != nil {
			log.Warn().Err(err).Int("bytes", len(frame)).Msg("dropping malformed realtime frame")
			continue
		}
		m.dispatch(evt)
	}
}

func (m *Manager) dispatch(evt domain.Event) {
	switch evt.Type {
	case "":
		log.Warn().Msg("dropping realtime frame without type")
	case domain.EventHeartbeatAck:
		log.Trace().Msg("heartbeat acknowledged")
	case domain.EventError:
		log.Warn().Str("data", string(evt.Data)).Msg("hub reported an error")
	default:
		m.events.Emit(evt)
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context, conn Transport) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Liveness is judged by the transport, not by missing acks.
			if err := m.write(conn, domain.HubCommand{Action: domain.HubHeartbeat}); err != nil {
				log.Debug().Err(err).Msg("heartbeat send failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) handleDrop(conn Transport) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	notify := m.setStateLocked(StateDisconnected)
	m.scheduleReconnectLocked()
	m.mu.Unlock()
	notify()
	conn.Close()
}

func (m *Manager) scheduleReconnectLocked() {
	if m.stopped || m.timer != nil {
		return
	}
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = m.cfg.MaxBackoff
	}
	m.timer = time.AfterFunc(delay, m.reconnect)
	log.Info().Dur("delay", delay).Msg("realtime reconnect scheduled")
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	m.timer = nil
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return
	}

	m.metrics.ReconnectAttempt()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	defer cancel()
	if err := m.Connect(ctx); err != nil {
		log.Debug().Err(err).Msg("realtime reconnect attempt failed")
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) groupsLocked() []string {
	groups := make([]string, 0, len(m.groups))
	for g := range m.groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// setStateLocked records s and returns a func that notifies observers; call
// it after releasing m.mu.
func (m *Manager) setStateLocked(s State) func() {
	if m.state == s {
		return func() {}
	}
	m.state = s
	observers := append([]func(State){}, m.observers...)
	return func() {
		for _, fn := range observers {
			fn(s)
		}
	}
}
