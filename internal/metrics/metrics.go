// Package metrics holds the prometheus instruments shared by the server and the sync client.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "arda_realtime"

// Metrics holds all application metrics
type Metrics struct {
	// Hub (server) metrics
	HubConnections  prometheus.Gauge
	EventsDelivered *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec

	// Sync client metrics
	EventsDispatched *prometheus.CounterVec
	ListenerFailures *prometheus.CounterVec
	RetryOutcomes    *prometheus.CounterVec
	RetryQueueSize   prometheus.Gauge
	Reconnects       prometheus.Counter
	CacheLookups     *prometheus.CounterVec
}

// New creates all metrics and registers them with reg. A nil reg yields
// working but unregistered instruments.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HubConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Current number of connected realtime clients",
		}),
		EventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_delivered_total",
			Help:      "Events queued to client connections",
		}, []string{"event_type"}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_dropped_total",
			Help:      "Events skipped because a client send buffer was full",
		}, []string{"event_type"}),

		EventsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "events_dispatched_total",
			Help:      "Inbound events fanned out to local listeners",
		}, []string{"event_type"}),
		ListenerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "listener_failures_total",
			Help:      "Listener invocations that returned an error or panicked",
		}, []string{"event_type"}),
		RetryOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "retry_attempts_total",
			Help:      "Retry queue attempts by outcome",
		}, []string{"outcome"}),
		RetryQueueSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "retry_queue_size",
			Help:      "Current number of queued retry tasks",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "reconnect_attempts_total",
			Help:      "Automatic realtime reconnect attempts",
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "cache_lookups_total",
			Help:      "TTL cache lookups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) HubConnected() {
	if m != nil {
		m.HubConnections.Inc()
	}
}

func (m *Metrics) HubDisconnected() {
	if m != nil {
		m.HubConnections.Dec()
	}
}

func (m *Metrics) Delivered(eventType string) {
	if m != nil {
		m.EventsDelivered.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) Dropped(eventType string) {
	if m != nil {
		m.EventsDropped.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) Dispatched(eventType string) {
	if m != nil {
		m.EventsDispatched.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) ListenerFailed(eventType string) {
	if m != nil {
		m.ListenerFailures.WithLabelValues(eventType).Inc()
	}
}

// Retry outcomes.
const (
	RetrySuccess   = "success"
	RetryFailure   = "failure"
	RetryExhausted = "exhausted"
	RetryDropped   = "dropped"
)

func (m *Metrics) RetryAttempt(outcome string) {
	if m != nil {
		m.RetryOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) RetryQueued(n int) {
	if m != nil {
		m.RetryQueueSize.Set(float64(n))
	}
}

func (m *Metrics) ReconnectAttempt() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}
