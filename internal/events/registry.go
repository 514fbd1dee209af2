// Package events is the client-side listener registry. Listeners are grouped
// by event type; the transport subscription for a type is reference counted so
// the server is asked for it exactly while at least one listener exists.
package events

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/metrics"
)

// Listener consumes one event. A returned error or panic is logged and
// never stops delivery to other listeners.
type Listener func(evt domain.Event) error

// Subscriber is the transport side of the registry. Its methods are called
// with the registry lock held and must not call back into the registry.
type Subscriber interface {
	Subscribe(eventType string)
	Unsubscribe(eventType string)
}

type entry struct {
	id uint64
	fn Listener
}

// Registry maps event type to its listener set. A type is present only while
// its set is non-empty.
type Registry struct {
	mu        sync.Mutex
	listeners map[string][]entry
	nextID    uint64

	sub     Subscriber
	metrics *metrics.Metrics
}

type Option func(*Registry)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates a registry bound to sub. A nil sub is allowed for purely local dispatch.
func NewRegistry(sub Subscriber, opts ...Option) *Registry {
	r := &Registry{
		listeners: make(map[string][]entry),
		sub:       sub,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// On adds fn for eventType and returns its disposer. The first listener of a
// type subscribes the transport; the disposer of the last one unsubscribes it.
// Calling the disposer more than once is harmless.
func (r *Registry) On(eventType string, fn Listener) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	first := len(r.listeners[eventType]) == 0
	r.listeners[eventType] = append(r.listeners[eventType], entry{id: id, fn: fn})
	if first && r.sub != nil {
		r.sub.Subscribe(eventType)
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.off(eventType, id) })
	}
}

func (r *Registry) off(eventType string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.listeners[eventType]
	kept := make([]entry, 0, len(set))
	for _, e := range set {
		if e.id != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(set) {
		return
	}
	if len(kept) > 0 {
		r.listeners[eventType] = kept
		return
	}
	delete(r.listeners, eventType)
	if r.sub != nil {
		r.sub.Unsubscribe(eventType)
	}
}

// OnAll registers fn for every record action of resource and returns one
// disposer for all of them.
func (r *Registry) OnAll(resource domain.Resource, fn Listener) (unsubscribe func()) {
	disposers := make([]func(), 0, len(domain.Actions))
	for _, action := range domain.Actions {
		disposers = append(disposers, r.On(domain.EventType(resource, action), fn))
	}
	return func() {
		for _, d := range disposers {
			d()
		}
	}
}

// Emit delivers evt to every listener registered for evt.Type, in
// registration order, and returns how many listeners were invoked.
func (r *Registry) Emit(evt domain.Event) int {
	r.mu.Lock()
	set := append([]entry(nil), r.listeners[evt.Type]...)
	r.mu.Unlock()

	if len(set) == 0 {
		return 0
	}
	r.metrics.Dispatched(evt.Type)
	for _, e := range set {
		if err := invoke(e.fn, evt); err != nil {
			r.metrics.ListenerFailed(evt.Type)
			log.Warn().Err(err).Str("event_type", evt.Type).Msg("event listener failed")
		}
	}
	return len(set)
}

func invoke(fn Listener, evt domain.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("listener panic: %v", p)
		}
	}()
	return fn(evt)
}

// Types lists the event types that currently have listeners, sorted.
func (r *Registry) Types() []string {
	r.mu.Lock()
	types := make([]string, 0, len(r.listeners))
	for t := range r.listeners {
		types = append(types, t)
	}
	r.mu.Unlock()
	sort.Strings(types)
	return types
}

// Count returns the number of listeners registered for eventType.
func (r *Registry) Count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners[eventType])
}
