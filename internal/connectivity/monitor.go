// Package connectivity tracks whether the sync client can currently reach the API.
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Monitor holds the online/offline signal and notifies observers on transitions.
type Monitor struct {
	online atomic.Bool

	mu        sync.Mutex
	listeners []func(online bool)
}

func NewMonitor(online bool) *Monitor {
	m := &Monitor{}
	m.online.Store(online)
	return m
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Set records the current state. Observers run only on an actual transition.
func (m *Monitor) Set(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	log.Info().Bool("online", online).Msg("connectivity changed")

	m.mu.Lock()
	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(online)
	}
}

// OnChange registers fn to be called after every transition.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Probe checks reachability; nil means online.
type Probe func(ctx context.Context) error

// HTTPProbe treats any non-5xx response from url as reachable.
func HTTPProbe(client *http.Client, url string) Probe {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
		}
		return nil
	}
}

// Run probes immediately and then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, probe Probe, interval time.Duration) {
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		err := probe(pctx)
		if err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Msg("connectivity probe failed")
		}
		if ctx.Err() == nil {
			m.Set(err == nil)
		}
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			check()
		case <-ctx.Done():
			return
		}
	}
}
