// Package cache is a process-local TTL cache. Entries expire a fixed time after
// they were set; reads never extend an entry's lifetime. A miss is never an
// error, only a reason to fetch.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/metrics"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Cache wraps go-cache with wildcard invalidation and an explicit sweeper.
type Cache struct {
	items *gocache.Cache
	// evictMu orders writes (shared) against the expired-entry purge in Get
	// (exclusive), so a purge never removes a value set after the miss.
	evictMu       sync.RWMutex
	defaultTTL    time.Duration
	sweepInterval time.Duration
	metrics       *metrics.Metrics
}

type Option func(*Cache)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a cache. Non-positive durations fall back to the defaults.
// The go-cache janitor is disabled; call Run to sweep periodically.
func New(defaultTTL, sweepInterval time.Duration, opts ...Option) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	c := &Cache{
		items:         gocache.New(defaultTTL, 0),
		defaultTTL:    defaultTTL,
		sweepInterval: sweepInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores value under key for ttl (the default when ttl <= 0), replacing
// any existing entry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.evictMu.RLock()
	c.items.Set(key, value, ttl)
	c.evictMu.RUnlock()
}

// Get returns the value stored under key. An expired entry is deleted and
// reported as a miss.
func (c *Cache) Get(key string) (any, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		c.evictMu.Lock()
		if _, live := c.items.Get(key); !live {
			c.items.Delete(key)
		}
		c.evictMu.Unlock()
	}
	c.metrics.CacheLookup(ok)
	return v, ok
}

// GetAs is Get with a type assertion; a value of another type is a miss.
func GetAs[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.items.Delete(key)
}

// Invalidate deletes every live key matching pattern and returns how many were removed.
// '*' matches any run of characters, so "notifications:*" drops every notification view.
func (c *Cache) Invalidate(pattern string) int {
	removed := 0
	for key := range c.items.Items() {
		if Match(pattern, key) {
			c.items.Delete(key)
			removed++
		}
	}
	return removed
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	before := c.items.ItemCount()
	c.items.DeleteExpired()
	removed := before - c.items.ItemCount()
	if removed < 0 {
		removed = 0
	}
	return removed
}

// Len counts stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

// Flush drops everything.
func (c *Cache) Flush() {
	c.items.Flush()
}

// Run sweeps expired entries every sweep interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("cache sweep completed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Match reports whether key matches the wildcard pattern. '*' matches any
// (possibly empty) sequence of characters; every other byte matches itself.
func Match(pattern, key string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == key
	}
	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(key, part)
		if i < 0 {
			return false
		}
		key = key[i+len(part):]
	}
	return strings.HasSuffix(key, last)
}
