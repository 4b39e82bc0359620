// Package permission caches whether the assistant may auto-reply to a user.
package permission

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/messenger-concierge/internal/observability/metrics"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// DefaultTTL bounds how stale a cached decision may be.
const DefaultTTL = 300 * time.Second

// Resolver answers the authoritative auto-reply question for a user.
type Resolver interface {
	AutoReplyEnabled(ctx context.Context, userID string) (bool, error)
}

// Entry is one cached decision.
type Entry struct {
	UserID   string
	Allowed  bool
	CachedAt time.Time
}

// Cache is a TTL cache in front of a Resolver. Safe for concurrent use.
type Cache struct {
	resolver Resolver
	ttl      time.Duration
	now      func() time.Time
	metrics  *metrics.ConciergeMetrics
	logger   *logging.Logger

	mu      sync.RWMutex
	entries map[string]Entry
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics records hit/miss counters.
func WithMetrics(m *metrics.ConciergeMetrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// NewCache creates a cache. A non-positive ttl uses DefaultTTL.
func NewCache(resolver Resolver, ttl time.Duration, logger *logging.Logger, opts ...Option) *Cache {
	if resolver == nil {
		panic("permission: resolver cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Cache{
		resolver: resolver,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		entries:  make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsAllowed returns the cached decision when fresh, otherwise resolves and
// caches it. Resolver failures deny the reply and are not cached.
func (c *Cache) IsAllowed(ctx context.Context, userID string) bool {
	userID = strings.TrimSpace(userID)
	if entry, ok := c.fresh(userID); ok {
		c.metrics.ObservePermissionLookup(true)
		return entry.Allowed
	}
	c.metrics.ObservePermissionLookup(false)

	allowed, err := c.resolver.AutoReplyEnabled(ctx, userID)
	if err != nil {
		c.logger.Error("permission: resolve failed, denying auto-reply",
			"user_id", userID,
			"error", err,
		)
		return false
	}
	c.Set(userID, allowed)
	return allowed
}

// Set force-stores a decision, restarting its TTL.
func (c *Cache) Set(userID string, allowed bool) {
	userID = strings.TrimSpace(userID)
	c.mu.Lock()
	c.entries[userID] = Entry{UserID: userID, Allowed: allowed, CachedAt: c.now()}
	c.mu.Unlock()
}

// HasCached reports whether a fresh entry exists. It never calls the resolver.
func (c *Cache) HasCached(userID string) bool {
	_, ok := c.fresh(strings.TrimSpace(userID))
	return ok
}

// Invalidate evicts the user's entry and reports whether a fresh one existed.
func (c *Cache) Invalidate(userID string) bool {
	userID = strings.TrimSpace(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[userID]
	if !ok {
		return false
	}
	delete(c.entries, userID)
	return c.now().Sub(entry.CachedAt) < c.ttl
}

// Lookup returns the fresh entry for userID, if any.
func (c *Cache) Lookup(userID string) (Entry, bool) {
	return c.fresh(strings.TrimSpace(userID))
}

func (c *Cache) fresh(userID string) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if c.now().Sub(entry.CachedAt) >= c.ttl {
		c.mu.Lock()
		if cur, still := c.entries[userID]; still && cur.CachedAt.Equal(entry.CachedAt) {
			delete(c.entries, userID)
		}
		c.mu.Unlock()
		return Entry{}, false
	}
	return entry, true
}
