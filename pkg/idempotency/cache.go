// Package idempotency tracks already-processed event keys so replayed
// records are acknowledged without re-running their handlers.
package idempotency

import (
	"sync"
	"time"

	"github.com/sentinelops/telemetry-engine/pkg/clock"
)

const (
	// DefaultTTL is how long a key suppresses replays.
	DefaultTTL = 24 * time.Hour

	// DefaultSweepThreshold triggers an expiry sweep once the cache holds
	// more entries than this.
	DefaultSweepThreshold = 1000
)

// Cache is a bounded eventKey -> firstSeenAt map. It is not persisted; a
// restart resets it and the store's uniqueness constraints absorb the
// replay window.
type Cache struct {
	mu             sync.Mutex
	entries        map[string]time.Time
	ttl            time.Duration
	sweepThreshold int
	clock          clock.Clock
}

// Option configures the cache.
type Option func(*Cache)

// WithTTL overrides the entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithSweepThreshold overrides the size trigger for expiry sweeps.
func WithSweepThreshold(n int) Option {
	return func(c *Cache) {
		c.sweepThreshold = n
	}
}

// New creates an idempotency cache.
func New(clk clock.Clock, opts ...Option) *Cache {
	c := &Cache{
		entries:        make(map[string]time.Time),
		ttl:            DefaultTTL,
		sweepThreshold: DefaultSweepThreshold,
		clock:          clk,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Seen reports whether the key was recorded within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	seenAt, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.clock.Since(seenAt) > c.ttl {
		delete(c.entries, key)
		return false
	}
	return true
}

// Record marks the key as processed. When the cache exceeds the sweep
// threshold, expired entries are removed in the same critical section; the
// walk is O(n) but fires at most once per threshold crossing.
func (c *Cache) Record(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = c.clock.Now()
	if len(c.entries) > c.sweepThreshold {
		c.sweepLocked()
	}
}

func (c *Cache) sweepLocked() {
	now := c.clock.Now()
	for key, seenAt := range c.entries {
		if now.Sub(seenAt) > c.ttl {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
