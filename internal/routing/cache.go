package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-pool/internal/models"
	"github.com/example/ride-pool/internal/observability"
)

// Cache is a small in-memory TTL cache keyed by origin/destination.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	v  Route
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (Route, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Route{}, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Route{}, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, v Route) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: c.now()}
	c.mu.Unlock()
}

// CachedProvider memoizes successful lookups of the wrapped provider.
// Misses and failures always reach the underlying provider.
type CachedProvider struct {
	Provider Provider
	Cache    *Cache
}

func (p *CachedProvider) FetchRoute(ctx context.Context, origin, destination models.Coord) (Route, error) {
	if r, ok := p.Cache.Get(origin, destination); ok {
		observability.RouteCacheHits.Inc()
		return r, nil
	}
	r, err := p.Provider.FetchRoute(ctx, origin, destination)
	if err != nil {
		if IsRetryable(err) {
			observability.RouteFetchErrors.Inc()
		}
		return Route{}, err
	}
	p.Cache.Set(origin, destination, r)
	return r, nil
}
