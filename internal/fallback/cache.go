package fallback

import (
	"context"
	"errors"
	"sync"
	"time"

	"eldritch/internal/narrative"
)

const (
	DefaultCacheTTL      = 5 * time.Minute
	DefaultCacheCapacity = 50
)

var (
	errCacheMiss    = errors.New("no cached choices")
	errCacheExpired = errors.New("cached choices expired")
)

type cacheEntry struct {
	candidates []narrative.ChoiceCandidate
	storedAt   time.Time
}

// Cache keeps recent AI choices per scene and tension so a failing agent can
// be covered by what it said moments ago.
type Cache struct {
	ttl      time.Duration
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string // insertion order, oldest first
}

// NewCache creates a cache. Non-positive values take the defaults.
func NewCache(ttl time.Duration, capacity int, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		now:      now,
		entries:  make(map[string]cacheEntry),
	}
}

// CacheKey is the lookup key for a turn.
func CacheKey(nctx narrative.Context) string {
	return nctx.SceneID + "|" + nctx.Tension.String()
}

// Put stores a copy of cands for the turn's scene and tension. When full,
// the oldest entry is evicted.
func (c *Cache) Put(nctx narrative.Context, cands []narrative.ChoiceCandidate) {
	if len(cands) == 0 {
		return
	}
	key := CacheKey(nctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.removeLocked(key)
	}
	for len(c.order) >= c.capacity {
		c.removeLocked(c.order[0])
	}
	c.entries[key] = cacheEntry{
		candidates: append([]narrative.ChoiceCandidate(nil), cands...),
		storedAt:   c.now(),
	}
	c.order = append(c.order, key)
}

// Get returns the cached choices for the turn. Expired entries are dropped.
// A done ctx fails the lookup.
func (c *Cache) Get(ctx context.Context, nctx narrative.Context) ([]narrative.ChoiceCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := CacheKey(nctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, errCacheMiss
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		c.removeLocked(key)
		return nil, errCacheExpired
	}
	return append([]narrative.ChoiceCandidate(nil), e.candidates...), nil
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.order = nil
}

func (c *Cache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
