package risk

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/steward/internal/domain"
)

// BlockedSentinelCount is returned when the open-position count cannot be
// fetched. It is deliberately far above any plausible sector cap so the
// sector-cap gate fails closed instead of permitting unbounded position
// growth while the store is unreachable.
const BlockedSentinelCount = 9999

type countEntry struct {
	count     int
	fetchedAt time.Time
}

// CountCache bounds the query rate of open-position counts for the
// sector-cap gate, which would otherwise hit the store on every signal for
// every symbol. It is safe for concurrent use.
type CountCache struct {
	ttl     time.Duration
	entries map[domain.AssetClass]countEntry
	mu      sync.Mutex
	now     func() time.Time
}

// NewCountCache creates a CountCache whose entries expire after ttl.
func NewCountCache(ttl time.Duration) *CountCache {
	return &CountCache{
		ttl:     ttl,
		entries: make(map[domain.AssetClass]countEntry),
		now:     time.Now,
	}
}

// GetOrFetch returns the cached count for the asset class if it is younger
// than the TTL, otherwise calls fetch and caches the fresh value.
//
// If fetch fails, GetOrFetch returns BlockedSentinelCount and caches
// nothing: no stale or partial value may mask an unreachable store.
func (c *CountCache) GetOrFetch(ctx context.Context, class domain.AssetClass, fetch func(context.Context) (int, error)) int {
	c.mu.Lock()
	if e, ok := c.entries[class]; ok && c.now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return e.count
	}
	c.mu.Unlock()

	// Fetch outside the lock; a slow store must not serialize every signal
	// evaluation behind one mutex.
	count, err := fetch(ctx)
	if err != nil {
		return BlockedSentinelCount
	}

	c.mu.Lock()
	c.entries[class] = countEntry{count: count, fetchedAt: c.now()}
	c.mu.Unlock()
	return count
}

// Invalidate drops the cached count for the asset class. Called after a
// position opens or closes so a stale "at cap" reading cannot block a trade
// right after a slot frees up.
func (c *CountCache) Invalidate(class domain.AssetClass) {
	c.mu.Lock()
	delete(c.entries, class)
	c.mu.Unlock()
}
