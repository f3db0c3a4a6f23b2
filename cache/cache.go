package cache

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/strdash/price-proxy/clock"
	"github.com/strdash/price-proxy/metrics"
	"github.com/strdash/price-proxy/pricing"
)

// Entry is a cached price with its lifetime bounds. Entries past
// ExpiresAt are stale but stay in the store until overwritten: they are
// the graceful-degradation fallback when an upstream is down.
type Entry struct {
	Value     pricing.Value
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PriceCache stores the fixed key set with a TTL re-drawn uniformly at
// random on every write, de-synchronising refreshes across keys so they
// never expire in one batch.
//
// The backing store is a go-cache instance used in NoExpiration mode:
// expiry is tracked on the Entry itself because go-cache's own janitor
// would delete stale entries we still need for fallback.
type PriceCache struct {
	store *gocache.Cache
	clock clock.Clock

	ttlMin time.Duration
	ttlMax time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// New creates a PriceCache drawing TTLs from [ttlMin, ttlMax].
func New(ttlMin, ttlMax time.Duration, clk clock.Clock) *PriceCache {
	return &PriceCache{
		store:  gocache.New(gocache.NoExpiration, 0),
		clock:  clk,
		ttlMin: ttlMin,
		ttlMax: ttlMax,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Set writes value under key with a freshly randomised TTL. Consecutive
// writes to the same key draw independent TTLs.
func (c *PriceCache) Set(key string, value pricing.Value) {
	now := c.clock.Now()

	c.rngMu.Lock()
	ttl := c.ttlMin + time.Duration(c.rng.Float64()*float64(c.ttlMax-c.ttlMin))
	c.rngMu.Unlock()

	c.store.Set(key, Entry{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, gocache.NoExpiration)

	c.sets.Add(1)
	metrics.RecordCacheSet(c.store.ItemCount())
}

// Get returns the value for key if a fresh entry exists. A miss due to
// expiry leaves the entry in place.
func (c *PriceCache) Get(key string) (pricing.Value, bool) {
	entry, ok := c.lookup(key)
	if !ok || !c.fresh(entry) {
		c.misses.Add(1)
		metrics.RecordCacheMiss()
		return nil, false
	}
	c.hits.Add(1)
	metrics.RecordCacheHit()
	return entry.Value, true
}

// GetRaw returns the entry for key regardless of expiry. Used by the
// stale-fallback path; does not touch the hit/miss counters.
func (c *PriceCache) GetRaw(key string) (Entry, bool) {
	return c.lookup(key)
}

// Has reports whether a fresh entry exists for key.
func (c *PriceCache) Has(key string) bool {
	entry, ok := c.lookup(key)
	return ok && c.fresh(entry)
}

// RemainingTTL returns how long the entry for key stays fresh, zero for
// stale or absent entries.
func (c *PriceCache) RemainingTTL(key string) time.Duration {
	entry, ok := c.lookup(key)
	if !ok {
		return 0
	}
	remaining := entry.ExpiresAt.Sub(c.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Entries returns a snapshot of all cached entries, fresh and stale.
func (c *PriceCache) Entries() map[string]Entry {
	items := c.store.Items()
	snapshot := make(map[string]Entry, len(items))
	for key, item := range items {
		if entry, ok := item.Object.(Entry); ok {
			snapshot[key] = entry
		}
	}
	return snapshot
}

// Delete removes the entry for key.
func (c *PriceCache) Delete(key string) {
	c.store.Delete(key)
	metrics.CacheSizeGauge.Set(float64(c.store.ItemCount()))
}

// Clear removes all entries. Counters are kept.
func (c *PriceCache) Clear() {
	c.store.Flush()
	metrics.CacheSizeGauge.Set(0)
}

func (c *PriceCache) lookup(key string) (Entry, bool) {
	raw, ok := c.store.Get(key)
	if !ok {
		return Entry{}, false
	}
	entry, ok := raw.(Entry)
	return entry, ok
}

// fresh reports whether entry is still within its TTL. An entry whose
// ExpiresAt equals now is already stale.
func (c *PriceCache) fresh(entry Entry) bool {
	return c.clock.Now().Before(entry.ExpiresAt)
}
