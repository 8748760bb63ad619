package datasource

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/yourusername/edge-scanner/internal/metrics"
)

// CacheKey builds the response cache key for (source, kind, normalized params)
func CacheKey(source string, kind ResourceKind, params Params) string {
	return strings.Join([]string{source, string(kind), params.Normalize()}, "|")
}

type cachedResponse struct {
	data      json.RawMessage
	fetchedAt time.Time
}

// ResponseCache provides in-memory caching of provider payloads with per-entry TTLs
type ResponseCache struct {
	cache     *cache.Cache
	hitCount  atomic.Uint64
	missCount atomic.Uint64
}

// NewResponseCache creates a response cache; cleanup is the expired-entry sweep interval
func NewResponseCache(cleanup time.Duration) *ResponseCache {
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	return &ResponseCache{
		cache: cache.New(cache.NoExpiration, cleanup),
	}
}

// Get returns a cached payload and the time it was fetched
func (rc *ResponseCache) Get(key string) (json.RawMessage, time.Time, bool) {
	if v, found := rc.cache.Get(key); found {
		if entry, ok := v.(cachedResponse); ok {
			rc.hitCount.Add(1)
			rc.updateMetrics()
			return entry.data, entry.fetchedAt, true
		}
	}
	rc.missCount.Add(1)
	rc.updateMetrics()
	return nil, time.Time{}, false
}

// Set stores a payload for ttl; a non-positive ttl disables caching for the entry
func (rc *ResponseCache) Set(key string, data json.RawMessage, fetchedAt time.Time, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	rc.cache.Set(key, cachedResponse{data: data, fetchedAt: fetchedAt}, ttl)
}

// Len returns the number of cached entries, including expired ones not yet swept
func (rc *ResponseCache) Len() int {
	return rc.cache.ItemCount()
}

// HitRatio returns hits / (hits + misses)
func (rc *ResponseCache) HitRatio() float64 {
	hits, misses := rc.hitCount.Load(), rc.missCount.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func (rc *ResponseCache) updateMetrics() {
	metrics.UpdateCacheHitRatio(rc.HitRatio())
}
