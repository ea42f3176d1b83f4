package cache

import (
	"time"

	"github.com/daoch4n/claude-any-router-proxy/pkg/streaming"
)

// entry is one cached, fully-translated event sequence for a fingerprint.
type entry struct {
	fingerprint string
	events      []streaming.Event
	tags        []string
	createdAt   time.Time
	lastAccess  time.Time
	accessCount int
	ttl         time.Duration
	sizeBytes   int64
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.createdAt.Add(e.ttl))
}

func (e *entry) age(now time.Time) time.Duration {
	return now.Sub(e.createdAt)
}

func hasTag(tags []string, target string) bool {
	for _, t := range tags {
		if t == target {
			return true
		}
	}
	return false
}

// Stats is a point-in-time snapshot of cache performance, returned by
// GET /v1/cache/stats per SPEC_FULL §6.
type Stats struct {
	TotalRequests      int64   `json:"total_requests"`
	CacheHits          int64   `json:"cache_hits"`
	CacheMisses        int64   `json:"cache_misses"`
	CacheInvalidations int64   `json:"cache_invalidations"`
	Entries            int     `json:"entries"`
	TotalSizeBytes     int64   `json:"total_size_bytes"`
	HitRatePercent     float64 `json:"hit_rate_percent"`
}

type statTotals struct {
	totalRequests      int64
	cacheHits          int64
	cacheMisses        int64
	cacheInvalidations int64
}

func (s statTotals) hitRate() float64 {
	if s.totalRequests == 0 {
		return 0
	}
	return (float64(s.cacheHits) / float64(s.totalRequests)) * 100
}
