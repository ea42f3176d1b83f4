package cache

import (
	"container/list"
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/daoch4n/claude-any-router-proxy/pkg/logging"
	"github.com/daoch4n/claude-any-router-proxy/pkg/streaming"
)

// Config bounds a Cache's behavior; the HTTP entrypoint builds one from the
// process ProxyConfig.
type Config struct {
	MaxEntries      int
	MaxBytes        int64
	DefaultTTL      time.Duration
	CleanupInterval time.Duration

	// MinChunksToCache and MaxChunksToCache bound the cacheability
	// predicate's chunk-count check; MinContentChunks and
	// MinContentChars bound its text-volume check. Zero values fall
	// back to the SPEC_FULL §4.9 defaults.
	MinChunksToCache int
	MaxChunksToCache int
	MinContentChunks int
	MinContentChars  int

	// ReplayDelay is the synthetic per-event pause on the hit path that
	// preserves the streaming experience. Zero disables it (used by
	// tests).
	ReplayDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1000
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 500 * 1024 * 1024
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 3600 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 300 * time.Second
	}
	if c.MinChunksToCache <= 0 {
		c.MinChunksToCache = 5
	}
	if c.MaxChunksToCache <= 0 {
		c.MaxChunksToCache = 1000
	}
	if c.MinContentChunks <= 0 {
		c.MinContentChunks = 3
	}
	if c.MinContentChars <= 0 {
		c.MinContentChars = 50
	}
	return c
}

// inflightBuild coordinates the at-most-once concurrent build for one
// fingerprint: the first caller to observe a miss becomes the owner and
// populates result once its stream finishes; every other concurrent caller
// for the same fingerprint blocks on done instead of issuing its own
// upstream call.
type inflightBuild struct {
	done   chan struct{}
	result *entry // nil if the build failed or was not cacheable
}

// Cache is the streaming cache described in SPEC_FULL §4.9. All mutable
// state is guarded by a single mutex; no I/O ever happens while it is held.
type Cache struct {
	cfg Config
	log logging.Logger

	mu        sync.Mutex
	order     *list.List // front = most recently used
	index     map[string]*list.Element
	totalSize int64
	inflight  map[string]*inflightBuild
	stats     statTotals

	stopSweep chan struct{}
}

// New builds a Cache and starts its background expiry sweep. Call Close to
// stop the sweep goroutine.
func New(cfg Config, log logging.Logger) *Cache {
	if log == nil {
		log = logging.NoopLogger{}
	}
	c := &Cache{
		cfg:       cfg.withDefaults(),
		log:       log,
		order:     list.New(),
		index:     make(map[string]*list.Element),
		inflight:  make(map[string]*inflightBuild),
		stopSweep: make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Close stops the background sweep goroutine. Safe to call once.
func (c *Cache) Close() {
	close(c.stopSweep)
}

// Lookup returns the cached event sequence for fingerprint, touching its LRU
// position, or reports a miss. It never blocks on an in-flight build; use
// Join for that.
func (c *Cache) Lookup(fingerprint string) (ent *entry, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(fingerprint, time.Now())
}

func (c *Cache) lookupLocked(fingerprint string, now time.Time) (*entry, bool) {
	el, ok := c.index[fingerprint]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*entry)
	if ent.expired(now) {
		c.removeLocked(el)
		return nil, false
	}
	ent.lastAccess = now
	ent.accessCount++
	c.order.MoveToFront(el)
	return ent, true
}

// Join blocks until the in-flight build for fingerprint completes, then
// returns its result, if one is currently owned. The second return reports
// whether a build was actually in flight; callers that get false should
// start their own build via BeginBuild.
func (c *Cache) Join(ctx context.Context, fingerprint string) (*entry, bool) {
	c.mu.Lock()
	b, ok := c.inflight[fingerprint]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-b.done:
		return b.result, true
	case <-ctx.Done():
		return nil, true
	}
}

// BeginBuild registers fingerprint as having an in-flight build and reports
// whether the caller is the owner (true) or should instead Join an existing
// build another goroutine already started (false).
func (c *Cache) BeginBuild(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.inflight[fingerprint]; exists {
		return false
	}
	c.inflight[fingerprint] = &inflightBuild{done: make(chan struct{})}
	return true
}

// FinishBuild completes a build this goroutine owns: it evaluates the
// cacheability predicate over the accumulated events, stores the entry if
// eligible, and releases any goroutines blocked in Join.
func (c *Cache) FinishBuild(fingerprint string, tags []string, events []streaming.Event) {
	now := time.Now()
	var ent *entry
	if c.cacheable(events) {
		size := approxSize(events)
		ent = &entry{
			fingerprint: fingerprint,
			events:      events,
			tags:        tags,
			createdAt:   now,
			lastAccess:  now,
			ttl:         c.cfg.DefaultTTL,
			sizeBytes:   size,
		}
	}

	c.mu.Lock()
	if ent != nil {
		c.storeLocked(ent)
	}
	b := c.inflight[fingerprint]
	delete(c.inflight, fingerprint)
	c.mu.Unlock()

	if b != nil {
		b.result = ent
		close(b.done)
	}
}

// AbortBuild releases any goroutines blocked in Join without caching
// anything, used when the owner's upstream call itself failed.
func (c *Cache) AbortBuild(fingerprint string) {
	c.mu.Lock()
	b := c.inflight[fingerprint]
	delete(c.inflight, fingerprint)
	c.mu.Unlock()
	if b != nil {
		close(b.done)
	}
}

// RecordHit and RecordMiss update the rolling statistics surfaced by Stats.
func (c *Cache) RecordHit() {
	c.mu.Lock()
	c.stats.totalRequests++
	c.stats.cacheHits++
	c.mu.Unlock()
}

func (c *Cache) RecordMiss() {
	c.mu.Lock()
	c.stats.totalRequests++
	c.stats.cacheMisses++
	c.mu.Unlock()
}

func (c *Cache) storeLocked(ent *entry) {
	if el, exists := c.index[ent.fingerprint]; exists {
		old := el.Value.(*entry)
		c.totalSize -= old.sizeBytes
		el.Value = ent
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(ent)
		c.index[ent.fingerprint] = el
	}
	c.totalSize += ent.sizeBytes
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	now := time.Now()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*entry).expired(now) {
			c.removeLocked(el)
		}
		el = prev
	}
	for c.order.Len() > c.cfg.MaxEntries || c.totalSize > c.cfg.MaxBytes {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.removeLocked(back)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	ent := el.Value.(*entry)
	delete(c.index, ent.fingerprint)
	c.order.Remove(el)
	c.totalSize -= ent.sizeBytes
}

// Invalidate removes every entry matching any of the supplied criteria,
// returning the count removed. A nil/zero criterion is skipped.
func (c *Cache) Invalidate(pattern *regexp.Regexp, tags []string, olderThan time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element
	for el := c.order.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*entry)
		matched := false
		if pattern != nil && pattern.MatchString(ent.fingerprint) {
			matched = true
		}
		if !matched && len(tags) > 0 {
			for _, t := range tags {
				if hasTag(ent.tags, t) {
					matched = true
					break
				}
			}
		}
		if !matched && olderThan > 0 && ent.age(now) > olderThan {
			matched = true
		}
		if matched {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		c.removeLocked(el)
	}
	c.stats.cacheInvalidations += int64(len(toRemove))
	return len(toRemove)
}

// Stats returns a point-in-time snapshot for GET /v1/cache/stats.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		TotalRequests:      c.stats.totalRequests,
		CacheHits:          c.stats.cacheHits,
		CacheMisses:        c.stats.cacheMisses,
		CacheInvalidations: c.stats.cacheInvalidations,
		Entries:            c.order.Len(),
		TotalSizeBytes:     c.totalSize,
		HitRatePercent:     c.stats.hitRate(),
	}
}

// Replay writes a cached entry's events to out, annotating each with
// cache_status: hit and pausing ReplayDelay between events to preserve the
// streaming experience. The Anthropic SSE type discriminator recorded on
// each event at build time is replayed unchanged; a cached text_delta is
// never resurfaced under message_delta or any other type.
func (c *Cache) Replay(ctx context.Context, out streaming.Sink, ent *entry) error {
	for _, ev := range ent.events {
		annotated := annotateHit(ev)
		if err := out.Write(annotated); err != nil {
			return err
		}
		if c.cfg.ReplayDelay > 0 {
			select {
			case <-time.After(c.cfg.ReplayDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func annotateHit(ev streaming.Event) streaming.Event {
	payload, ok := ev.Payload.(map[string]any)
	if !ok {
		return ev
	}
	clone := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		clone[k] = v
	}
	clone["cache_status"] = "hit"
	return streaming.Event{Type: ev.Type, Payload: clone}
}

// cacheable implements the predicate from SPEC_FULL §4.9: at least
// MinChunksToCache events, at most MaxChunksToCache, no error events, and
// either tool execution or enough accumulated text.
func (c *Cache) cacheable(events []streaming.Event) bool {
	if len(events) < c.cfg.MinChunksToCache || len(events) > c.cfg.MaxChunksToCache {
		return false
	}
	hasToolUse := false
	contentChunks := 0
	totalChars := 0
	for _, ev := range events {
		if ev.Type == "error" {
			return false
		}
		payload, ok := ev.Payload.(map[string]any)
		if !ok {
			continue
		}
		switch ev.Type {
		case "content_block_start":
			if cb, ok := payload["content_block"].(map[string]any); ok {
				if cb["type"] == "tool_use" {
					hasToolUse = true
				}
			}
		case "content_block_delta":
			if d, ok := payload["delta"].(map[string]any); ok && d["type"] == "text_delta" {
				if text, ok := d["text"].(string); ok {
					contentChunks++
					totalChars += len(text)
				}
			}
		}
	}
	if hasToolUse {
		return true
	}
	return contentChunks >= c.cfg.MinContentChunks && totalChars >= c.cfg.MinContentChars
}

func approxSize(events []streaming.Event) int64 {
	var n int64
	for _, ev := range events {
		n += int64(len(ev.Type))
		n += estimatePayloadSize(ev.Payload)
	}
	return n
}

// estimatePayloadSize avoids a full json.Marshal per cached event at store
// time; it is a rough byte estimate, not an exact wire size.
func estimatePayloadSize(v any) int64 {
	switch t := v.(type) {
	case map[string]any:
		var n int64 = 2
		for k, val := range t {
			n += int64(len(k)) + 3 + estimatePayloadSize(val)
		}
		return n
	case []any:
		var n int64 = 2
		for _, val := range t {
			n += estimatePayloadSize(val) + 1
		}
		return n
	case string:
		return int64(len(t)) + 2
	default:
		return 8
	}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopSweep:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *Cache) sweepExpired() {
	c.mu.Lock()
	now := time.Now()
	var removed int
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*entry).expired(now) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	c.mu.Unlock()
	if removed > 0 {
		c.log.Debug(context.Background(), "swept expired cache entries", logging.F("removed", removed))
	}
}
