// Package cache implements the Response Cache (spec §4.4): a two-tier
// fingerprint→response memo with TTL, consulted only when the caller opts
// in. Grounded on the teacher's process-local map pattern
// (registry/store/memory, goa.design/goa-ai) for the in-process tier and on
// the rate limiter's go-redis v9 usage (features/model/middleware) plus
// axonflow's Redis sliding-window idiom for the remote tier.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcanefly/workforce/core/telemetry"
	"github.com/arcanefly/workforce/providers"
)

// Key computes the SHA-256 fingerprint of a cacheable request. The full
// digest is always computed (not truncated) to avoid collisions; it is
// hex-encoded for use as a map/Redis key.
func Key(prompt, modelID string, temperature float64, maxTokens int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%g\x00%d", prompt, modelID, temperature, maxTokens)
	return hex.EncodeToString(h.Sum(nil))
}

// entry is the value stored in the local tier.
type entry struct {
	resp    providers.Response
	expires time.Time
	stamp   time.Time // insertion order, for eviction
}

// Stats exposes hit/miss counters for observability.
type Stats struct {
	Hits   int64
	Misses int64
}

// Cache is the two-tier response cache: a shared remote KV (Redis) when
// reachable, else an in-process map. Safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	local map[string]entry
	cap   int

	remote *redis.Client
	ttl    time.Duration

	log telemetry.Logger

	hits, misses int64
}

// Option configures the Cache.
type Option func(*Cache)

// WithRemote attaches a Redis client as the shared remote tier.
func WithRemote(client *redis.Client) Option {
	return func(c *Cache) { c.remote = client }
}

// WithLogger attaches a telemetry.Logger.
func WithLogger(log telemetry.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// New constructs a Cache with the given default TTL (spec default: 1 hour)
// and a soft local-map cap (spec default: ~1000 entries).
func New(ttl time.Duration, localCap int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if localCap <= 0 {
		localCap = 1000
	}
	c := &Cache{local: make(map[string]entry), cap: localCap, ttl: ttl, log: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the cached response for key if unexpired, else a miss.
func (c *Cache) Get(ctx context.Context, key string) (providers.Response, bool) {
	if c.remote != nil {
		if resp, ok := c.getRemote(ctx, key); ok {
			c.recordHit()
			return resp, true
		}
	}

	c.mu.Lock()
	e, ok := c.local[key]
	c.mu.Unlock()
	if !ok || time.Now().After(e.expires) {
		c.recordMiss()
		return providers.Response{}, false
	}
	c.recordHit()
	return e.resp, true
}

// Set writes resp under key to both tiers with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, resp providers.Response) {
	now := time.Now()
	c.mu.Lock()
	c.local[key] = entry{resp: resp, expires: now.Add(c.ttl), stamp: now}
	if len(c.local) > c.cap {
		c.evictOldest()
	}
	c.mu.Unlock()

	if c.remote != nil {
		c.setRemote(ctx, key, resp)
	}
}

// evictOldest drops the oldest 20% of local entries. Caller holds c.mu.
func (c *Cache) evictOldest() {
	type kv struct {
		key   string
		stamp time.Time
	}
	all := make([]kv, 0, len(c.local))
	for k, e := range c.local {
		all = append(all, kv{k, e.stamp})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].stamp.Before(all[j].stamp) })
	n := len(all) / 5
	if n == 0 && len(all) > 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		delete(c.local, all[i].key)
	}
}

func (c *Cache) getRemote(ctx context.Context, key string) (providers.Response, bool) {
	raw, err := c.remote.Get(ctx, "llmcache:"+key).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn(ctx, "cache: remote get failed, falling back to local tier", "error", err.Error())
		}
		return providers.Response{}, false
	}
	var resp providers.Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return providers.Response{}, false
	}
	return resp, true
}

func (c *Cache) setRemote(ctx context.Context, key string, resp providers.Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.remote.Set(ctx, "llmcache:"+key, raw, c.ttl).Err(); err != nil {
		c.log.Warn(ctx, "cache: remote set failed", "error", err.Error())
	}
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// Stats returns the current hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses}
}
