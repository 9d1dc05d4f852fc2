// Package tokencache implements the token cache (C1): an in-memory mapping
// from auth token to steam_id, periodically reloaded from the store, with
// an optional legacy token for migration and a Redis warm-cache tier so a
// freshly started instance doesn't have to hit the store on first request.
package tokencache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dylantcon/countertrak-ingest/internal/store"
)

const legacySentinel = "LEGACY_TOKEN"

const redisTokenSetKey = "countertrak:token_cache"

// Cache is safe for concurrent use.
type Cache struct {
	store store.Store
	redis *redis.Client
	log   *zap.SugaredLogger

	refreshInterval time.Duration

	mu          sync.RWMutex
	tokens      map[string]string
	initialized bool
	lastRefresh time.Time

	group singleflight.Group
}

// New constructs a Cache. redisClient may be nil, disabling the warm tier.
func New(s store.Store, redisClient *redis.Client, refreshInterval time.Duration, logger *zap.SugaredLogger) *Cache {
	return &Cache{
		store:           s,
		redis:           redisClient,
		log:             logger,
		refreshInterval: refreshInterval,
		tokens:          make(map[string]string),
	}
}

// Initialize performs the first-time load; idempotent (spec.md §4.1). It
// tries the Redis warm tier first, so a freshly started instance (or a
// second instance behind a load balancer) doesn't have to hit the store
// before serving its first request; a Redis miss or error falls back to
// the store, same as reload.
func (c *Cache) Initialize(ctx context.Context) error {
	c.mu.RLock()
	already := c.initialized
	c.mu.RUnlock()
	if already {
		return nil
	}

	if tokens, ok := c.loadFromRedis(ctx); ok {
		c.mu.Lock()
		for token, steamID := range c.legacyEntries() {
			tokens[token] = steamID
		}
		c.tokens = tokens
		c.lastRefresh = time.Now()
		c.initialized = true
		c.mu.Unlock()
		if c.log != nil {
			c.log.Infow("token cache warm-started from redis", "token_count", len(tokens))
		}
		return nil
	}

	return c.reload(ctx)
}

// Refresh performs a full reload from the store. A singleflight group
// collapses concurrent refresh callers into one DB round trip (spec.md
// §4.1 "a process-wide serial refresh prevents thundering herds").
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.reload(ctx)
	})
	return err
}

// reload replaces the cache contents. Failures leave the previous cache
// intact (spec.md §4.1 "failures during refresh leave the previous cache
// intact").
func (c *Cache) reload(ctx context.Context) error {
	tokens, err := c.store.AllTokens(ctx)
	if err != nil {
		if c.log != nil {
			c.log.Errorw("token cache refresh failed, keeping previous cache", "error", err)
		}
		c.mu.Lock()
		c.initialized = true
		c.mu.Unlock()
		return fmt.Errorf("tokencache: reload: %w", err)
	}

	c.mu.Lock()
	for token, steamID := range c.legacyEntries() {
		tokens[token] = steamID
	}
	c.tokens = tokens
	c.lastRefresh = time.Now()
	c.initialized = true
	c.mu.Unlock()

	if c.log != nil {
		c.log.Infow("token cache refreshed", "token_count", len(tokens))
	}
	c.mirrorToRedis(ctx, tokens)
	return nil
}

// legacyEntries returns tokens that must survive a reload (the legacy
// migration token), called while holding c.mu.
func (c *Cache) legacyEntries() map[string]string {
	out := make(map[string]string)
	for token, steamID := range c.tokens {
		if steamID == legacySentinel {
			out[token] = steamID
		}
	}
	return out
}

// RegisterLegacyToken adds a fallback token for migration from a previously
// hard-coded token (spec.md §4.1, §6 "legacy_auth_token").
func (c *Cache) RegisterLegacyToken(token string) {
	if token == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tokens[token]; exists {
		return
	}
	c.tokens[token] = legacySentinel
	if c.log != nil {
		c.log.Warnw("legacy fallback token registered, should be phased out")
	}
}

// IsValid reports whether token is currently known. On a cache miss older
// than the refresh interval, it refreshes once and rechecks (spec.md §4.1).
func (c *Cache) IsValid(ctx context.Context, token string) bool {
	_, ok := c.SteamIDFor(ctx, token)
	return ok
}

// SteamIDFor returns the steam_id for token, refreshing at most once on a
// stale miss.
func (c *Cache) SteamIDFor(ctx context.Context, token string) (string, bool) {
	if err := c.Initialize(ctx); err != nil {
		// reload() already logged; an uninitialized-but-attempted cache
		// still serves (empty), never blocking ingestion (spec.md §4.1).
		_ = err
	}

	c.mu.RLock()
	steamID, ok := c.tokens[token]
	stale := time.Since(c.lastRefresh) > c.refreshInterval
	c.mu.RUnlock()
	if ok {
		return steamID, true
	}
	if !stale {
		return "", false
	}

	if err := c.Refresh(ctx); err != nil {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	steamID, ok = c.tokens[token]
	return steamID, ok
}

// Stats backs the GET /status token_cache object (spec.md §4.6).
type Stats struct {
	Initialized bool
	TokenCount  int
	LastRefresh time.Time
	CacheAgeS   float64
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	age := 0.0
	if !c.lastRefresh.IsZero() {
		age = time.Since(c.lastRefresh).Seconds()
	}
	return Stats{
		Initialized: c.initialized,
		TokenCount:  len(c.tokens),
		LastRefresh: c.lastRefresh,
		CacheAgeS:   age,
	}
}

// loadFromRedis reads the warm-tier token set populated by a previous
// mirrorToRedis call. ok is false whenever Redis is disabled, unreachable,
// or has no entries yet, so callers always have a store-backed fallback.
func (c *Cache) loadFromRedis(ctx context.Context) (map[string]string, bool) {
	if c.redis == nil {
		return nil, false
	}
	result, err := c.redis.HGetAll(ctx, redisTokenSetKey).Result()
	if err != nil {
		if c.log != nil {
			c.log.Warnw("failed to warm-start token cache from redis", "error", err)
		}
		return nil, false
	}
	if len(result) == 0 {
		return nil, false
	}
	tokens := make(map[string]string, len(result))
	for token, steamID := range result {
		tokens[token] = steamID
	}
	return tokens, true
}

func (c *Cache) mirrorToRedis(ctx context.Context, tokens map[string]string) {
	if c.redis == nil {
		return
	}
	pipe := c.redis.Pipeline()
	pipe.Del(ctx, redisTokenSetKey)
	for token, steamID := range tokens {
		pipe.HSet(ctx, redisTokenSetKey, token, steamID)
	}
	if _, err := pipe.Exec(ctx); err != nil && c.log != nil {
		c.log.Warnw("failed to mirror token cache to redis", "error", err)
	}
}
