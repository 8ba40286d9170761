package websearch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	goredis "github.com/redis/go-redis/v9"
)

// Cache stores search results by key for a bounded time
type Cache interface {
	Get(ctx context.Context, key string) ([]Result, bool)
	Set(ctx context.Context, key string, results []Result)
}

// MemoryCache is an in-process size- and TTL-bounded cache
type MemoryCache struct {
	lru *expirable.LRU[string, []Result]
}

// NewMemoryCache creates a cache holding at most size entries for ttl
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1000
	}
	return &MemoryCache{lru: expirable.NewLRU[string, []Result](size, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]Result, bool) {
	res, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return cloneResults(res), true
}

func (c *MemoryCache) Set(_ context.Context, key string, results []Result) {
	c.lru.Add(key, cloneResults(results))
}

// Len returns the number of live entries
func (c *MemoryCache) Len() int { return c.lru.Len() }

func cloneResults(in []Result) []Result {
	out := make([]Result, len(in))
	copy(out, in)
	return out
}

// kv is the subset of the go-redis client used by RedisCache
type kv interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
}

// RedisCache shares cached results between fusionrag instances
type RedisCache struct {
	rdb    kv
	ttl    time.Duration
	prefix string
}

// NewRedisCache connects to addr and verifies the connection
func NewRedisCache(ctx context.Context, addr string, ttl time.Duration) (*RedisCache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return newRedisCache(rdb, ttl), nil
}

func newRedisCache(rdb kv, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, prefix: "fusionrag:websearch:"}
}

// Get treats any Redis error as a miss
func (c *RedisCache) Get(ctx context.Context, key string) ([]Result, bool) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var res []Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false
	}
	return res, true
}

// Set is best effort; a failed write only costs a future miss
func (c *RedisCache) Set(ctx context.Context, key string, results []Result) {
	raw, err := json.Marshal(results)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, c.prefix+key, raw, c.ttl).Err()
}
