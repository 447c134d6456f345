package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	listCacheTTL   = 5 * time.Minute
	statsCacheTTL  = time.Minute
	reportCacheTTL = 7 * 24 * time.Hour
	lastReportKey  = "news:fetch:last"
)

// Cache 是基于 Redis 的读缓存。nil *Cache 合法，所有读取都视为未命中。
type Cache struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewCache(addr string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("storage: redis ping failed", "addr", addr, "err", err)
	}
	return &Cache{rdb: rdb, logger: logger}
}

func listCacheKey(q ListQuery) string {
	return fmt.Sprintf("news:list:%s:%s:%d", q.Category, q.Source, q.Limit)
}

func (c *Cache) getJSON(ctx context.Context, key string, out any) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	bs, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("storage: cache get failed", "key", key, "err", err)
		}
		return false
	}
	return json.Unmarshal(bs, out) == nil
}

func (c *Cache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	if c == nil || c.rdb == nil {
		return
	}
	bs, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, bs, ttl).Err(); err != nil {
		c.logger.Debug("storage: cache set failed", "key", key, "err", err)
	}
}

// SaveReport 保存最近一次运行报告，供 /api/v1/fetch/last 读取
func (c *Cache) SaveReport(ctx context.Context, report any) {
	c.setJSON(ctx, lastReportKey, report, reportCacheTTL)
}

// LastReport 读取最近一次运行报告
func (c *Cache) LastReport(ctx context.Context, out any) bool {
	return c.getJSON(ctx, lastReportKey, out)
}

func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// CachedStore 为 ListNews 和 Stats 加一层短 TTL 的 Redis 缓存，其余方法直接透传。
// 写入时不主动失效缓存，完全依赖 TTL 自然过期。
type CachedStore struct {
	Store
	cache *Cache
}

func NewCachedStore(store Store, cache *Cache) *CachedStore {
	return &CachedStore{Store: store, cache: cache}
}

func (s *CachedStore) ListNews(ctx context.Context, q ListQuery) ([]News, error) {
	q = q.normalized()
	key := listCacheKey(q)

	var cached []News
	if s.cache.getJSON(ctx, key, &cached) {
		return cached, nil
	}

	list, err := s.Store.ListNews(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(list) > 0 {
		s.cache.setJSON(ctx, key, list, listCacheTTL)
	}
	return list, nil
}

func (s *CachedStore) Stats(ctx context.Context) (Stats, error) {
	const key = "news:stats"
	var cached Stats
	if s.cache.getJSON(ctx, key, &cached) {
		return cached, nil
	}
	st, err := s.Store.Stats(ctx)
	if err != nil {
		return st, err
	}
	s.cache.setJSON(ctx, key, st, statsCacheTTL)
	return st, nil
}

func (s *CachedStore) Close(ctx context.Context) error {
	err := s.Store.Close(ctx)
	if cerr := s.cache.Close(); err == nil {
		err = cerr
	}
	return err
}
