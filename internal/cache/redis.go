package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ledgerbase-go/pkg/log"
)

// redisCache 是 Cache 的 Redis 实现，供多实例部署共享物化视图。
type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache 创建一个 Redis 缓存层。ttl 是条目的可用寿命。
func NewRedisCache(client *redis.Client, ttl time.Duration) Cache {
	return &redisCache{client: client, ttl: ttl}
}

func (c *redisCache) cacheKey(store, key string) string {
	return fmt.Sprintf("cache:%s:%s", store, key)
}

// Get 读取缓存条目。Redis 传输错误按未命中处理并记录日志，
// 缓存故障绝不阻断引擎操作（引擎会回源账本）。
func (c *redisCache) Get(ctx context.Context, store, key string, dest any) (bool, error) {
	raw, err := c.client.Get(ctx, c.cacheKey(store, key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		log.Warnf("[Cache] Redis 读取失败, store: %s, key: %s, err: %v", store, key, err)
		return false, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warnf("[Cache] 缓存条目解析失败, store: %s, key: %s, err: %v", store, key, err)
		return false, nil
	}
	if !fresh(env.CachedAt, c.ttl, time.Now()) {
		// 过龄条目按未命中处理，保留物理条目本身，由物理过期兜底回收。
		return false, nil
	}

	if err := json.Unmarshal(env.Value, dest); err != nil {
		return false, fmt.Errorf("反序列化缓存值失败: %w", err)
	}
	return true, nil
}

// Put 写入缓存条目。物理过期设为 2×TTL，只作存量回收，不参与过期判定。
func (c *redisCache) Put(ctx context.Context, store, key string, value any) error {
	valueBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化缓存值失败: %w", err)
	}
	env := envelope{CachedAt: time.Now(), Value: valueBytes}
	envBytes, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("序列化缓存信封失败: %w", err)
	}
	return c.client.Set(ctx, c.cacheKey(store, key), envBytes, 2*c.ttl).Err()
}

// Invalidate 立即移除指定键。
func (c *redisCache) Invalidate(ctx context.Context, store, key string) error {
	return c.client.Del(ctx, c.cacheKey(store, key)).Err()
}

// Clear 清空整个命名空间。
func (c *redisCache) Clear(ctx context.Context, store string) error {
	keys, err := c.client.Keys(ctx, c.cacheKey(store, "*")).Result()
	if err != nil {
		return fmt.Errorf("扫描缓存键失败: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
