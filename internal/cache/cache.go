// Package cache 实现了按实体标识键控的本地物化视图缓存。
// 缓存是引擎内唯一的可变共享结构，持有的只是带时限的非权威副本：
// 账本永远是事实来源，缓存失效时引擎总能回源账本。
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// 各组件约定的命名空间（store 参数取值）。
const (
	StoreEntities = "entities"
	StoreQueries  = "queries"
)

// envelope 包裹每个缓存值并携带写入时间。
// 过期判定只看 CachedAt 与 TTL，不依赖底层存储的物理过期。
type envelope struct {
	CachedAt time.Time       `json:"cachedAt"`
	Value    json.RawMessage `json:"value"`
}

// Cache 是缓存层的统一接口。
// 超过 TTL 的条目按未命中处理但不被主动剔除；每个键位独立读写，
// 跨键不保证任何顺序。实现必须可在并发下安全使用。
type Cache interface {
	// Get 读取缓存值并反序列化到 dest。返回 false 表示未命中或已过期。
	Get(ctx context.Context, store, key string, dest any) (bool, error)
	// Put 写入（或覆盖）缓存值，并记录当前时间为 cachedAt。
	Put(ctx context.Context, store, key string, value any) error
	// Invalidate 立即移除指定键。
	Invalidate(ctx context.Context, store, key string) error
	// Clear 清空整个命名空间。
	Clear(ctx context.Context, store string) error
}

// fresh 判断一个缓存条目是否仍在可用寿命内。
func fresh(cachedAt time.Time, ttl time.Duration, now time.Time) bool {
	return now.Sub(cachedAt) <= ttl
}
