package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// memoryCache 是 Cache 的进程内实现，供测试与无 Redis 的降级模式使用。
// 语义与 Redis 实现一致：过龄条目按未命中处理，不主动剔除。
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	// now 可在测试中替换以控制时钟。
	now func() time.Time
}

type memoryEntry struct {
	cachedAt time.Time
	value    []byte
}

// NewMemoryCache 创建一个进程内缓存层。
func NewMemoryCache(ttl time.Duration) Cache {
	return &memoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func memoryKey(store, key string) string {
	return store + ":" + key
}

func (c *memoryCache) Get(_ context.Context, store, key string, dest any) (bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[memoryKey(store, key)]
	c.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if !fresh(entry.cachedAt, c.ttl, c.now()) {
		return false, nil
	}
	if err := json.Unmarshal(entry.value, dest); err != nil {
		return false, fmt.Errorf("反序列化缓存值失败: %w", err)
	}
	return true, nil
}

func (c *memoryCache) Put(_ context.Context, store, key string, value any) error {
	valueBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化缓存值失败: %w", err)
	}
	c.mu.Lock()
	c.entries[memoryKey(store, key)] = memoryEntry{cachedAt: c.now(), value: valueBytes}
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, store, key string) error {
	c.mu.Lock()
	delete(c.entries, memoryKey(store, key))
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Clear(_ context.Context, store string) error {
	prefix := store + ":"
	c.mu.Lock()
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
	return nil
}
