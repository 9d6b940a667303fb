package catalog

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	items    []Item
	loadedAt time.Time
}

// Cache 按 tenant 缓存目录，TTL 内直接返回；并发未命中只回源一次。
// 目录由外部后台维护，这里允许短暂读到旧数据。
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

func NewCache(loader Loader, ttl time.Duration) *Cache {
	return &Cache{
		loader:  loader,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// LoadActiveItems 实现 Loader。回源失败且有旧数据时返回旧数据。
func (c *Cache) LoadActiveItems(ctx context.Context, tenantID string) ([]Item, error) {
	c.mu.RLock()
	entry, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.loadedAt) < c.ttl {
		return entry.items, nil
	}

	v, err, _ := c.group.Do(tenantID, func() (interface{}, error) {
		items, err := c.loader.LoadActiveItems(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[tenantID] = cacheEntry{items: items, loadedAt: c.now()}
		c.mu.Unlock()
		return items, nil
	})
	if err != nil {
		if ok {
			return entry.items, nil
		}
		return nil, err
	}
	return v.([]Item), nil
}

// Invalidate 管理端改动目录后主动失效。
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
}
