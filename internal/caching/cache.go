package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultTTL = time.Hour

type CacheEntry struct {
	Value      interface{}
	Expiration time.Time
}

// Cache is a TTL cache with singleflight semantics: concurrent callers for
// the same key share one createFn invocation. Feed clients use it to avoid
// refetching metadata within a run.
type Cache struct {
	data      sync.Map
	group     singleflight.Group
	itemCount int32
	TTL       time.Duration
}

func (c *Cache) GetOrCreate(key string, createFn func(entry *CacheEntry) (interface{}, error)) (interface{}, error) {
	if value, ok := c.data.Load(key); ok {
		cacheEntry := value.(CacheEntry)
		if cacheEntry.Expiration.After(time.Now()) {
			return cacheEntry.Value, nil
		}
		c.CleanUp()
	}

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		if value, ok := c.data.Load(key); ok {
			cacheEntry := value.(CacheEntry)
			if cacheEntry.Expiration.After(time.Now()) {
				return cacheEntry.Value, nil
			}
		}

		ttl := c.TTL
		if ttl <= 0 {
			ttl = defaultTTL
		}

		entry := &CacheEntry{
			Expiration: time.Now().Add(ttl),
		}

		v, err := createFn(entry)
		if err != nil {
			return nil, err
		}

		entry.Value = v
		c.data.Store(key, *entry)
		atomic.AddInt32(&c.itemCount, 1)
		return v, nil
	})

	return value, err
}

func (c *Cache) CleanUp() {
	if atomic.LoadInt32(&c.itemCount) == 0 {
		return
	}

	c.data.Range(func(key, value interface{}) bool {
		entry := value.(CacheEntry)
		if entry.Expiration.Before(time.Now()) {
			c.data.Delete(key)
			atomic.AddInt32(&c.itemCount, -1)
		}
		return true
	})
}
