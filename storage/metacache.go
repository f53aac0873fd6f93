package storage

import (
	"sync"

	"github.com/DmitriyVTitov/size"
	"github.com/golang/groupcache/lru"
)

// MetadataCache is an LRU of opened arrays keyed by path.  Arrays are immutable once
// opened so entries never need invalidation.
type MetadataCache struct {
	mu    sync.Mutex
	cache *lru.Cache
	bytes int64
}

// NewMetadataCache returns a cache holding up to maxEntries arrays or nil if maxEntries is 0.
func NewMetadataCache(maxEntries int) *MetadataCache {
	if maxEntries <= 0 {
		return nil
	}
	mc := &MetadataCache{cache: lru.New(maxEntries)}
	mc.cache.OnEvicted = func(key lru.Key, value interface{}) {
		mc.bytes -= int64(size.Of(value))
	}
	return mc
}

// Get returns the cached array for path or nil.
func (mc *MetadataCache) Get(path string) *Array {
	if mc == nil {
		return nil
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if v, ok := mc.cache.Get(path); ok {
		return v.(*Array)
	}
	return nil
}

// Add caches an opened array.
func (mc *MetadataCache) Add(path string, arr *Array) {
	if mc == nil || arr == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, ok := mc.cache.Get(path); ok {
		return
	}
	mc.bytes += int64(size.Of(arr))
	mc.cache.Add(path, arr)
}

// Len returns the number of cached arrays.
func (mc *MetadataCache) Len() int {
	if mc == nil {
		return 0
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.cache.Len()
}

// Bytes returns the approximate in-memory footprint of the cached arrays.
func (mc *MetadataCache) Bytes() int64 {
	if mc == nil {
		return 0
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.bytes
}
