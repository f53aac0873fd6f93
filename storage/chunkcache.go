package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/coocood/freecache"
	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/n5ng"
)

// ChunkCache holds decoded chunks keyed by array path and chunk coordinate.  Chunks
// larger than 1/1024 of the cache size are never cached.
type ChunkCache struct {
	cache *freecache.Cache
}

// NewChunkCache returns a cache of roughly the given size in MB or nil if sizeMB is 0.
func NewChunkCache(sizeMB int) *ChunkCache {
	if sizeMB <= 0 {
		return nil
	}
	numBytes := sizeMB * n5ng.Mega
	c := &ChunkCache{cache: freecache.NewCache(numBytes)}
	n5ng.Infof("Created freecache of ~ %s for decoded chunks\n", humanize.Bytes(uint64(numBytes)))
	return c
}

func chunkKey(path string, coord []int64) []byte {
	return []byte(fmt.Sprintf("%s:%v", path, coord))
}

// Get returns a cached chunk or nil.
func (c *ChunkCache) Get(path string, coord []int64) *Chunk {
	if c == nil {
		return nil
	}
	val, err := c.cache.Get(chunkKey(path, coord))
	if err != nil || len(val) < 1 {
		return nil
	}
	ndim := int(val[0])
	if len(val) < 1+ndim*8 {
		return nil
	}
	chunk := &Chunk{Shape: make([]int64, ndim)}
	for i := 0; i < ndim; i++ {
		chunk.Shape[i] = int64(binary.LittleEndian.Uint64(val[1+i*8:]))
	}
	chunk.Data = val[1+ndim*8:]
	return chunk
}

// Put stores a decoded chunk.
func (c *ChunkCache) Put(path string, coord []int64, chunk *Chunk) {
	if c == nil || chunk == nil {
		return
	}
	ndim := len(chunk.Shape)
	val := make([]byte, 1+ndim*8+len(chunk.Data))
	val[0] = byte(ndim)
	for i, d := range chunk.Shape {
		binary.LittleEndian.PutUint64(val[1+i*8:], uint64(d))
	}
	copy(val[1+ndim*8:], chunk.Data)
	if err := c.cache.Set(chunkKey(path, coord), val, 0); err != nil {
		n5ng.Debugf("Skipping cache of chunk %v in %q (%s): %v\n", coord, path, humanize.Bytes(uint64(len(val))), err)
	}
}

// ChunkCacheStats summarizes cache effectiveness.
type ChunkCacheStats struct {
	Entries  int64
	Hits     int64
	Misses   int64
	HitRate  float64
	Evicted  int64
	Disabled bool `json:",omitempty"`
}

// Stats returns the current cache statistics.
func (c *ChunkCache) Stats() ChunkCacheStats {
	if c == nil {
		return ChunkCacheStats{Disabled: true}
	}
	return ChunkCacheStats{
		Entries: c.cache.EntryCount(),
		Hits:    c.cache.HitCount(),
		Misses:  c.cache.MissCount(),
		HitRate: c.cache.HitRate(),
		Evicted: c.cache.EvacuateCount(),
	}
}
