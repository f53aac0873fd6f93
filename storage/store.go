package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/n5ng"
)

// DefaultWorkers is the default number of concurrent chunk reads per sub-volume.
const DefaultWorkers = 8

// Options configure a Store.
type Options struct {
	// Format is "auto", "n5" or "zarr".
	Format string

	// Workers bounds the number of concurrent chunk reads for one sub-volume.
	Workers int

	// ChunkCacheMB is the size of the decoded chunk cache; 0 disables it.
	ChunkCacheMB int

	// MetadataEntries is the number of opened arrays kept in memory; 0 disables caching.
	MetadataEntries int
}

// Store is a read-only handle on a chunked array store.  It is opened once and is safe
// for concurrent use.
type Store struct {
	ref     string
	bucket  *blob.Bucket
	engines []Engine
	workers int

	chunks *ChunkCache
	meta   *MetadataCache

	chunksRead int64
}

// Open opens the store at the given reference.  See OpenBucket for the accepted forms.
func Open(ctx context.Context, ref string, opts Options) (*Store, error) {
	bucket, err := OpenBucket(ctx, ref)
	if err != nil {
		return nil, err
	}
	return NewStore(bucket, ref, opts)
}

// NewStore wraps an already opened bucket.
func NewStore(bucket *blob.Bucket, ref string, opts Options) (*Store, error) {
	sel, err := selectEngines(opts.Format)
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	s := &Store{
		ref:     ref,
		bucket:  bucket,
		engines: sel,
		workers: workers,
		chunks:  NewChunkCache(opts.ChunkCacheMB),
		meta:    NewMetadataCache(opts.MetadataEntries),
	}
	names := make([]string, len(sel))
	for i, e := range sel {
		names[i] = e.GetName()
	}
	n5ng.Infof("Opened array store @ %q with engines %s, %d workers per request\n", ref, strings.Join(names, ", "), workers)
	return s, nil
}

// Ref returns the reference the store was opened with.
func (s *Store) Ref() string {
	return s.ref
}

// Close releases the underlying bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

// Array opens the array node at path.  Missing nodes return an error wrapping
// n5ng.ErrNotFound.
func (s *Store) Array(ctx context.Context, path string) (*Array, error) {
	path = strings.Trim(path, "/")
	if arr := s.meta.Get(path); arr != nil {
		return arr, nil
	}
	var errs []string
	for _, e := range s.engines {
		arr, err := e.OpenArray(ctx, s.bucket, path)
		if err == nil {
			s.meta.Add(path, arr)
			return arr, nil
		}
		if !errors.Is(err, n5ng.ErrNotFound) {
			return nil, err
		}
		errs = append(errs, e.GetName())
	}
	return nil, fmt.Errorf("no %s array at %q: %w", strings.Join(errs, "/"), path, n5ng.ErrNotFound)
}

// ReadAll returns the object at key, wrapping n5ng.ErrNotFound if it is absent.
func (s *Store) ReadAll(ctx context.Context, key string) ([]byte, error) {
	data, err := ReadObject(ctx, s.bucket, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("object %q: %w", key, n5ng.ErrNotFound)
	}
	return data, nil
}

// List returns the names of objects and sub-directories directly under the prefix,
// in listing order.  Sub-directory names end with "/".
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	var names []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("can't list %q: %v", prefix, err)
		}
		names = append(names, strings.TrimPrefix(obj.Key, prefix))
	}
	return names, nil
}

// ReadChunk returns a decoded chunk using the chunk cache, or nil if it was never written.
func (s *Store) ReadChunk(ctx context.Context, arr *Array, coord []int64) (*Chunk, error) {
	if chunk := s.chunks.Get(arr.Path, coord); chunk != nil {
		return chunk, nil
	}
	chunk, err := arr.Engine.ReadChunk(ctx, s.bucket, arr, coord)
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&s.chunksRead, 1)
	s.chunks.Put(arr.Path, coord, chunk)
	return chunk, nil
}

// ReadSubvolume assembles the C-order box [lo, hi) of the array from the chunks it
// intersects.  Chunks are fetched concurrently; missing chunks take the fill value.
func (s *Store) ReadSubvolume(ctx context.Context, arr *Array, lo, hi []int64) (*Block, error) {
	ndim := arr.NumDims()
	if len(lo) != ndim || len(hi) != ndim {
		return nil, fmt.Errorf("box of %d dims for %d-dim array %q: %w", len(lo), ndim, arr.Path, n5ng.ErrBounds)
	}
	shape := make([]int64, ndim)
	for i := 0; i < ndim; i++ {
		if lo[i] < 0 || hi[i] > arr.Shape[i] || lo[i] > hi[i] {
			return nil, fmt.Errorf("box %v-%v outside array %q of shape %v: %w", lo, hi, arr.Path, arr.Shape, n5ng.ErrBounds)
		}
		shape[i] = hi[i] - lo[i]
	}
	block := NewBlock(shape, arr.DataType)
	block.Fill(arr.Fill)
	if len(block.Data) == 0 {
		return block, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	forEachChunk(arr.ChunkShape, lo, hi, func(coord []int64) {
		g.Go(func() error {
			chunk, err := s.ReadChunk(gctx, arr, coord)
			if err != nil {
				return fmt.Errorf("chunk %v of %q: %w", coord, arr.Path, err)
			}
			if chunk == nil {
				return nil
			}
			return copyChunk(block, lo, chunk, coord, arr.ChunkShape)
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return block, nil
}

// ChunksRead returns the number of chunks fetched from the bucket since the store opened.
func (s *Store) ChunksRead() int64 {
	return atomic.LoadInt64(&s.chunksRead)
}

// ChunkCacheStats returns statistics for the decoded chunk cache.
func (s *Store) ChunkCacheStats() ChunkCacheStats {
	return s.chunks.Stats()
}

// MetadataCacheStats returns the number of cached arrays and their approximate footprint.
func (s *Store) MetadataCacheStats() (entries int, bytes int64) {
	return s.meta.Len(), s.meta.Bytes()
}

// forEachChunk calls fn with the coordinate of every chunk intersecting [lo, hi).
// The coordinate slice is fresh for each call.
func forEachChunk(chunkShape, lo, hi []int64, fn func(coord []int64)) {
	ndim := len(chunkShape)
	first := make([]int64, ndim)
	last := make([]int64, ndim)
	for i := 0; i < ndim; i++ {
		first[i] = lo[i] / chunkShape[i]
		last[i] = (hi[i] - 1) / chunkShape[i]
	}
	cur := append([]int64{}, first...)
	for {
		fn(append([]int64{}, cur...))
		i := ndim - 1
		for ; i >= 0; i-- {
			if cur[i] < last[i] {
				cur[i]++
				break
			}
			cur[i] = first[i]
		}
		if i < 0 {
			return
		}
	}
}

// copyChunk copies the part of a chunk that intersects the block, which starts at lo
// in array coordinates.  Writes from different chunks never overlap.
func copyChunk(block *Block, lo []int64, chunk *Chunk, coord, chunkShape []int64) error {
	ndim := len(block.Shape)
	if len(chunk.Shape) != ndim {
		return fmt.Errorf("chunk has %d dims, expected %d", len(chunk.Shape), ndim)
	}
	esize := int64(block.DataType.Size())
	var numElems int64 = 1
	for _, d := range chunk.Shape {
		numElems *= d
	}
	if int64(len(chunk.Data)) < numElems*esize {
		return fmt.Errorf("chunk holds %d bytes, expected %d for shape %v", len(chunk.Data), numElems*esize, chunk.Shape)
	}

	// intersection in array coordinates
	start := make([]int64, ndim)
	end := make([]int64, ndim)
	for i := 0; i < ndim; i++ {
		origin := coord[i] * chunkShape[i]
		start[i] = max64(origin, lo[i])
		end[i] = min64(origin+chunk.Shape[i], lo[i]+block.Shape[i])
		if start[i] >= end[i] {
			return nil
		}
	}

	srcStrides := strides(chunk.Shape)
	dstStrides := strides(block.Shape)
	runLen := (end[ndim-1] - start[ndim-1]) * esize

	idx := append([]int64{}, start...)
	for {
		var srcOff, dstOff int64
		for i := 0; i < ndim; i++ {
			srcOff += (idx[i] - coord[i]*chunkShape[i]) * srcStrides[i]
			dstOff += (idx[i] - lo[i]) * dstStrides[i]
		}
		srcOff *= esize
		dstOff *= esize
		copy(block.Data[dstOff:dstOff+runLen], chunk.Data[srcOff:srcOff+runLen])

		i := ndim - 2
		for ; i >= 0; i-- {
			if idx[i]+1 < end[i] {
				idx[i]++
				break
			}
			idx[i] = start[i]
		}
		if i < 0 {
			return nil
		}
	}
}

func strides(shape []int64) []int64 {
	s := make([]int64, len(shape))
	acc := int64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
