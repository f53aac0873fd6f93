package precomputed

import (
	"context"
	"encoding/binary"
	"testing"

	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/janelia-flyem/n5ng/storage"
	"github.com/janelia-flyem/n5ng/storage/n5"
	"github.com/janelia-flyem/n5ng/storage/zarr"
)

// labelVolume returns little-endian uint64 C-order data where the voxel at (z,y,x) holds
// z*10000 + y*100 + x.
func labelVolume(shape []int64) []byte {
	data := make([]byte, shape[0]*shape[1]*shape[2]*8)
	i := 0
	for z := int64(0); z < shape[0]; z++ {
		for y := int64(0); y < shape[1]; y++ {
			for x := int64(0); x < shape[2]; x++ {
				binary.LittleEndian.PutUint64(data[i:], uint64(z*10000+y*100+x))
				i += 8
			}
		}
	}
	return data
}

func newTestService(t *testing.T, cfg Config) (*Service, *blob.Bucket) {
	bucket := memblob.OpenBucket(nil)
	store, err := storage.NewStore(bucket, "mem://", storage.Options{Workers: 4, ChunkCacheMB: 1, MetadataEntries: 16})
	if err != nil {
		t.Fatalf("can't create store: %v\n", err)
	}
	return NewService(store, cfg), bucket
}

func putN5(t *testing.T, bucket *blob.Bucket, path string, shape, chunk []int64, attrs map[string]interface{}) []byte {
	data := labelVolume(shape)
	if err := n5.PutTestArray(context.Background(), bucket, path, shape, chunk, storage.Uint64, data, attrs, storage.CodecGzip); err != nil {
		t.Fatalf("can't write n5 array %q: %v\n", path, err)
	}
	return data
}

func putZarr(t *testing.T, bucket *blob.Bucket, path string, shape, chunk []int64, attrs map[string]interface{}) []byte {
	data := labelVolume(shape)
	if err := zarr.PutTestArray(context.Background(), bucket, path, shape, chunk, storage.Uint64, data, attrs, storage.CodecZstd, "/"); err != nil {
		t.Fatalf("can't write zarr array %q: %v\n", path, err)
	}
	return data
}
