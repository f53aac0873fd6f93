package n5

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"gocloud.dev/blob"

	"github.com/janelia-flyem/n5ng/storage"
)

// PutTestArray writes an N5 array into a bucket, typically an in-memory one.  Shape and
// chunk are C-order, data holds little-endian C-order elements, and extra attributes are
// merged into attributes.json.  Edge blocks are truncated as N5 writers do.
func PutTestArray(ctx context.Context, bucket *blob.Bucket, path string, shape, chunk []int64,
	dtype storage.DataType, data []byte, attrs map[string]interface{}, codec string) error {

	compression := map[string]interface{}{"type": "raw"}
	switch codec {
	case "", storage.CodecRaw:
	case storage.CodecZlib:
		compression = map[string]interface{}{"type": "gzip", "useZlib": true}
	case storage.CodecLZ4Block:
		compression["type"] = "lz4"
	default:
		compression["type"] = codec
	}
	meta := map[string]interface{}{
		"dimensions":  reverse(shape),
		"blockSize":   reverse(chunk),
		"dataType":    dtype.String(),
		"compression": compression,
	}
	for k, v := range attrs {
		meta[k] = v
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := bucket.WriteAll(ctx, storage.JoinKey(path, attributesFile), metaJSON, nil); err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	ndim := len(shape)
	esize := int64(dtype.Size())
	numChunks := make([]int64, ndim)
	for i := range shape {
		numChunks[i] = (shape[i] + chunk[i] - 1) / chunk[i]
	}
	return forEachIndex(numChunks, func(coord []int64) error {
		origin := make([]int64, ndim)
		bshape := make([]int64, ndim)
		for i := range coord {
			origin[i] = coord[i] * chunk[i]
			bshape[i] = chunk[i]
			if origin[i]+bshape[i] > shape[i] {
				bshape[i] = shape[i] - origin[i]
			}
		}
		var body []byte
		err := forEachIndex(bshape, func(idx []int64) error {
			var off int64
			for i := range idx {
				off = off*shape[i] + origin[i] + idx[i]
			}
			body = append(body, data[off*esize:(off+1)*esize]...)
			return nil
		})
		if err != nil {
			return err
		}
		storage.SwapBytes(body, int(esize))
		compressed, err := storage.Compress(codec, body, -1)
		if err != nil {
			return err
		}
		header := make([]byte, 4+4*ndim)
		binary.BigEndian.PutUint16(header[0:2], modeDefault)
		binary.BigEndian.PutUint16(header[2:4], uint16(ndim))
		for i := 0; i < ndim; i++ {
			binary.BigEndian.PutUint32(header[4+4*i:], uint32(bshape[ndim-1-i]))
		}
		key := BlockKey(path, coord)
		if err := bucket.WriteAll(ctx, key, append(header, compressed...), nil); err != nil {
			return fmt.Errorf("can't write test block %q: %v", key, err)
		}
		return nil
	})
}

// forEachIndex visits every index of the given extent in C-order.
func forEachIndex(extent []int64, fn func(idx []int64) error) error {
	for _, d := range extent {
		if d <= 0 {
			return nil
		}
	}
	idx := make([]int64, len(extent))
	for {
		if err := fn(idx); err != nil {
			return err
		}
		i := len(extent) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < extent[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return nil
		}
	}
}
