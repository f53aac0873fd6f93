package zarr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gocloud.dev/blob"

	"github.com/janelia-flyem/n5ng/storage"
)

var compressorIDs = map[string]string{
	storage.CodecZlib:  "zlib",
	storage.CodecGzip:  "gzip",
	storage.CodecZstd:  "zstd",
	storage.CodecLZ4:   "lz4",
	storage.CodecBzip2: "bz2",
}

// PutTestArray writes a little-endian C-order Zarr v2 array into a bucket.  Data holds
// little-endian C-order elements; chunks at the upper edges are padded with zeros.
// Attributes, if any, are written to .zattrs.
func PutTestArray(ctx context.Context, bucket *blob.Bucket, path string, shape, chunk []int64,
	dtype storage.DataType, data []byte, attrs map[string]interface{}, codec, separator string) error {

	var compressor *CompressorConfig
	if codec != "" && codec != storage.CodecRaw {
		id, found := compressorIDs[codec]
		if !found {
			return fmt.Errorf("no zarr compressor for codec %q", codec)
		}
		compressor = &CompressorConfig{ID: id}
	}
	kind := "u"
	switch {
	case strings.HasPrefix(dtype.String(), "int"):
		kind = "i"
	case strings.HasPrefix(dtype.String(), "float"):
		kind = "f"
	}
	byteOrder := "<"
	if dtype.Size() == 1 {
		byteOrder = "|"
	}
	if separator == "" {
		separator = "."
	}
	meta := Metadata{
		ZarrFormat:         2,
		Shape:              shape,
		Chunks:             chunk,
		DType:              fmt.Sprintf("%s%s%d", byteOrder, kind, dtype.Size()),
		Compressor:         compressor,
		FillValue:          0,
		Order:              "C",
		DimensionSeparator: separator,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := bucket.WriteAll(ctx, storage.JoinKey(path, arrayFile), metaJSON, nil); err != nil {
		return err
	}
	if len(attrs) != 0 {
		attrsJSON, err := json.Marshal(attrs)
		if err != nil {
			return err
		}
		if err := bucket.WriteAll(ctx, storage.JoinKey(path, attrsFile), attrsJSON, nil); err != nil {
			return err
		}
	}
	if data == nil {
		return nil
	}

	ndim := len(shape)
	esize := int64(dtype.Size())
	numChunks := make([]int64, ndim)
	chunkElems := int64(1)
	for i := range shape {
		numChunks[i] = (shape[i] + chunk[i] - 1) / chunk[i]
		chunkElems *= chunk[i]
	}
	return forEachIndex(numChunks, func(coord []int64) error {
		body := make([]byte, chunkElems*esize)
		var pos int64
		err := forEachIndex(chunk, func(idx []int64) error {
			var off int64
			inside := true
			for i := range idx {
				g := coord[i]*chunk[i] + idx[i]
				if g >= shape[i] {
					inside = false
				}
				off = off*shape[i] + g
			}
			if inside {
				copy(body[pos:pos+esize], data[off*esize:(off+1)*esize])
			}
			pos += esize
			return nil
		})
		if err != nil {
			return err
		}
		compressed, err := storage.Compress(codec, body, -1)
		if err != nil {
			return err
		}
		key := ChunkKey(path, coord, separator)
		if err := bucket.WriteAll(ctx, key, compressed, nil); err != nil {
			return fmt.Errorf("can't write test chunk %q: %v", key, err)
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
