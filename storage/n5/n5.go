// Package n5 implements a read-only storage engine for N5 chunked arrays.
package n5

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/blang/semver"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gocloud.dev/blob"

	"github.com/janelia-flyem/n5ng"
	"github.com/janelia-flyem/n5ng/storage"
)

const attributesFile = "attributes.json"

// block header modes
const (
	modeDefault   = 0
	modeVarLength = 1
	modeObject    = 2
)

const attributesSchema = `{
	"type": "object",
	"required": ["dimensions", "blockSize", "dataType"],
	"properties": {
		"dimensions": {"type": "array", "minItems": 1, "items": {"type": "integer", "minimum": 0}},
		"blockSize": {"type": "array", "minItems": 1, "items": {"type": "integer", "minimum": 1}},
		"dataType": {"type": "string"},
		"compression": {
			"type": "object",
			"required": ["type"],
			"properties": {"type": {"type": "string"}, "useZlib": {"type": "boolean"}}
		},
		"compressionType": {"type": "string"}
	}
}`

var schema = jsonschema.MustCompileString("n5-attributes.json", attributesSchema)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		n5ng.Errorf("Unable to make semver in n5: %v\n", err)
	}
	e := Engine{"n5", "N5 chunked arrays (attributes.json, big-endian blocks)", ver}
	storage.RegisterEngine(e)
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

type compressionT struct {
	Type    string `json:"type"`
	UseZlib bool   `json:"useZlib"`
}

type attributesT struct {
	Dimensions      []int64       `json:"dimensions"`
	BlockSize       []int64       `json:"blockSize"`
	DataType        string        `json:"dataType"`
	Compression     *compressionT `json:"compression"`
	CompressionType string        `json:"compressionType"`
}

// format is the per-array decoding state kept in storage.Array.Format.
type format struct {
	codec string
}

// codecName maps N5 compression settings onto storage codecs.
func (a attributesT) codecName() (string, error) {
	ctype := a.CompressionType
	if a.Compression != nil {
		ctype = a.Compression.Type
	}
	switch ctype {
	case "", "raw":
		return storage.CodecRaw, nil
	case "gzip":
		if a.Compression != nil && a.Compression.UseZlib {
			return storage.CodecZlib, nil
		}
		return storage.CodecGzip, nil
	case "bzip2":
		return storage.CodecBzip2, nil
	case "lz4":
		return storage.CodecLZ4Block, nil
	case "zstd":
		return storage.CodecZstd, nil
	case "xz":
		return storage.CodecXz, nil
	case "blosc":
		return storage.CodecBlosc, nil
	}
	return "", fmt.Errorf("n5 compression %q: %w", ctype, n5ng.ErrUnsupported)
}

// OpenArray reads <path>/attributes.json.  Groups, i.e., attribute files without
// dimensions, are reported as not found.
func (e Engine) OpenArray(ctx context.Context, bucket *blob.Bucket, path string) (*storage.Array, error) {
	key := storage.JoinKey(path, attributesFile)
	data, err := storage.ReadObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("no n5 attributes at %q: %w", key, n5ng.ErrNotFound)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("bad JSON in %q: %v", key, err)
	}
	if _, found := raw["dimensions"]; !found {
		return nil, fmt.Errorf("n5 group at %q is not an array: %w", path, n5ng.ErrNotFound)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid n5 attributes in %q: %v", key, err)
	}
	var attrs attributesT
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("bad n5 attributes in %q: %v", key, err)
	}
	if len(attrs.Dimensions) != len(attrs.BlockSize) {
		return nil, fmt.Errorf("n5 array %q has %d dimensions but %d block sizes", path, len(attrs.Dimensions), len(attrs.BlockSize))
	}
	dtype, err := storage.ParseDataType(attrs.DataType)
	if err != nil {
		return nil, fmt.Errorf("n5 array %q: %w", path, err)
	}
	codec, err := attrs.codecName()
	if err != nil {
		return nil, err
	}
	return &storage.Array{
		Path:       path,
		Shape:      reverse(attrs.Dimensions),
		ChunkShape: reverse(attrs.BlockSize),
		DataType:   dtype,
		Attributes: raw,
		Engine:     e,
		Format:     format{codec: codec},
	}, nil
}

// ReadChunk reads the block at <path>/<x>/<y>/<z>, i.e., the C-order coordinate
// reversed, and converts its big-endian elements to little-endian.
func (e Engine) ReadChunk(ctx context.Context, bucket *blob.Bucket, arr *storage.Array, coord []int64) (*storage.Chunk, error) {
	f, ok := arr.Format.(format)
	if !ok {
		return nil, fmt.Errorf("array %q was not opened by the n5 engine", arr.Path)
	}
	key := BlockKey(arr.Path, coord)
	data, err := storage.ReadObject(ctx, bucket, key)
	if err != nil || data == nil {
		return nil, err
	}
	shape, body, err := decodeHeader(data, arr.NumDims())
	if err != nil {
		return nil, fmt.Errorf("n5 block %q: %w", key, err)
	}
	uncompressed, err := storage.Decompress(f.codec, body)
	if err != nil {
		return nil, fmt.Errorf("n5 block %q: %w", key, err)
	}
	esize := arr.DataType.Size()
	numBytes := esize
	for _, d := range shape {
		numBytes *= int(d)
	}
	if len(uncompressed) < numBytes {
		return nil, fmt.Errorf("n5 block %q holds %d bytes, expected %d for shape %v", key, len(uncompressed), numBytes, shape)
	}
	chunk := &storage.Chunk{Shape: shape, Data: uncompressed[:numBytes]}
	storage.SwapBytes(chunk.Data, esize)
	return chunk, nil
}

// decodeHeader parses the big-endian block header and returns the block's C-order
// shape and the compressed payload.
func decodeHeader(data []byte, ndim int) (shape []int64, body []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("header truncated")
	}
	mode := binary.BigEndian.Uint16(data[0:2])
	if mode == modeObject {
		return nil, nil, fmt.Errorf("object blocks: %w", n5ng.ErrUnsupported)
	}
	if mode != modeDefault && mode != modeVarLength {
		return nil, nil, fmt.Errorf("unknown block mode %d", mode)
	}
	n := int(binary.BigEndian.Uint16(data[2:4]))
	if n != ndim {
		return nil, nil, fmt.Errorf("block has %d dimensions, array has %d", n, ndim)
	}
	pos := 4
	if len(data) < pos+4*n {
		return nil, nil, fmt.Errorf("header truncated")
	}
	shape = make([]int64, n)
	for i := 0; i < n; i++ {
		shape[n-1-i] = int64(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
	}
	if mode == modeVarLength {
		if len(data) < pos+4 {
			return nil, nil, fmt.Errorf("header truncated")
		}
		pos += 4 // number of elements; default arrays use the block shape
	}
	return shape, data[pos:], nil
}

// BlockKey returns the bucket key of the block at a C-order chunk coordinate.
func BlockKey(path string, coord []int64) string {
	elems := make([]string, 0, len(coord)+1)
	elems = append(elems, path)
	for i := len(coord) - 1; i >= 0; i-- {
		elems = append(elems, strconv.FormatInt(coord[i], 10))
	}
	return storage.JoinKey(elems...)
}

func reverse(dims []int64) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		out[len(dims)-1-i] = d
	}
	return out
}
