// Package zarr implements a read-only storage engine for Zarr v2 arrays.
package zarr

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/blang/semver"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gocloud.dev/blob"

	"github.com/janelia-flyem/n5ng"
	"github.com/janelia-flyem/n5ng/storage"
)

const (
	arrayFile = ".zarray"
	attrsFile = ".zattrs"
)

const zarraySchema = `{
	"type": "object",
	"required": ["zarr_format", "shape", "chunks", "dtype"],
	"properties": {
		"zarr_format": {"const": 2},
		"shape": {"type": "array", "minItems": 1, "items": {"type": "integer", "minimum": 0}},
		"chunks": {"type": "array", "minItems": 1, "items": {"type": "integer", "minimum": 1}},
		"dtype": {"type": "string", "minLength": 3},
		"compressor": {
			"oneOf": [
				{"type": "null"},
				{"type": "object", "required": ["id"], "properties": {"id": {"type": "string"}}}
			]
		},
		"order": {"enum": ["C", "F"]},
		"dimension_separator": {"enum": [".", "/"]}
	}
}`

var schema = jsonschema.MustCompileString("zarray.json", zarraySchema)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		n5ng.Errorf("Unable to make semver in zarr: %v\n", err)
	}
	e := Engine{"zarr", "Zarr v2 chunked arrays (.zarray, .zattrs)", ver}
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

// Metadata is the .zarray document of a Zarr v2 array.
type Metadata struct {
	ZarrFormat         int               `json:"zarr_format"`
	Shape              []int64           `json:"shape"`
	Chunks             []int64           `json:"chunks"`
	DType              string            `json:"dtype"`
	Compressor         *CompressorConfig `json:"compressor"`
	FillValue          interface{}       `json:"fill_value"`
	Order              string            `json:"order"`
	Filters            []interface{}     `json:"filters"`
	DimensionSeparator string            `json:"dimension_separator,omitempty"`
}

// CompressorConfig is the numcodecs compressor configuration.
type CompressorConfig struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

type format struct {
	codec     string
	separator string
	bigEndian bool
}

// ParseDType parses a numpy-style dtype string like "<u8" or "|u1", returning the
// element type and whether elements are stored big-endian.
func ParseDType(dtype string) (storage.DataType, bool, error) {
	if len(dtype) < 3 {
		return storage.UnknownType, false, fmt.Errorf("invalid dtype %q", dtype)
	}
	order, kind := dtype[0], dtype[1]
	if order != '<' && order != '>' && order != '|' {
		return storage.UnknownType, false, fmt.Errorf("invalid byte order in dtype %q", dtype)
	}
	size, err := strconv.Atoi(dtype[2:])
	if err != nil {
		return storage.UnknownType, false, fmt.Errorf("invalid size in dtype %q", dtype)
	}
	var name string
	switch kind {
	case 'b':
		if size == 1 {
			name = "uint8"
		}
	case 'u':
		name = fmt.Sprintf("uint%d", size*8)
	case 'i':
		name = fmt.Sprintf("int%d", size*8)
	case 'f':
		if size == 4 || size == 8 {
			name = fmt.Sprintf("float%d", size*8)
		}
	}
	dt, err := storage.ParseDataType(name)
	if err != nil {
		return storage.UnknownType, false, fmt.Errorf("dtype %q: %w", dtype, n5ng.ErrUnsupported)
	}
	return dt, order == '>' && size > 1, nil
}

func codecName(c *CompressorConfig) (string, error) {
	if c == nil {
		return storage.CodecRaw, nil
	}
	switch c.ID {
	case "zlib":
		return storage.CodecZlib, nil
	case "gzip":
		return storage.CodecGzip, nil
	case "zstd":
		return storage.CodecZstd, nil
	case "lz4":
		return storage.CodecLZ4, nil
	case "bz2":
		return storage.CodecBzip2, nil
	case "blosc":
		return storage.CodecBlosc, nil
	case "lzma":
		return storage.CodecXz, nil
	}
	return "", fmt.Errorf("zarr compressor %q: %w", c.ID, n5ng.ErrUnsupported)
}

// parseFill converts a .zarray fill_value into a float, with null meaning zero.
func parseFill(v interface{}) (float64, error) {
	switch fv := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return fv, nil
	case bool:
		if fv {
			return 1, nil
		}
		return 0, nil
	case string:
		switch fv {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
	}
	return 0, fmt.Errorf("unsupported fill_value %v", v)
}

// OpenArray reads <path>/.zarray and the optional <path>/.zattrs.
func (e Engine) OpenArray(ctx context.Context, bucket *blob.Bucket, path string) (*storage.Array, error) {
	key := storage.JoinKey(path, arrayFile)
	data, err := storage.ReadObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("no zarr array at %q: %w", path, n5ng.ErrNotFound)
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("bad JSON in %q: %v", key, err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid zarr metadata in %q: %v", key, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("bad zarr metadata in %q: %v", key, err)
	}
	if len(meta.Shape) != len(meta.Chunks) {
		return nil, fmt.Errorf("zarr array %q has %d dimensions but %d chunk sizes", path, len(meta.Shape), len(meta.Chunks))
	}
	if meta.Order == "F" {
		return nil, fmt.Errorf("zarr array %q uses Fortran order: %w", path, n5ng.ErrUnsupported)
	}
	if len(meta.Filters) != 0 {
		return nil, fmt.Errorf("zarr array %q uses filters: %w", path, n5ng.ErrUnsupported)
	}
	dtype, bigEndian, err := ParseDType(meta.DType)
	if err != nil {
		return nil, err
	}
	codec, err := codecName(meta.Compressor)
	if err != nil {
		return nil, err
	}
	fill, err := parseFill(meta.FillValue)
	if err != nil {
		return nil, fmt.Errorf("zarr array %q: %v", path, err)
	}
	sep := meta.DimensionSeparator
	if sep == "" {
		sep = "."
	}

	attrs := make(map[string]interface{})
	attrData, err := storage.ReadObject(ctx, bucket, storage.JoinKey(path, attrsFile))
	if err != nil {
		return nil, err
	}
	if attrData != nil {
		if err := json.Unmarshal(attrData, &attrs); err != nil {
			n5ng.Warningf("Ignoring unparsable %s for zarr array %q: %v\n", attrsFile, path, err)
		}
	}

	return &storage.Array{
		Path:       path,
		Shape:      meta.Shape,
		ChunkShape: meta.Chunks,
		DataType:   dtype,
		Fill:       fill,
		Attributes: attrs,
		Engine:     e,
		Format:     format{codec: codec, separator: sep, bigEndian: bigEndian},
	}, nil
}

// ChunkKey returns the bucket key of the chunk at a C-order chunk coordinate.
func ChunkKey(path string, coord []int64, separator string) string {
	parts := make([]string, len(coord))
	for i, c := range coord {
		parts[i] = strconv.FormatInt(c, 10)
	}
	return storage.JoinKey(path, strings.Join(parts, separator))
}

// ReadChunk reads a chunk.  Zarr chunks always have the full chunk shape, even at the
// array's upper edges.
func (e Engine) ReadChunk(ctx context.Context, bucket *blob.Bucket, arr *storage.Array, coord []int64) (*storage.Chunk, error) {
	f, ok := arr.Format.(format)
	if !ok {
		return nil, fmt.Errorf("array %q was not opened by the zarr engine", arr.Path)
	}
	key := ChunkKey(arr.Path, coord, f.separator)
	data, err := storage.ReadObject(ctx, bucket, key)
	if err != nil || data == nil {
		return nil, err
	}
	uncompressed, err := storage.Decompress(f.codec, data)
	if err != nil {
		return nil, fmt.Errorf("zarr chunk %q: %w", key, err)
	}
	esize := arr.DataType.Size()
	numBytes := esize
	for _, d := range arr.ChunkShape {
		numBytes *= int(d)
	}
	if len(uncompressed) != numBytes {
		return nil, fmt.Errorf("zarr chunk %q holds %d bytes, expected %d", key, len(uncompressed), numBytes)
	}
	if f.bigEndian {
		storage.SwapBytes(uncompressed, esize)
	}
	return &storage.Chunk{Shape: append([]int64{}, arr.ChunkShape...), Data: uncompressed}, nil
}
