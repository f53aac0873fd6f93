package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/janelia-flyem/n5ng"
)

// DataType is the numeric type of an array element.
type DataType uint8

const (
	UnknownType DataType = iota
	Uint8
	Uint16
	Uint32
	Uint64
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
)

var dataTypeNames = map[DataType]string{
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
}

func (t DataType) String() string {
	if name, found := dataTypeNames[t]; found {
		return name
	}
	return "unknown"
}

// Size returns the number of bytes per element.
func (t DataType) Size() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	}
	return 0
}

// HoldsUint reports whether v can be stored exactly as an element of the type.
func (t DataType) HoldsUint(v uint64) bool {
	switch t {
	case Uint8, Uint16, Uint32, Uint64:
		return t.Size() == 8 || v < 1<<(8*uint(t.Size()))
	case Int8, Int16, Int32, Int64:
		return v < 1<<(8*uint(t.Size())-1)
	case Float32:
		return v <= 1<<24
	case Float64:
		return v <= 1<<53
	}
	return false
}

// ParseDataType returns the DataType for names like "uint64" or "float32".
func ParseDataType(s string) (DataType, error) {
	for t, name := range dataTypeNames {
		if name == s {
			return t, nil
		}
	}
	return UnknownType, fmt.Errorf("data type %q: %w", s, n5ng.ErrUnsupported)
}

// Array is the read-only description of an array node.  Shape and ChunkShape are in
// C-order (slowest axis first) regardless of how the format stores them on disk.
type Array struct {
	Path       string
	Shape      []int64
	ChunkShape []int64
	DataType   DataType
	Fill       float64
	Attributes map[string]interface{}
	Engine     Engine

	// Format holds engine-specific decoding parameters.
	Format interface{}
}

func (a *Array) String() string {
	return fmt.Sprintf("%s array %q (shape %v, chunks %v, %s)", a.Engine.GetName(), a.Path, a.Shape, a.ChunkShape, a.DataType)
}

// NumDims returns the dimensionality of the array.
func (a *Array) NumDims() int {
	return len(a.Shape)
}

// Chunk is a decoded chunk: little-endian C-order element data with the chunk's actual
// shape, which may be smaller than the array's chunk shape for N5 edge blocks.
type Chunk struct {
	Shape []int64
	Data  []byte
}

// Block is a dense sub-volume extracted from an array.  Data holds little-endian
// elements in C-order, so the last axis varies fastest.
type Block struct {
	Shape    []int64
	DataType DataType
	Data     []byte
}

// NewBlock allocates a zeroed block.
func NewBlock(shape []int64, t DataType) *Block {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return &Block{
		Shape:    append([]int64{}, shape...),
		DataType: t,
		Data:     make([]byte, n*int64(t.Size())),
	}
}

// NumElements returns the number of elements in the block.
func (b *Block) NumElements() int {
	if sz := b.DataType.Size(); sz > 0 {
		return len(b.Data) / sz
	}
	return 0
}

// Uint64At returns element i cast to uint64.  Negative integers are returned in two's
// complement and floats are truncated.
func (b *Block) Uint64At(i int) uint64 {
	return elementUint64(b.DataType, b.Data[i*b.DataType.Size():])
}

// Fill sets every element to the given value.
func (b *Block) Fill(v float64) {
	sz := b.DataType.Size()
	if sz == 0 || v == 0 {
		return
	}
	elem := make([]byte, sz)
	putFloat(b.DataType, elem, v)
	for i := 0; i < len(b.Data); i += sz {
		copy(b.Data[i:i+sz], elem)
	}
}

// ReplacePositive sets every element greater than zero to v.  Applying the same value
// twice is a no-op.
func (b *Block) ReplacePositive(v uint64) {
	sz := b.DataType.Size()
	if sz == 0 {
		return
	}
	elem := make([]byte, sz)
	putUint64(b.DataType, elem, v)
	for i := 0; i < len(b.Data); i += sz {
		if isPositive(b.DataType, b.Data[i:i+sz]) {
			copy(b.Data[i:i+sz], elem)
		}
	}
}

// Convert returns the block with elements cast to the given type.  If the block already
// has that type it is returned as is.
func (b *Block) Convert(t DataType) (*Block, error) {
	if t == b.DataType {
		return b, nil
	}
	if t.Size() == 0 {
		return nil, fmt.Errorf("cannot convert block to %s: %w", t, n5ng.ErrUnsupported)
	}
	out := NewBlock(b.Shape, t)
	srcSize, dstSize := b.DataType.Size(), t.Size()
	n := b.NumElements()
	for i := 0; i < n; i++ {
		src := b.Data[i*srcSize:]
		dst := out.Data[i*dstSize : (i+1)*dstSize]
		if isFloat(b.DataType) || isFloat(t) {
			putFloat(t, dst, elementFloat(b.DataType, src))
		} else {
			putUint64(t, dst, elementUint64(b.DataType, src))
		}
	}
	return out, nil
}

func isFloat(t DataType) bool {
	return t == Float32 || t == Float64
}

func isPositive(t DataType, b []byte) bool {
	switch t {
	case Uint8, Uint16, Uint32, Uint64:
		return elementUint64(t, b) != 0
	case Int8:
		return int8(b[0]) > 0
	case Int16:
		return int16(binary.LittleEndian.Uint16(b)) > 0
	case Int32:
		return int32(binary.LittleEndian.Uint32(b)) > 0
	case Int64:
		return int64(binary.LittleEndian.Uint64(b)) > 0
	default:
		return elementFloat(t, b) > 0
	}
}

func elementUint64(t DataType, b []byte) uint64 {
	switch t {
	case Uint8:
		return uint64(b[0])
	case Int8:
		return uint64(int64(int8(b[0])))
	case Uint16:
		return uint64(binary.LittleEndian.Uint16(b))
	case Int16:
		return uint64(int64(int16(binary.LittleEndian.Uint16(b))))
	case Uint32:
		return uint64(binary.LittleEndian.Uint32(b))
	case Int32:
		return uint64(int64(int32(binary.LittleEndian.Uint32(b))))
	case Uint64, Int64:
		return binary.LittleEndian.Uint64(b)
	case Float32:
		return uint64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return uint64(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	}
	return 0
}

func elementFloat(t DataType, b []byte) float64 {
	switch t {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case Int8, Int16, Int32, Int64:
		return float64(int64(elementUint64(t, b)))
	}
	return float64(elementUint64(t, b))
}

func putUint64(t DataType, b []byte, v uint64) {
	switch t {
	case Uint8, Int8:
		b[0] = byte(v)
	case Uint16, Int16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case Uint32, Int32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case Uint64, Int64:
		binary.LittleEndian.PutUint64(b, v)
	case Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(float64(v)))
	}
}

func putFloat(t DataType, b []byte, v float64) {
	switch t {
	case Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	case Int8, Int16, Int32, Int64:
		putUint64(t, b, uint64(int64(v)))
	default:
		if v < 0 {
			v = 0
		}
		putUint64(t, b, uint64(v))
	}
}

// SwapBytes converts big-endian element data to little-endian in place.
func SwapBytes(data []byte, elemSize int) {
	if elemSize <= 1 {
		return
	}
	for i := 0; i+elemSize <= len(data); i += elemSize {
		for lo, hi := i, i+elemSize-1; lo < hi; lo, hi = lo+1, hi-1 {
			data[lo], data[hi] = data[hi], data[lo]
		}
	}
}
