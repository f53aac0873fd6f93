package storage

import (
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/janelia-flyem/n5ng"
)

// Codec names shared by the array engines and the HTTP serializer.
const (
	CodecRaw      = "raw"
	CodecGzip     = "gzip"
	CodecZlib     = "zlib"
	CodecZstd     = "zstd"
	CodecBzip2    = "bzip2"
	CodecSnappy   = "snappy"
	CodecLZ4      = "lz4"      // 4-byte little-endian size header followed by an lz4 block
	CodecLZ4Block = "lz4block" // java LZ4BlockOutputStream framing used by N5
	CodecBlosc    = "blosc"
	CodecXz       = "xz"
)

var (
	zstdDecoder *zstd.Decoder
	zstdEncoder *zstd.Encoder
)

func init() {
	var err error
	if zstdDecoder, err = zstd.NewReader(nil); err != nil {
		n5ng.Criticalf("Unable to create zstd decoder: %v\n", err)
	}
	if zstdEncoder, err = zstd.NewWriter(nil); err != nil {
		n5ng.Criticalf("Unable to create zstd encoder: %v\n", err)
	}
}

// Decompress decodes chunk or payload data with the named codec.
func Decompress(codec string, data []byte) ([]byte, error) {
	switch codec {
	case "", CodecRaw:
		return data, nil
	case CodecGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("can't uncompress gzip data: %v", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case CodecZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("can't uncompress zlib data: %v", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case CodecZstd:
		return zstdDecoder.DecodeAll(data, nil)
	case CodecBzip2:
		return io.ReadAll(bzip2.NewReader(bytes.NewReader(data)))
	case CodecSnappy:
		return snappy.Decode(nil, data)
	case CodecLZ4:
		return uncompressLZ4(data)
	case CodecLZ4Block:
		return uncompressLZ4Block(data)
	case CodecBlosc, CodecXz:
		return nil, fmt.Errorf("%s compression: %w", codec, n5ng.ErrUnsupported)
	}
	return nil, fmt.Errorf("unknown compression %q: %w", codec, n5ng.ErrUnsupported)
}

// Compress encodes data with the named codec.  The level is only used by gzip and zlib;
// pass -1 for the library default.
func Compress(codec string, data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	switch codec {
	case "", CodecRaw:
		return data, nil
	case CodecGzip:
		zw, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err = zw.Write(data); err != nil {
			return nil, err
		}
		if err = zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CodecZlib:
		zw, err := zlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err = zw.Write(data); err != nil {
			return nil, err
		}
		if err = zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CodecZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case CodecSnappy:
		return snappy.Encode(nil, data), nil
	case CodecLZ4:
		return compressLZ4(data)
	case CodecLZ4Block:
		return compressLZ4Block(data)
	}
	return nil, fmt.Errorf("cannot compress with %q: %w", codec, n5ng.ErrUnsupported)
}

func compressLZ4(data []byte) ([]byte, error) {
	out := make([]byte, lz4.CompressBlockBound(len(data))+4)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(data)))
	if len(data) == 0 {
		return out[:4], nil
	}
	n, err := lz4.CompressBlock(data, out[4:], nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("lz4 was unable to compress %d bytes", len(data))
	}
	return out[:4+n], nil
}

// MaxDecodedBytes bounds the size of any single decompressed chunk or payload.
const MaxDecodedBytes = 1 << 30

// An lz4 block expands by at most 255x, so larger size headers are corrupt.
const lz4MaxRatio = 255

func checkLZ4Size(origLen, compLen int) error {
	if origLen < 0 || origLen > MaxDecodedBytes || origLen > lz4MaxRatio*compLen+64 {
		return fmt.Errorf("lz4 size header of %d bytes is implausible for %d compressed bytes", origLen, compLen)
	}
	return nil
}

func uncompressLZ4(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("lz4 data too short (%d bytes)", len(data))
	}
	origSize := binary.LittleEndian.Uint32(data[0:4])
	if err := checkLZ4Size(int(origSize), len(data)-4); err != nil {
		return nil, err
	}
	out := make([]byte, int(origSize))
	if origSize == 0 {
		return out, nil
	}
	n, err := lz4.UncompressBlock(data[4:], out)
	if err != nil {
		return nil, fmt.Errorf("can't uncompress lz4 data: %v", err)
	}
	if n != int(origSize) {
		return nil, fmt.Errorf("lz4 data expanded to %d bytes, expected %d", n, origSize)
	}
	return out, nil
}

// LZ4BlockOutputStream framing: each block is "LZ4Block", a token byte holding the
// method in the high nibble, then little-endian int32 compressed length, decompressed
// length and checksum.  A raw block with zero lengths ends the stream.
const (
	lz4BlockMagic     = "LZ4Block"
	lz4BlockHeaderLen = len(lz4BlockMagic) + 13
	lz4MethodRaw      = 0x10
	lz4MethodLZ4      = 0x20
)

func uncompressLZ4Block(data []byte) ([]byte, error) {
	var out []byte
	for len(data) > 0 {
		if len(data) < lz4BlockHeaderLen || string(data[:len(lz4BlockMagic)]) != lz4BlockMagic {
			return nil, fmt.Errorf("bad LZ4Block header")
		}
		token := data[len(lz4BlockMagic)]
		compLen := int(binary.LittleEndian.Uint32(data[9:13]))
		origLen := int(binary.LittleEndian.Uint32(data[13:17]))
		data = data[lz4BlockHeaderLen:]
		if origLen == 0 {
			break
		}
		if compLen > len(data) {
			return nil, fmt.Errorf("LZ4Block of %d bytes truncated to %d", compLen, len(data))
		}
		if err := checkLZ4Size(origLen, compLen); err != nil {
			return nil, err
		}
		switch token & 0xF0 {
		case lz4MethodRaw:
			out = append(out, data[:compLen]...)
		case lz4MethodLZ4:
			buf := make([]byte, origLen)
			n, err := lz4.UncompressBlock(data[:compLen], buf)
			if err != nil {
				return nil, fmt.Errorf("can't uncompress LZ4Block: %v", err)
			}
			out = append(out, buf[:n]...)
		default:
			return nil, fmt.Errorf("unknown LZ4Block method 0x%x", token&0xF0)
		}
		data = data[compLen:]
	}
	return out, nil
}

// compressLZ4Block writes a single-block stream.  Checksums are left zero since the
// reader above does not verify them.
func compressLZ4Block(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writeHeader := func(method byte, compLen, origLen int) {
		var hdr [lz4BlockHeaderLen]byte
		copy(hdr[:], lz4BlockMagic)
		hdr[len(lz4BlockMagic)] = method
		binary.LittleEndian.PutUint32(hdr[9:13], uint32(compLen))
		binary.LittleEndian.PutUint32(hdr[13:17], uint32(origLen))
		buf.Write(hdr[:])
	}
	if len(data) > 0 {
		compressed := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, compressed, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 || n >= len(data) {
			writeHeader(lz4MethodRaw, len(data), len(data))
			buf.Write(data)
		} else {
			writeHeader(lz4MethodLZ4, n, len(data))
			buf.Write(compressed[:n])
		}
	}
	writeHeader(lz4MethodRaw, 0, 0)
	return buf.Bytes(), nil
}
