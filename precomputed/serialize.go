package precomputed

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/janelia-flyem/n5ng"
	"github.com/janelia-flyem/n5ng/storage"
)

// Encoding is the transfer encoding of a data payload.
type Encoding string

const (
	Identity Encoding = "identity"
	Gzip     Encoding = "gzip"
	Snappy   Encoding = "snappy"
	LZ4      Encoding = "lz4"
	Zstd     Encoding = "zstd"
)

// NegotiateEncoding picks the payload encoding from the Accept-Encoding header and an
// optional ?compression= query value, which takes precedence.
func NegotiateEncoding(acceptEncoding, compressionQuery string) (Encoding, error) {
	switch strings.ToLower(compressionQuery) {
	case "":
	case "raw", "identity":
		return Identity, nil
	case "gzip":
		return Gzip, nil
	case "snappy":
		return Snappy, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return Identity, fmt.Errorf("unknown compression %q: %w", compressionQuery, n5ng.ErrBadRequest)
	}
	if acceptsGzip(acceptEncoding) {
		return Gzip, nil
	}
	return Identity, nil
}

// acceptsGzip returns true if gzip is listed with a non-zero quality.
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		fields := strings.Split(part, ";")
		if !strings.EqualFold(strings.TrimSpace(fields[0]), "gzip") {
			continue
		}
		for _, param := range fields[1:] {
			param = strings.TrimSpace(param)
			if strings.HasPrefix(param, "q=") {
				if q, err := strconv.ParseFloat(param[2:], 64); err == nil && q == 0 {
					return false
				}
			}
		}
		return true
	}
	return false
}

// Payload is a serialized data block ready to be written to a response.
type Payload struct {
	Data            []byte
	ContentEncoding string
	Encoding        Encoding
}

var encodingCodecs = map[Encoding]string{
	Identity: storage.CodecRaw,
	Gzip:     storage.CodecGzip,
	Snappy:   storage.CodecSnappy,
	LZ4:      storage.CodecLZ4,
	Zstd:     storage.CodecZstd,
}

// Serialize linearizes the block as little-endian C-order bytes, i.e., x varies fastest,
// and applies the encoding.  Only gzip is declared as a Content-Encoding since browsers
// cannot transparently decode the others.
func Serialize(block *storage.Block, enc Encoding, level int) (Payload, error) {
	codec, found := encodingCodecs[enc]
	if !found {
		return Payload{}, fmt.Errorf("unknown encoding %q: %w", enc, n5ng.ErrBadRequest)
	}
	data, err := storage.Compress(codec, block.Data, level)
	if err != nil {
		return Payload{}, err
	}
	p := Payload{Data: data, Encoding: enc}
	if enc == Gzip {
		p.ContentEncoding = "gzip"
	}
	return p, nil
}

// Write sends the payload with its content headers.
func (p Payload) Write(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/octet-stream")
	if p.ContentEncoding != "" {
		w.Header().Set("Content-Encoding", p.ContentEncoding)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(p.Data)))
	n, err := w.Write(p.Data)
	if err != nil {
		return err
	}
	if n != len(p.Data) {
		return fmt.Errorf("only able to write %d of %d payload bytes", n, len(p.Data))
	}
	return nil
}

// Decode reverses the payload encoding.
func (p Payload) Decode() ([]byte, error) {
	return storage.Decompress(encodingCodecs[p.Encoding], p.Data)
}
