package precomputed

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/janelia-flyem/n5ng"
	"github.com/janelia-flyem/n5ng/storage"
)

func TestNegotiateEncoding(t *testing.T) {
	tests := []struct {
		accept, query string
		expected      Encoding
	}{
		{"", "", Identity},
		{"gzip, deflate, br", "", Gzip},
		{"deflate, GZIP;q=0.5", "", Gzip},
		{"gzip;q=0", "", Identity},
		{"br", "", Identity},
		{"gzip", "raw", Identity},
		{"", "gzip", Gzip},
		{"gzip", "lz4", LZ4},
		{"", "snappy", Snappy},
		{"", "zstd", Zstd},
	}
	for _, tc := range tests {
		enc, err := NegotiateEncoding(tc.accept, tc.query)
		if err != nil {
			t.Fatalf("%q/%q: unexpected error %v\n", tc.accept, tc.query, err)
		}
		if enc != tc.expected {
			t.Errorf("%q/%q: expected %s, got %s\n", tc.accept, tc.query, tc.expected, enc)
		}
	}
	if _, err := NegotiateEncoding("", "jpeg"); !errors.Is(err, n5ng.ErrBadRequest) {
		t.Errorf("expected bad request for unknown compression, got %v\n", err)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	block := storage.NewBlock([]int64{4, 8, 16}, storage.Uint64)
	copy(block.Data, labelVolume([]int64{4, 8, 16}))

	raw, err := Serialize(block, Identity, 5)
	if err != nil {
		t.Fatalf("can't serialize raw: %v\n", err)
	}
	if !bytes.Equal(raw.Data, block.Data) || raw.ContentEncoding != "" {
		t.Fatalf("raw payload should be the block bytes without content encoding\n")
	}
	for _, enc := range []Encoding{Gzip, Snappy, LZ4, Zstd} {
		p, err := Serialize(block, enc, 5)
		if err != nil {
			t.Fatalf("%s: can't serialize: %v\n", enc, err)
		}
		decoded, err := p.Decode()
		if err != nil {
			t.Fatalf("%s: can't decode: %v\n", enc, err)
		}
		if !bytes.Equal(decoded, raw.Data) {
			t.Errorf("%s: decoded payload differs from raw payload\n", enc)
		}
		if enc == Gzip && p.ContentEncoding != "gzip" {
			t.Errorf("expected gzip content encoding, got %q\n", p.ContentEncoding)
		}
		if enc != Gzip && p.ContentEncoding != "" {
			t.Errorf("%s: unexpected content encoding %q\n", enc, p.ContentEncoding)
		}
	}
}

func TestPayloadWrite(t *testing.T) {
	block := storage.NewBlock([]int64{1, 2, 3}, storage.Uint8)
	copy(block.Data, []byte{1, 2, 3, 4, 5, 6})
	p, err := Serialize(block, Gzip, 5)
	if err != nil {
		t.Fatalf("can't serialize: %v\n", err)
	}
	w := httptest.NewRecorder()
	if err := p.Write(w); err != nil {
		t.Fatalf("can't write payload: %v\n", err)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("bad content type %q\n", ct)
	}
	if ce := w.Header().Get("Content-Encoding"); ce != "gzip" {
		t.Errorf("bad content encoding %q\n", ce)
	}
	if cl := w.Header().Get("Content-Length"); cl != strconv.Itoa(len(p.Data)) {
		t.Errorf("bad content length %q, expected %d\n", cl, len(p.Data))
	}
	if !bytes.Equal(w.Body.Bytes(), p.Data) {
		t.Errorf("body differs from payload\n")
	}
}
