/*
	This file contains functions useful for testing the n5ng server in other packages.
	Due to the way Go handles compilation of *_test.go files, these functions cannot be
	in a _test.go file since they will be unavailable to test files in external
	packages.  So these functions are exported and contain the "Test" keyword.
*/

package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/janelia-flyem/n5ng/storage"
)

// NewTestServer returns a server over an in-memory bucket, which the caller can fill
// with arrays.  Engines must be registered by the caller through blank imports.
func NewTestServer(t *testing.T, cfg Config) (*Server, *blob.Bucket) {
	if err := cfg.Validate(); err != nil {
		t.Fatalf("bad test configuration: %v\n", err)
	}
	bucket := memblob.OpenBucket(nil)
	store, err := storage.NewStore(bucket, "mem://", cfg.StoreOptions())
	if err != nil {
		t.Fatalf("can't create test store: %v\n", err)
	}
	s, err := New(cfg, store)
	if err != nil {
		t.Fatalf("can't create test server: %v\n", err)
	}
	return s, bucket
}

// TestHTTPResponse returns a response from a test run of the server.
// Use TestHTTP if you just want the response body bytes.
func TestHTTPResponse(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader, header http.Header) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, urlStr, payload)
	if err != nil {
		t.Fatalf("Unsuccessful %s on %q: %v\n", method, urlStr, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

// TestHTTP returns the response body bytes for a test request, making sure any response has
// status OK.
func TestHTTP(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader) []byte {
	resp := TestHTTPResponse(t, h, method, urlStr, payload, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Bad server response (%d) to %s on %q: %s\n", resp.Code, method, urlStr, resp.Body.String())
	}
	return resp.Body.Bytes()
}

// TestBadHTTP expects a HTTP response with the given error status code.
func TestBadHTTP(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader, expected int) {
	resp := TestHTTPResponse(t, h, method, urlStr, payload, nil)
	if resp.Code != expected {
		t.Fatalf("Expected status %d for %s on %q, got %d instead: %s\n", expected, method, urlStr, resp.Code, resp.Body.String())
	}
}
