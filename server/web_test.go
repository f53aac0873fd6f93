package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"gocloud.dev/blob"

	"github.com/janelia-flyem/n5ng/storage"
	"github.com/janelia-flyem/n5ng/storage/n5"
	"github.com/janelia-flyem/n5ng/storage/zarr"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Cache.ChunkMB = 1
	cfg.Cache.MetadataEntries = 16
	return cfg
}

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

func putVol(t *testing.T, bucket *blob.Bucket) []byte {
	shape := []int64{10, 20, 30}
	data := labelVolume(shape)
	attrs := map[string]interface{}{"resolution": []float64{4, 4, 4}}
	if err := n5.PutTestArray(context.Background(), bucket, "vol", shape, []int64{2, 2, 2}, storage.Uint64, data, attrs, storage.CodecGzip); err != nil {
		t.Fatalf("can't write n5 array: %v\n", err)
	}
	return data
}

func TestVolInfoHTTP(t *testing.T) {
	s, bucket := NewTestServer(t, testConfig())
	putVol(t, bucket)

	resp := TestHTTPResponse(t, s, "GET", "/vol/info", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("bad status %d: %s\n", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q\n", ct)
	}
	expected := `{"data_type":"uint64","type":"segmentation","num_channels":1,"mesh":"mesh","scales":[{"chunk_sizes":[[2,2,2]],"encoding":"raw","key":"1.0","resolution":[4,4,4],"size":[30,20,10],"voxel_offset":[0,0,0]}]}`
	if got := resp.Body.String(); got != expected {
		t.Errorf("unexpected info:\n%s\nexpected:\n%s\n", got, expected)
	}

	TestBadHTTP(t, s, "GET", "/nothere/info", nil, http.StatusNotFound)
}

func TestDataHTTP(t *testing.T) {
	s, bucket := NewTestServer(t, testConfig())
	data := putVol(t, bucket)

	got := TestHTTP(t, s, "GET", "/vol/1.0/0-30_0-20_0-10", nil)
	if !bytes.Equal(got, data) {
		t.Fatalf("full volume mismatch: got %d bytes, expected %d\n", len(got), len(data))
	}

	got = TestHTTP(t, s, "GET", "/vol/1.0/1-3_2-4_3-5", nil)
	if len(got) != 8*8 {
		t.Fatalf("expected 8 voxels, got %d bytes\n", len(got))
	}
	if v := binary.LittleEndian.Uint64(got); v != 30201 {
		t.Errorf("expected first voxel 30201, got %d\n", v)
	}
	if v := binary.LittleEndian.Uint64(got[8:]); v != 30202 {
		t.Errorf("expected x to vary fastest, got second voxel %d\n", v)
	}

	// gzip negotiation
	header := http.Header{"Accept-Encoding": []string{"gzip, deflate"}}
	resp := TestHTTPResponse(t, s, "GET", "/vol/1.0/0-30_0-20_0-10", nil, header)
	if resp.Code != http.StatusOK {
		t.Fatalf("bad status %d: %s\n", resp.Code, resp.Body.String())
	}
	if enc := resp.Header().Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("expected gzip content encoding, got %q\n", enc)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("expected octet-stream content type, got %q\n", ct)
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("can't open gzip body: %v\n", err)
	}
	unzipped, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("can't read gzip body: %v\n", err)
	}
	if !bytes.Equal(unzipped, data) {
		t.Errorf("gzip payload differs from raw volume\n")
	}

	// explicit compression without content encoding
	resp = TestHTTPResponse(t, s, "GET", "/vol/1.0/0-30_0-20_0-10?compression=zstd", nil, header)
	if resp.Code != http.StatusOK || resp.Header().Get("Content-Encoding") != "" {
		t.Errorf("expected zstd payload without content encoding, got %d %q\n", resp.Code, resp.Header().Get("Content-Encoding"))
	}

	// binarize directive
	got = TestHTTP(t, s, "GET", "/vol_n5ngBinarize/1.0/0-2_0-1_0-1", nil)
	if binary.LittleEndian.Uint64(got) != 0 || binary.LittleEndian.Uint64(got[8:]) != 1 {
		t.Errorf("expected binarized voxels 0 and 1, got %v\n", got)
	}
}

func TestDataHTTPErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Precomputed.MaxVoxels = 1000
	s, bucket := NewTestServer(t, cfg)
	putVol(t, bucket)

	TestBadHTTP(t, s, "GET", "/vol/1.0/0-31_0-20_0-10", nil, http.StatusBadRequest)
	TestBadHTTP(t, s, "GET", "/vol/1.0/5-2_0-20_0-10", nil, http.StatusBadRequest)
	TestBadHTTP(t, s, "GET", "/vol/1.0/0-10_0-10_0-10?compression=brotli", nil, http.StatusBadRequest)
	TestBadHTTP(t, s, "GET", "/vol/1.0/0-30_0-20_0-10", nil, http.StatusRequestEntityTooLarge)
	TestBadHTTP(t, s, "GET", "/novol/1.0/0-10_0-10_0-10", nil, http.StatusNotFound)
	TestBadHTTP(t, s, "GET", "/vol/1.0/0-10_0-10", nil, http.StatusNotFound)
	TestHTTP(t, s, "GET", "/vol/1.0/0-10_0-10_0-10", nil)
}

func TestMeshHTTP(t *testing.T) {
	cfg := testConfig()
	s, bucket := NewTestServer(t, cfg)
	ctx := context.Background()

	var frags struct {
		Fragments []string `json:"fragments"`
	}
	body := TestHTTP(t, s, "GET", "/cells/mesh/12:0", nil)
	if err := json.Unmarshal(body, &frags); err != nil {
		t.Fatalf("bad fragments JSON %s: %v\n", body, err)
	}
	if len(frags.Fragments) != 1 || frags.Fragments[0] != "12.ngmesh" {
		t.Errorf("unexpected fragments: %s\n", body)
	}

	body = TestHTTP(t, s, "GET", "/cells/mesh/info", nil)
	if string(body) != `{"@type":"neuroglancer_legacy_mesh"}` {
		t.Errorf("unexpected mesh info: %s\n", body)
	}

	// no mesh host: served from the store
	TestBadHTTP(t, s, "GET", "/cells/mesh/12.ngmesh", nil, http.StatusNotFound)
	if err := bucket.WriteAll(ctx, "cells/mesh/12.ngmesh", []byte("meshbytes"), nil); err != nil {
		t.Fatalf("can't write mesh: %v\n", err)
	}
	body = TestHTTP(t, s, "GET", "/cells_n5ngSetValue3/mesh/12.ngmesh", nil)
	if string(body) != "meshbytes" {
		t.Errorf("expected stored mesh, got %q\n", body)
	}

	cfg.Mesh.Host = "http://meshes.example.org/"
	s2, _ := NewTestServer(t, cfg)
	resp := TestHTTPResponse(t, s2, "GET", "/cells_n5ngSetValue3_n5ngBinarize/mesh/12.ngmesh", nil, nil)
	if resp.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d\n", resp.Code)
	}
	if loc := resp.Header().Get("Location"); loc != "http://meshes.example.org/cells/mesh/12.ngmesh" {
		t.Errorf("bad redirect location %q\n", loc)
	}
}

func TestMeshDirHTTP(t *testing.T) {
	cfg := testConfig()
	cfg.Mesh.Dir = "frags/v1"
	s, bucket := NewTestServer(t, cfg)
	ctx := context.Background()
	if err := n5.PutTestArray(ctx, bucket, "cells/s0", []int64{2, 2, 2}, []int64{2, 2, 2}, storage.Uint64, nil, nil, storage.CodecRaw); err != nil {
		t.Fatalf("can't write n5 array: %v\n", err)
	}

	var info struct {
		Mesh string `json:"mesh"`
	}
	body := TestHTTP(t, s, "GET", "/cells/info", nil)
	if err := json.Unmarshal(body, &info); err != nil || info.Mesh != "frags/v1" {
		t.Fatalf("expected advertised mesh dir frags/v1, got %s (%v)\n", body, err)
	}
	body = TestHTTP(t, s, "GET", "/cells/frags/v1/info", nil)
	if string(body) != `{"@type":"neuroglancer_legacy_mesh"}` {
		t.Errorf("unexpected mesh info: %s\n", body)
	}
	body = TestHTTP(t, s, "GET", "/cells/frags/v1/7:0", nil)
	if !strings.Contains(string(body), "7.ngmesh") {
		t.Errorf("unexpected fragments: %s\n", body)
	}
	if err := bucket.WriteAll(ctx, "cells/frags/v1/7.ngmesh", []byte("meshbytes"), nil); err != nil {
		t.Fatalf("can't write mesh: %v\n", err)
	}
	body = TestHTTP(t, s, "GET", "/cells/frags/v1/7.ngmesh", nil)
	if string(body) != "meshbytes" {
		t.Errorf("expected stored mesh, got %q\n", body)
	}
	TestBadHTTP(t, s, "GET", "/cells/mesh/7:0", nil, http.StatusNotFound)
}

func TestPropertiesHTTP(t *testing.T) {
	s, bucket := NewTestServer(t, testConfig())
	ctx := context.Background()
	table := "id,volume,x,y,z\n101,10,4,8,12\n303,20,9,23,-7\n"
	if err := bucket.WriteAll(ctx, "cells/mesh/segments.csv", []byte(table), nil); err != nil {
		t.Fatalf("can't write table: %v\n", err)
	}
	body := TestHTTP(t, s, "GET", "/cells_properties/info", nil)
	var props struct {
		Type   string `json:"@type"`
		Inline struct {
			IDs        []string `json:"ids"`
			Properties []struct {
				ID     string   `json:"id"`
				Values []string `json:"values"`
			} `json:"properties"`
		} `json:"inline"`
	}
	if err := json.Unmarshal(body, &props); err != nil {
		t.Fatalf("bad properties JSON %s: %v\n", body, err)
	}
	if props.Type != "neuroglancer_segment_properties" {
		t.Errorf("bad @type %q\n", props.Type)
	}
	if len(props.Inline.IDs) != 2 || props.Inline.IDs[0] != "303" {
		t.Errorf("expected ids ranked by volume, got %v\n", props.Inline.IDs)
	}
	if props.Inline.Properties[0].Values[0] != "00 303 vol:20 xyz:(2,6,-2)" {
		t.Errorf("unexpected label %q\n", props.Inline.Properties[0].Values[0])
	}
}

func TestZarrPyramidHTTP(t *testing.T) {
	s, bucket := NewTestServer(t, testConfig())
	ctx := context.Background()
	shape := []int64{4, 4, 8}
	data := labelVolume(shape)
	if err := zarr.PutTestArray(ctx, bucket, "seg/s0", shape, []int64{2, 2, 2}, storage.Uint64, data, nil, storage.CodecLZ4, "."); err != nil {
		t.Fatalf("can't write zarr array: %v\n", err)
	}
	body := TestHTTP(t, s, "GET", "/seg/info", nil)
	if !strings.Contains(string(body), `"key":"0"`) || !strings.Contains(string(body), `"size":[8,4,4]`) {
		t.Errorf("unexpected pyramid info: %s\n", body)
	}
	got := TestHTTP(t, s, "GET", "/seg/0/0-8_0-4_0-4", nil)
	if !bytes.Equal(got, data) {
		t.Errorf("pyramid level payload mismatch\n")
	}
}

func TestServerEndpoints(t *testing.T) {
	s, bucket := NewTestServer(t, testConfig())
	putVol(t, bucket)
	TestHTTP(t, s, "GET", "/vol/1.0/0-4_0-4_0-4", nil)

	help := TestHTTP(t, s, "GET", "/api/help", nil)
	if !strings.Contains(string(help), "precomputed") {
		t.Errorf("help doesn't describe the service: %s\n", help)
	}

	body := TestHTTP(t, s, "GET", "/api/server/info", nil)
	var info struct {
		Version    string
		Engines    []string
		Store      string
		ChunksRead int64
	}
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("bad server info %s: %v\n", body, err)
	}
	if info.Version == "" || info.Store != "mem://" || info.ChunksRead == 0 {
		t.Errorf("unexpected server info: %s\n", body)
	}
	if len(info.Engines) != 2 || !strings.HasPrefix(info.Engines[0], "n5 ") || !strings.HasPrefix(info.Engines[1], "zarr ") {
		t.Errorf("expected n5 and zarr engines, got %v\n", info.Engines)
	}

	metricsText := string(TestHTTP(t, s, "GET", "/metrics", nil))
	for _, name := range []string{"n5ng_http_requests_total", "n5ng_chunks_read_total", `route="data"`} {
		if !strings.Contains(metricsText, name) {
			t.Errorf("metrics missing %s\n", name)
		}
	}

	TestBadHTTP(t, s, "GET", "/", nil, http.StatusNotFound)
	TestBadHTTP(t, s, "GET", "/profiler/info", nil, http.StatusNotFound)
}

func TestCORS(t *testing.T) {
	s, bucket := NewTestServer(t, testConfig())
	putVol(t, bucket)
	header := http.Header{"Origin": []string{"https://neuroglancer-demo.appspot.com"}}
	resp := TestHTTPResponse(t, s, "GET", "/vol/info", nil, header)
	if origin := resp.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected any origin to be allowed, got %q\n", origin)
	}

	cfg := testConfig()
	cfg.Server.CorsDomains = []string{"https://example.org"}
	s2, bucket2 := NewTestServer(t, cfg)
	putVol(t, bucket2)
	resp = TestHTTPResponse(t, s2, "GET", "/vol/info", nil, header)
	if origin := resp.Header().Get("Access-Control-Allow-Origin"); origin != "" {
		t.Errorf("expected foreign origin to be refused, got %q\n", origin)
	}
}
