package precomputed

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/janelia-flyem/n5ng"
	"github.com/janelia-flyem/n5ng/storage"
)

func TestParseBox(t *testing.T) {
	box, err := ParseBox("0-64_10-20_-8--2")
	if err != nil {
		t.Fatalf("can't parse box: %v\n", err)
	}
	if box.Lo != (n5ng.Point3d{0, 10, -8}) || box.Hi != (n5ng.Point3d{64, 20, -2}) {
		t.Errorf("bad box %+v\n", box)
	}
	if box.String() != "0-64_10-20_-8--2" {
		t.Errorf("bad box string %q\n", box)
	}
	if box.NumVoxels() != 64*10*6 {
		t.Errorf("expected %d voxels, got %d\n", 64*10*6, box.NumVoxels())
	}
	for _, bad := range []string{"", "0-1_0-1", "0-1_0-1_0-a", "0-1_0-1_0-1_0-1", "0:1_0-1_0-1"} {
		if _, err := ParseBox(bad); !errors.Is(err, n5ng.ErrBadRequest) {
			t.Errorf("%q: expected bad request, got %v\n", bad, err)
		}
	}
}

func TestExtractTranslation(t *testing.T) {
	svc, bucket := newTestService(t, DefaultConfig())
	ctx := context.Background()
	shape := []int64{6, 7, 9}
	attrs := map[string]interface{}{"resolution": []float64{4, 4, 40}}
	putN5(t, bucket, "raw/s0", shape, []int64{2, 3, 4}, attrs)
	shifted := map[string]interface{}{"resolution": []float64{4, 4, 40}, "offset": []float64{8, 12, 80}}
	putN5(t, bucket, "moved/s0", shape, []int64{2, 3, 4}, shifted)

	offset := n5ng.Point3d{2, 3, 2}
	global := Box{Lo: n5ng.Point3d{3, 4, 3}, Hi: n5ng.Point3d{11, 10, 8}}
	got, g, err := svc.Extract(ctx, ParseDatasetRef("moved"), "0", global)
	if err != nil {
		t.Fatalf("can't extract global box: %v\n", err)
	}
	if g.VoxelOffset != offset {
		t.Fatalf("expected offset %s, got %s\n", offset, g.VoxelOffset)
	}
	expected, _, err := svc.Extract(ctx, ParseDatasetRef("raw"), "0", global.Translate(offset))
	if err != nil {
		t.Fatalf("can't extract local box: %v\n", err)
	}
	if !bytes.Equal(got.Data, expected.Data) {
		t.Errorf("translated extraction differs from local extraction\n")
	}

	// first voxel is local (x,y,z) = (1,1,1), stored at [z][y][x]
	if v := got.Uint64At(0); v != 10101 {
		t.Errorf("expected first voxel 10101, got %d\n", v)
	}
	// x varies fastest in the payload
	if v := got.Uint64At(1); v != 10102 {
		t.Errorf("expected second voxel 10102, got %d\n", v)
	}
	if got.Shape[0] != 5 || got.Shape[1] != 6 || got.Shape[2] != 8 {
		t.Errorf("expected z,y,x block shape (5,6,8), got %v\n", got.Shape)
	}

	outside := []Box{
		{Lo: n5ng.Point3d{0, 0, 0}, Hi: n5ng.Point3d{4, 4, 4}},
		{Lo: n5ng.Point3d{2, 3, 2}, Hi: n5ng.Point3d{12, 4, 4}},
		{Lo: n5ng.Point3d{5, 5, 5}, Hi: n5ng.Point3d{4, 6, 6}},
	}
	for _, box := range outside {
		if _, _, err := svc.Extract(ctx, ParseDatasetRef("moved"), "0", box); !errors.Is(err, n5ng.ErrBounds) {
			t.Errorf("box %s: expected bounds fault, got %v\n", box, err)
		}
	}
	if _, _, err := svc.Extract(ctx, ParseDatasetRef("moved"), "3", global); !errors.Is(err, n5ng.ErrNotFound) {
		t.Errorf("expected missing scale to be not found, got %v\n", err)
	}
	if _, _, err := svc.Extract(ctx, ParseDatasetRef("moved"), "s0", global); !errors.Is(err, n5ng.ErrBadRequest) {
		t.Errorf("expected bad scale key to be a bad request, got %v\n", err)
	}
}

func TestExtractFlatKey(t *testing.T) {
	svc, bucket := newTestService(t, DefaultConfig())
	ctx := context.Background()
	data := putZarr(t, bucket, "vol", []int64{2, 3, 4}, []int64{2, 2, 2}, nil)
	block, _, err := svc.Extract(ctx, ParseDatasetRef("vol"), FlatScaleKey, Box{Hi: n5ng.Point3d{4, 3, 2}})
	if err != nil {
		t.Fatalf("can't extract flat dataset: %v\n", err)
	}
	if !bytes.Equal(block.Data, data) {
		t.Errorf("flat extraction of the full volume differs from stored data\n")
	}
}

func TestExtractOverride(t *testing.T) {
	svc, bucket := newTestService(t, DefaultConfig())
	ctx := context.Background()
	putN5(t, bucket, "cells/s0", []int64{2, 2, 2}, []int64{2, 2, 2}, nil)
	box := Box{Hi: n5ng.Point3d{2, 2, 2}}

	block, _, err := svc.Extract(ctx, ParseDatasetRef("cells_n5ngSetValue7"), "0", box)
	if err != nil {
		t.Fatalf("can't extract: %v\n", err)
	}
	if block.Uint64At(0) != 0 {
		t.Errorf("zero voxel should stay zero, got %d\n", block.Uint64At(0))
	}
	for i := 1; i < block.NumElements(); i++ {
		if block.Uint64At(i) != 7 {
			t.Errorf("voxel %d: expected override 7, got %d\n", i, block.Uint64At(i))
		}
	}
	once := append([]byte{}, block.Data...)
	block.ReplacePositive(7)
	if !bytes.Equal(once, block.Data) {
		t.Errorf("override is not idempotent\n")
	}

	block, _, err = svc.Extract(ctx, ParseDatasetRef("cells_n5ngBinarize"), "0", box)
	if err != nil {
		t.Fatalf("can't extract: %v\n", err)
	}
	if block.Uint64At(7) != 1 {
		t.Errorf("binarize should map positive voxels to 1, got %d\n", block.Uint64At(7))
	}

	// stored data is untouched by overrides
	block, _, err = svc.Extract(ctx, ParseDatasetRef("cells"), "0", box)
	if err != nil {
		t.Fatalf("can't extract: %v\n", err)
	}
	if block.Uint64At(7) != 10101 {
		t.Errorf("expected stored value 10101, got %d\n", block.Uint64At(7))
	}
}

func TestAdmission(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxVoxels = 7
	svc, bucket := newTestService(t, cfg)
	ctx := context.Background()
	putN5(t, bucket, "cells/s0", []int64{2, 2, 2}, []int64{2, 2, 2}, nil)
	if _, _, err := svc.Extract(ctx, ParseDatasetRef("cells"), "0", Box{Hi: n5ng.Point3d{2, 2, 2}}); !errors.Is(err, n5ng.ErrTooLarge) {
		t.Errorf("expected box of 8 voxels to be refused, got %v\n", err)
	}
	if _, _, err := svc.Extract(ctx, ParseDatasetRef("cells"), "0", Box{Hi: n5ng.Point3d{1, 2, 2}}); err != nil {
		t.Errorf("expected box of 4 voxels to be admitted, got %v\n", err)
	}

	svc.SetAdmission(nil)
	if _, _, err := svc.Extract(ctx, ParseDatasetRef("cells"), "0", Box{Hi: n5ng.Point3d{2, 2, 2}}); err != nil {
		t.Errorf("expected unlimited admission, got %v\n", err)
	}
}

func TestSubvolumeConvertsToAdvertisedType(t *testing.T) {
	svc, bucket := newTestService(t, DefaultConfig())
	ctx := context.Background()
	putN5(t, bucket, "sheet/s0", []int64{1, 1, 4}, []int64{1, 1, 4}, nil)
	block, err := svc.Subvolume(ctx, ParseDatasetRef("sheet_n5ngBinarize"), "0", Box{Hi: n5ng.Point3d{4, 1, 1}})
	if err != nil {
		t.Fatalf("can't get subvolume: %v\n", err)
	}
	if block.DataType != storage.Uint8 || !bytes.Equal(block.Data, []byte{0, 1, 1, 1}) {
		t.Errorf("expected uint8 binarized payload, got %s %v\n", block.DataType, block.Data)
	}
}

func TestOverrideRange(t *testing.T) {
	svc, bucket := newTestService(t, DefaultConfig())
	ctx := context.Background()
	putN5(t, bucket, "sheet/s0", []int64{1, 1, 4}, []int64{1, 1, 4}, nil)
	box := Box{Hi: n5ng.Point3d{4, 1, 1}}

	// uint8 mask datasets can't carry 300, which would otherwise wrap to 44
	if _, err := svc.Subvolume(ctx, ParseDatasetRef("sheet_n5ngSetValue300"), "0", box); !errors.Is(err, n5ng.ErrBadRequest) {
		t.Errorf("expected out of range value to be a bad request, got %v\n", err)
	}
	block, err := svc.Subvolume(ctx, ParseDatasetRef("sheet_n5ngSetValue255"), "0", box)
	if err != nil {
		t.Fatalf("can't get subvolume: %v\n", err)
	}
	if !bytes.Equal(block.Data, []byte{0, 255, 255, 255}) {
		t.Errorf("expected max uint8 override, got %v\n", block.Data)
	}

	// uint64 datasets take the full range
	putN5(t, bucket, "cells/s0", []int64{1, 1, 4}, []int64{1, 1, 4}, nil)
	block, err = svc.Subvolume(ctx, ParseDatasetRef("cells_n5ngSetValue18446744073709551615"), "0", box)
	if err != nil {
		t.Fatalf("can't get subvolume: %v\n", err)
	}
	if block.Uint64At(3) != 18446744073709551615 {
		t.Errorf("expected max uint64 override, got %d\n", block.Uint64At(3))
	}
}

func TestHoldsUint(t *testing.T) {
	tests := []struct {
		dtype storage.DataType
		v     uint64
		holds bool
	}{
		{storage.Uint8, 255, true},
		{storage.Uint8, 256, false},
		{storage.Uint16, 65535, true},
		{storage.Uint16, 65536, false},
		{storage.Int8, 127, true},
		{storage.Int8, 128, false},
		{storage.Int64, 1<<63 - 1, true},
		{storage.Int64, 1 << 63, false},
		{storage.Uint64, 1<<64 - 1, true},
		{storage.Float32, 1 << 24, true},
		{storage.Float32, 1<<24 + 1, false},
		{storage.UnknownType, 0, false},
	}
	for _, tc := range tests {
		if got := tc.dtype.HoldsUint(tc.v); got != tc.holds {
			t.Errorf("%s holds %d: expected %t, got %t\n", tc.dtype, tc.v, tc.holds, got)
		}
	}
}
