package precomputed

import (
	"context"
	"fmt"
	"math"

	"github.com/janelia-flyem/n5ng"
	"github.com/janelia-flyem/n5ng/storage"
)

// Geometry is the resolved description of one array node in protocol (x,y,z) order.
type Geometry struct {
	Path        string
	Resolution  n5ng.Vector3d
	VoxelOffset n5ng.Point3d
	ChunkSize   n5ng.Point3d
	Size        n5ng.Point3d
	DataType    storage.DataType

	// ResolutionSource names the metadata convention the resolution came from.
	ResolutionSource string

	array *storage.Array
}

// Resolve determines the geometry of the array at path.  Resolution is taken from the
// first well-formed convention of: resolution, pixelResolution, downsamplingFactors
// times baseRes, and finally baseRes * 2^scale.  Attribute triples are in x,y,z order.
func (s *Service) Resolve(ctx context.Context, path string, scale int, baseRes n5ng.Vector3d) (Geometry, error) {
	arr, err := s.store.Array(ctx, path)
	if err != nil {
		return Geometry{}, err
	}
	size, err := n5ng.ReverseAxes(arr.Shape)
	if err != nil {
		return Geometry{}, fmt.Errorf("array %q: %w", path, err)
	}
	chunk, err := n5ng.ReverseAxes(arr.ChunkShape)
	if err != nil {
		return Geometry{}, fmt.Errorf("array %q: %w", path, err)
	}
	g := Geometry{
		Path:      path,
		ChunkSize: chunk,
		Size:      size,
		DataType:  arr.DataType,
		array:     arr,
	}
	g.Resolution, g.ResolutionSource = resolveResolution(path, arr.Attributes, scale, baseRes)

	if v, found := arr.Attributes["offset"]; found {
		offset, err := parseTriple(v)
		if err != nil {
			n5ng.Warningf("Ignoring malformed offset in %q: %v\n", path, err)
		} else {
			g.VoxelOffset = offset.DivRound(g.Resolution)
		}
	}
	return g, nil
}

func resolveResolution(path string, attrs map[string]interface{}, scale int, baseRes n5ng.Vector3d) (n5ng.Vector3d, string) {
	if v, found := attrs["resolution"]; found {
		res, err := parseTriple(v)
		if err == nil && res.AllPositive() {
			return res, "resolution"
		}
		n5ng.Warningf("Skipping malformed resolution %v in %q: %v\n", v, path, err)
	}
	if v, found := attrs["pixelResolution"]; found {
		dims := v
		if m, ok := v.(map[string]interface{}); ok {
			dims = m["dimensions"]
		}
		res, err := parseTriple(dims)
		if err == nil && res.AllPositive() {
			return res, "pixelResolution"
		}
		n5ng.Warningf("Skipping malformed pixelResolution %v in %q: %v\n", v, path, err)
	}
	if v, found := attrs["downsamplingFactors"]; found {
		factors, err := parseTriple(v)
		if err == nil && factors.AllPositive() {
			return baseRes.Mult(factors), "downsamplingFactors"
		}
		n5ng.Warningf("Skipping malformed downsamplingFactors %v in %q: %v\n", v, path, err)
	}
	return baseRes.MultScalar(math.Pow(2, float64(scale))), "default"
}

// parseTriple converts a decoded JSON array of three numbers.
func parseTriple(v interface{}) (n5ng.Vector3d, error) {
	var out n5ng.Vector3d
	arr, ok := v.([]interface{})
	if !ok {
		return out, fmt.Errorf("expected array of 3 numbers, got %T", v)
	}
	if len(arr) != 3 {
		return out, fmt.Errorf("expected 3 numbers, got %d", len(arr))
	}
	for i, elem := range arr {
		f, ok := elem.(float64)
		if !ok || math.IsNaN(f) {
			return out, fmt.Errorf("element %d (%v) is not a number", i, elem)
		}
		out[i] = f
	}
	return out, nil
}
