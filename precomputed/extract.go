package precomputed

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/janelia-flyem/n5ng"
	"github.com/janelia-flyem/n5ng/storage"
)

var boxRx = regexp.MustCompile(`^(-?\d+)-(-?\d+)_(-?\d+)-(-?\d+)_(-?\d+)-(-?\d+)$`)

// Box is a half-open region [Lo, Hi) in x,y,z voxel coordinates.
type Box struct {
	Lo, Hi n5ng.Point3d
}

// ParseBox parses the precomputed chunk name "x0-x1_y0-y1_z0-z1".
func ParseBox(s string) (Box, error) {
	m := boxRx.FindStringSubmatch(s)
	if m == nil {
		return Box{}, fmt.Errorf("bad box %q, expected x0-x1_y0-y1_z0-z1: %w", s, n5ng.ErrBadRequest)
	}
	var vals [6]int64
	for i := range vals {
		v, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return Box{}, fmt.Errorf("bad coordinate %q in box %q: %w", m[i+1], s, n5ng.ErrBadRequest)
		}
		vals[i] = v
	}
	return Box{
		Lo: n5ng.Point3d{vals[0], vals[2], vals[4]},
		Hi: n5ng.Point3d{vals[1], vals[3], vals[5]},
	}, nil
}

func (b Box) String() string {
	return fmt.Sprintf("%d-%d_%d-%d_%d-%d", b.Lo[0], b.Hi[0], b.Lo[1], b.Hi[1], b.Lo[2], b.Hi[2])
}

// Size returns the extent of the box.
func (b Box) Size() n5ng.Point3d {
	return b.Hi.Sub(b.Lo)
}

// NumVoxels returns the number of voxels in the box, or 0 for an inverted box.
func (b Box) NumVoxels() int64 {
	size := b.Size()
	for _, d := range size {
		if d <= 0 {
			return 0
		}
	}
	return size.Prod()
}

// Translate shifts the box by -offset, i.e., from global into array-local coordinates.
func (b Box) Translate(offset n5ng.Point3d) Box {
	return Box{Lo: b.Lo.Sub(offset), Hi: b.Hi.Sub(offset)}
}

// checkBounds verifies a local box against an array extent.
func (b Box) checkBounds(extent n5ng.Point3d) error {
	for i := 0; i < 3; i++ {
		if b.Lo[i] > b.Hi[i] || b.Lo[i] < 0 || b.Hi[i] > extent[i] {
			return fmt.Errorf("local box %s outside extent %s: %w", b, extent, n5ng.ErrBounds)
		}
	}
	return nil
}

// scaleTarget returns the array path and scale index for a data request scale key.
// Integer keys address pyramid levels unless the layout is flat.
func (s *Service) scaleTarget(name, key string) (path string, scale int, err error) {
	if n, err := strconv.Atoi(key); err == nil {
		if s.cfg.Layout == LayoutFlat {
			return name, 1, nil
		}
		return ScalePath(name, n), n, nil
	}
	if _, err := strconv.ParseFloat(key, 64); err != nil {
		return "", 0, fmt.Errorf("bad scale key %q: %w", key, n5ng.ErrBadRequest)
	}
	return name, 1, nil
}

// Extract reads the global box of the given scale.  The box is translated by the
// dataset's voxel offset and read depth-major, i.e., [z0:z1, y0:y1, x0:x1], and any
// value directive is applied to the result.
func (s *Service) Extract(ctx context.Context, ref DatasetRef, scaleKey string, box Box) (*storage.Block, Geometry, error) {
	path, scale, err := s.scaleTarget(ref.Name, scaleKey)
	if err != nil {
		return nil, Geometry{}, err
	}
	g, err := s.Resolve(ctx, path, scale, s.BaseResolution(ref.Name))
	if err != nil {
		return nil, Geometry{}, err
	}
	if err := checkOverride(ref, g.DataType); err != nil {
		return nil, g, err
	}
	local := box.Translate(g.VoxelOffset)
	if err := local.checkBounds(g.Size); err != nil {
		return nil, g, err
	}
	if err := s.admit(box, g); err != nil {
		return nil, g, err
	}
	lo := local.Lo.Reverse()
	hi := local.Hi.Reverse()
	block, err := s.store.ReadSubvolume(ctx, g.array, lo[:], hi[:])
	if err != nil {
		return nil, g, err
	}
	if v, ok := ref.Directive.Override(); ok {
		block.ReplacePositive(v)
	}
	return block, g, nil
}

// Subvolume extracts a box and converts it to the dataset's advertised data type, so the
// payload bytes always match the info response.
func (s *Service) Subvolume(ctx context.Context, ref DatasetRef, scaleKey string, box Box) (*storage.Block, error) {
	if err := checkOverride(ref, s.DataType(ref.Name)); err != nil {
		return nil, err
	}
	block, _, err := s.Extract(ctx, ref, scaleKey, box)
	if err != nil {
		return nil, err
	}
	return block.Convert(s.DataType(ref.Name))
}

// checkOverride refuses a value directive that the data type cannot represent.
func checkOverride(ref DatasetRef, t storage.DataType) error {
	if v, ok := ref.Directive.Override(); ok && !t.HoldsUint(v) {
		return fmt.Errorf("value %d of dataset %q does not fit %s: %w", v, ref.Raw, t, n5ng.ErrBadRequest)
	}
	return nil
}
