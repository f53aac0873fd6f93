package precomputed

import (
	"context"
	"fmt"
	"strconv"

	"github.com/janelia-flyem/n5ng"
)

// ScaleDescriptor is one entry of the "scales" list of a volume info response.
type ScaleDescriptor struct {
	ChunkSizes  []n5ng.Point3d `json:"chunk_sizes"`
	Encoding    string         `json:"encoding"`
	Key         string         `json:"key"`
	Resolution  n5ng.Vector3d  `json:"resolution"`
	Size        n5ng.Point3d   `json:"size"`
	VoxelOffset n5ng.Point3d   `json:"voxel_offset"`
}

// scaleResult is the outcome of resolving one scale level.
type scaleResult struct {
	key    string
	desc   ScaleDescriptor
	ok     bool
	reason error
}

func descriptor(key string, g Geometry) ScaleDescriptor {
	return ScaleDescriptor{
		ChunkSizes:  []n5ng.Point3d{g.ChunkSize},
		Encoding:    "raw",
		Key:         key,
		Resolution:  g.Resolution,
		Size:        g.Size,
		VoxelOffset: g.VoxelOffset,
	}
}

// ScalePath returns the array path for a scale level of a pyramid.
func ScalePath(name string, scale int) string {
	return fmt.Sprintf("%s/s%d", name, scale)
}

func (s *Service) resolveScale(ctx context.Context, name string, scale int, baseRes n5ng.Vector3d) scaleResult {
	key := strconv.Itoa(scale)
	g, err := s.Resolve(ctx, ScalePath(name, scale), scale, baseRes)
	if err != nil {
		return scaleResult{key: key, reason: err}
	}
	return scaleResult{key: key, desc: descriptor(key, g), ok: true}
}

func (s *Service) resolveFlat(ctx context.Context, name string, baseRes n5ng.Vector3d) scaleResult {
	g, err := s.Resolve(ctx, name, 1, baseRes)
	if err != nil {
		return scaleResult{key: FlatScaleKey, reason: err}
	}
	return scaleResult{key: FlatScaleKey, desc: descriptor(FlatScaleKey, g), ok: true}
}

// BuildScales returns the descriptors of the requested pyramid levels of a dataset in
// order.  Levels that cannot be resolved are logged and omitted.  With no indices the
// dataset is treated as a single flat array with key "1.0".
func (s *Service) BuildScales(ctx context.Context, name string, scaleIndices []int, baseRes n5ng.Vector3d) []ScaleDescriptor {
	var results []scaleResult
	if len(scaleIndices) == 0 {
		results = append(results, s.resolveFlat(ctx, name, baseRes))
	} else {
		for _, scale := range scaleIndices {
			results = append(results, s.resolveScale(ctx, name, scale, baseRes))
		}
	}
	descs := make([]ScaleDescriptor, 0, len(results))
	for _, r := range results {
		if !r.ok {
			n5ng.Infof("Skipping scale %s of dataset %q: %v\n", r.key, name, r.reason)
			continue
		}
		descs = append(descs, r.desc)
	}
	return descs
}

// Scales returns the descriptors for a dataset according to the configured layout.
func (s *Service) Scales(ctx context.Context, name string) []ScaleDescriptor {
	baseRes := s.BaseResolution(name)
	if s.cfg.Layout == LayoutFlat {
		return s.BuildScales(ctx, name, nil, baseRes)
	}
	indices := make([]int, s.cfg.Levels)
	for i := range indices {
		indices[i] = i
	}
	descs := s.BuildScales(ctx, name, indices, baseRes)
	if len(descs) == 0 && s.cfg.Layout == LayoutAuto {
		n5ng.Debugf("No pyramid levels for %q, trying flat layout\n", name)
		descs = s.BuildScales(ctx, name, nil, baseRes)
	}
	return descs
}
