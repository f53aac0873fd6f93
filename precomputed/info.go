package precomputed

import (
	"context"
	"fmt"
	"strings"

	"github.com/janelia-flyem/n5ng"
)

// LegacyMeshInfo is the info document of a mesh source.
type LegacyMeshInfo struct {
	Type string `json:"@type"`
}

// VolumeInfo is the info document of a segmentation volume.
type VolumeInfo struct {
	DataType    string            `json:"data_type"`
	Type        string            `json:"type"`
	NumChannels int               `json:"num_channels"`
	Mesh        string            `json:"mesh"`
	Scales      []ScaleDescriptor `json:"scales"`
}

// VolumeInfo returns the info of a dataset.  If no scale can be resolved the error
// wraps n5ng.ErrNotFound.
func (s *Service) VolumeInfo(ctx context.Context, name string) (VolumeInfo, error) {
	scales := s.Scales(ctx, name)
	if len(scales) == 0 {
		return VolumeInfo{}, fmt.Errorf("no scales for dataset %q: %w", name, n5ng.ErrNotFound)
	}
	return VolumeInfo{
		DataType:    s.DataType(name).String(),
		Type:        "segmentation",
		NumChannels: 1,
		Mesh:        s.cfg.MeshDir,
		Scales:      scales,
	}, nil
}

// Info dispatches an info request on the dataset path: mesh sources, segment properties
// of "<name>_properties", or volume info.
func (s *Service) Info(ctx context.Context, dataset string) (interface{}, error) {
	switch {
	case strings.Contains(dataset, "mesh"), strings.HasSuffix(dataset, "/"+strings.Trim(s.cfg.MeshDir, "/")):
		return LegacyMeshInfo{Type: "neuroglancer_legacy_mesh"}, nil
	case strings.Contains(dataset, "_properties"):
		prefix := strings.SplitN(dataset, "_properties", 2)[0]
		ref := ParseDatasetRef(prefix)
		return s.SegmentProperties(ctx, ref.Name)
	}
	ref := ParseDatasetRef(dataset)
	return s.VolumeInfo(ctx, ref.Name)
}
