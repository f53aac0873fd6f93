package precomputed

import (
	"context"
	"fmt"
	"strings"

	"github.com/janelia-flyem/n5ng"
	"github.com/janelia-flyem/n5ng/storage"
)

// Dataset layouts.
const (
	LayoutPyramid = "pyramid" // scale levels live at <name>/s<N>
	LayoutFlat    = "flat"    // the dataset itself is a single array
	LayoutAuto    = "auto"    // pyramid, falling back to flat when no level exists
)

// FlatScaleKey is the scale key advertised for datasets without a pyramid.
const FlatScaleKey = "1.0"

// Config is the [precomputed] and [mesh] part of the server configuration.
type Config struct {
	Layout string `toml:"layout" validate:"oneof=pyramid flat auto"`
	Levels int    `toml:"levels" validate:"gte=1,lte=32"`

	DefaultResolution  n5ng.Vector3d `toml:"default_resolution" validate:"dive,gt=0"`
	TrainingResolution n5ng.Vector3d `toml:"training_resolution" validate:"dive,gt=0"`
	TrainingMarker     string        `toml:"training_marker"`
	MaskMarkers        []string      `toml:"mask_markers"`

	// MaxVoxels bounds the box of a data request; 0 means unlimited.
	MaxVoxels int64 `toml:"max_voxels" validate:"gte=0"`
	GzipLevel int   `toml:"gzip_level" validate:"gte=-1,lte=9"`

	// Filled from the [mesh] section.
	MeshHost       string `toml:"-"`
	MeshDir        string `toml:"-" validate:"required"`
	PropertiesFile string `toml:"-" validate:"required"`
}

// DefaultConfig returns the settings of the original n5ng server.
func DefaultConfig() Config {
	return Config{
		Layout:             LayoutAuto,
		Levels:             3,
		DefaultResolution:  n5ng.Vector3d{4, 4, 4},
		TrainingResolution: n5ng.Vector3d{2, 2, 2},
		TrainingMarker:     "training",
		MaskMarkers:        []string{"medialSurface", "sheet", "binarized"},
		GzipLevel:          5,
		MeshDir:            "mesh",
		PropertiesFile:     "mesh/segments.csv",
	}
}

// ArrayStore is the read-only view of the array store used by the service.
type ArrayStore interface {
	Array(ctx context.Context, path string) (*storage.Array, error)
	ReadSubvolume(ctx context.Context, arr *storage.Array, lo, hi []int64) (*storage.Block, error)
	ReadAll(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// AdmissionFunc decides whether a data request may proceed.  A refusal should wrap
// n5ng.ErrTooLarge.
type AdmissionFunc func(box Box, g Geometry) error

// VoxelLimit returns an AdmissionFunc refusing boxes with more than maxVoxels voxels.
// A limit of 0 admits everything.
func VoxelLimit(maxVoxels int64) AdmissionFunc {
	return func(box Box, g Geometry) error {
		if maxVoxels <= 0 {
			return nil
		}
		if n := box.NumVoxels(); n > maxVoxels {
			return fmt.Errorf("box %s has %d voxels, limit is %d: %w", box, n, maxVoxels, n5ng.ErrTooLarge)
		}
		return nil
	}
}

// Service translates datasets of an array store into the precomputed protocol.  It holds
// no mutable state and is safe for concurrent use.
type Service struct {
	store ArrayStore
	cfg   Config
	admit AdmissionFunc
}

// NewService returns a Service reading from the given store.
func NewService(store ArrayStore, cfg Config) *Service {
	if cfg.Layout == "" {
		cfg.Layout = LayoutAuto
	}
	if cfg.Levels <= 0 {
		cfg.Levels = 3
	}
	return &Service{
		store: store,
		cfg:   cfg,
		admit: VoxelLimit(cfg.MaxVoxels),
	}
}

// SetAdmission replaces the admission control for data requests.
func (s *Service) SetAdmission(f AdmissionFunc) {
	if f == nil {
		f = VoxelLimit(0)
	}
	s.admit = f
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// BaseResolution returns the default resolution used when a dataset's metadata
// declares none.
func (s *Service) BaseResolution(name string) n5ng.Vector3d {
	if s.cfg.TrainingMarker != "" && strings.Contains(name, s.cfg.TrainingMarker) {
		return s.cfg.TrainingResolution
	}
	return s.cfg.DefaultResolution
}

// DataType returns the data type advertised for a dataset.
func (s *Service) DataType(name string) storage.DataType {
	for _, marker := range s.cfg.MaskMarkers {
		if marker != "" && strings.Contains(name, marker) {
			return storage.Uint8
		}
	}
	return storage.Uint64
}
