package precomputed

import (
	"context"
	"strings"

	"github.com/janelia-flyem/n5ng/storage"
)

// MeshFragments is the fragment listing for a legacy mesh id.
type MeshFragments struct {
	Fragments []string `json:"fragments"`
}

// Fragments returns the single-fragment listing for a mesh id.
func Fragments(id string) MeshFragments {
	return MeshFragments{Fragments: []string{id + ".ngmesh"}}
}

// MeshRedirect returns the URL of a mesh fragment on the configured mesh host, or ""
// if no host is configured.  All directives are stripped from the dataset.
func (s *Service) MeshRedirect(ref DatasetRef, id string) string {
	if s.cfg.MeshHost == "" {
		return ""
	}
	return strings.TrimRight(s.cfg.MeshHost, "/") + "/" + storage.JoinKey(ref.Name, s.cfg.MeshDir, id+".ngmesh")
}

// MeshFragment reads a mesh fragment from the store.  A missing fragment wraps
// n5ng.ErrNotFound.
func (s *Service) MeshFragment(ctx context.Context, ref DatasetRef, id string) ([]byte, error) {
	return s.store.ReadAll(ctx, storage.JoinKey(ref.Name, s.cfg.MeshDir, id+".ngmesh"))
}
