package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/blang/semver"
	"gocloud.dev/blob"

	"github.com/janelia-flyem/n5ng"
)

// Engine implementations read one chunked-array format from a blob bucket.  Engines
// register themselves in init() so a binary only needs to import the engine packages
// it wants available.
type Engine interface {
	GetName() string
	GetDescription() string
	GetSemVer() semver.Version
	String() string

	// OpenArray reads the metadata of the array node at path.  If no array of this
	// format exists there, the returned error wraps n5ng.ErrNotFound.
	OpenArray(ctx context.Context, bucket *blob.Bucket, path string) (*Array, error)

	// ReadChunk returns the decoded chunk at the given C-order chunk coordinate or
	// nil if the chunk was never written.
	ReadChunk(ctx context.Context, bucket *blob.Bucket, arr *Array, coord []int64) (*Chunk, error)
}

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]Engine)
)

// RegisterEngine registers an Engine under its name.
func RegisterEngine(e Engine) {
	enginesMu.Lock()
	engines[e.GetName()] = e
	enginesMu.Unlock()
	n5ng.Debugf("Registered array engine %s\n", e)
}

// GetEngine returns the registered engine with the given name.
func GetEngine(name string) (Engine, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	e, found := engines[name]
	if !found {
		return nil, fmt.Errorf("no array engine %q registered: %w", name, n5ng.ErrUnsupported)
	}
	return e, nil
}

// EnginesAvailable returns a description of the available array engines, sorted by name.
func EnginesAvailable() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	avail := make([]string, len(names))
	for i, name := range names {
		avail[i] = engines[name].String()
	}
	return avail
}

// selectEngines returns the engines tried when opening arrays for the given format,
// where "auto" or "" means all registered engines in name order.
func selectEngines(format string) ([]Engine, error) {
	if format != "" && format != "auto" {
		e, err := GetEngine(format)
		if err != nil {
			return nil, err
		}
		return []Engine{e}, nil
	}
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	if len(engines) == 0 {
		return nil, fmt.Errorf("no array engines registered")
	}
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	sel := make([]Engine, len(names))
	for i, name := range names {
		sel[i] = engines[name]
	}
	return sel, nil
}
