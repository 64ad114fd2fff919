// Package registry owns the process-wide table of resident library images.
// One Registry is created at system start and handed to the ingestion
// pipeline (which registers images) and the module loader (which resolves
// them and drives the per-library executable-module counters). There is no
// ambient global; every operation goes through the handle.
package registry

import (
	"fmt"
	"sync"

	"github.com/avisene/dspload/internal/format"
	"github.com/avisene/dspload/pkg/types"
)

// Image is one ingested, permanently resident library image. Once registered
// it is never moved or freed while the system runs.
type Image struct {
	id   types.LibraryID
	data []byte
	man  format.Manifest
}

// NewImage wraps permanent storage as an image, parsing and validating its
// manifest.
func NewImage(id types.LibraryID, data []byte) (*Image, error) {
	man, err := format.ParseManifest(data)
	if err != nil {
		return nil, err
	}
	if len(data) < man.PreloadBytes() {
		return nil, fmt.Errorf("registry: image %d bytes, manifest declares %d: %w",
			len(data), man.PreloadBytes(), format.ErrTruncated)
	}
	return &Image{id: id, data: data, man: man}, nil
}

// ID returns the image's library id.
func (i *Image) ID() types.LibraryID { return i.id }

// Manifest returns the parsed manifest.
func (i *Image) Manifest() format.Manifest { return i.man }

// Bytes returns the resident image storage.
func (i *Image) Bytes() []byte { return i.data }

// Module parses the module table entry at index.
func (i *Image) Module(index int) (format.Module, error) {
	return format.ModuleAt(i.data, i.man, index)
}

// Registry maps library ids to resident images and tracks, per library, how
// many non-shared executable modules are currently loaded. It is shared
// mutable state across cores; all access is serialized internally.
type Registry struct {
	mu     sync.Mutex
	images [format.MaxLibraries]*Image
	exec   [format.MaxLibraries]int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register makes an image visible to the loader. It is the final step of
// ingestion; a partially ingested library must never reach it. Fails with
// types.ErrExists when the id is already occupied and with
// types.ErrInvalidArgument for the reserved or out-of-range ids.
func (r *Registry) Register(img *Image) error {
	id := img.ID()
	if id == 0 || int(id) >= format.MaxLibraries {
		return fmt.Errorf("registry: library id %d: %w", id, types.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.images[id] != nil {
		return fmt.Errorf("registry: library %d: %w", id, types.ErrExists)
	}
	r.images[id] = img
	return nil
}

// Image resolves a library id to its resident image.
func (r *Registry) Image(id types.LibraryID) (*Image, error) {
	if id == 0 || int(id) >= format.MaxLibraries {
		return nil, fmt.Errorf("registry: library id %d: %w", id, types.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	img := r.images[id]
	if img == nil {
		return nil, fmt.Errorf("registry: library %d: %w", id, types.ErrNotFound)
	}
	return img, nil
}

// Contains reports whether a library id is occupied.
func (r *Registry) Contains(id types.LibraryID) bool {
	if id == 0 || int(id) >= format.MaxLibraries {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.images[id] != nil
}

// IncExec counts one more loaded executable (non-shared) module in the
// library and reports whether this was the 0 to 1 transition that obliges the
// caller to bring in the library's shared code.
func (r *Registry) IncExec(id types.LibraryID) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exec[id]++
	return r.exec[id] == 1
}

// DecExec counts one fewer loaded executable module and reports whether this
// was the 1 to 0 transition that obliges the caller to tear the shared code
// down. Decrementing at zero is a no-op; the counter never goes negative.
func (r *Registry) DecExec(id types.LibraryID) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exec[id] == 0 {
		return false
	}
	r.exec[id]--
	return r.exec[id] == 0
}

// ExecCount returns the library's current executable-module count.
func (r *Registry) ExecCount(id types.LibraryID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec[id]
}
