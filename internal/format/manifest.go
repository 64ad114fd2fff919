package format

import (
	"bytes"
	"fmt"

	"github.com/avisene/dspload/internal/buf"
)

// Manifest captures the image header fields required to size permanent
// storage and walk the module table.
type Manifest struct {
	Version     uint16
	ModuleCount int
	// PreloadPages is the whole-image size in pages, manifest included.
	PreloadPages int
}

// ParseManifest validates and extracts the header from the start of an image
// (or of the staged manifest region). It checks geometry only: the format is
// trusted, but a corrupted transfer must never turn into an out-of-bounds
// walk later.
func ParseManifest(b []byte) (Manifest, error) {
	if len(b) < HeaderSize {
		return Manifest{}, fmt.Errorf("manifest header: %w", ErrTruncated)
	}
	if !bytes.Equal(b[:len(Signature)], Signature) {
		return Manifest{}, fmt.Errorf("manifest header: %w", ErrSignatureMismatch)
	}
	version := ReadU16(b, HdrVersionOffset)
	if version != FormatVersion {
		return Manifest{}, fmt.Errorf("manifest header: version %d: %w", version, ErrVersion)
	}
	count := int(ReadU16(b, HdrModuleCountOffset))
	if count > MaxModules {
		return Manifest{}, fmt.Errorf("manifest header: %d module entries: %w", count, ErrLayout)
	}
	preload := int(ReadU32(b, HdrPreloadPagesOffset))
	preloadBytes, ok := buf.MulOverflowSafe(preload, PageSize)
	if !ok || preloadBytes < ManifestMaxSize {
		return Manifest{}, fmt.Errorf("manifest header: preload %d pages: %w", preload, ErrLayout)
	}
	return Manifest{
		Version:      version,
		ModuleCount:  count,
		PreloadPages: preload,
	}, nil
}

// PreloadBytes returns the whole-image size in bytes.
func (m Manifest) PreloadBytes() int {
	return m.PreloadPages * PageSize
}
