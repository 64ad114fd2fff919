package loader

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/avisene/dspload/hw"
	"github.com/avisene/dspload/internal/buf"
	"github.com/avisene/dspload/internal/format"
	"github.com/avisene/dspload/pkg/types"
	"github.com/avisene/dspload/registry"
)

// loadModule maps the segments of the module at index and, for ordinary
// modules, drives the shared-code counter. Callers hold the library lock.
func (m *Manager) loadModule(img *registry.Image, index int) error {
	mod, err := img.Module(index)
	if err != nil {
		return &types.Error{Kind: types.ErrKindInvalidArgument,
			Msg: fmt.Sprintf("loader: library %d module %d", img.ID(), index), Err: err}
	}
	code := mod.Segments[format.SegmentCode]
	ro := mod.Segments[format.SegmentROData]

	if err := m.mapSegment(img, code, hw.PermRWX); err != nil {
		return err
	}
	if err := m.mapSegment(img, ro, hw.PermRW); err != nil {
		m.unmapBestEffort(code)
		return err
	}

	if mod.IsLibCode() {
		// Shared code never participates in the counter and never triggers
		// further recursion; that is what bounds the recursion below.
		return nil
	}

	if first := m.reg.IncExec(img.ID()); first {
		if err := m.loadLibCode(img); err != nil {
			m.reg.DecExec(img.ID())
			m.unmapBestEffort(ro)
			m.unmapBestEffort(code)
			return err
		}
	}

	Logger().Debug("module loaded",
		zap.Uint8("library", uint8(img.ID())),
		zap.Int("module", index))
	return nil
}

// loadLibCode maps every library-code module of the image. Invoked exactly on
// the library's 0 to 1 executable transition. On failure, modules mapped by
// this sweep are unwound before returning.
func (m *Manager) loadLibCode(img *registry.Image) error {
	man := img.Manifest()
	var loaded []int
	for idx := 0; idx < man.ModuleCount; idx++ {
		mod, err := img.Module(idx)
		if err == nil && !mod.IsLibCode() {
			continue
		}
		if err == nil {
			err = m.loadModule(img, idx)
		}
		if err != nil {
			for _, done := range loaded {
				if uerr := m.unloadModule(img, done); uerr != nil {
					Logger().Error("shared code unwind failed",
						zap.Uint8("library", uint8(img.ID())),
						zap.Int("module", done), zap.Error(uerr))
				}
			}
			return err
		}
		loaded = append(loaded, idx)
	}
	return nil
}

// unloadModule unmaps the segments of the module at index and, for ordinary
// modules, drives the shared-code counter. Callers hold the library lock.
func (m *Manager) unloadModule(img *registry.Image, index int) error {
	mod, err := img.Module(index)
	if err != nil {
		return &types.Error{Kind: types.ErrKindInvalidArgument,
			Msg: fmt.Sprintf("loader: library %d module %d", img.ID(), index), Err: err}
	}

	if err := m.unmapSegment(mod.Segments[format.SegmentCode]); err != nil {
		return err
	}
	if err := m.unmapSegment(mod.Segments[format.SegmentROData]); err != nil {
		return err
	}

	if mod.IsLibCode() {
		return nil
	}

	if last := m.reg.DecExec(img.ID()); last {
		// Sweep all shared code out. The sweep continues past individual
		// failures so one bad unmap cannot strand the rest; the first error
		// still reaches the caller.
		var firstErr error
		for idx := 0; idx < img.Manifest().ModuleCount; idx++ {
			lc, lerr := img.Module(idx)
			if lerr != nil || !lc.IsLibCode() {
				continue
			}
			if uerr := m.unloadModule(img, idx); uerr != nil && firstErr == nil {
				firstErr = uerr
			}
		}
		if firstErr != nil {
			return firstErr
		}
	}

	Logger().Debug("module unloaded",
		zap.Uint8("library", uint8(img.ID())),
		zap.Int("module", index))
	return nil
}

// mapSegment maps one segment at its fixed virtual base, fills it from the
// image, and writes the cache back so the execution unit sees the bytes.
func (m *Manager) mapSegment(img *registry.Image, seg format.Segment, perm hw.Perm) error {
	size := seg.ByteSize()
	if size == 0 {
		return nil
	}
	end, ok := buf.AddOverflowSafe(int(seg.FileOffset), size)
	if !ok || end > len(img.Bytes()) {
		return fmt.Errorf("loader: segment source %#x+%#x outside image: %w",
			seg.FileOffset, size, format.ErrTruncated)
	}
	dst, err := m.mm.Map(seg.VirtualBase, size, perm)
	if err != nil {
		return &types.Error{Kind: types.ErrKindOutOfMemory,
			Msg: fmt.Sprintf("loader: map segment %#x+%#x", seg.VirtualBase, size), Err: err}
	}
	copy(dst, img.Bytes()[seg.FileOffset:end])
	m.cache.Writeback(dst)
	return nil
}

// unmapSegment releases one segment's mapping.
func (m *Manager) unmapSegment(seg format.Segment) error {
	size := seg.ByteSize()
	if size == 0 {
		return nil
	}
	if err := m.mm.Unmap(seg.VirtualBase, size); err != nil {
		return &types.Error{Kind: types.ErrKindOutOfMemory,
			Msg: fmt.Sprintf("loader: unmap segment %#x+%#x", seg.VirtualBase, size), Err: err}
	}
	return nil
}

// unmapBestEffort is the failure-path variant: rollback must not mask the
// primary error, so unmap problems are only logged.
func (m *Manager) unmapBestEffort(seg format.Segment) {
	if err := m.unmapSegment(seg); err != nil {
		Logger().Error("segment rollback failed",
			zap.Uint32("base", seg.VirtualBase), zap.Error(err))
	}
}
