package loader

import (
	"fmt"

	"github.com/avisene/dspload/hw"
	"github.com/avisene/dspload/internal/format"
	"github.com/avisene/dspload/pkg/types"
)

// instanceSlice computes the scratch slice owned by one instance: the
// module's scratch segment divided evenly across its declared maximum
// instance count.
func instanceSlice(mod format.Module, inst types.InstanceID) (base uint32, size int, err error) {
	if int(inst) >= int(mod.InstanceMaxCount) {
		return 0, 0, fmt.Errorf("loader: instance %d of %d: %w",
			inst, mod.InstanceMaxCount, types.ErrInvalidArgument)
	}
	size = mod.PerInstanceBytes()
	base = mod.Segments[format.SegmentBSS].VirtualBase + uint32(int(inst)*size)
	return base, size, nil
}

// AllocateInstance maps and zero-fills the scratch slice for one
// (module, instance) pair. requestedPages is validated against the module's
// per-instance capacity; asking for more fails with
// types.ErrResourceExhausted before any state changes.
//
// Slices for distinct instances of the same module never overlap; instances
// never observe stale or foreign data.
func (m *Manager) AllocateInstance(id types.ModuleID, inst types.InstanceID, requestedPages uint32) error {
	_, mod, err := m.resolve(id)
	if err != nil {
		return err
	}
	base, size, err := instanceSlice(mod, inst)
	if err != nil {
		return err
	}
	if int(requestedPages)*format.PageSize > size {
		return fmt.Errorf("loader: %v instance %d: %d pages requested, %d available: %w",
			id, inst, requestedPages, size/format.PageSize, types.ErrResourceExhausted)
	}
	if size == 0 {
		return nil
	}
	dst, err := m.mm.Map(base, size, hw.PermRW)
	if err != nil {
		return &types.Error{Kind: types.ErrKindOutOfMemory,
			Msg: fmt.Sprintf("loader: map instance scratch %#x+%#x", base, size), Err: err}
	}
	clear(dst)
	return nil
}

// FreeInstance unmaps exactly the slice AllocateInstance mapped. Whether the
// pair is currently allocated is the IPC-facing caller's bookkeeping, not
// this core's.
func (m *Manager) FreeInstance(id types.ModuleID, inst types.InstanceID) error {
	_, mod, err := m.resolve(id)
	if err != nil {
		return err
	}
	base, size, err := instanceSlice(mod, inst)
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	if err := m.mm.Unmap(base, size); err != nil {
		return &types.Error{Kind: types.ErrKindOutOfMemory,
			Msg: fmt.Sprintf("loader: unmap instance scratch %#x+%#x", base, size), Err: err}
	}
	return nil
}
