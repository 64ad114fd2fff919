// Package loader maps executable modules out of resident library images into
// permission-tagged execution memory and carves per-instance scratch slices.
//
// A module's code and read-only data segments live at fixed virtual addresses
// declared by the image; loading copies them out of the image and maps them,
// unloading unmaps them. Modules flagged as library code are shared by the
// ordinary modules of the same image: they are brought in when the first
// ordinary module loads and torn down when the last one unloads, driven by
// the registry's per-library executable-module counter.
package loader

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/avisene/dspload/hw"
	"github.com/avisene/dspload/internal/format"
	"github.com/avisene/dspload/pkg/types"
	"github.com/avisene/dspload/registry"
)

// Config collects the Manager's collaborators. Drivers may be nil when the
// component framework is compiled out; RegisterModule then fails with
// types.ErrUnsupported.
type Config struct {
	Registry *registry.Registry
	Mapper   hw.PageMapper
	Cache    hw.Cache
	Drivers  DriverRegistry
}

// Manager performs module load/unload and instance allocation against one
// registry. Operations on distinct libraries proceed in parallel; load and
// unload within one library serialize on a per-library critical section so
// the shared-code transition check and the recursion it triggers are atomic.
type Manager struct {
	reg   *registry.Registry
	mm    hw.PageMapper
	cache hw.Cache
	drv   DriverRegistry

	libMu [format.MaxLibraries]sync.Mutex
}

// New returns a Manager over cfg.
func New(cfg Config) *Manager {
	return &Manager{
		reg:   cfg.Registry,
		mm:    cfg.Mapper,
		cache: cfg.Cache,
		drv:   cfg.Drivers,
	}
}

// resolve looks up a module's owning image and parsed descriptor.
func (m *Manager) resolve(id types.ModuleID) (*registry.Image, format.Module, error) {
	img, err := m.reg.Image(id.Library())
	if err != nil {
		return nil, format.Module{}, fmt.Errorf("loader: %v: %w", id, err)
	}
	mod, err := img.Module(id.Index())
	if err != nil {
		return nil, format.Module{}, &types.Error{
			Kind: types.ErrKindInvalidArgument,
			Msg:  fmt.Sprintf("loader: %v", id),
			Err:  err,
		}
	}
	return img, mod, nil
}

// LoadModule maps the module's code and read-only data segments at their
// fixed virtual bases and, when this is the library's first ordinary module,
// brings in the library's shared code. Nothing stays mapped on failure.
func (m *Manager) LoadModule(id types.ModuleID) error {
	img, _, err := m.resolve(id)
	if err != nil {
		return err
	}
	lib := id.Library()
	m.libMu[lib].Lock()
	defer m.libMu[lib].Unlock()
	return m.loadModule(img, id.Index())
}

// UnloadModule unmaps the module's segments and, when this was the library's
// last ordinary module, tears the shared code down.
func (m *Manager) UnloadModule(id types.ModuleID) error {
	img, _, err := m.resolve(id)
	if err != nil {
		return err
	}
	lib := id.Library()
	m.libMu[lib].Lock()
	defer m.libMu[lib].Unlock()
	return m.unloadModule(img, id.Index())
}

// AllocateModule is the IPC-facing composition: load the module, then carve
// and zero the instance's scratch slice, returning the module's entry point.
// When instance allocation fails after a successful load, the load is rolled
// back so the failed request leaves nothing mapped.
func (m *Manager) AllocateModule(ipc types.IPCID, cfg BaseConfig) (types.EntryPoint, error) {
	id := ipc.Module()
	_, mod, err := m.resolve(id)
	if err != nil {
		return 0, err
	}

	Logger().Debug("allocate module",
		zap.Uint32("ipc_id", uint32(ipc)),
		zap.Stringer("module", id))

	if err := m.LoadModule(id); err != nil {
		return 0, err
	}
	if err := m.AllocateInstance(id, ipc.Instance(), cfg.ScratchPages); err != nil {
		if uerr := m.UnloadModule(id); uerr != nil {
			Logger().Error("module unload after failed instance allocation",
				zap.Stringer("module", id), zap.Error(uerr))
		}
		return 0, err
	}
	return types.EntryPoint(mod.EntryPoint), nil
}

// FreeModule is the exact inverse of AllocateModule: unload the module, then
// free the instance's scratch slice, propagating the first error.
func (m *Manager) FreeModule(ipc types.IPCID) error {
	id := ipc.Module()

	Logger().Debug("free module",
		zap.Uint32("ipc_id", uint32(ipc)),
		zap.Stringer("module", id))

	if err := m.UnloadModule(id); err != nil {
		return err
	}
	return m.FreeInstance(id, ipc.Instance())
}

// RegisterModule binds a loaded module's UUID and entry point into the
// component framework.
func (m *Manager) RegisterModule(id types.ModuleID) error {
	if m.drv == nil {
		return fmt.Errorf("loader: no component registry: %w", types.ErrUnsupported)
	}
	_, mod, err := m.resolve(id)
	if err != nil {
		return err
	}
	return m.drv.Register(Driver{
		UUID:   mod.UUID,
		Entry:  types.EntryPoint(mod.EntryPoint),
		Module: id,
	})
}

// BaseConfig carries the per-request configuration the IPC layer extracts
// from the host's init-instance payload.
type BaseConfig struct {
	// ScratchPages is the scratch memory the instance asks for, in pages.
	ScratchPages uint32
}
