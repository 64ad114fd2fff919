package loader

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avisene/dspload/hw/hosthw"
	"github.com/avisene/dspload/ingest"
	"github.com/avisene/dspload/internal/format"
	"github.com/avisene/dspload/pkg/types"
	"github.com/avisene/dspload/registry"
)

// TestIngestThenLoad drives the whole path a library takes at runtime: the
// image is streamed in over DMA, registered, and its modules are then loaded
// out of the resident copy, executed through their instance scratch, and torn
// back down.
func TestIngestThenLoad(t *testing.T) {
	src, err := format.NewBuilder().
		AddModule(format.ModuleSpec{
			EntryPoint: aCode, InstanceMaxCount: 2,
			CodeBase: aCode, CodePages: 1, Code: []byte("module A code"),
			RODataBase: aRO, ROPages: 1,
			BSSBase: aBSS, BSSPages: 4,
		}).
		AddModule(format.ModuleSpec{
			EntryPoint: bCode, InstanceMaxCount: 1,
			CodeBase: bCode, CodePages: 1,
			RODataBase: bRO, ROPages: 1,
			BSSBase: bBSS, BSSPages: 1,
		}).
		AddModule(format.ModuleSpec{
			EntryPoint: sCode, InstanceMaxCount: 1, LibCode: true,
			CodeBase: sCode, CodePages: 1, Code: []byte("shared routines"),
			RODataBase: sRO, ROPages: 1,
		}).
		Build()
	require.NoError(t, err)

	reg := registry.New()
	pipe := ingest.New(reg, ingest.Deps{
		DMA:   hosthw.NewDMA(bytes.NewReader(src)),
		Clock: hosthw.NewClock(),
		Alloc: hosthw.NewAllocator(),
		Cache: hosthw.NewCache(),
	}, ingest.Options{PollInterval: 10 * time.Microsecond, PollTimeout: 50 * time.Millisecond})
	require.NoError(t, pipe.LoadLibrary(context.Background(), 0, 2))

	mm := hosthw.NewMapper()
	mgr := New(Config{Registry: reg, Mapper: mm, Cache: hosthw.NewCache()})

	a := types.NewModuleID(2, 0)
	b := types.NewModuleID(2, 1)

	entry, err := mgr.AllocateModule(types.NewIPCID(a, 0), BaseConfig{ScratchPages: 2})
	require.NoError(t, err)
	assert.Equal(t, types.EntryPoint(aCode), entry)

	code, ok := mm.Slice(aCode)
	require.True(t, ok)
	assert.Equal(t, []byte("module A code"), code[:13],
		"code content survives the DMA round trip")
	shared, ok := mm.Slice(0x0300_0000)
	require.True(t, ok)
	assert.Equal(t, []byte("shared routines"), shared[:15])

	require.NoError(t, mgr.LoadModule(b))
	require.NoError(t, mgr.FreeModule(types.NewIPCID(a, 0)))
	assert.True(t, mm.Mapped(sCode), "shared code alive while B is loaded")

	require.NoError(t, mgr.UnloadModule(b))
	assert.Equal(t, 0, mm.MappedCount())
	assert.Equal(t, 0, reg.ExecCount(2))
}
