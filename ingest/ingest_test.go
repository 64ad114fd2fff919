package ingest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avisene/dspload/hw"
	"github.com/avisene/dspload/hw/hosthw"
	"github.com/avisene/dspload/internal/format"
	"github.com/avisene/dspload/pkg/types"
	"github.com/avisene/dspload/registry"
)

func fastOptions() Options {
	return Options{
		PollInterval: 10 * time.Microsecond,
		PollTimeout:  50 * time.Millisecond,
		BoostKHz:     1000,
	}
}

// buildImage assembles a small 3-module image: two ordinary modules and one
// shared library-code module.
func buildImage(t *testing.T) []byte {
	t.Helper()
	img, err := format.NewBuilder().
		AddModule(format.ModuleSpec{
			EntryPoint: 0x0100_0000, InstanceMaxCount: 2,
			CodeBase: 0x0100_0000, CodePages: 1,
			RODataBase: 0x0110_0000, ROPages: 1,
			BSSBase: 0x0120_0000, BSSPages: 2,
		}).
		AddModule(format.ModuleSpec{
			EntryPoint: 0x0200_0000, InstanceMaxCount: 1,
			CodeBase: 0x0200_0000, CodePages: 1,
			RODataBase: 0x0210_0000, ROPages: 1,
			BSSBase: 0x0220_0000, BSSPages: 1,
		}).
		AddModule(format.ModuleSpec{
			EntryPoint: 0x0300_0000, InstanceMaxCount: 1, LibCode: true,
			CodeBase: 0x0300_0000, CodePages: 1,
			RODataBase: 0x0310_0000, ROPages: 1,
			BSSBase: 0x0320_0000, BSSPages: 1,
		}).
		Build()
	require.NoError(t, err)
	// Give the payload pages recognizable content.
	for i := format.ManifestMaxSize; i < len(img); i++ {
		img[i] = byte(i)
	}
	return img
}

type env struct {
	reg   *registry.Registry
	dma   *hosthw.DMA
	clock *hosthw.Clock
	alloc *hosthw.Allocator
	cache *hosthw.Cache
}

func newEnv(src []byte) *env {
	return &env{
		reg:   registry.New(),
		dma:   hosthw.NewDMA(bytes.NewReader(src)),
		clock: hosthw.NewClock(),
		alloc: hosthw.NewAllocator(),
		cache: hosthw.NewCache(),
	}
}

func (e *env) deps() Deps {
	return Deps{DMA: e.dma, Clock: e.clock, Alloc: e.alloc, Cache: e.cache}
}

// assertNoNetChange verifies a failed ingestion left zero net change in
// allocator, clock, and registry state.
func assertNoNetChange(t *testing.T, e *env, lib types.LibraryID) {
	t.Helper()
	assert.False(t, e.reg.Contains(lib), "registry must not see a partial image")
	assert.Equal(t, 0, e.alloc.LiveCount(), "all buffers released")
	assert.Equal(t, 0, e.alloc.LiveBytes())
	assert.Equal(t, 0, e.alloc.BadFrees())
	assert.Equal(t, 0, e.clock.Budget(0), "boost released")
}

func TestLoadLibrary_EndToEnd(t *testing.T) {
	src := buildImage(t)
	e := newEnv(src)
	p := New(e.reg, e.deps(), fastOptions())

	require.NoError(t, p.LoadLibrary(context.Background(), 0, 1))

	img, err := e.reg.Image(1)
	require.NoError(t, err)
	assert.Equal(t, src, img.Bytes(), "resident image equals host source byte-for-byte")
	assert.Equal(t, 3, img.Manifest().ModuleCount)

	// Only the permanent storage survives; staging buffers are gone, the
	// boost is released.
	assert.Equal(t, 1, e.alloc.LiveCount())
	assert.Equal(t, len(src), e.alloc.LiveBytes())
	assert.Equal(t, 0, e.clock.Budget(0))
}

func TestLoadLibrary_InvalidID(t *testing.T) {
	e := newEnv(nil)
	p := New(e.reg, e.deps(), fastOptions())

	require.ErrorIs(t, p.LoadLibrary(context.Background(), 0, 0), types.ErrInvalidArgument)
	require.ErrorIs(t, p.LoadLibrary(context.Background(), 0, format.MaxLibraries), types.ErrInvalidArgument)
	assert.Equal(t, 0, e.alloc.LiveCount(), "validation failures touch nothing")
}

func TestLoadLibrary_DuplicateRejected(t *testing.T) {
	src := buildImage(t)
	e := newEnv(src)
	p := New(e.reg, e.deps(), fastOptions())

	require.NoError(t, p.LoadLibrary(context.Background(), 0, 2))
	first, err := e.reg.Image(2)
	require.NoError(t, err)

	require.ErrorIs(t, p.LoadLibrary(context.Background(), 0, 2), types.ErrExists)

	again, err := e.reg.Image(2)
	require.NoError(t, err)
	assert.Same(t, first, again, "registry entry unchanged by the rejected ingest")
}

func TestLoadLibrary_ChannelBusy(t *testing.T) {
	e := newEnv(buildImage(t))
	held, err := e.dma.AcquireChannel(0, hw.DirHostToDevice)
	require.NoError(t, err)
	defer held.Release()

	p := New(e.reg, e.deps(), fastOptions())
	require.ErrorIs(t, p.LoadLibrary(context.Background(), 0, 1), types.ErrDeviceUnavailable)
	assertNoNetChange(t, e, 1)
}

func TestStreamInto_ChunkAndReloadCount(t *testing.T) {
	cases := []struct {
		name string
		size int
	}{
		{"exact multiple", 3 * format.ManifestMaxSize},
		{"with remainder", 2*format.ManifestMaxSize + 100},
		{"single short unit", 100},
		{"empty", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := make([]byte, tc.size)
			for i := range src {
				src[i] = byte(i * 7)
			}
			e := newEnv(src)
			p := New(e.reg, e.deps(), fastOptions())

			ch, err := e.dma.AcquireChannel(0, hw.DirHostToDevice)
			require.NoError(t, err)
			defer ch.Release()

			ping := make([]byte, format.ManifestMaxSize)
			require.NoError(t, ch.Configure(hw.TransferConfig{
				BlockSize: format.ManifestMaxSize, FlowControlled: true, Destination: ping,
			}))
			require.NoError(t, ch.Start())

			dst := make([]byte, tc.size)
			require.NoError(t, p.streamInto(context.Background(), ch, ping, dst))
			assert.Equal(t, src, dst)

			k := tc.size / format.ManifestMaxSize
			if tc.size%format.ManifestMaxSize != 0 {
				k++
			}
			assert.Equal(t, k, ch.(*hosthw.Channel).Reloads(), "one reload per unit")
		})
	}
}

func TestLoadLibrary_StalledDeviceTimesOut(t *testing.T) {
	// Host supplies less than the manifest region; the device never covers
	// the first unit and the poll budget expires.
	e := newEnv(make([]byte, 100))
	p := New(e.reg, e.deps(), fastOptions())

	err := p.LoadLibrary(context.Background(), 0, 1)
	require.ErrorIs(t, err, types.ErrDeviceError)
	assertNoNetChange(t, e, 1)
}

func TestLoadLibrary_CancellationWinsOverStall(t *testing.T) {
	e := newEnv(make([]byte, 100))
	opts := fastOptions()
	opts.PollTimeout = time.Hour
	p := New(e.reg, e.deps(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.LoadLibrary(ctx, 0, 1)
	require.ErrorIs(t, err, context.Canceled)
	assertNoNetChange(t, e, 1)
}

func TestLoadLibrary_TransferFailureAtEachChunkBoundary(t *testing.T) {
	full := buildImage(t)
	pages := len(full) / format.PageSize
	for cut := 1; cut < pages; cut++ {
		e := newEnv(full[:cut*format.PageSize])
		p := New(e.reg, e.deps(), fastOptions())

		err := p.LoadLibrary(context.Background(), 0, 1)
		require.ErrorIs(t, err, types.ErrDeviceError, "truncation after %d pages", cut)
		assertNoNetChange(t, e, 1)
	}
}

// failingAlloc fails the nth allocation.
type failingAlloc struct {
	*hosthw.Allocator
	failAt int
	calls  int
}

func (f *failingAlloc) AllocAligned(size, align int, caps hw.Cap) ([]byte, error) {
	f.calls++
	if f.calls == f.failAt {
		return nil, errors.New("allocator exhausted")
	}
	return f.Allocator.AllocAligned(size, align, caps)
}

// failingClock rejects boost increases.
type failingClock struct {
	*hosthw.Clock
}

func (f *failingClock) AdjustBudget(core, delta int) error {
	if delta > 0 {
		return errors.New("no clock headroom")
	}
	return f.Clock.AdjustBudget(core, delta)
}

// failingChannel fails a selected channel operation.
type failingChannel struct {
	hw.Channel
	failConfigure bool
	failStart     bool
	failStatus    bool
}

func (f *failingChannel) Configure(cfg hw.TransferConfig) error {
	if f.failConfigure {
		return errors.New("configure fault")
	}
	return f.Channel.Configure(cfg)
}

func (f *failingChannel) Start() error {
	if f.failStart {
		return errors.New("start fault")
	}
	return f.Channel.Start()
}

func (f *failingChannel) Status() (hw.Status, error) {
	if f.failStatus {
		return hw.Status{}, errors.New("status fault")
	}
	return f.Channel.Status()
}

type failingDMA struct {
	inner hw.DMA
	wrap  func(hw.Channel) hw.Channel
}

func (f *failingDMA) AcquireChannel(id hw.ChannelID, dir hw.Direction) (hw.Channel, error) {
	ch, err := f.inner.AcquireChannel(id, dir)
	if err != nil {
		return nil, err
	}
	return f.wrap(ch), nil
}

func TestLoadLibrary_RollbackCompleteness(t *testing.T) {
	src := buildImage(t)

	cases := []struct {
		name string
		deps func(e *env) Deps
		kind *types.Error
	}{
		{"staging alloc fails", func(e *env) Deps {
			d := e.deps()
			d.Alloc = &failingAlloc{Allocator: e.alloc, failAt: 1}
			return d
		}, types.ErrOutOfMemory},
		{"dma buffer alloc fails", func(e *env) Deps {
			d := e.deps()
			d.Alloc = &failingAlloc{Allocator: e.alloc, failAt: 2}
			return d
		}, types.ErrOutOfMemory},
		{"storage alloc fails", func(e *env) Deps {
			d := e.deps()
			d.Alloc = &failingAlloc{Allocator: e.alloc, failAt: 3}
			return d
		}, types.ErrOutOfMemory},
		{"clock boost fails", func(e *env) Deps {
			d := e.deps()
			d.Clock = &failingClock{Clock: e.clock}
			return d
		}, types.ErrDeviceError},
		{"dma configure fails", func(e *env) Deps {
			d := e.deps()
			d.DMA = &failingDMA{inner: e.dma, wrap: func(ch hw.Channel) hw.Channel {
				return &failingChannel{Channel: ch, failConfigure: true}
			}}
			return d
		}, types.ErrDeviceError},
		{"dma start fails", func(e *env) Deps {
			d := e.deps()
			d.DMA = &failingDMA{inner: e.dma, wrap: func(ch hw.Channel) hw.Channel {
				return &failingChannel{Channel: ch, failStart: true}
			}}
			return d
		}, types.ErrDeviceError},
		{"dma status fails", func(e *env) Deps {
			d := e.deps()
			d.DMA = &failingDMA{inner: e.dma, wrap: func(ch hw.Channel) hw.Channel {
				return &failingChannel{Channel: ch, failStatus: true}
			}}
			return d
		}, types.ErrDeviceError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(src)
			p := New(e.reg, tc.deps(e), fastOptions())

			err := p.LoadLibrary(context.Background(), 0, 1)
			require.ErrorIs(t, err, tc.kind)
			assertNoNetChange(t, e, 1)
		})
	}
}
