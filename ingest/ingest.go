// Package ingest streams library images from the host into permanent
// DSP-local storage over a bounded DMA channel.
//
// Ingestion runs once per library, during the configuration phase: the
// manifest region is staged through a fixed-size buffer, permanent storage is
// sized from the manifest's own preload declaration, and the remainder of the
// image is streamed directly into it. Only a fully transferred image is
// handed to the registry; every failure unwinds the pipeline's own
// acquisitions in reverse order. Permanent storage is never released once
// registered; unloading a whole library image is not supported.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avisene/dspload/hw"
	"github.com/avisene/dspload/internal/format"
	"github.com/avisene/dspload/pkg/types"
	"github.com/avisene/dspload/registry"
)

// Deps collects the hardware collaborators the pipeline drives.
type Deps struct {
	DMA   hw.DMA
	Clock hw.Clock
	Alloc hw.Allocator
	Cache hw.Cache
}

// Pipeline ingests library images into a registry.
type Pipeline struct {
	reg  *registry.Registry
	deps Deps
	opts Options
}

// New returns a pipeline ingesting into reg.
func New(reg *registry.Registry, deps Deps, opts Options) *Pipeline {
	return &Pipeline{reg: reg, deps: deps, opts: opts.withDefaults()}
}

// LoadLibrary acquires a host-to-device DMA channel and streams the library
// image identified on the host side into permanent storage, registering it
// under lib on success.
//
// Failure at any stage stops the channel if started, releases the frequency
// boost, frees the staging buffers and any permanent storage already
// allocated, releases the channel, and returns the first error encountered.
// A partially transferred image is never registered.
func (p *Pipeline) LoadLibrary(ctx context.Context, channel hw.ChannelID, lib types.LibraryID) (err error) {
	log := Logger()

	if lib == 0 || int(lib) >= format.MaxLibraries {
		return fmt.Errorf("ingest: library id %d: %w", lib, types.ErrInvalidArgument)
	}
	// Fast duplicate check; Register performs the authoritative one.
	if p.reg.Contains(lib) {
		return fmt.Errorf("ingest: library %d: %w", lib, types.ErrExists)
	}

	ch, err := p.deps.DMA.AcquireChannel(channel, hw.DirHostToDevice)
	if err != nil {
		return fmt.Errorf("ingest: acquire dma channel %d: %w", channel, err)
	}
	defer ch.Release()

	align := ch.BufferAlignment()

	stage, err := p.deps.Alloc.AllocAligned(format.ManifestMaxSize, align, hw.CapDMA)
	if err != nil {
		return oomErr("ingest: staging buffer", err)
	}
	defer p.deps.Alloc.Free(stage)

	ping, err := p.deps.Alloc.AllocAligned(format.ManifestMaxSize, align, hw.CapDMA)
	if err != nil {
		return oomErr("ingest: dma buffer", err)
	}
	defer p.deps.Alloc.Free(ping)
	p.deps.Cache.Invalidate(ping)

	// Run the core at full speed for the duration of the transfer.
	if err := p.deps.Clock.AdjustBudget(p.opts.Core, p.opts.BoostKHz); err != nil {
		return devErr("ingest: clock boost", err)
	}
	defer func() {
		if cerr := p.deps.Clock.AdjustBudget(p.opts.Core, -p.opts.BoostKHz); cerr != nil {
			log.Error("clock boost release failed", zap.Error(cerr))
		}
	}()

	cfg := hw.TransferConfig{
		BlockSize:      format.ManifestMaxSize,
		FlowControlled: true,
		Destination:    ping,
	}
	if err := ch.Configure(cfg); err != nil {
		return devErr("ingest: configure dma", err)
	}
	if err := ch.Start(); err != nil {
		return devErr("ingest: start dma", err)
	}
	defer func() {
		if serr := ch.Stop(); serr != nil {
			log.Error("dma stop failed", zap.Error(serr))
			if err == nil {
				err = devErr("ingest: stop dma", serr)
			}
		}
	}()

	// Stage the manifest region first; it declares how much storage the rest
	// of the image needs.
	if err := p.streamInto(ctx, ch, ping, stage); err != nil {
		return fmt.Errorf("ingest: manifest transfer: %w", err)
	}
	man, err := format.ParseManifest(stage)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	storage, err := p.deps.Alloc.AllocAligned(man.PreloadBytes(), format.PageSize, hw.CapDMA|hw.CapLongTerm)
	if err != nil {
		return oomErr("ingest: image storage", err)
	}
	registered := false
	defer func() {
		if !registered {
			p.deps.Alloc.Free(storage)
		}
	}()

	copy(storage, stage)
	if err := p.streamInto(ctx, ch, ping, storage[format.ManifestMaxSize:]); err != nil {
		return fmt.Errorf("ingest: image transfer: %w", err)
	}

	img, err := registry.NewImage(lib, storage)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := p.reg.Register(img); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	registered = true

	log.Info("library ingested",
		zap.Uint8("library", uint8(lib)),
		zap.Int("modules", man.ModuleCount),
		zap.Int("preload_pages", man.PreloadPages))
	return nil
}

// streamInto runs the chunked-copy protocol: per unit of at most
// ManifestMaxSize bytes, wait for the device to land the unit in the ping
// buffer, refresh the CPU view, copy left-to-right into dst, and re-arm the
// channel. No partial unit ever becomes visible in dst.
func (p *Pipeline) streamInto(ctx context.Context, ch hw.Channel, ping, dst []byte) error {
	for copied := 0; copied < len(dst); {
		unit := len(dst) - copied
		if unit > format.ManifestMaxSize {
			unit = format.ManifestMaxSize
		}
		if err := p.waitPending(ctx, ch, unit); err != nil {
			return err
		}
		p.deps.Cache.Invalidate(ping[:unit])
		copy(dst[copied:copied+unit], ping[:unit])
		copied += unit
		if err := ch.Reload(unit); err != nil {
			return devErr("dma reload", err)
		}
	}
	return nil
}

// waitPending busy-polls channel status until the pending length covers want,
// yielding between polls. Exhausting the poll budget reports the device as
// stalled rather than hanging the caller; cancellation wins over the budget.
func (p *Pipeline) waitPending(ctx context.Context, ch hw.Channel, want int) error {
	deadline := time.Now().Add(p.opts.PollTimeout)
	for {
		st, err := ch.Status()
		if err != nil {
			return devErr("dma status", err)
		}
		if st.PendingLength >= want {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dma wait: %w", err)
		}
		if time.Now().After(deadline) {
			return &types.Error{
				Kind: types.ErrKindDevice,
				Msg:  fmt.Sprintf("dma stalled: %d of %d bytes pending", st.PendingLength, want),
			}
		}
		time.Sleep(p.opts.PollInterval)
	}
}

func devErr(msg string, err error) error {
	return &types.Error{Kind: types.ErrKindDevice, Msg: msg, Err: err}
}

func oomErr(msg string, err error) error {
	return &types.Error{Kind: types.ErrKindOutOfMemory, Msg: msg, Err: err}
}
