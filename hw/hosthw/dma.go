package hosthw

import (
	"fmt"
	"io"
	"sync"

	"github.com/avisene/dspload/hw"
	"github.com/avisene/dspload/pkg/types"
)

// DefaultAlignment is the destination buffer alignment the simulated
// controller reports.
const DefaultAlignment = 64

// DMA is a host-memory DMA controller fed from an io.Reader: the "host side"
// of the transfer. Each armed chunk is read from the source into the
// configured destination buffer, and the pending length grows accordingly,
// mirroring a flow-controlled host-to-device channel.
type DMA struct {
	mu   sync.Mutex
	src  io.Reader
	busy map[hw.ChannelID]bool
}

// NewDMA returns a controller streaming from src.
func NewDMA(src io.Reader) *DMA {
	return &DMA{src: src, busy: make(map[hw.ChannelID]bool)}
}

// AcquireChannel hands out the channel exclusively. A second acquire of the
// same id before Release fails with types.ErrDeviceUnavailable.
func (d *DMA) AcquireChannel(id hw.ChannelID, dir hw.Direction) (hw.Channel, error) {
	if dir != hw.DirHostToDevice {
		return nil, fmt.Errorf("hosthw: channel %d: unsupported direction %d", id, dir)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy[id] {
		return nil, fmt.Errorf("hosthw: channel %d busy: %w", id, types.ErrDeviceUnavailable)
	}
	d.busy[id] = true
	return &Channel{ctrl: d, id: id}, nil
}

// Channel is one acquired simulated channel.
type Channel struct {
	mu      sync.Mutex
	ctrl    *DMA
	id      hw.ChannelID
	cfg     hw.TransferConfig
	started bool
	pending int
	reloads int
}

// BufferAlignment implements hw.Channel.
func (c *Channel) BufferAlignment() int { return DefaultAlignment }

// Configure implements hw.Channel.
func (c *Channel) Configure(cfg hw.TransferConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("hosthw: channel %d: configure while started", c.id)
	}
	if cfg.BlockSize <= 0 || cfg.BlockSize > len(cfg.Destination) {
		return fmt.Errorf("hosthw: channel %d: block size %d does not fit destination %d",
			c.id, cfg.BlockSize, len(cfg.Destination))
	}
	c.cfg = cfg
	return nil
}

// Start arms the channel and lands the first chunk.
func (c *Channel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Destination == nil {
		return fmt.Errorf("hosthw: channel %d: start before configure", c.id)
	}
	c.started = true
	c.fillLocked()
	return nil
}

// Stop disarms the channel.
func (c *Channel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	return nil
}

// Status implements hw.Channel.
func (c *Channel) Status() (hw.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return hw.Status{}, fmt.Errorf("hosthw: channel %d: status while stopped", c.id)
	}
	return hw.Status{PendingLength: c.pending}, nil
}

// Reload re-arms the channel for the next chunk.
func (c *Channel) Reload(size int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return fmt.Errorf("hosthw: channel %d: reload while stopped", c.id)
	}
	c.reloads++
	c.pending = 0
	c.fillLocked()
	return nil
}

// Release implements hw.Channel.
func (c *Channel) Release() {
	c.ctrl.mu.Lock()
	delete(c.ctrl.busy, c.id)
	c.ctrl.mu.Unlock()
}

// Reloads returns how many times the channel was re-armed.
func (c *Channel) Reloads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloads
}

// fillLocked moves the next chunk from the host source into the destination
// buffer. A short or exhausted source simply leaves pending short, which
// presents to the consumer as a stalled device.
func (c *Channel) fillLocked() {
	want := c.cfg.BlockSize
	got := 0
	for got < want {
		n, err := c.ctrl.src.Read(c.cfg.Destination[got:want])
		got += n
		if err != nil {
			break
		}
	}
	c.pending = got
}
