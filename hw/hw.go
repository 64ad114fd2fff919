// Package hw declares the narrow interfaces dspload consumes from its
// hardware collaborators: the page-mapping driver, the DMA driver, the clock
// budget controller, the bulk allocator, and cache maintenance. The loader
// owns none of their internals; real drivers implement these elsewhere and
// package hosthw provides an in-process reference implementation.
package hw

// Perm is a page permission bit set.
type Perm uint32

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

const (
	// PermRW is the mapping for data segments.
	PermRW = PermRead | PermWrite
	// PermRWX is the mapping for code segments while the loader copies them
	// in; a later protection-tightening step outside this core drops write.
	PermRWX = PermRW | PermExec
)

// PageMapper maps fixed virtual address ranges to physical memory. Map
// returns a writable view of the freshly mapped range so the loader can fill
// it; the view stays valid until the matching Unmap.
type PageMapper interface {
	Map(virtualBase uint32, size int, perm Perm) ([]byte, error)
	Unmap(virtualBase uint32, size int) error
}

// Direction selects a DMA transfer direction.
type Direction int

const (
	// DirHostToDevice streams from host memory into DSP-local memory.
	DirHostToDevice Direction = iota
	// DirDeviceToHost streams from DSP-local memory to the host.
	DirDeviceToHost
)

// ChannelID selects one hardware DMA channel.
type ChannelID uint32

// TransferConfig describes one chunked, flow-controlled transfer.
type TransferConfig struct {
	// BlockSize is the per-chunk transfer unit in bytes.
	BlockSize int
	// FlowControlled pauses the device between chunks until Reload.
	FlowControlled bool
	// Destination is the DMA-visible buffer the device writes each chunk to.
	Destination []byte
}

// Status reports a channel's progress.
type Status struct {
	// PendingLength is the number of bytes the device has landed in the
	// destination buffer since the last Reload.
	PendingLength int
}

// Channel is an acquired, exclusive DMA channel.
type Channel interface {
	// BufferAlignment returns the required destination buffer alignment.
	BufferAlignment() int
	Configure(cfg TransferConfig) error
	Start() error
	Stop() error
	Status() (Status, error)
	// Reload re-arms the channel for the next chunk of up to size bytes.
	Reload(size int) error
	// Release returns the channel to the controller. Always safe to call
	// after a successful acquire, including after Stop failures.
	Release()
}

// DMA acquires exclusive channels by id and direction.
type DMA interface {
	AcquireChannel(id ChannelID, dir Direction) (Channel, error)
}

// Clock adjusts a core's frequency budget. Increases at transfer start must
// be mirrored by equal decreases on every exit path.
type Clock interface {
	AdjustBudget(core int, deltaKHz int) error
}

// Cap tags an allocation with placement capabilities.
type Cap uint32

const (
	// CapDMA requests DMA-visible memory.
	CapDMA Cap = 1 << iota
	// CapLongTerm requests tiered long-term placement for permanently
	// resident data.
	CapLongTerm
)

// Allocator is the bulk allocator for staging buffers and permanent image
// storage.
type Allocator interface {
	AllocAligned(size, align int, caps Cap) ([]byte, error)
	Free(b []byte)
}

// Cache provides cache maintenance over address ranges.
type Cache interface {
	// Writeback makes CPU writes to b visible to DMA and other cores.
	Writeback(b []byte)
	// Invalidate discards stale cached views of b.
	Invalidate(b []byte)
}
