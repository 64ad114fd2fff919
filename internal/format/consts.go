// Package format houses the layout model for DSP library images: the manifest
// header, the module table, and per-module segment descriptors. The format is
// a fixed, versioned, trusted structure produced by the library build; parsing
// here validates geometry, not intent. Higher-level packages orchestrate the
// data in a more ergonomic form.
package format

var (
	// Signature is the four-byte magic at the start of every library image
	// manifest.
	// Layout:
	//   0x00  'A' 'D' 'L' 'M'
	Signature = []byte{'A', 'D', 'L', 'M'}
)

const (
	// PageSize is the virtual-memory mapping granularity. All segment sizes
	// and the preload size are expressed in units of this.
	PageSize = 4096

	// ManifestMaxSize is the size of the manifest region at the start of an
	// image, and also the fixed DMA transfer unit of the ingestion pipeline.
	ManifestMaxSize = 4096

	// MaxLibraries bounds the library id space. Id 0 is reserved for the base
	// firmware, so loadable ids are 1..MaxLibraries-1.
	MaxLibraries = 16

	// FormatVersion is the only manifest version this loader accepts.
	FormatVersion = 1

	// HeaderSize is the size of the manifest header in bytes. The module
	// table begins immediately after it.
	//
	//	Offset  Size  Description
	//	------  ----  -----------------------------------------
	//	 0x00    4    'A' 'D' 'L' 'M'
	//	 0x04    2    Format version
	//	 0x06    2    Module entry count
	//	 0x08    4    Preload size in pages (whole image)
	//	 0x0C   52    Reserved
	HeaderSize = 64

	// HdrVersionOffset is the offset of the u16 format version.
	HdrVersionOffset = 0x04
	// HdrModuleCountOffset is the offset of the u16 module entry count.
	HdrModuleCountOffset = 0x06
	// HdrPreloadPagesOffset is the offset of the u32 preload page count.
	HdrPreloadPagesOffset = 0x08

	// ModuleTableOffset is where the module table starts within the image.
	ModuleTableOffset = HeaderSize

	// ModuleEntrySize is the size of one module table entry.
	//
	//	Offset  Size  Description
	//	------  ----  -----------------------------------------
	//	 0x00   16    Module driver UUID
	//	 0x10    4    Entry point address
	//	 0x14    2    Maximum instance count
	//	 0x16    2    Flags (bit 0 = library code)
	//	 0x18   36    Segment descriptors (code, rodata, bss)
	//	 0x3C   68    Reserved
	ModuleEntrySize = 128

	// ModUUIDOffset is the offset of the 16-byte driver UUID.
	ModUUIDOffset = 0x00
	// ModEntryPointOffset is the offset of the u32 entry point.
	ModEntryPointOffset = 0x10
	// ModInstanceMaxOffset is the offset of the u16 instance limit.
	ModInstanceMaxOffset = 0x14
	// ModFlagsOffset is the offset of the u16 flags word.
	ModFlagsOffset = 0x16
	// ModSegmentsOffset is the offset of the first segment descriptor.
	ModSegmentsOffset = 0x18

	// SegmentDescSize is the size of one segment descriptor.
	//
	//	Offset  Size  Description
	//	------  ----  -----------------------------------------
	//	 0x00    4    Virtual base address
	//	 0x04    4    File offset relative to image start
	//	 0x08    4    Length in pages
	SegmentDescSize = 12

	// SegVBaseOffset is the offset of the u32 virtual base within a descriptor.
	SegVBaseOffset = 0x00
	// SegFileOffsetOffset is the offset of the u32 file offset.
	SegFileOffsetOffset = 0x04
	// SegLengthPagesOffset is the offset of the u32 page length.
	SegLengthPagesOffset = 0x08

	// FlagLibCode marks a module as library code: routines shared by several
	// ordinary modules, never instantiated directly.
	FlagLibCode = 0x0001

	// MaxModules is the largest module table that fits inside the manifest
	// region: (ManifestMaxSize - HeaderSize) / ModuleEntrySize.
	MaxModules = (ManifestMaxSize - HeaderSize) / ModuleEntrySize

	// MaxSegmentPages caps a single segment's declared page length. Segment
	// byte sizes computed from lengths under this cap cannot overflow int.
	MaxSegmentPages = 1 << 18
)

// Segment slot indices within a module entry.
const (
	SegmentCode   = 0
	SegmentROData = 1
	SegmentBSS    = 2
	SegmentCount  = 3
)
