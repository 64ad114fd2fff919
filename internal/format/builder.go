package format

import (
	"fmt"

	"github.com/google/uuid"
)

// ModuleSpec describes one module for the Builder. Code and ROData payloads
// are optional and must fit the declared page counts; scratch (bss) has no
// file backing.
type ModuleSpec struct {
	UUID             uuid.UUID
	EntryPoint       uint32
	InstanceMaxCount uint16
	LibCode          bool

	CodeBase   uint32
	CodePages  uint32
	Code       []byte
	RODataBase uint32
	ROPages    uint32
	ROData     []byte
	BSSBase    uint32
	BSSPages   uint32
}

// Builder assembles a valid library image: header, module table, and segment
// payloads packed page-aligned after the manifest region. It exists for tests
// and host-side tooling; production images come from the library build.
type Builder struct {
	mods []ModuleSpec
}

// NewBuilder returns an empty image builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddModule appends a module. Returns the builder for chaining.
func (b *Builder) AddModule(spec ModuleSpec) *Builder {
	b.mods = append(b.mods, spec)
	return b
}

// Build lays out and emits the image. File offsets for code and rodata are
// assigned sequentially starting at the end of the manifest region, each
// segment page-aligned.
func (b *Builder) Build() ([]byte, error) {
	if len(b.mods) > MaxModules {
		return nil, fmt.Errorf("builder: %d modules: %w", len(b.mods), ErrLayout)
	}

	type placement struct {
		codeOff, roOff int
	}
	places := make([]placement, len(b.mods))
	cursor := ManifestMaxSize
	for i, m := range b.mods {
		if m.InstanceMaxCount == 0 {
			return nil, fmt.Errorf("builder: module %d: zero instance limit: %w", i, ErrLayout)
		}
		if m.BSSPages%uint32(m.InstanceMaxCount) != 0 {
			return nil, fmt.Errorf("builder: module %d: scratch pages %d not divisible by %d instances: %w",
				i, m.BSSPages, m.InstanceMaxCount, ErrLayout)
		}
		if len(m.Code) > int(m.CodePages)*PageSize || len(m.ROData) > int(m.ROPages)*PageSize {
			return nil, fmt.Errorf("builder: module %d: payload exceeds declared pages: %w", i, ErrLayout)
		}
		places[i].codeOff = cursor
		cursor += int(m.CodePages) * PageSize
		places[i].roOff = cursor
		cursor += int(m.ROPages) * PageSize
	}

	preloadPages := (cursor + PageSize - 1) / PageSize
	img := make([]byte, preloadPages*PageSize)

	copy(img, Signature)
	PutU16(img, HdrVersionOffset, FormatVersion)
	PutU16(img, HdrModuleCountOffset, uint16(len(b.mods)))
	PutU32(img, HdrPreloadPagesOffset, uint32(preloadPages))

	for i, m := range b.mods {
		off := ModuleTableOffset + i*ModuleEntrySize
		e := img[off : off+ModuleEntrySize]
		copy(e[ModUUIDOffset:], m.UUID[:])
		PutU32(e, ModEntryPointOffset, m.EntryPoint)
		PutU16(e, ModInstanceMaxOffset, m.InstanceMaxCount)
		if m.LibCode {
			PutU16(e, ModFlagsOffset, FlagLibCode)
		}
		segs := [SegmentCount]Segment{
			{VirtualBase: m.CodeBase, FileOffset: uint32(places[i].codeOff), LengthPages: m.CodePages},
			{VirtualBase: m.RODataBase, FileOffset: uint32(places[i].roOff), LengthPages: m.ROPages},
			{VirtualBase: m.BSSBase, FileOffset: 0, LengthPages: m.BSSPages},
		}
		for s, seg := range segs {
			d := ModSegmentsOffset + s*SegmentDescSize
			PutU32(e, d+SegVBaseOffset, seg.VirtualBase)
			PutU32(e, d+SegFileOffsetOffset, seg.FileOffset)
			PutU32(e, d+SegLengthPagesOffset, seg.LengthPages)
		}
		copy(img[places[i].codeOff:], m.Code)
		copy(img[places[i].roOff:], m.ROData)
	}

	return img, nil
}
