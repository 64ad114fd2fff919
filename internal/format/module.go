package format

import (
	"fmt"

	"github.com/google/uuid"
)

// Segment is the declarative description of one region of a module's memory
// footprint. It owns no memory; it acquires real pages only when the loader
// maps it.
type Segment struct {
	// VirtualBase is the fixed virtual address the segment is built for.
	VirtualBase uint32
	// FileOffset is the segment payload's offset relative to the image start.
	// Zero for segments with no file backing (scratch).
	FileOffset uint32
	// LengthPages is the segment length in pages.
	LengthPages uint32
}

// ByteSize returns the segment length in bytes. Safe after parse-time
// validation capped LengthPages at MaxSegmentPages.
func (s Segment) ByteSize() int {
	return int(s.LengthPages) * PageSize
}

// Module is one parsed module table entry.
type Module struct {
	UUID             uuid.UUID
	EntryPoint       uint32
	InstanceMaxCount uint16
	Flags            uint16
	Segments         [SegmentCount]Segment
}

// IsLibCode reports whether the module is shared library code, loaded and
// unloaded only as a side effect of sibling modules.
func (m Module) IsLibCode() bool {
	return m.Flags&FlagLibCode != 0
}

// PerInstanceBytes returns the scratch slice size owned by one instance:
// the scratch segment's page length divided by the instance limit, in bytes.
func (m Module) PerInstanceBytes() int {
	return int(m.Segments[SegmentBSS].LengthPages/uint32(m.InstanceMaxCount)) * PageSize
}

// ModuleAt parses the module table entry at index from an image buffer. The
// manifest must have been parsed from the same buffer; index is validated
// against its declared module count.
func ModuleAt(b []byte, man Manifest, index int) (Module, error) {
	if index < 0 || index >= man.ModuleCount {
		return Module{}, fmt.Errorf("module %d of %d: %w", index, man.ModuleCount, ErrRange)
	}
	off := ModuleTableOffset + index*ModuleEntrySize
	if len(b) < off+ModuleEntrySize {
		return Module{}, fmt.Errorf("module %d: %w", index, ErrTruncated)
	}
	e := b[off : off+ModuleEntrySize]

	var m Module
	copy(m.UUID[:], e[ModUUIDOffset:ModUUIDOffset+16])
	m.EntryPoint = ReadU32(e, ModEntryPointOffset)
	m.InstanceMaxCount = ReadU16(e, ModInstanceMaxOffset)
	m.Flags = ReadU16(e, ModFlagsOffset)
	for i := 0; i < SegmentCount; i++ {
		d := ModSegmentsOffset + i*SegmentDescSize
		m.Segments[i] = Segment{
			VirtualBase: ReadU32(e, d+SegVBaseOffset),
			FileOffset:  ReadU32(e, d+SegFileOffsetOffset),
			LengthPages: ReadU32(e, d+SegLengthPagesOffset),
		}
		if m.Segments[i].LengthPages > MaxSegmentPages {
			return Module{}, fmt.Errorf("module %d segment %d: %d pages: %w",
				index, i, m.Segments[i].LengthPages, ErrLayout)
		}
	}
	if m.InstanceMaxCount == 0 {
		return Module{}, fmt.Errorf("module %d: zero instance limit: %w", index, ErrLayout)
	}
	// The build tool guarantees the scratch page count divides evenly across
	// instances; a loader must not trust that silently.
	if m.Segments[SegmentBSS].LengthPages%uint32(m.InstanceMaxCount) != 0 {
		return Module{}, fmt.Errorf("module %d: scratch segment not divisible by instance limit: %w",
			index, ErrLayout)
	}
	return m, nil
}
