package hosthw

import (
	"fmt"
	"sync"

	"github.com/avisene/dspload/hw"
)

type mapping struct {
	base uint32
	data []byte
	perm hw.Perm
}

// Mapper is a sparse page mapper over host memory. Mappings are keyed by
// their virtual base; overlapping ranges are rejected the way a real
// page-table driver would fail them.
type Mapper struct {
	mu       sync.Mutex
	regions  map[uint32]*mapping
	mapCalls int
	unmaps   int
}

// NewMapper returns an empty mapper.
func NewMapper() *Mapper {
	return &Mapper{regions: make(map[uint32]*mapping)}
}

// Map establishes a mapping at virtualBase and returns its writable view.
func (m *Mapper) Map(virtualBase uint32, size int, perm hw.Perm) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("hosthw: map %#x: non-positive size %d", virtualBase, size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	end := uint64(virtualBase) + uint64(size)
	for _, r := range m.regions {
		rEnd := uint64(r.base) + uint64(len(r.data))
		if uint64(virtualBase) < rEnd && uint64(r.base) < end {
			return nil, fmt.Errorf("hosthw: map %#x+%#x: overlaps mapping at %#x", virtualBase, size, r.base)
		}
	}
	r := &mapping{base: virtualBase, data: make([]byte, size), perm: perm}
	m.regions[virtualBase] = r
	m.mapCalls++
	return r.data, nil
}

// Unmap removes the mapping previously established at virtualBase. The range
// must match the original mapping exactly.
func (m *Mapper) Unmap(virtualBase uint32, size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[virtualBase]
	if !ok {
		return fmt.Errorf("hosthw: unmap %#x: not mapped", virtualBase)
	}
	if len(r.data) != size {
		return fmt.Errorf("hosthw: unmap %#x: size %d does not match mapping size %d", virtualBase, size, len(r.data))
	}
	delete(m.regions, virtualBase)
	m.unmaps++
	return nil
}

// Slice returns the live view of a mapping for inspection, or false when the
// base is not mapped.
func (m *Mapper) Slice(virtualBase uint32) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[virtualBase]
	if !ok {
		return nil, false
	}
	return r.data, true
}

// Perm returns the permission bits a base was mapped with.
func (m *Mapper) Perm(virtualBase uint32) (hw.Perm, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[virtualBase]
	if !ok {
		return 0, false
	}
	return r.perm, true
}

// Mapped reports whether virtualBase currently has a mapping.
func (m *Mapper) Mapped(virtualBase uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.regions[virtualBase]
	return ok
}

// MappedCount returns the number of live mappings.
func (m *Mapper) MappedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regions)
}

// Counts returns the total Map and Unmap call counts.
func (m *Mapper) Counts() (maps, unmaps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapCalls, m.unmaps
}
