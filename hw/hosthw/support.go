package hosthw

import (
	"fmt"
	"sync"

	"github.com/avisene/dspload/hw"
)

// Clock tracks per-core frequency budgets. Symmetric adjust pairs leave every
// budget at zero, which rollback tests assert.
type Clock struct {
	mu      sync.Mutex
	budgets map[int]int
	adjusts int
}

// NewClock returns a clock with all budgets at zero.
func NewClock() *Clock {
	return &Clock{budgets: make(map[int]int)}
}

// AdjustBudget implements hw.Clock.
func (c *Clock) AdjustBudget(core, deltaKHz int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budgets[core] += deltaKHz
	c.adjusts++
	return nil
}

// Budget returns the current budget for a core.
func (c *Clock) Budget(core int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budgets[core]
}

// Allocator is a host-memory bulk allocator with live-allocation accounting.
// Alignment and capability tags are recorded but trivially satisfiable on a
// host.
type Allocator struct {
	mu       sync.Mutex
	live     map[*byte]int
	liveSize int
	allocs   int
	frees    int
	badFrees int
}

// NewAllocator returns an empty allocator.
func NewAllocator() *Allocator {
	return &Allocator{live: make(map[*byte]int)}
}

// AllocAligned implements hw.Allocator.
func (a *Allocator) AllocAligned(size, align int, caps hw.Cap) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("hosthw: alloc: non-positive size %d", size)
	}
	b := make([]byte, size)
	a.mu.Lock()
	a.live[&b[0]] = size
	a.liveSize += size
	a.allocs++
	a.mu.Unlock()
	return b, nil
}

// Free implements hw.Allocator. Freeing a slice this allocator did not hand
// out is counted rather than fatal, so invariant checks can surface it.
func (a *Allocator) Free(b []byte) {
	if len(b) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	key := &b[0]
	size, ok := a.live[key]
	if !ok {
		a.badFrees++
		return
	}
	delete(a.live, key)
	a.liveSize -= size
	a.frees++
}

// LiveCount returns the number of outstanding allocations.
func (a *Allocator) LiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// LiveBytes returns the total outstanding allocation size.
func (a *Allocator) LiveBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.liveSize
}

// BadFrees returns how many frees did not match a live allocation.
func (a *Allocator) BadFrees() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.badFrees
}

// Cache counts maintenance calls; host memory needs none.
type Cache struct {
	mu          sync.Mutex
	writebacks  int
	invalidates int
}

// NewCache returns a counting no-op cache.
func NewCache() *Cache {
	return &Cache{}
}

// Writeback implements hw.Cache.
func (c *Cache) Writeback(b []byte) {
	c.mu.Lock()
	c.writebacks++
	c.mu.Unlock()
}

// Invalidate implements hw.Cache.
func (c *Cache) Invalidate(b []byte) {
	c.mu.Lock()
	c.invalidates++
	c.mu.Unlock()
}

// Counts returns the writeback and invalidate call counts.
func (c *Cache) Counts() (writebacks, invalidates int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writebacks, c.invalidates
}
