//go:build unix

package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenjiangwei/kpalloc/buddy"
	"github.com/shenjiangwei/kpalloc/memmap"
	"github.com/shenjiangwei/kpalloc/paddr"
	"github.com/shenjiangwei/kpalloc/ram"
)

// newTestAllocator wires a small arena through memmap and the buddy
// allocator, the way memory.Init does, and returns a slab.Allocator
// backed by it.
func newTestAllocator(t *testing.T, ramSize uint64, hartCount int) (*Allocator, *ram.Arena) {
	t.Helper()
	arena, err := ram.New(ramSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = arena.Close() })

	mm := memmap.Calculate(arena.Base(), arena.Size(), arena.Base(), arena.Base())
	buddyAlloc := buddy.Init(mm, hartCount)
	return NewAllocator(mm, buddyAlloc, arena, hartCount), arena
}

func TestAllocReturnsAlignedDistinctSlots(t *testing.T) {
	a, _ := newTestAllocator(t, 4*1024*1024, 1)

	addr1, ok := a.Alloc(0, 32, 8)
	require.True(t, ok)
	addr2, ok := a.Alloc(0, 32, 8)
	require.True(t, ok)

	assert.NotEqual(t, addr1, addr2)
	assert.True(t, addr1.Aligned(32))
	assert.True(t, addr2.Aligned(32))
}

func TestAllocSelectsSmallestFittingClass(t *testing.T) {
	a, _ := newTestAllocator(t, 4*1024*1024, 1)

	c, ok := a.Handles(20, 8)
	require.True(t, ok)
	assert.Equal(t, uint64(32), c.ObjectSize())
}

func TestOversizeRequestFallsThroughToBuddy(t *testing.T) {
	a, _ := newTestAllocator(t, 4*1024*1024, 1)

	_, ok := a.Handles(4096, 8)
	assert.False(t, ok)
}

func TestOveralignedRequestFallsThroughToBuddy(t *testing.T) {
	a, _ := newTestAllocator(t, 4*1024*1024, 1)

	_, ok := a.Handles(16, 2*paddr.BaseSize)
	assert.False(t, ok)
}

func TestAllocDeallocRoundTripReusesSlot(t *testing.T) {
	a, _ := newTestAllocator(t, 4*1024*1024, 1)

	addr, ok := a.Alloc(0, 64, 8)
	require.True(t, ok)
	a.Dealloc(0, addr, 64, 8)

	addr2, ok := a.Alloc(0, 64, 8)
	require.True(t, ok)
	assert.Equal(t, addr, addr2, "the hart cache should hand the just-freed slot straight back out")
}

func TestFillingASlabAdvancesToANewOne(t *testing.T) {
	a, _ := newTestAllocator(t, 4*1024*1024, 1)
	c, ok := a.Handles(8, 8)
	require.True(t, ok)

	seen := make(map[paddr.PhysicalAddress]bool)
	// Exhaust well past one slab's worth of 8-byte slots to force at
	// least one createNewSlab beyond the first.
	for i := uint64(0); i < 2*c.SlotsPerSlab()+1; i++ {
		addr := c.Alloc(0)
		assert.False(t, seen[addr], "slot %s handed out twice while still live", addr)
		seen[addr] = true
	}
}

func TestEmptySlabIsReturnedToBuddyPastCap(t *testing.T) {
	a, _ := newTestAllocator(t, 4*1024*1024, 4)
	c, ok := a.Handles(2048, 8)
	require.True(t, ok)

	// Cycle through more distinct slabs than EmptySlabsCap by allocating
	// and immediately freeing a whole slab's worth of slots, hart by
	// hart so each hart's cache doesn't just hand the slot back to
	// itself.
	for hart := 0; hart < EmptySlabsCap+1; hart++ {
		var addrs []paddr.PhysicalAddress
		for i := uint64(0); i < c.SlotsPerSlab(); i++ {
			addrs = append(addrs, c.Alloc(hart))
		}
		for _, addr := range addrs {
			c.Dealloc(hart, addr)
		}
		// Drain the hart cache back to the owning slab so InUseCount
		// actually reaches zero and the slab moves to emptySlabs.
		cache := c.hartCache(hart)
		for {
			slot, ok := cache.Pop()
			if !ok {
				break
			}
			c.releaseSlotToOwningSlab(slot)
		}
	}

	g := c.emptySlabs.Lock()
	length := g.Value().Len()
	g.Unlock()
	assert.LessOrEqual(t, length, EmptySlabsCap)
}

func TestDeallocOfUnknownSizeClassPanics(t *testing.T) {
	a, _ := newTestAllocator(t, 1024*1024, 1)
	addr, ok := a.Alloc(0, 16, 8)
	require.True(t, ok)

	assert.Panics(t, func() {
		a.Dealloc(0, addr, 4096, 8)
	})
}
