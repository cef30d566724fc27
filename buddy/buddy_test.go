package buddy

import (
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenjiangwei/kpalloc/frame"
	"github.com/shenjiangwei/kpalloc/memmap"
	"github.com/shenjiangwei/kpalloc/paddr"
)

// newTestMap builds a PhysicalMemoryMap over a ramSize-byte region with
// a zero-size kernel image, so nearly all of ram ends up in FreeMemory.
func newTestMap(t *testing.T, ramSize uint64) *memmap.PhysicalMemoryMap {
	t.Helper()
	ramStart := paddr.PhysicalAddress(0)
	return memmap.Calculate(ramStart, ramSize, ramStart, ramStart)
}

func TestGreedyInitAccountsForAllPages(t *testing.T) {
	mm := newTestMap(t, 4*1024*1024)
	a := Init(mm, 4)

	freePages := mm.FreeMemory.Size / paddr.BaseSize
	expectedOrder := bits.Len64(freePages) - 1

	bitmap := a.Bitmap()
	assert.NotZero(t, bitmap, "at least one order must be populated")
	topOrder := bits.Len64(bitmap) - 1
	assert.Equal(t, expectedOrder, topOrder, "largest populated order must match the largest power of two in the free pool")
}

func TestSinglePageAllocSplitsAndCoalesces(t *testing.T) {
	mm := newTestMap(t, 4*1024*1024)
	a := Init(mm, 1)
	before := a.Bitmap()

	addr, ok := a.Alloc(0, Layout{Size: paddr.BaseSize, Align: 8})
	require.True(t, ok)
	assert.True(t, mm.FreeMemory.Contains(addr))

	f := mm.AddressToFrame(addr)
	assert.Equal(t, frame.Allocated, f.State())

	a.Dealloc(0, addr, Layout{Size: paddr.BaseSize, Align: 8})

	// The per-hart cache may be holding the freed page rather than the
	// global free list; draining it back to global should restore the
	// exact pre-alloc bitmap.
	cache := a.hartCache(0)
	for {
		fr, ok := cache.Pop()
		if !ok {
			break
		}
		a.freeToGlobalLocking(fr)
	}

	assert.Equal(t, before, a.Bitmap())
}

func TestAllocZeroSizeReturnsSentinel(t *testing.T) {
	mm := newTestMap(t, 1024*1024)
	a := Init(mm, 1)

	addr, ok := a.Alloc(0, Layout{Size: 0})
	require.True(t, ok)
	assert.Equal(t, DanglingPtr, addr)

	// Dealloc of the sentinel must be a no-op, not a double-free panic.
	assert.NotPanics(t, func() { a.Dealloc(0, addr, Layout{Size: 0}) })
}

func TestAllocOversizedAlignmentRejected(t *testing.T) {
	mm := newTestMap(t, 1024*1024)
	a := Init(mm, 1)

	_, ok := a.Alloc(0, Layout{Size: paddr.BaseSize, Align: 2 * paddr.BaseSize})
	assert.False(t, ok)
}

func TestAllocExceedingEveryOrderReturnsFalseWithoutPanicking(t *testing.T) {
	mm := newTestMap(t, 1024*1024)
	a := Init(mm, 1)

	hugeOrder := uint64(1) << uint(a.orders)
	addr, ok := a.Alloc(0, Layout{Size: hugeOrder * paddr.BaseSize, Align: 8})
	assert.False(t, ok)
	assert.Zero(t, addr)
}

func TestAllocExactlyFreeMemorySizeFails(t *testing.T) {
	// 67 pages of ram, zero-size kernel: memmap consumes 3 pages for the
	// frame pool and allocator metadata, leaving exactly 64 pages (a
	// clean power of two) of FreeMemory -- spec.md §8 scenario 1. A
	// request of exactly that many bytes must fail the strict `<` check
	// even though its order (6) is below the pool's order count (7).
	mm := newTestMap(t, 67*paddr.BaseSize)
	require.Equal(t, uint64(64*paddr.BaseSize), mm.FreeMemory.Size)

	a := Init(mm, 1)

	addr, ok := a.Alloc(0, Layout{Size: mm.FreeMemory.Size, Align: 8})
	assert.False(t, ok)
	assert.Zero(t, addr)
}

func TestDoubleFreePanics(t *testing.T) {
	mm := newTestMap(t, 1024*1024)
	a := Init(mm, 1)

	addr, ok := a.Alloc(0, Layout{Size: paddr.BaseSize, Align: 8})
	require.True(t, ok)
	a.Dealloc(0, addr, Layout{Size: paddr.BaseSize, Align: 8})

	assert.Panics(t, func() {
		a.Dealloc(0, addr, Layout{Size: paddr.BaseSize, Align: 8})
	})
}

func TestOutOfMemoryPanics(t *testing.T) {
	mm := newTestMap(t, 256 * 1024)
	a := Init(mm, 1)

	total := mm.FreeMemory.Size
	allocated := uint64(0)
	assert.Panics(t, func() {
		for allocated < total+paddr.BaseSize {
			_, ok := a.Alloc(0, Layout{Size: paddr.BaseSize, Align: 8})
			if !ok {
				t.Fatalf("unexpected alloc failure instead of panic")
			}
			allocated += paddr.BaseSize
		}
	})
}

func TestHartCachesAreIndependent(t *testing.T) {
	mm := newTestMap(t, 4*1024*1024)
	a := Init(mm, 2)

	addr0, ok := a.Alloc(0, Layout{Size: paddr.BaseSize, Align: 8})
	require.True(t, ok)
	addr1, ok := a.Alloc(1, Layout{Size: paddr.BaseSize, Align: 8})
	require.True(t, ok)

	assert.NotEqual(t, addr0, addr1)
}
