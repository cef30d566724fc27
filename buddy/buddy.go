// Package buddy implements the buddy frame allocator: splitting and
// coalescing power-of-two blocks of base pages, fronted by a per-hart
// cache at order 0, per spec.md §4.6. Grounded on
// hybrid/buddy.go's region/split/coalesce shape (BuddyRegion.blocks,
// XOR-buddy merge in mergeBlockLocked) and hsAllocator/buddy.go's
// simpler order-scan, reconciled here into the single state machine
// spec.md specifies: one global free-lists lock, per-hart caches, and
// explicit prepareBlock/freeToGlobal steps.
package buddy

import (
	"fmt"
	"math/bits"

	"github.com/shenjiangwei/kpalloc/frame"
	"github.com/shenjiangwei/kpalloc/freelist"
	"github.com/shenjiangwei/kpalloc/hartcache"
	"github.com/shenjiangwei/kpalloc/ksync"
	"github.com/shenjiangwei/kpalloc/memmap"
	"github.com/shenjiangwei/kpalloc/paddr"
)

// initialOrder0Target is the starting per-hart cache target for order-0
// blocks, per spec.md §4.6.
const initialOrder0Target = 16

// DanglingPtr is the non-null sentinel Alloc returns for a zero-size
// request: no allocation occurred, and the matching Dealloc is a no-op.
// Every real allocation is BaseSize-aligned, so this all-ones value can
// never collide with a real frame address.
const DanglingPtr = paddr.PhysicalAddress(^uint64(0))

// Layout describes a requested allocation: its size in bytes and its
// required alignment.
type Layout struct {
	Size  uint64
	Align uint64
}

// Allocator is the buddy frame allocator: one global, spinlock-protected
// free-lists index, and one per-hart cache of order-0 frames.
type Allocator struct {
	mm         *memmap.PhysicalMemoryMap
	freeLists  *ksync.Spinlock[freelist.Index]
	hartCaches []*hartcache.Cache[*frame.Frame, hartcache.QuarteringPolicy]
	orders     uint8
}

// Init builds the free lists by greedily partitioning mm's free memory
// pool into the largest power-of-two blocks that are also aligned to
// their own size (so that XOR on an address finds a block's buddy), per
// spec.md §4.6, and allocates hartCount empty per-hart order-0 caches.
func Init(mm *memmap.PhysicalMemoryMap, hartCount int) *Allocator {
	idx := freelist.New(mm.Orders)

	remainingPages := mm.FreeMemory.Size / paddr.BaseSize
	addr := mm.FreeMemory.Start
	var accounted uint64
	for remainingPages > 0 {
		k := largestPow2Order(remainingPages, mm.Orders)
		if page := uint64(addr) / paddr.BaseSize; page != 0 {
			if tz := uint8(bits.TrailingZeros64(page)); tz < k {
				k = tz
			}
		}
		head := mm.AddressToFrame(addr)
		head.Order = k
		head.SetState(frame.Free)
		idx.PushFrame(head)

		pages := uint64(1) << k
		addr = addr.Add(pages * paddr.BaseSize)
		remainingPages -= pages
		accounted += pages
	}
	if accounted != mm.FreeMemory.Size/paddr.BaseSize {
		panic("buddy: greedy init did not account for all free pages")
	}

	caches := make([]*hartcache.Cache[*frame.Frame, hartcache.QuarteringPolicy], hartCount)
	for i := range caches {
		caches[i] = hartcache.New[*frame.Frame, hartcache.QuarteringPolicy](initialOrder0Target)
	}

	return &Allocator{
		mm:         mm,
		freeLists:  ksync.NewSpinlock(*idx),
		hartCaches: caches,
		orders:     mm.Orders,
	}
}

// largestPow2Order returns the largest k with 2^k <= remainingPages,
// bounded above by maxOrders-1.
func largestPow2Order(remainingPages uint64, maxOrders uint8) uint8 {
	k := bits.Len64(remainingPages) - 1
	if k < 0 {
		k = 0
	}
	if k >= int(maxOrders) {
		k = int(maxOrders) - 1
	}
	return uint8(k)
}

// orderForSize returns ceil(log2(ceil(size/BaseSize))) for size >= 1.
func orderForSize(size uint64) uint8 {
	pages := (size + paddr.BaseSize - 1) / paddr.BaseSize
	return uint8(bits.Len64(pages - 1))
}

func (a *Allocator) hartCache(hartID int) *hartcache.Cache[*frame.Frame, hartcache.QuarteringPolicy] {
	if hartID < 0 || hartID >= len(a.hartCaches) {
		panic(fmt.Sprintf("buddy: hart id %d out of range [0,%d)", hartID, len(a.hartCaches)))
	}
	return a.hartCaches[hartID]
}

// Alloc services (size, align). Alignment greater than BaseSize is
// unsupported and returns (0, false), per spec.md §7 kind 3. A zero-size
// request is a distinct, non-allocating shape: it returns the non-null
// DanglingPtr sentinel. A size that is structurally unsatisfiable -- its
// order exceeds every order this pool was built with, or it is not
// strictly less than the free pool's total size, per spec.md §8's
// boundary rule -- is also kind 3: it returns (0, false) without
// attempting the allocation, regardless of current fragmentation.
// Exhaustion discovered while actually attempting to satisfy a fitting
// request is kind 2 and panics (spec.md §9's Open Question resolves this
// consistently across every layer of the core).
func (a *Allocator) Alloc(hartID int, layout Layout) (paddr.PhysicalAddress, bool) {
	if layout.Align > paddr.BaseSize {
		return 0, false
	}
	if layout.Size == 0 {
		return DanglingPtr, true
	}
	if layout.Size >= a.mm.FreeMemory.Size {
		return 0, false
	}

	order := orderForSize(layout.Size)
	if order >= a.orders {
		return 0, false
	}
	var f *frame.Frame
	if order == 0 {
		f = a.obtainOrder0(hartID)
	} else {
		var ok bool
		f, ok = a.prepareBlock(order)
		if !ok {
			panic(fmt.Sprintf("buddy: out of memory for order %d (%d bytes)", order, layout.Size))
		}
	}

	f.SetState(frame.Allocated)
	return a.mm.FrameToAddress(f), true
}

// obtainOrder0 returns a Free, order-0 frame either from the calling
// hart's cache or, on a miss, by refilling the cache from the global
// free lists and popping from it.
func (a *Allocator) obtainOrder0(hartID int) *frame.Frame {
	cache := a.hartCache(hartID)
	if f, ok := cache.Pop(); ok {
		return f
	}

	refill := cache.RefillAmount()
	for i := 0; i < refill; i++ {
		f, ok := a.prepareBlock(0)
		if !ok {
			break
		}
		cache.Push(f)
	}

	f, ok := cache.Pop()
	if !ok {
		panic("buddy: out of memory at order 0")
	}
	return f
}

// prepareBlock finds the smallest free block of order >= reqOrder,
// splitting it down to exactly reqOrder and pushing the unused upper
// halves back onto their own free lists, per spec.md §4.6.
func (a *Allocator) prepareBlock(reqOrder uint8) (*frame.Frame, bool) {
	g := a.freeLists.Lock()
	defer g.Unlock()
	idx := g.Value()

	found, ok := idx.FindFirstFreeFrom(reqOrder)
	if !ok {
		return nil, false
	}
	head := idx.PopFrame(found)
	headAddr := a.mm.FrameToAddress(head)

	for k := int(found) - 1; k >= int(reqOrder); k-- {
		upperAddr := headAddr.Add((uint64(1) << uint(k)) * paddr.BaseSize)
		upper := a.mm.AddressToFrame(upperAddr)
		upper.Order = uint8(k)
		upper.SetState(frame.Free)
		idx.PushFrame(upper)
		head.Order = uint8(k)
	}

	return head, true
}

// Dealloc releases a previously allocated block. addr must be the exact
// pointer Alloc returned for layout.
func (a *Allocator) Dealloc(hartID int, addr paddr.PhysicalAddress, layout Layout) {
	if layout.Size == 0 {
		return
	}
	if addr == DanglingPtr {
		return
	}
	if !a.mm.Ram.Contains(addr) {
		panic(fmt.Sprintf("buddy: dealloc address %s outside ram %s", addr, a.mm.Ram))
	}

	f := a.mm.AddressToFrame(addr)
	if f.State() == frame.Free {
		panic(fmt.Sprintf("buddy: double free of frame %d at %s", f.Index, addr))
	}
	f.SetState(frame.Free)

	order := orderForSize(layout.Size)
	if order == 0 {
		cache := a.hartCache(hartID)
		if !cache.IsFull() {
			cache.Push(f)
			return
		}
		for drained := range cache.Drain() {
			a.freeToGlobalLocking(drained)
		}
		cache.Push(f)
		return
	}

	a.freeToGlobalLocking(f)
}

// freeToGlobalLocking acquires the free-lists lock and coalesces f,
// assuming f.State() is already Free (the caller transitions state
// before handing the frame to this function).
func (a *Allocator) freeToGlobalLocking(f *frame.Frame) {
	g := a.freeLists.Lock()
	defer g.Unlock()
	a.freeToGlobal(g.Value(), f)
}

// freeToGlobal repeatedly merges f with its buddy while the buddy is
// Free and of the same order, per spec.md §4.6's XOR-buddy coalescing.
// Must be called with the free-lists lock held.
func (a *Allocator) freeToGlobal(idx *freelist.Index, f *frame.Frame) {
	addr := a.mm.FrameToAddress(f)
	order := f.Order

	for order < a.orders-1 {
		buddyAddr := paddr.PhysicalAddress(uint64(addr) ^ ((uint64(1) << order) * paddr.BaseSize))
		if !a.mm.Ram.Contains(buddyAddr) {
			break
		}
		buddyFrame := a.mm.AddressToFrame(buddyAddr)
		if buddyFrame.State() != frame.Free || buddyFrame.Order != order {
			break
		}
		idx.RemoveFrame(buddyFrame)
		if buddyAddr.Less(addr) {
			addr = buddyAddr
		}
		order++
	}

	head := a.mm.AddressToFrame(addr)
	head.Order = order
	head.SetState(frame.Free)
	idx.PushFrame(head)
}

// AllocSlabPage returns a single Free order-0 frame for the slab
// allocator to convert into a new slab, via the same per-hart cache the
// regular order-0 path uses. The frame is left in Free state; the slab
// allocator is responsible for calling frame.ConvertToSlab.
func (a *Allocator) AllocSlabPage(hartID int) *frame.Frame {
	return a.obtainOrder0(hartID)
}

// FreeSlabPage returns a page the slab allocator has fully released back
// to the buddy pool. The frame must already be in Free state (the slab
// allocator transitions Slab -> Free via frame.ReleaseToFree before
// calling this).
func (a *Allocator) FreeSlabPage(f *frame.Frame) {
	if f.State() != frame.Free {
		panic(fmt.Sprintf("buddy: FreeSlabPage on frame %d in state %s", f.Index, f.State()))
	}
	a.freeToGlobalLocking(f)
}

// Bitmap returns the free-lists bitmap for boot diagnostics.
func (a *Allocator) Bitmap() uint64 {
	g := a.freeLists.Lock()
	defer g.Unlock()
	return g.Value().Bitmap()
}

// Orders returns the number of buddy orders in use.
func (a *Allocator) Orders() uint8 { return a.orders }
