// Package slab implements the SLUB-style slab allocator: fixed-size
// slots carved from buddy-sourced pages, one size class per configured
// object size, each fronted by per-hart slot caches, per spec.md §4.7.
// Grounded on hybrid/slab.go's cache-keyed-by-size-with-slab-list shape
// and other_examples/77de1e7e_ortuman-nuke__slab_arena.go.go's per-slab
// lock granularity (one spinlock per slab frame, not one global slab
// lock, matching spec.md §5's fine-grained locking requirement).
package slab

import (
	"encoding/binary"
	"fmt"

	"github.com/shenjiangwei/kpalloc/buddy"
	"github.com/shenjiangwei/kpalloc/frame"
	"github.com/shenjiangwei/kpalloc/hartcache"
	"github.com/shenjiangwei/kpalloc/ksync"
	"github.com/shenjiangwei/kpalloc/list"
	"github.com/shenjiangwei/kpalloc/memmap"
	"github.com/shenjiangwei/kpalloc/paddr"
	"github.com/shenjiangwei/kpalloc/ram"
)

// SizeClasses is the configured set of slot sizes, smallest first.
var SizeClasses = []uint64{8, 16, 32, 64, 128, 256, 512, 1024, 2048}

// EmptySlabsCap bounds how many fully-free slabs a size class keeps as
// a warm reserve before returning pages to the buddy allocator.
const EmptySlabsCap = 4

// noNextSentinel marks the tail of a slot free chain in raw slot
// memory: every real slot address is well below this value, since ram
// arenas are vastly smaller than 2^64 bytes.
const noNextSentinel = ^uint64(0)

// Allocator is the top of the slab package: one SizeClassManager per
// configured size class, selected by linear scan from smallest, per
// spec.md §4.7's size-class-selection rule.
type Allocator struct {
	classes []*SizeClassManager
}

// NewAllocator builds a SizeClassManager for every configured size
// class, each with hartCount per-hart slot caches.
func NewAllocator(mm *memmap.PhysicalMemoryMap, buddyAlloc *buddy.Allocator, arena *ram.Arena, hartCount int) *Allocator {
	classes := make([]*SizeClassManager, len(SizeClasses))
	for i, size := range SizeClasses {
		classes[i] = newSizeClassManager(size, mm, buddyAlloc, arena, hartCount)
	}
	return &Allocator{classes: classes}
}

// classFor returns the first size class whose object size is >= size.
func (a *Allocator) classFor(size uint64) (*SizeClassManager, bool) {
	for _, c := range a.classes {
		if c.objectSize >= size {
			return c, true
		}
	}
	return nil, false
}

// Classes returns every configured size class, smallest first, for
// introspection callers (allocsvc's read-only dump endpoints).
func (a *Allocator) Classes() []*SizeClassManager { return a.classes }

// Handles routes size to a class and reports whether one exists (size
// exceeds the largest class otherwise and the caller should fall back
// to the buddy allocator directly, per spec.md §4.8's oversize bypass).
func (a *Allocator) Handles(size, align uint64) (*SizeClassManager, bool) {
	if align > paddr.BaseSize {
		return nil, false
	}
	c, ok := a.classFor(size)
	if !ok || align > c.objectSize {
		return nil, false
	}
	return c, true
}

// Alloc services (size, align) from the first size class that fits,
// reporting false if no configured class can serve the request (the
// caller should fall back to the buddy allocator).
func (a *Allocator) Alloc(hartID int, size, align uint64) (paddr.PhysicalAddress, bool) {
	c, ok := a.Handles(size, align)
	if !ok {
		return 0, false
	}
	return c.Alloc(hartID), true
}

// Dealloc releases a slot previously handed out for (size, align).
func (a *Allocator) Dealloc(hartID int, addr paddr.PhysicalAddress, size, align uint64) {
	c, ok := a.Handles(size, align)
	if !ok {
		panic(fmt.Sprintf("slab: dealloc size %d/align %d has no matching size class", size, align))
	}
	c.Dealloc(hartID, addr)
}

// SizeClassManager manages one slot size: its backing slabs and the
// per-hart caches fronting them.
type SizeClassManager struct {
	objectSize   uint64
	slotsPerSlab uint64

	mm    *memmap.PhysicalMemoryMap
	buddy *buddy.Allocator
	arena *ram.Arena

	partialSlabs *ksync.Spinlock[list.DoublyList[frame.Frame, *frame.Frame]]
	emptySlabs   *ksync.Spinlock[list.DoublyList[frame.Frame, *frame.Frame]]

	hartCaches []*hartcache.Cache[paddr.PhysicalAddress, hartcache.GreedyPolicy]
}

func clamp(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func newSizeClassManager(objectSize uint64, mm *memmap.PhysicalMemoryMap, buddyAlloc *buddy.Allocator, arena *ram.Arena, hartCount int) *SizeClassManager {
	slotsPerSlab := paddr.BaseSize / objectSize
	target := int(clamp(slotsPerSlab, 8, 128))

	caches := make([]*hartcache.Cache[paddr.PhysicalAddress, hartcache.GreedyPolicy], hartCount)
	for i := range caches {
		caches[i] = hartcache.New[paddr.PhysicalAddress, hartcache.GreedyPolicy](target)
	}

	return &SizeClassManager{
		objectSize:   objectSize,
		slotsPerSlab: slotsPerSlab,
		mm:           mm,
		buddy:        buddyAlloc,
		arena:        arena,
		partialSlabs: ksync.NewSpinlock(list.DoublyList[frame.Frame, *frame.Frame]{}),
		emptySlabs:   ksync.NewSpinlock(list.DoublyList[frame.Frame, *frame.Frame]{}),
		hartCaches:   caches,
	}
}

// ObjectSize returns the slot size this manager serves.
func (m *SizeClassManager) ObjectSize() uint64 { return m.objectSize }

// SlotsPerSlab returns how many slots fit in one backing page.
func (m *SizeClassManager) SlotsPerSlab() uint64 { return m.slotsPerSlab }

func (m *SizeClassManager) hartCache(hartID int) *hartcache.Cache[paddr.PhysicalAddress, hartcache.GreedyPolicy] {
	if hartID < 0 || hartID >= len(m.hartCaches) {
		panic(fmt.Sprintf("slab: hart id %d out of range [0,%d)", hartID, len(m.hartCaches)))
	}
	return m.hartCaches[hartID]
}

// Alloc pops a free slot from the calling hart's cache, refilling from
// partial/empty/new slabs on a miss.
func (m *SizeClassManager) Alloc(hartID int) paddr.PhysicalAddress {
	cache := m.hartCache(hartID)
	if addr, ok := cache.Pop(); ok {
		return addr
	}

	m.refillHartCache(hartID)

	addr, ok := cache.Pop()
	if !ok {
		panic(fmt.Sprintf("slab: out of memory for %d-byte size class", m.objectSize))
	}
	return addr
}

// refillHartCache pulls slots from partial slabs, then empty slabs,
// then freshly created slabs, until the cache's RefillAmount is
// satisfied, per spec.md §4.7.
func (m *SizeClassManager) refillHartCache(hartID int) {
	cache := m.hartCache(hartID)

	for {
		needed := cache.RefillAmount()
		if needed <= 0 {
			return
		}

		slabFrame := m.acquireSlabSource(hartID)

		g := slabFrame.Slab().Lock()
		info := g.Value()
		filled := 0
		for info.HasNextSlot && filled < needed {
			slotAddr := info.NextSlot
			next, hasNext := m.readNext(slotAddr)
			info.NextSlot = next
			info.HasNextSlot = hasNext
			info.InUseCount.Inc()
			cache.Push(slotAddr)
			filled++
		}
		stillHasFree := info.HasNextSlot
		g.Unlock()

		if stillHasFree {
			pg := m.partialSlabs.Lock()
			pg.Value().PushFront(slabFrame)
			pg.Unlock()
		}
		// Else the slab is now fully in use: leave it off every list,
		// per spec.md §4.7's refill loop.

		if filled == 0 {
			// Defensive: a freshly acquired slab always has slotsPerSlab
			// >= 1 free slots, so this should not happen in practice.
			return
		}
	}
}

// acquireSlabSource returns a slab frame with at least one free slot,
// preferring a partial slab, then a warm empty slab, then creating a
// fresh one backed by a new buddy page.
func (m *SizeClassManager) acquireSlabSource(hartID int) *frame.Frame {
	pg := m.partialSlabs.Lock()
	f := pg.Value().PopFront()
	pg.Unlock()
	if f != nil {
		return f
	}

	eg := m.emptySlabs.Lock()
	f = eg.Value().PopFront()
	eg.Unlock()
	if f != nil {
		return f
	}

	return m.createNewSlab(hartID)
}

// createNewSlab obtains a fresh order-0 page from the buddy allocator,
// threads its slotsPerSlab objects into a singly-linked free chain via
// each slot's first word, and converts the backing frame to Slab state.
func (m *SizeClassManager) createNewSlab(hartID int) *frame.Frame {
	pageFrame := m.buddy.AllocSlabPage(hartID)
	pageAddr := m.mm.FrameToAddress(pageFrame)

	for i := uint64(0); i < m.slotsPerSlab; i++ {
		slotAddr := pageAddr.Add(i * m.objectSize)
		hasNext := i+1 < m.slotsPerSlab
		var next paddr.PhysicalAddress
		if hasNext {
			next = pageAddr.Add((i + 1) * m.objectSize)
		}
		m.writeNext(slotAddr, next, hasNext)
	}

	pageFrame.ConvertToSlab(frame.NewCachePtr(m), pageAddr)
	return pageFrame
}

// Dealloc returns a slot to the calling hart's cache, draining
// drain_amount slots back to their owning slabs first if the cache has
// overgrown, per spec.md §4.7 (and the corrected drain behavior from
// §9's Open Questions: drained slots are pushed back onto their owning
// slab, never discarded).
func (m *SizeClassManager) Dealloc(hartID int, addr paddr.PhysicalAddress) {
	cache := m.hartCache(hartID)
	if !cache.IsFull() {
		cache.Push(addr)
		return
	}

	for drained := range cache.Drain() {
		m.releaseSlotToOwningSlab(drained)
	}
	cache.Push(addr)
}

// releaseSlotToOwningSlab translates slotAddr to its owning frame in
// O(1), threads it back onto that frame's free chain, and moves the
// frame between partial/empty lists (and, past the empty-slab cap,
// back to the buddy allocator) as its occupancy changes.
func (m *SizeClassManager) releaseSlotToOwningSlab(slotAddr paddr.PhysicalAddress) {
	pageAddr := paddr.PhysicalAddress(uint64(slotAddr) &^ (paddr.BaseSize - 1))
	f := m.mm.AddressToFrame(pageAddr)

	g := f.Slab().Lock()
	info := g.Value()
	wasFull := info.InUseCount.Load() == uint32(m.slotsPerSlab)

	m.writeNext(slotAddr, info.NextSlot, info.HasNextSlot)
	info.NextSlot = slotAddr
	info.HasNextSlot = true
	info.InUseCount.Dec()
	nowEmpty := info.InUseCount.Load() == 0
	g.Unlock()

	switch {
	case wasFull:
		pg := m.partialSlabs.Lock()
		pg.Value().PushFront(f)
		pg.Unlock()
	case nowEmpty:
		pg := m.partialSlabs.Lock()
		pg.Value().Remove(f)
		pg.Unlock()

		eg := m.emptySlabs.Lock()
		eg.Value().PushFront(f)
		var oldest *frame.Frame
		if eg.Value().Len() >= EmptySlabsCap {
			oldest = eg.Value().PopBack()
		}
		eg.Unlock()

		if oldest != nil {
			oldest.ReleaseToFree()
			m.buddy.FreeSlabPage(oldest)
		}
	}
}

func (m *SizeClassManager) readNext(addr paddr.PhysicalAddress) (paddr.PhysicalAddress, bool) {
	raw := binary.LittleEndian.Uint64(m.arena.Slice(addr, 8))
	if raw == noNextSentinel {
		return 0, false
	}
	return paddr.PhysicalAddress(raw), true
}

func (m *SizeClassManager) writeNext(addr paddr.PhysicalAddress, next paddr.PhysicalAddress, hasNext bool) {
	raw := noNextSentinel
	if hasNext {
		raw = uint64(next)
	}
	binary.LittleEndian.PutUint64(m.arena.Slice(addr, 8), raw)
}
