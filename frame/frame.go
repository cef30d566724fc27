// Package frame implements the per-base-page descriptor, spec.md §3's
// Frame: a tagged union that answers to the buddy allocator's free-list
// invariants in one state and to the slab allocator's per-page metadata
// invariants in another. Grounded on the teacher's Block{start, size,
// isFree, next, prev, slab} in hybrid/types.go, split into the
// discriminated-state shape the spec mandates -- the teacher used a
// nilable *Slab field instead of an explicit state tag.
package frame

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/shenjiangwei/kpalloc/ksync"
	"github.com/shenjiangwei/kpalloc/paddr"
)

// State is the discriminant of a Frame's payload.
type State uint8

const (
	// Free frames carry buddy free-list links.
	Free State = iota
	// Allocated frames carry no payload; the page is owned by a caller.
	Allocated
	// Slab frames carry SlabInfo behind the frame's own spinlock.
	Slab
)

func (s State) String() string {
	switch s {
	case Free:
		return "Free"
	case Allocated:
		return "Allocated"
	case Slab:
		return "Slab"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// SlabInfo is a Slab-state Frame's payload: the owning size-class
// manager, the head of the page's free-slot chain, and the live object
// count. Cache is an unsafe.Pointer-free opaque handle
// (*slab.SizeClassManager in practice) stored as an interface value via
// CachePtr to avoid an import cycle between frame and slab -- frame must
// not know about slab's types, only slab knows about frame's.
type SlabInfo struct {
	Cache       CachePtr
	NextSlot    paddr.PhysicalAddress
	HasNextSlot bool
	InUseCount  atomic.Uint32
}

// CachePtr is an opaque, type-erased handle to the owning
// slab.SizeClassManager. Get returns the wrapped value for a caller to
// type-assert; frame never dereferences it.
type CachePtr struct {
	ptr any
}

// NewCachePtr wraps an arbitrary pointer for storage in SlabInfo.
func NewCachePtr(p any) CachePtr { return CachePtr{ptr: p} }

// Get returns the wrapped pointer.
func (c CachePtr) Get() any { return c.ptr }

// Frame is the per-base-page descriptor. Only the head frame of an
// allocated or free block has a meaningful Order; interior frames'
// Order is not consulted while the block is in use or on a free list.
type Frame struct {
	// Index is this frame's position in the dense frame_pool array; it
	// is how memmap translates between frames and addresses in O(1).
	Index uint64

	Order uint8
	state atomic.Uint32 // State, atomic so debug assertions can read lock-free

	// next/prev serve double duty per spec.md §4.6/§4.7: when Free,
	// they link this frame into its order's buddy free list; when Slab,
	// they link it into the owning size class's partial/empty slab
	// list. The two uses are mutually exclusive because the states are.
	next, prev *Frame

	slab ksync.Spinlock[SlabInfo]
}

// New returns a Frame initialized to Free, order 0, at the given dense
// array index -- the state every frame is reset to during allocator
// init per spec.md §3's lifecycle.
func New(index uint64) *Frame {
	f := &Frame{Index: index}
	f.state.Store(uint32(Free))
	return f
}

// State returns the frame's current tag.
func (f *Frame) State() State { return State(f.state.Load()) }

// SetState transitions the frame's tag. Callers must hold whatever lock
// protects the transition (the free-lists lock for Free<->Allocated,
// this frame's own slab lock for Free<->Slab) per spec.md §4.6's state
// machine.
func (f *Frame) SetState(s State) { f.state.Store(uint32(s)) }

// Next implements list.Linkable / list.DoublyLinkable.
func (f *Frame) Next() *Frame { return f.next }

// SetNext implements list.Linkable / list.DoublyLinkable.
func (f *Frame) SetNext(n *Frame) { f.next = n }

// Prev implements list.DoublyLinkable.
func (f *Frame) Prev() *Frame { return f.prev }

// SetPrev implements list.DoublyLinkable.
func (f *Frame) SetPrev(n *Frame) { f.prev = n }

// Slab returns the spinlock guarding this frame's SlabInfo payload.
// Callers must debug-assert State() == Slab before projecting through
// it; accessing slab info on a non-Slab frame is a programming error.
func (f *Frame) Slab() *ksync.Spinlock[SlabInfo] {
	if f.State() != Slab {
		panic(fmt.Sprintf("frame: Slab() on frame %d in state %s", f.Index, f.State()))
	}
	return &f.slab
}

// ConvertToSlab transitions a Free frame to Slab state and installs its
// initial payload, overwriting the (unused, for a frame about to become
// Slab) free-list links union slot. Precondition: frame is Free and
// detached from any free list -- callers (buddy.AllocSlabPage) guarantee
// this by popping it before calling.
func (f *Frame) ConvertToSlab(cache CachePtr, firstSlot paddr.PhysicalAddress) {
	if f.State() != Free {
		panic(fmt.Sprintf("frame: ConvertToSlab on frame %d in state %s", f.Index, f.State()))
	}
	f.next, f.prev = nil, nil
	g := f.slab.Lock()
	*g.Value() = SlabInfo{Cache: cache, NextSlot: firstSlot, HasNextSlot: true}
	g.Unlock()
	f.SetState(Slab)
}

// ReleaseToFree transitions a Slab frame with no live objects back to
// Free, clearing its payload. Precondition: InUseCount == 0.
func (f *Frame) ReleaseToFree() {
	if f.State() != Slab {
		panic(fmt.Sprintf("frame: ReleaseToFree on frame %d in state %s", f.Index, f.State()))
	}
	g := f.slab.Lock()
	inUse := g.Value().InUseCount.Load()
	*g.Value() = SlabInfo{}
	g.Unlock()
	if inUse != 0 {
		panic(fmt.Sprintf("frame: ReleaseToFree on frame %d with %d objects still live", f.Index, inUse))
	}
	f.Order = 0
	f.SetState(Free)
}
