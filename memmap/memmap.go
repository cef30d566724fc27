// Package memmap computes the physical memory map: the fixed partition
// of discovered RAM into kernel image, per-frame metadata, allocator
// metadata, and a free pool, per spec.md §4.3. The teacher never modeled
// a kernel-image/metadata region layout -- hybrid/buddy.go treats the
// whole address space as notionally flat -- so this is built directly
// from the spec's five-step algorithm, formatted in the teacher's boot
// log style (see bootlog).
package memmap

import (
	"fmt"
	"math/bits"

	"github.com/shenjiangwei/kpalloc/frame"
	"github.com/shenjiangwei/kpalloc/paddr"
)

// frameDescriptorSize and freeListNodeSize are notional per-unit sizes
// used only to size the frame_pool / frame_allocator_metadata regions
// for diagnostic accounting. The real Frame and free-list node values
// live as ordinary Go objects on the host heap -- a freestanding kernel
// would overlay them directly on these bytes, but a hosted simulator
// cannot safely reinterpret mmap'd memory as live Go structs containing
// pointers and atomics, so these regions exist to make the address-space
// partition and its KiB accounting match spec.md §4.3 exactly without
// attempting that unsafe overlay.
const (
	frameDescriptorSize = 64
	freeListNodeSize     = 24
)

// PhysicalMemoryMap is the five fixed regions computed once at boot and
// never recomputed. Ram contains Kernel, FramePool,
// FrameAllocatorMetadata, and FreeMemory, contiguous in that order.
type PhysicalMemoryMap struct {
	Ram                    paddr.MemoryRegion
	Kernel                 paddr.MemoryRegion
	FramePool              paddr.MemoryRegion
	FrameAllocatorMetadata paddr.MemoryRegion
	FreeMemory             paddr.MemoryRegion

	NumFrames uint64
	Orders    uint8

	frames []*frame.Frame
}

// Calculate partitions [ramStart, ramStart+ramSize) per spec.md §4.3's
// five steps. kernelStart/kernelEnd are the linker-provided
// _kernel_start/_kernel_end symbols. Panics on any boot-time layout
// failure (kernel outside RAM, unaligned RAM size, no room for
// metadata) -- spec.md §7 kind 4, fatal and unrecoverable.
func Calculate(ramStart paddr.PhysicalAddress, ramSize uint64, kernelStart, kernelEnd paddr.PhysicalAddress) *PhysicalMemoryMap {
	ram := paddr.NewRegion(ramStart, ramSize)

	if !ram.Contains(kernelStart) || kernelEnd.Less(kernelStart) || (kernelEnd != ram.End() && !ram.Contains(kernelEnd)) {
		panic(fmt.Sprintf("memmap: kernel [%s, %s) not contained in ram %s", kernelStart, kernelEnd, ram))
	}

	kernelSize := paddr.AlignUp(kernelEnd.Sub(kernelStart), paddr.BaseSize)
	kernel := paddr.NewRegion(kernelStart, kernelSize)

	numFrames := ramSize / paddr.BaseSize
	if numFrames == 0 {
		panic("memmap: ram too small to hold a single base page")
	}

	framePoolSize := paddr.AlignUp(numFrames*frameDescriptorSize, paddr.BaseSize)
	framePool := paddr.NewRegion(kernel.End(), framePoolSize)

	orders := orderCountFor(numFrames)

	metadataSize := paddr.AlignUp(uint64(orders)*freeListNodeSize, paddr.BaseSize)
	metadata := paddr.NewRegion(framePool.End(), metadataSize)

	freeSize := ram.End().Sub(metadata.End())
	if freeSize == 0 {
		panic("memmap: no room for free memory after kernel and allocator metadata")
	}
	if freeSize%paddr.BaseSize != 0 {
		panic("memmap: free memory region is not page-aligned")
	}
	freeMemory := paddr.NewRegion(metadata.End(), freeSize)

	m := &PhysicalMemoryMap{
		Ram:                    ram,
		Kernel:                 kernel,
		FramePool:              framePool,
		FrameAllocatorMetadata: metadata,
		FreeMemory:             freeMemory,
		NumFrames:              numFrames,
		Orders:                 orders,
		frames:                 make([]*frame.Frame, numFrames),
	}

	for i := uint64(0); i < numFrames; i++ {
		f := frame.New(i)
		addr := ramStart.Add(i * paddr.BaseSize)
		if !freeMemory.Contains(addr) {
			// Kernel image and allocator bookkeeping pages are
			// permanently owned; they never enter a free list.
			f.SetState(frame.Allocated)
		}
		m.frames[i] = f
	}

	return m
}

// orderCountFor returns floor(log2(numFrames)) + 1, bounded above by 64
// (the free-list bitmap width), per spec.md §4.4.
func orderCountFor(numFrames uint64) uint8 {
	orders := bits.Len64(numFrames) // floor(log2(n))+1 for n>0
	if orders > 64 {
		orders = 64
	}
	return uint8(orders)
}

// AddressToFrame returns the Frame descriptor for the base page
// containing a, in O(1).
func (m *PhysicalMemoryMap) AddressToFrame(a paddr.PhysicalAddress) *frame.Frame {
	if !m.Ram.Contains(a) {
		panic(fmt.Sprintf("memmap: address %s outside ram %s", a, m.Ram))
	}
	idx := a.Sub(m.Ram.Start) / paddr.BaseSize
	return m.frames[idx]
}

// FrameToAddress returns the base physical address of the page f
// describes, in O(1).
func (m *PhysicalMemoryMap) FrameToAddress(f *frame.Frame) paddr.PhysicalAddress {
	return m.Ram.Start.Add(f.Index * paddr.BaseSize)
}

// Frames returns the dense frame array backing the whole of Ram.
func (m *PhysicalMemoryMap) Frames() []*frame.Frame { return m.frames }
