// Package paddr provides typed physical-address arithmetic and the
// region type used to describe fixed spans of physical RAM.
//
// Grounded on the teacher's raw uint64 addresses throughout
// hybrid/buddy.go; this package wraps that arithmetic in a named type per
// spec.md §3, since the teacher never needed to distinguish an address
// from a byte count.
package paddr

import "fmt"

// BaseSize is the size in bytes of one base page. All regions and all
// frames are multiples of this.
const BaseSize = 4096

// PhysicalAddress is an opaque wrapper over a machine-word integer.
// Overflow and underflow are a fatal programming error, not a recoverable
// condition: a kernel cannot meaningfully continue once its address
// arithmetic has wrapped.
type PhysicalAddress uint64

// Add returns a + n. Panics on overflow.
func (a PhysicalAddress) Add(n uint64) PhysicalAddress {
	r := uint64(a) + n
	if r < uint64(a) {
		panic(fmt.Sprintf("paddr: overflow adding %d to %#x", n, uint64(a)))
	}
	return PhysicalAddress(r)
}

// Sub returns the byte offset a - b. Panics if b > a.
func (a PhysicalAddress) Sub(b PhysicalAddress) uint64 {
	if b > a {
		panic(fmt.Sprintf("paddr: underflow subtracting %#x from %#x", uint64(b), uint64(a)))
	}
	return uint64(a) - uint64(b)
}

// Less reports whether a < b.
func (a PhysicalAddress) Less(b PhysicalAddress) bool { return a < b }

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater
// than b.
func (a PhysicalAddress) Compare(b PhysicalAddress) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Aligned reports whether a is a multiple of align.
func (a PhysicalAddress) Aligned(align uint64) bool {
	return uint64(a)%align == 0
}

// String implements fmt.Stringer for boot diagnostics.
func (a PhysicalAddress) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// AlignUp rounds n up to the next multiple of align. align must be a
// power of two.
func AlignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// MemoryRegion is a contiguous span [Start, Start+Size) of physical
// memory. Size is always a multiple of BaseSize.
type MemoryRegion struct {
	Start PhysicalAddress
	Size  uint64
}

// NewRegion constructs a MemoryRegion, panicking if size is not a
// BaseSize multiple -- a boot-time layout failure per spec.md §7 kind 4.
func NewRegion(start PhysicalAddress, size uint64) MemoryRegion {
	if size%BaseSize != 0 {
		panic(fmt.Sprintf("paddr: region size %d is not a multiple of BaseSize %d", size, BaseSize))
	}
	return MemoryRegion{Start: start, Size: size}
}

// End returns the exclusive end address of the region.
func (r MemoryRegion) End() PhysicalAddress {
	return r.Start.Add(r.Size)
}

// Contains reports whether a lies in [Start, End).
func (r MemoryRegion) Contains(a PhysicalAddress) bool {
	return !a.Less(r.Start) && a.Less(r.End())
}

// Empty reports whether the region has zero size.
func (r MemoryRegion) Empty() bool { return r.Size == 0 }

// KiB returns the region size in kibibytes, for boot-log formatting.
func (r MemoryRegion) KiB() uint64 { return r.Size / 1024 }

// String implements fmt.Stringer.
func (r MemoryRegion) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start, r.End())
}
