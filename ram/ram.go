//go:build unix

// Package ram backs the simulated physical address space with a real,
// page-aligned memory arena. The kernel this core models has actual RAM
// behind every PhysicalAddress; this hosted simulator gets the closest
// equivalent available to an ordinary process by mmap'ing anonymous
// pages, the same technique _examples/cznic-memory/mmap_unix.go uses to
// back its page allocator (syscall.Mmap with MAP_SHARED|MAP_ANON, plus a
// page-alignment assertion on the returned slice). We use
// golang.org/x/sys/unix instead of the raw syscall package because it is
// already one of the teacher pack's wired dependencies and gives a
// portable Mmap/Munmap across the unix-family GOOS values.
package ram

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/shenjiangwei/kpalloc/paddr"
)

// Arena is a page-aligned block of real memory standing in for physical
// RAM. PhysicalAddress values are offsets from the arena's base.
type Arena struct {
	base  paddr.PhysicalAddress
	bytes []byte
}

// New mmaps an anonymous, zero-filled region of size bytes (rounded up
// to a BaseSize multiple) and returns an Arena backing it. size must be
// positive.
func New(size uint64) (*Arena, error) {
	if size == 0 {
		return nil, fmt.Errorf("ram: size must be positive")
	}
	aligned := paddr.AlignUp(size, paddr.BaseSize)
	b, err := unix.Mmap(-1, 0, int(aligned), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("ram: mmap %d bytes: %w", aligned, err)
	}
	if len(b) == 0 || uintptr(unsafe.Pointer(&b[0]))%paddr.BaseSize != 0 {
		panic("ram: mmap returned a non-page-aligned region")
	}
	return &Arena{bytes: b}, nil
}

// Close unmaps the arena. It must not be used again afterward.
func (a *Arena) Close() error {
	if a.bytes == nil {
		return nil
	}
	err := unix.Munmap(a.bytes)
	a.bytes = nil
	return err
}

// Size returns the arena's length in bytes.
func (a *Arena) Size() uint64 { return uint64(len(a.bytes)) }

// Base returns the PhysicalAddress value assigned to the arena's first
// byte; the simulator's (ram_start, ram_size) pair is (Base(), Size()).
func (a *Arena) Base() paddr.PhysicalAddress { return a.base }

// SetBase assigns the PhysicalAddress the arena's first byte represents.
// Called once, by the boot simulator, before memmap.Calculate runs.
func (a *Arena) SetBase(base paddr.PhysicalAddress) { a.base = base }

// Slice returns the byte slice for the region [addr, addr+n), panicking
// if it falls outside the arena -- an out-of-range access here is the
// hosted simulator's analogue of a wild physical-address dereference,
// which is always a fatal programming error in the kernel this models.
func (a *Arena) Slice(addr paddr.PhysicalAddress, n uint64) []byte {
	off := addr.Sub(a.base)
	if off+n > uint64(len(a.bytes)) {
		panic(fmt.Sprintf("ram: access [%d, %d) outside arena of size %d", off, off+n, len(a.bytes)))
	}
	return a.bytes[off : off+n]
}
