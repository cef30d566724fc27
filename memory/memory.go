package memory

import (
	"fmt"

	"github.com/shenjiangwei/kpalloc/bootlog"
	"github.com/shenjiangwei/kpalloc/buddy"
	"github.com/shenjiangwei/kpalloc/ksync"
	"github.com/shenjiangwei/kpalloc/memmap"
	"github.com/shenjiangwei/kpalloc/paddr"
	"github.com/shenjiangwei/kpalloc/ram"
	"github.com/shenjiangwei/kpalloc/slab"
)

// ErrAlreadyInitialized is returned by Init when the package-level
// Global has already been published; the boot sequence runs exactly
// once, per spec.md §6.
var ErrAlreadyInitialized = fmt.Errorf("memory: already initialized")

// HartIDFunc resolves the calling goroutine to a simulated hart id,
// standing in for a RISC-V `mhartid` CSR read (spec.md §6's
// current_hart_id() external collaborator).
type HartIDFunc func() int

// Global owns the whole allocator core for one booted instance: the
// backing arena, the physical memory map computed from it, and the
// buddy and slab allocators layered on top.
type Global struct {
	arena      *ram.Arena
	mm         *memmap.PhysicalMemoryMap
	buddy      *buddy.Allocator
	slab       *slab.Allocator
	hartIDFunc HartIDFunc
}

var global ksync.OnceCell[*Global]

// New builds a standalone Global: an mmap-backed arena of ramSize bytes
// based at ramStart, its physical memory map, and hartCount per-hart
// buddy and slab caches. It does not touch the package-level singleton;
// tests build Globals directly to stay isolated from one another, while
// the boot path publishes exactly one via Init.
func New(ramStart paddr.PhysicalAddress, ramSize uint64, hartCount int) (*Global, error) {
	if hartCount <= 0 || hartCount > MaxHarts {
		return nil, fmt.Errorf("memory: hart count %d out of range (0,%d]", hartCount, MaxHarts)
	}

	arena, err := ram.New(ramSize)
	if err != nil {
		return nil, err
	}
	arena.SetBase(ramStart)

	mm := memmap.Calculate(arena.Base(), arena.Size(), arena.Base(), arena.Base())
	buddyAlloc := buddy.Init(mm, hartCount)
	slabAlloc := slab.NewAllocator(mm, buddyAlloc, arena, hartCount)

	return &Global{
		arena:      arena,
		mm:         mm,
		buddy:      buddyAlloc,
		slab:       slabAlloc,
		hartIDFunc: func() int { return 0 },
	}, nil
}

// Init builds a Global exactly as New does and publishes it as the
// package-level singleton every package-level Alloc/Dealloc call below
// routes through, then emits the boot summary via bootlog. Calling it
// twice returns ErrAlreadyInitialized; the second Global it built is
// torn down rather than leaked.
func Init(ramStart paddr.PhysicalAddress, ramSize uint64, hartCount int) (*Global, error) {
	g, err := New(ramStart, ramSize, hartCount)
	if err != nil {
		return nil, err
	}
	if !global.Set(g) {
		g.Close()
		return nil, ErrAlreadyInitialized
	}
	bootlog.Summary(g.mm, g.buddy.Orders(), g.buddy.Bitmap())
	return g, nil
}

// Get returns the published Global, if Init has run.
func Get() (*Global, bool) { return global.Get() }

// MustGet returns the published Global, panicking if Init has not run --
// every package-level Alloc/Dealloc below is a programming error to call
// before boot has completed.
func MustGet() *Global {
	g, ok := global.Get()
	if !ok {
		panic(ErrNotInitialized)
	}
	return g
}

// Close unmaps the backing arena. Only meaningful for a Global built via
// New in a test; the singleton published by Init lives for the process.
func (g *Global) Close() error { return g.arena.Close() }

// MemoryMap returns the physical memory map computed at boot.
func (g *Global) MemoryMap() *memmap.PhysicalMemoryMap { return g.mm }

// Bitmap returns the buddy allocator's free-list bitmap.
func (g *Global) Bitmap() uint64 { return g.buddy.Bitmap() }

// Orders returns the number of buddy orders in use.
func (g *Global) Orders() uint8 { return g.buddy.Orders() }

// SlabClasses returns every configured slab size class, for
// introspection callers.
func (g *Global) SlabClasses() []*slab.SizeClassManager { return g.slab.Classes() }

// SetHartIDFunc overrides how CurrentHart resolves the calling
// goroutine to a hart id. Not safe to call concurrently with
// Alloc/Dealloc/CurrentHart.
func (g *Global) SetHartIDFunc(f HartIDFunc) { g.hartIDFunc = f }

// CurrentHart resolves the calling goroutine's simulated hart id.
func (g *Global) CurrentHart() int { return g.hartIDFunc() }

// Alloc routes (size, align) to the slab allocator when size is within
// its largest size class and that class's alignment can serve align;
// otherwise it falls to the buddy allocator directly, per spec.md §4.8's
// size-threshold routing and its oversize bypass. A zero-size request
// goes to the buddy allocator, which returns buddy.DanglingPtr.
func (g *Global) Alloc(hartID int, size, align uint64) (paddr.PhysicalAddress, error) {
	if align > paddr.BaseSize {
		return 0, ErrUnsupportedAlignment
	}

	if size != 0 && size <= MaxSlabObjectSize {
		if addr, ok := g.slab.Alloc(hartID, size, align); ok {
			return addr, nil
		}
	}

	addr, ok := g.buddy.Alloc(hartID, buddy.Layout{Size: size, Align: align})
	if !ok {
		return 0, ErrSizeTooLarge
	}
	return addr, nil
}

// Dealloc releases a block previously returned by Alloc for the same
// (size, align), routing it to whichever allocator would have served
// that request.
func (g *Global) Dealloc(hartID int, addr paddr.PhysicalAddress, size, align uint64) {
	if size != 0 && size <= MaxSlabObjectSize {
		if _, ok := g.slab.Handles(size, align); ok {
			g.slab.Dealloc(hartID, addr, size, align)
			return
		}
	}
	g.buddy.Dealloc(hartID, addr, buddy.Layout{Size: size, Align: align})
}

// Alloc is the package-level convenience wrapper over the published
// singleton, for callers downstream of boot (hostpool, allocsvc,
// cmd/bootsim).
func Alloc(hartID int, size, align uint64) (paddr.PhysicalAddress, error) {
	return MustGet().Alloc(hartID, size, align)
}

// Dealloc is the package-level convenience wrapper over the published
// singleton.
func Dealloc(hartID int, addr paddr.PhysicalAddress, size, align uint64) {
	MustGet().Dealloc(hartID, addr, size, align)
}

// CurrentHart is the package-level convenience wrapper over the
// published singleton.
func CurrentHart() int { return MustGet().CurrentHart() }

// SetHartIDFunc is the package-level convenience wrapper over the
// published singleton.
func SetHartIDFunc(f HartIDFunc) { MustGet().SetHartIDFunc(f) }
