// Package memory is the allocator core's top-level facade: the single
// OnceCell-published Global that owns the buddy and slab allocators and
// routes every Alloc/Dealloc call between them, per spec.md §4.8 and the
// boot sequence in §6. Grounded on hybrid/allocator.go's Allocate/Free
// size-threshold routing between its buddy and slab sub-allocators.
package memory

import "github.com/shenjiangwei/kpalloc/paddr"

// BaseSize mirrors paddr.BaseSize under the name spec.md §6 uses for the
// boot-time configuration constants, grouped here the way the teacher
// groups its tunables in a single const block (hybrid/types.go).
const BaseSize = paddr.BaseSize

// MaxHarts is the compile-time upper bound on simulated hart count,
// spec.md §9's Open Question resolution: hart count is a static bound
// checked at Init, not discovered dynamically.
const MaxHarts = 256

// SizeClasses mirrors slab.SizeClasses, grouped here with the other
// configuration constants. Routing between slab and buddy uses
// MaxSlabObjectSize, not this list.
var SizeClasses = []uint64{8, 16, 32, 64, 128, 256, 512, 1024, 2048}

// MaxSlabObjectSize is the largest request the slab allocator ever
// serves; anything larger bypasses it for the buddy allocator directly,
// per spec.md §4.8's oversize bypass.
const MaxSlabObjectSize = 2048

// EmptySlabsCap mirrors slab.EmptySlabsCap.
const EmptySlabsCap = 4
