package memory

import "errors"

// Sentinel errors for the kind-3 "unsupported request" conditions
// spec.md §7 requires a non-fatal return for, one per kind as
// hybrid/errors.go does for its own error set.
var (
	// ErrSizeTooLarge is returned when a request's order exceeds every
	// order the buddy pool was built with, or its size is not strictly
	// less than the free pool's -- structurally unsatisfiable regardless
	// of current fragmentation.
	ErrSizeTooLarge = errors.New("memory: requested size exceeds the allocator's addressable range")
	// ErrUnsupportedAlignment is returned when align exceeds BaseSize.
	ErrUnsupportedAlignment = errors.New("memory: alignment greater than BaseSize is unsupported")
	// ErrNotInitialized is the panic value MustGet raises when called
	// before Init has published the Global -- calling the package-level
	// Alloc/Dealloc/CurrentHart wrappers before boot has run is a
	// programming error, not a runtime condition a caller recovers from.
	ErrNotInitialized = errors.New("memory: allocator not initialized")
)
