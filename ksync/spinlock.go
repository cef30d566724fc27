// Package ksync provides the mutual-exclusion and one-shot-publication
// primitives the allocator core runs on. There is no OS scheduler to
// block on in a freestanding kernel, so where the teacher
// (hybrid/buddy.go, hybrid/slab.go) reaches for sync.Mutex/sync.RWMutex,
// this package spins instead, matching spec.md §4.2.
package ksync

import (
	"fmt"
	"runtime"

	"go.uber.org/atomic"
)

// spinLimit is the number of CAS attempts between yields to the Go
// scheduler. A bare-metal hart would execute an architecture PAUSE
// instruction here; under the host OS we approximate the spin hint with
// runtime.Gosched so a busy test doesn't starve other goroutines on a
// GOMAXPROCS=1 build.
const spinLimit = 64

// Spinlock protects a value of type T with a CAS-based busy-wait lock.
// It is not reentrant: locking twice from the same goroutine deadlocks,
// exactly like locking twice from the same hart would spin forever.
type Spinlock[T any] struct {
	locked atomic.Bool
	value  T
}

// NewSpinlock wraps value behind a new, unlocked Spinlock.
func NewSpinlock[T any](value T) *Spinlock[T] {
	return &Spinlock[T]{value: value}
}

// Guard provides exclusive access to a Spinlock's protected value and
// releases the lock when Unlock is called. It is the only way to reach
// the protected value, so the type system makes holding-then-forgetting
// to unlock the only possible misuse.
type Guard[T any] struct {
	lock *Spinlock[T]
}

// Lock busy-waits until it acquires the lock, then returns a Guard.
func (s *Spinlock[T]) Lock() *Guard[T] {
	spins := 0
	for !s.locked.CompareAndSwap(false, true) {
		spins++
		if spins%spinLimit == 0 {
			runtime.Gosched()
		}
	}
	return &Guard[T]{lock: s}
}

// TryLock attempts to acquire the lock without blocking. ok is false if
// the lock was already held.
func (s *Spinlock[T]) TryLock() (g *Guard[T], ok bool) {
	if !s.locked.CompareAndSwap(false, true) {
		return nil, false
	}
	return &Guard[T]{lock: s}, true
}

// Value returns a pointer to the protected value. Only valid while the
// guard is live.
func (g *Guard[T]) Value() *T {
	if g.lock == nil {
		panic("ksync: use of Guard after Unlock")
	}
	return &g.lock.value
}

// Unlock releases the lock. Calling it twice on the same Guard panics,
// mirroring the debug assertions spec.md requires elsewhere in the core.
func (g *Guard[T]) Unlock() {
	if g.lock == nil {
		panic("ksync: double unlock of Guard")
	}
	lock := g.lock
	g.lock = nil
	if !lock.locked.CompareAndSwap(true, false) {
		panic(fmt.Sprintf("ksync: spinlock %p released while not held", lock))
	}
}
