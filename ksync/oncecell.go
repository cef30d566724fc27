package ksync

import "go.uber.org/atomic"

// OnceCell is a one-shot, lock-free publication cell. Exactly one caller
// of Set (or of the function passed to GetOrInit) succeeds in
// constructing the value; every other hart observes the same published
// value. Publication uses Acquire/Release ordering via go.uber.org/atomic
// (grounded on aistore/cmn/sync.go's atomic-wrapper idiom) so that a
// reader that observes ready==true also observes a fully constructed T.
type OnceCell[T any] struct {
	claimed atomic.Bool
	ready   atomic.Bool
	value   T
}

// Set publishes value if no value has been published yet. It reports
// whether this call was the one that published. Losers' own value
// argument is discarded -- they must call Get to observe the winner's
// value.
//
// claimed and ready are kept distinct so the plain write to value
// always happens-before the release store to ready: a reader that
// acquire-loads ready==true is guaranteed to see a fully constructed
// value, not just a reservation.
func (c *OnceCell[T]) Set(value T) bool {
	if !c.claimed.CompareAndSwap(false, true) {
		return false
	}
	c.value = value
	c.ready.Store(true)
	return true
}

// Get returns the published value and true, or the zero value and false
// if nothing has been published yet.
func (c *OnceCell[T]) Get() (T, bool) {
	if !c.ready.Load() {
		var zero T
		return zero, false
	}
	return c.value, true
}

// GetOrInit returns the published value, running f to construct it if
// no hart has done so yet. Exactly one hart runs f; every other caller
// spins on the ready flag until the winner finishes constructing T.
func (c *OnceCell[T]) GetOrInit(f func() T) T {
	if v, ok := c.Get(); ok {
		return v
	}
	if c.claimed.CompareAndSwap(false, true) {
		v := f()
		c.value = v
		c.ready.Store(true)
		return v
	}
	// Another hart won the race; spin until its value is visible.
	for {
		if v, ok := c.Get(); ok {
			return v
		}
	}
}
