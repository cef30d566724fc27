package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFrameIsFree(t *testing.T) {
	f := New(3)
	assert.Equal(t, Free, f.State())
	assert.EqualValues(t, 3, f.Index)
}

func TestSlabAccessorsPanicOffState(t *testing.T) {
	f := New(0)
	assert.Panics(t, func() { f.Slab() })
}

func TestConvertToSlabAndBack(t *testing.T) {
	f := New(5)
	f.ConvertToSlab(NewCachePtr("manager"), 0x1000)
	require.Equal(t, Slab, f.State())

	g := f.Slab().Lock()
	info := g.Value()
	assert.Equal(t, "manager", info.Cache.Get())
	assert.True(t, info.HasNextSlot)
	g.Unlock()

	f.ReleaseToFree()
	assert.Equal(t, Free, f.State())
}

func TestReleaseToFreePanicsIfObjectsLive(t *testing.T) {
	f := New(1)
	f.ConvertToSlab(NewCachePtr(nil), 0)
	g := f.Slab().Lock()
	g.Value().InUseCount.Store(1)
	g.Unlock()

	assert.Panics(t, func() { f.ReleaseToFree() })
}

func TestFrameLinkable(t *testing.T) {
	a, b := New(0), New(1)
	a.SetNext(b)
	b.SetPrev(a)
	assert.Same(t, b, a.Next())
	assert.Same(t, a, b.Prev())
}
