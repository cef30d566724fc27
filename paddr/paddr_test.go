package paddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSub(t *testing.T) {
	a := PhysicalAddress(0x1000)
	b := a.Add(0x2000)
	assert.Equal(t, PhysicalAddress(0x3000), b)
	assert.Equal(t, uint64(0x2000), b.Sub(a))
}

func TestAddOverflowPanics(t *testing.T) {
	a := PhysicalAddress(^uint64(0))
	assert.Panics(t, func() { a.Add(1) })
}

func TestSubUnderflowPanics(t *testing.T) {
	a := PhysicalAddress(0)
	b := PhysicalAddress(1)
	assert.Panics(t, func() { a.Sub(b) })
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, PhysicalAddress(1).Compare(PhysicalAddress(2)))
	assert.Equal(t, 0, PhysicalAddress(2).Compare(PhysicalAddress(2)))
	assert.Equal(t, 1, PhysicalAddress(3).Compare(PhysicalAddress(2)))
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(4096), AlignUp(1, 4096))
	assert.Equal(t, uint64(4096), AlignUp(4096, 4096))
	assert.Equal(t, uint64(8192), AlignUp(4097, 4096))
}

func TestNewRegion(t *testing.T) {
	r := NewRegion(0, 2*BaseSize)
	require.Equal(t, PhysicalAddress(2*BaseSize), r.End())
	assert.True(t, r.Contains(0))
	assert.True(t, r.Contains(PhysicalAddress(BaseSize)))
	assert.False(t, r.Contains(r.End()))
}

func TestNewRegionPanicsOnMisalignedSize(t *testing.T) {
	assert.Panics(t, func() { NewRegion(0, BaseSize+1) })
}
