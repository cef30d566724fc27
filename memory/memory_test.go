//go:build unix

package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenjiangwei/kpalloc/paddr"
)

func TestNewRoutesSmallRequestsToSlabAndReusesOnDealloc(t *testing.T) {
	g, err := New(paddr.PhysicalAddress(0), 4*1024*1024, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	addr, err := g.Alloc(0, 64, 8)
	require.NoError(t, err)
	g.Dealloc(0, addr, 64, 8)

	addr2, err := g.Alloc(0, 64, 8)
	require.NoError(t, err)
	assert.Equal(t, addr, addr2)
}

func TestNewRoutesLargeRequestsToBuddy(t *testing.T) {
	g, err := New(paddr.PhysicalAddress(0), 4*1024*1024, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	addr, err := g.Alloc(0, 8192, 8)
	require.NoError(t, err)
	assert.True(t, g.mm.FreeMemory.Contains(addr))
	g.Dealloc(0, addr, 8192, 8)
}

func TestNewRejectsOveralignedRequest(t *testing.T) {
	g, err := New(paddr.PhysicalAddress(0), 1024*1024, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	_, err = g.Alloc(0, 64, 2*paddr.BaseSize)
	assert.ErrorIs(t, err, ErrUnsupportedAlignment)
}

func TestNewRejectsHartCountAboveMax(t *testing.T) {
	_, err := New(paddr.PhysicalAddress(0), 1024*1024, MaxHarts+1)
	assert.Error(t, err)
}

func TestCurrentHartDefaultsToZeroAndIsOverridable(t *testing.T) {
	g, err := New(paddr.PhysicalAddress(0), 1024*1024, 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	assert.Equal(t, 0, g.CurrentHart())
	g.SetHartIDFunc(func() int { return 1 })
	assert.Equal(t, 1, g.CurrentHart())
}

func TestInitPublishesSingletonOnce(t *testing.T) {
	_, firstErr := Init(paddr.PhysicalAddress(0), 1024*1024, 1)
	require.NoError(t, firstErr)

	_, secondErr := Init(paddr.PhysicalAddress(0), 1024*1024, 1)
	assert.ErrorIs(t, secondErr, ErrAlreadyInitialized)
}
