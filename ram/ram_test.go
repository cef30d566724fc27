//go:build unix

package ram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenjiangwei/kpalloc/paddr"
)

func TestNewArenaIsPageAligned(t *testing.T) {
	a, err := New(64 * paddr.BaseSize)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, uint64(64*paddr.BaseSize), a.Size())
}

func TestSliceReadWrite(t *testing.T) {
	a, err := New(4 * paddr.BaseSize)
	require.NoError(t, err)
	defer a.Close()
	a.SetBase(0x1000)

	s := a.Slice(0x1000, 8)
	s[0] = 0xAB
	again := a.Slice(0x1000, 8)
	assert.Equal(t, byte(0xAB), again[0])
}

func TestSliceOutOfRangePanics(t *testing.T) {
	a, err := New(paddr.BaseSize)
	require.NoError(t, err)
	defer a.Close()
	a.SetBase(0)

	assert.Panics(t, func() { a.Slice(0, paddr.BaseSize+1) })
}

func TestNewZeroSizeErrors(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
}
