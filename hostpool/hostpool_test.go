//go:build unix

package hostpool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenjiangwei/kpalloc/memory"
	"github.com/shenjiangwei/kpalloc/paddr"
)

func newTestGlobal(t *testing.T) *memory.Global {
	t.Helper()
	g, err := memory.New(paddr.PhysicalAddress(0), 8*1024*1024, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func smallTiers() []TierConfig {
	return []TierConfig{
		{MaxSize: 256, Capacity: 4},
		{MaxSize: 4096, Capacity: 2},
	}
}

func TestAllocHitsWarmTierThenFallsThroughOnExhaustion(t *testing.T) {
	g := newTestGlobal(t)
	pool, err := NewPool(g, 0, 8, smallTiers(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	// Every pre-allocated 256-byte-tier block is sized at least 1 byte,
	// so a size-1 request always fits whichever block the scan finds --
	// unlike a larger size, this doesn't depend on the tier's random
	// block sizes happening to land above the request.
	for i := 0; i < 4; i++ {
		_, err := pool.Alloc(1)
		require.NoError(t, err)
	}
	stats := pool.Stats()
	assert.Equal(t, uint64(4), stats.PoolHits)

	// The 256-byte tier's 4 blocks are all now in use; a 5th request in
	// that size range must miss the pool and fall through.
	_, err = pool.Alloc(1)
	require.NoError(t, err)
	stats = pool.Stats()
	assert.Equal(t, uint64(1), stats.PoolMisses)
}

func TestFreeReturnsBlockToPoolForReuse(t *testing.T) {
	g := newTestGlobal(t)
	pool, err := NewPool(g, 0, 8, smallTiers(), rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	var addrs []paddr.PhysicalAddress
	for i := 0; i < 4; i++ {
		addr, err := pool.Alloc(1)
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}
	pool.Free(addrs[0], 1)

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.PoolFreeHits)

	reused, err := pool.Alloc(1)
	require.NoError(t, err)
	assert.Equal(t, addrs[0], reused)
}

func TestOversizeRequestBypassesPool(t *testing.T) {
	g := newTestGlobal(t)
	pool, err := NewPool(g, 0, 8, smallTiers(), rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Alloc(1 << 20)
	require.NoError(t, err)

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.PoolMisses)
}
