// Package hostpool is a warm-object reuse cache fronting memory.Global,
// adapted from mpool/mpool.go: the teacher's three hardcoded small/
// medium/large tiers generalized to an arbitrary ordered list of size
// tiers, each pre-filled with already-allocated blocks handed out before
// falling through to memory.Alloc, with the same hit/miss PoolStats the
// teacher tracks. A request or free that doesn't fit any configured
// tier's ceiling bypasses the pool entirely, straight to memory.Alloc/
// Dealloc, exactly as the teacher's switch-case falls through to
// allocator.Allocate/Free.
package hostpool

import (
	"fmt"
	"math/rand"

	"go.uber.org/atomic"

	"github.com/shenjiangwei/kpalloc/ksync"
	"github.com/shenjiangwei/kpalloc/memory"
	"github.com/shenjiangwei/kpalloc/paddr"
)

// TierConfig describes one warm tier: Capacity pre-allocated blocks,
// each sized randomly in (previous tier's MaxSize, MaxSize].
type TierConfig struct {
	MaxSize  uint64
	Capacity int
}

type block struct {
	addr paddr.PhysicalAddress
	size uint64
	used bool
}

// poolStats mirrors mpool.PoolStats field for field, as atomics so
// concurrent Alloc/Free calls can update counters without contending on
// the pool's main spinlock for the stats alone.
type poolStats struct {
	totalAllocations atomic.Uint64
	poolHits         atomic.Uint64
	poolMisses       atomic.Uint64
	totalFrees       atomic.Uint64
	poolFreeHits     atomic.Uint64
	poolFreeMisses   atomic.Uint64
}

// Stats is a point-in-time snapshot of a Pool's hit/miss counters.
type Stats struct {
	TotalAllocations uint64
	PoolHits         uint64
	PoolMisses       uint64
	TotalFrees       uint64
	PoolFreeHits     uint64
	PoolFreeMisses   uint64
}

// Pool is a warm-object cache of blocks pre-allocated from a
// memory.Global, organized into ascending size tiers.
type Pool struct {
	g      *memory.Global
	hartID int
	align  uint64
	tiers  []TierConfig
	state  *ksync.Spinlock[[][]block]
	stats  poolStats
}

// NewPool pre-allocates every configured tier's blocks from g and
// returns the resulting Pool. Pre-allocation failure (the allocator ran
// out of room for the warm set itself) unwinds every block already
// taken before returning the error.
func NewPool(g *memory.Global, hartID int, align uint64, tiers []TierConfig, rng *rand.Rand) (*Pool, error) {
	state := make([][]block, len(tiers))
	lower := uint64(0)

	for i, tier := range tiers {
		blocks := make([]block, tier.Capacity)
		for j := 0; j < tier.Capacity; j++ {
			size := lower + 1 + uint64(rng.Int63n(int64(tier.MaxSize-lower)))
			addr, err := g.Alloc(hartID, size, align)
			if err != nil {
				state[i] = blocks[:j]
				unwindPool(g, hartID, align, state)
				return nil, fmt.Errorf("hostpool: pre-allocate tier %d block %d: %w", i, j, err)
			}
			blocks[j] = block{addr: addr, size: size}
		}
		state[i] = blocks
		lower = tier.MaxSize
	}

	return &Pool{
		g:      g,
		hartID: hartID,
		align:  align,
		tiers:  tiers,
		state:  ksync.NewSpinlock(state),
	}, nil
}

func unwindPool(g *memory.Global, hartID int, align uint64, state [][]block) {
	for _, tierBlocks := range state {
		for _, b := range tierBlocks {
			g.Dealloc(hartID, b.addr, b.size, align)
		}
	}
}

// tierFor returns the index of the first tier whose MaxSize can hold
// size, or -1 if size exceeds every configured tier.
func (p *Pool) tierFor(size uint64) int {
	for i, tier := range p.tiers {
		if size <= tier.MaxSize {
			return i
		}
	}
	return -1
}

// Alloc returns a warm block from the matching tier if one is free,
// falling through to memory.Alloc on a miss or on an oversize request.
func (p *Pool) Alloc(size uint64) (paddr.PhysicalAddress, error) {
	p.stats.totalAllocations.Inc()

	g := p.state.Lock()
	defer g.Unlock()

	if i := p.tierFor(size); i >= 0 {
		blocks := (*g.Value())[i]
		for j := range blocks {
			if !blocks[j].used && blocks[j].size >= size {
				blocks[j].used = true
				p.stats.poolHits.Inc()
				return blocks[j].addr, nil
			}
		}
	}

	p.stats.poolMisses.Inc()
	return p.g.Alloc(p.hartID, size, p.align)
}

// Free returns addr to its owning tier's warm set if it was handed out
// from one, falling through to memory.Dealloc otherwise.
func (p *Pool) Free(addr paddr.PhysicalAddress, size uint64) {
	p.stats.totalFrees.Inc()

	g := p.state.Lock()
	defer g.Unlock()

	if i := p.tierFor(size); i >= 0 {
		blocks := (*g.Value())[i]
		for j := range blocks {
			if blocks[j].addr == addr {
				blocks[j].used = false
				p.stats.poolFreeHits.Inc()
				return
			}
		}
	}

	p.stats.poolFreeMisses.Inc()
	p.g.Dealloc(p.hartID, addr, size, p.align)
}

// Close releases every warm block, pool-hit or not, back to the backing
// allocator.
func (p *Pool) Close() {
	g := p.state.Lock()
	defer g.Unlock()
	unwindPool(p.g, p.hartID, p.align, *g.Value())
}

// Stats returns a snapshot of the pool's hit/miss counters.
func (p *Pool) Stats() Stats {
	return Stats{
		TotalAllocations: p.stats.totalAllocations.Load(),
		PoolHits:         p.stats.poolHits.Load(),
		PoolMisses:       p.stats.poolMisses.Load(),
		TotalFrees:       p.stats.totalFrees.Load(),
		PoolFreeHits:     p.stats.poolFreeHits.Load(),
		PoolFreeMisses:   p.stats.poolFreeMisses.Load(),
	}
}
