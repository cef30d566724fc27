// Command bootsim is the boot simulator: it plays the role of the
// RISC-V boot hart, calling memory.Init against a real mmap'd arena,
// printing the bootlog summary, and then running a bounded
// multi-goroutine stress harness -- one goroutine per simulated hart --
// exercising alloc/dealloc across both the slab size classes and buddy
// orders. Adapted from the teacher's main.go runTest/StressTest
// goroutine-pool harness, bounded to the size of the real (finite) ram
// arena instead of unbounded TB-scale targets a freestanding kernel
// would never actually need to survive in a hosted test.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shenjiangwei/kpalloc/bootlog"
	"github.com/shenjiangwei/kpalloc/memory"
	"github.com/shenjiangwei/kpalloc/paddr"
)

type liveBlock struct {
	addr paddr.PhysicalAddress
	size uint64
}

// sizeMenu is the mix of request sizes the harness draws from: every
// slab size class plus a handful of multi-page buddy sizes, matching
// spec.md §4.8's two allocator paths.
var sizeMenu = []uint64{
	8, 16, 32, 64, 128, 256, 512, 1024, 2048,
	4096, 8192, 16384, 65536,
}

// counter is a plain mutex-protected uint64 used for the harness's own
// bookkeeping, which has no hot-path latency requirement unlike the
// atomics inside the allocator core itself.
type counter struct {
	mu  sync.Mutex
	val uint64
}

func (c *counter) Add(n uint64) {
	c.mu.Lock()
	c.val += n
	c.mu.Unlock()
}

func (c *counter) Load() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val
}

// totals accumulates op counts across every hart's worker goroutine.
type totals struct {
	allocs        counter
	frees         counter
	allocFailures counter
}

func worker(g *memory.Global, hartID, opsPerHart int, rng *rand.Rand, t *totals) {
	var live []liveBlock

	for i := 0; i < opsPerHart; i++ {
		if len(live) == 0 || rng.Float64() < 0.7 {
			size := sizeMenu[rng.Intn(len(sizeMenu))]
			addr, err := g.Alloc(hartID, size, 8)
			if err != nil {
				t.allocFailures.Add(1)
				continue
			}
			live = append(live, liveBlock{addr: addr, size: size})
			t.allocs.Add(1)
			continue
		}

		idx := rng.Intn(len(live))
		block := live[idx]
		live[idx] = live[len(live)-1]
		live = live[:len(live)-1]
		g.Dealloc(hartID, block.addr, block.size, 8)
		t.frees.Add(1)
	}

	for _, block := range live {
		g.Dealloc(hartID, block.addr, block.size, 8)
		t.frees.Add(1)
	}
}

func runStress(g *memory.Global, harts, totalOps int, seed int64) {
	opsPerHart := totalOps / harts

	var wg sync.WaitGroup
	t := &totals{}
	start := time.Now()

	for h := 0; h < harts; h++ {
		wg.Add(1)
		hartID := h
		rng := rand.New(rand.NewSource(seed + int64(hartID)))
		go func() {
			defer wg.Done()
			worker(g, hartID, opsPerHart, rng, t)
		}()
	}
	wg.Wait()

	bootlog.Info("stress harness: %d harts, %d ops/hart, duration %v", harts, opsPerHart, time.Since(start))
	bootlog.Info("stress harness: allocs=%d frees=%d failures=%d", t.allocs.Load(), t.frees.Load(), t.allocFailures.Load())
}

func main() {
	ramMB := flag.Int("ram-mb", 16, "simulated RAM size in MiB")
	harts := flag.Int("harts", 4, "number of simulated harts")
	ops := flag.Int("ops", 20000, "total alloc/dealloc operations across all harts")
	seed := flag.Int64("seed", 1, "PRNG seed")
	flag.Parse()

	g, err := memory.Init(paddr.PhysicalAddress(0), uint64(*ramMB)*1024*1024, *harts)
	if err != nil {
		bootlog.Fatal("bootsim: init failed: %v", err)
	}
	defer g.Close()

	runStress(g, *harts, *ops, *seed)

	fmt.Printf("final bitmap: %0*b\n", int(g.Orders()), g.Bitmap())
}
