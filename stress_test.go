package pagefrag_test

import (
	"sync"
	"testing"

	"github.com/fragcache/pagefrag"
	"github.com/fragcache/pagefrag/blockpool"
	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/assert"
)

// TestConcurrentCachesShareOnePoolSafely is the one concurrency scenario
// this package tolerates: many goroutines, each pinning its own Cache,
// all drawing from one shared BlockAllocator.
func TestConcurrentCachesShareOnePoolSafely(t *testing.T) {
	const goroutines = 32
	const allocsPerGoroutine = 2000

	bp := blockpool.New(blockpool.DefaultOptions)

	p := pool.New().WithMaxGoroutines(goroutines)
	var mu sync.Mutex
	var seen []uintptr

	for g := 0; g < goroutines; g++ {
		p.Go(func() {
			c := pagefrag.New(bp)
			local := make([]uintptr, 0, allocsPerGoroutine)
			for i := 0; i < allocsPerGoroutine; i++ {
				addr, err := c.Alloc(48, pagefrag.DefaultOptions.Flags, pagefrag.AlignMask(8))
				if err != nil {
					t.Errorf("alloc failed: %v", err)
					return
				}
				local = append(local, addr)
			}
			c.Drain()

			mu.Lock()
			seen = append(seen, local...)
			mu.Unlock()
		})
	}
	p.Wait()

	assert.Len(t, seen, goroutines*allocsPerGoroutine)

	dedup := make(map[uintptr]bool, len(seen))
	for _, addr := range seen {
		dedup[addr] = true
	}
	assert.Len(t, dedup, len(seen), "no two goroutines should ever observe the same fragment address")
}

// TestConcurrentPressureToggleDoesNotCorruptState exercises SetPressured
// flipping concurrently with ordinary allocation traffic.
func TestConcurrentPressureToggleDoesNotCorruptState(t *testing.T) {
	bp := blockpool.New(blockpool.Options{ReserveSize: 64 * pagefrag.MaxSize})

	p := pool.New().WithMaxGoroutines(8)
	for g := 0; g < 4; g++ {
		p.Go(func() {
			c := pagefrag.New(bp)
			for i := 0; i < 500; i++ {
				_, _ = c.Alloc(32, pagefrag.DefaultOptions.Flags, pagefrag.NoAlign)
			}
		})
	}
	p.Go(func() {
		for i := 0; i < 200; i++ {
			bp.SetPressured(i%2 == 0)
		}
	})
	p.Wait()
}
