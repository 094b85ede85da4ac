// Command fragstress runs many goroutines, each pinning its own Cache,
// against one shared blockpool.Pool indefinitely, reporting throughput
// and live block counts the way the allocator's own example/main.go
// reports its own running Set/Get stats.
package main

import (
	"flag"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/fragcache/pagefrag"
	"github.com/fragcache/pagefrag/blockpool"
	"github.com/sourcegraph/conc/pool"
)

func main() {
	workers := 0
	fragSize := 0
	reserveBlocks := 0
	flag.IntVar(&workers, "workers", runtime.NumCPU(), "number of concurrent Caches")
	flag.IntVar(&fragSize, "frag-size", 48, "size of each fragment in bytes")
	flag.IntVar(&reserveBlocks, "reserve-blocks", 64, "max-order blocks held in the emergency reserve")
	flag.Parse()

	bp := blockpool.New(blockpool.Options{ReserveSize: reserveBlocks * pagefrag.MaxSize})

	var total atomic.Int64
	start := time.Now()

	go func() {
		for {
			time.Sleep(time.Second)
			n := total.Load()
			elapsed := time.Since(start).Seconds()
			stats := bp.Stats().Snapshot()
			fmt.Printf("[fragstress] %.0fs  allocs: %dk  rate: %.0fk/s  live blocks: %d  reuses: %d  reserve hits: %d\n",
				elapsed, n/1000, float64(n)/elapsed/1000, stats.Live, stats.Reused, stats.ReserveHits)
		}
	}()

	p := pool.New().WithMaxGoroutines(workers)
	for w := 0; w < workers; w++ {
		p.Go(func() {
			c := pagefrag.New(bp)
			for {
				if _, err := c.Alloc(uint32(fragSize), pagefrag.DefaultOptions.Flags, pagefrag.AlignMask(8)); err != nil {
					// Drain and retry: a transient pressure toggle or a
					// momentarily exhausted reserve should not wedge a
					// worker permanently.
					c.Drain()
					time.Sleep(time.Millisecond)
					continue
				}
				total.Add(1)
			}
		})
	}
	p.Wait()
}
