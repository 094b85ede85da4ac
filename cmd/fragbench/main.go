// Command fragbench compares the GC pause time caused by pagefrag's
// allocations against bigcache's slab allocator and a bare make([]byte,n)
// baseline, the same shape of comparison the allocator's own gc/main.go
// runs against bigcache and a stdlib map.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/fragcache/pagefrag"
	"github.com/fragcache/pagefrag/blockpool"
)

var previousPause time.Duration

func gcPause() time.Duration {
	runtime.GC()
	var stats debug.GCStats
	debug.ReadGCStats(&stats)
	pause := stats.PauseTotal - previousPause
	previousPause = stats.PauseTotal
	return pause
}

func main() {
	target := ""
	allocs := 0
	repeat := 0
	fragSize := 0
	flag.StringVar(&target, "target", "pagefrag", "allocator to bench: pagefrag, bigcache, baseline")
	flag.IntVar(&allocs, "allocs", 2_000_000, "number of fragments to allocate per run")
	flag.IntVar(&repeat, "repeat", 20, "number of repetitions")
	flag.IntVar(&fragSize, "frag-size", 64, "size of each fragment in bytes")
	flag.Parse()

	debug.SetGCPercent(10)
	fmt.Println("Target:            ", target)
	fmt.Println("Number of allocs:  ", allocs)
	fmt.Println("Number of repeats: ", repeat)
	fmt.Println("Fragment size:     ", fragSize)

	var benchFunc func(allocs, fragSize int)
	switch target {
	case "pagefrag":
		benchFunc = pagefragBench
	case "bigcache":
		benchFunc = bigcacheBench
	case "baseline":
		benchFunc = baselineBench
	default:
		fmt.Printf("unknown target: %s\n", target)
		os.Exit(1)
	}

	benchFunc(allocs, fragSize)
	fmt.Println("GC pause for startup:", gcPause())
	for i := 0; i < repeat; i++ {
		benchFunc(allocs, fragSize)
	}
	fmt.Printf("GC pause for %s: %s\n", target, gcPause())
}

func pagefragBench(allocs, fragSize int) {
	pool := blockpool.New(blockpool.DefaultOptions)
	c := pagefrag.New(pool)
	for i := 0; i < allocs; i++ {
		if _, err := c.Alloc(uint32(fragSize), pagefrag.DefaultOptions.Flags, pagefrag.NoAlign); err != nil {
			panic(err)
		}
	}
	c.Drain()
}

func bigcacheBench(allocs, fragSize int) {
	config := bigcache.Config{
		Shards:             256,
		LifeWindow:         100 * time.Minute,
		MaxEntriesInWindow: allocs,
		MaxEntrySize:       fragSize,
	}
	bc, err := bigcache.New(context.Background(), config)
	if err != nil {
		panic(err)
	}
	val := make([]byte, fragSize)
	for i := 0; i < allocs; i++ {
		key := keyFor(i)
		if err := bc.Set(key, val); err != nil {
			panic(err)
		}
	}
}

func baselineBench(allocs, fragSize int) {
	for i := 0; i < allocs; i++ {
		_ = make([]byte, fragSize)
	}
}

func keyFor(i int) string {
	buf := make([]byte, 0, 12)
	buf = append(buf, 'k')
	for i > 0 {
		buf = append(buf, byte('0'+i%10))
		i /= 10
	}
	return string(buf)
}
