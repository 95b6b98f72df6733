// Command bbpoolbench prints an Allocator's chunk size and each arena's
// band occupancy and, if -bench is given, drives a quick multi-goroutine
// allocate/release loop and reports throughput. Grounded on the teacher's
// tools/pools command: a flag-parsed options struct feeding a couple of
// plain report functions, no subcommand framework.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/prataprc/bbpool/pool"
)

var options struct {
	pageSize   int
	maxOrder   int
	heapArenas int
	bench      bool
	goroutines int
	duration   time.Duration
}

func argParse() {
	flag.IntVar(&options.pageSize, "pagesize", 8192, "arena page size")
	flag.IntVar(&options.maxOrder, "maxorder", 11, "buddy-tree depth per chunk")
	flag.IntVar(&options.heapArenas, "heaparenas", 4, "number of heap arenas")
	flag.BoolVar(&options.bench, "bench", false, "run an allocate/release throughput probe")
	flag.IntVar(&options.goroutines, "goroutines", 8, "goroutines for -bench")
	flag.DurationVar(&options.duration, "duration", 2*time.Second, "how long -bench runs")
	flag.Parse()
}

func main() {
	argParse()

	cfg := pool.DefaultConfig()
	cfg.PageSize = options.pageSize
	cfg.MaxOrder = options.maxOrder
	cfg.NumHeapArenas = options.heapArenas
	cfg.NumDirectArenas = 0

	al, err := pool.NewAllocator(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bbpoolbench:", err)
		os.Exit(1)
	}

	tellsizeclasses(al)
	if options.bench {
		runbench(al)
	}
}

func tellsizeclasses(al *pool.Allocator) {
	fmt.Printf("chunk size %v bytes across %v heap arenas\n", int64(options.pageSize)<<uint(options.maxOrder), options.heapArenas)
	m := al.Metrics()
	for i, am := range m.Arenas {
		kind := "heap"
		if am.Direct {
			kind = "direct"
		}
		fmt.Printf("arena %2d (%s): %v bytes used across %v thread caches\n", i, kind, am.UsedBytes, am.ThreadCaches)
		for _, b := range am.Bands {
			fmt.Printf("  %-6s %4d chunks\n", b.Band, b.Chunks)
		}
	}
}

func runbench(al *pool.Allocator) {
	sizes := []int64{16, 256, 4096, 65536}
	var wg sync.WaitGroup
	var ops int64
	var mu sync.Mutex
	stop := make(chan struct{})
	time.AfterFunc(options.duration, func() { close(stop) })

	wg.Add(options.goroutines)
	for g := 0; g < options.goroutines; g++ {
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			tc := al.NewThreadCache()
			defer al.ReleaseCache(tc)
			var local int64
			for {
				select {
				case <-stop:
					mu.Lock()
					ops += local
					mu.Unlock()
					return
				default:
				}
				size := sizes[rng.Intn(len(sizes))]
				h, err := al.Allocate(tc, pool.Heap, size, size)
				if err != nil {
					continue
				}
				al.Release(tc, h)
				local++
			}
		}(int64(g) + 1)
	}
	wg.Wait()

	fmt.Printf("%v allocate/release pairs in %v across %v goroutines (%.0f ops/sec)\n",
		ops, options.duration, options.goroutines, float64(ops)/options.duration.Seconds())
}
