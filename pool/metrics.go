package pool

import "sync/atomic"

// BandOccupancy reports how many chunks currently sit in one utilization
// band of one arena (spec.md §3/§8's observability requirement).
type BandOccupancy struct {
	Band   string
	Chunks int
}

// ArenaMetrics is a point-in-time snapshot of one Arena.
type ArenaMetrics struct {
	Direct bool
	Bands  []BandOccupancy

	AllocatedTiny, AllocatedSmall, AllocatedNormal, AllocatedHuge         int64
	DeallocatedTiny, DeallocatedSmall, DeallocatedNormal, DeallocatedHuge int64

	ThreadCaches int64
	UsedBytes    int64
}

// Metrics is the Allocator-wide snapshot returned by Allocator.Metrics.
type Metrics struct {
	Arenas []ArenaMetrics

	// UsedHeapBytes and UsedDirectBytes are best-effort totals across
	// every arena of the matching kind, saturating at math.MaxInt64
	// rather than wrapping if a pathological workload could ever
	// overflow them (spec.md §6).
	UsedHeapBytes, UsedDirectBytes int64
}

var bandNames = map[chunkBand]string{
	bandQInit: "qInit",
	bandQ000:  "q000",
	bandQ025:  "q025",
	bandQ050:  "q050",
	bandQ075:  "q075",
	bandQ100:  "q100",
}

func snapshotArena(a *arena) ArenaMetrics {
	a.mu.Lock()
	bands := make([]BandOccupancy, 0, len(bandOrder))
	var used int64
	for _, b := range bandOrder {
		n := 0
		a.lists[b].each(func(c *chunk) {
			n++
			used = saturatingAdd(used, c.chunkSize-c.freeBytes)
		})
		bands = append(bands, BandOccupancy{Band: bandNames[b], Chunks: n})
	}
	for _, c := range a.chunks {
		if c != nil && c.unpooled {
			used = saturatingAdd(used, c.chunkSize)
		}
	}
	a.mu.Unlock()

	m := ArenaMetrics{
		Direct:            a.direct,
		Bands:             bands,
		AllocatedTiny:     atomic.LoadInt64(&a.allocTiny),
		AllocatedSmall:    atomic.LoadInt64(&a.allocSmall),
		AllocatedNormal:   atomic.LoadInt64(&a.allocNormal),
		AllocatedHuge:     atomic.LoadInt64(&a.allocHuge),
		DeallocatedTiny:   atomic.LoadInt64(&a.deallocTiny),
		DeallocatedSmall:  atomic.LoadInt64(&a.deallocSmall),
		DeallocatedNormal: atomic.LoadInt64(&a.deallocNormal),
		DeallocatedHuge:   atomic.LoadInt64(&a.deallocHuge),
		ThreadCaches:      atomic.LoadInt64(&a.numThreadCaches),
		UsedBytes:         used,
	}
	return m
}

func saturatingAdd(a, b int64) int64 {
	sum := a + b
	if sum < a || sum < b {
		return 1<<63 - 1
	}
	return sum
}

// Metrics snapshots every arena. It takes each arena's lock in turn, so
// it should not be called on a hot path; it exists for periodic export
// to a monitoring system, not for per-request accounting.
func (al *Allocator) Metrics() Metrics {
	m := Metrics{Arenas: make([]ArenaMetrics, len(al.arenas))}
	for i, a := range al.arenas {
		am := snapshotArena(a)
		m.Arenas[i] = am
		if a.direct {
			m.UsedDirectBytes = saturatingAdd(m.UsedDirectBytes, am.UsedBytes)
		} else {
			m.UsedHeapBytes = saturatingAdd(m.UsedHeapBytes, am.UsedBytes)
		}
	}
	return m
}
