package pool

// cacheEntry is one deferred free sitting in a ThreadCache ring, waiting
// either to be reused by a matching allocate call or to be trimmed back
// to its owning Arena.
type cacheEntry struct {
	chunkID  int32
	handle64 uint64
	norm     int64
}

// classCache is a fixed-capacity ring buffer over one (kind, size class)
// pair. A capacity of zero disables caching for that class entirely:
// tryPop always misses and tryPush always reports "not cached", which is
// how spec.md's normal classes above MaxCachedBufferCapacity get
// excluded without a separate code path.
type classCache struct {
	entries    []cacheEntry
	head, size int
	allocs     int // hits since the last trim; drives shrink-to-working-set
}

func newClassCache(capacity int) *classCache {
	if capacity <= 0 {
		return &classCache{}
	}
	return &classCache{entries: make([]cacheEntry, capacity)}
}

func (cc *classCache) cap() int { return len(cc.entries) }

func (cc *classCache) push(e cacheEntry) bool {
	if cc.size == len(cc.entries) {
		return false
	}
	tail := (cc.head + cc.size) % len(cc.entries)
	cc.entries[tail] = e
	cc.size++
	return true
}

func (cc *classCache) pop() (cacheEntry, bool) {
	if cc.size == 0 {
		return cacheEntry{}, false
	}
	e := cc.entries[cc.head]
	cc.head = (cc.head + 1) % len(cc.entries)
	cc.size--
	return e, true
}

// classCacheSet is one family of rings — tiny, small, and normal — bound
// to a single kind (heap or direct). ThreadCache keeps two of these so
// that a heap entry can never be mistakenly popped to satisfy a direct
// request or vice versa.
type classCacheSet struct {
	tiny   [tinyClassCount]*classCache
	small  []*classCache // len numSmallClasses
	normal []*classCache // indexed by buddy-tree depth
}

func newClassCacheSet(sc *sizeClasses, tinyCap, smallCap, normalCap int, maxCachedCapacity int64) *classCacheSet {
	s := &classCacheSet{
		small:  make([]*classCache, sc.numSmallClasses),
		normal: make([]*classCache, sc.maxOrder+1),
	}
	for i := 1; i < tinyClassCount; i++ {
		s.tiny[i] = newClassCache(tinyCap)
	}
	for i := range s.small {
		s.small[i] = newClassCache(smallCap)
	}
	for depth := range s.normal {
		capacity := normalCap
		if sc.runSize(depth) > maxCachedCapacity {
			capacity = 0
		}
		s.normal[depth] = newClassCache(capacity)
	}
	return s
}

func (s *classCacheSet) classCache(family sizeFamily, idx int) *classCache {
	switch family {
	case familyTiny:
		return s.tiny[idx]
	case familySmall:
		return s.small[idx]
	default:
		return s.normal[idx]
	}
}

func (s *classCacheSet) each(fn func(*classCache)) {
	for i := 1; i < tinyClassCount; i++ {
		fn(s.tiny[i])
	}
	for _, cc := range s.small {
		fn(cc)
	}
	for _, cc := range s.normal {
		fn(cc)
	}
}

// ThreadCache is a single goroutine's private stash of freed allocations,
// plumbed explicitly through the caller's own value rather than kept in
// a real thread-local, since Go has none (spec.md §9's design notes; the
// teacher's Arena.Alloc has no analogue for this precisely because
// bnclabs-gostore never had goroutine-affine allocation to begin with).
//
// A ThreadCache is bound to exactly one heap Arena and one direct Arena
// on first use and keeps returning to the same pair for its whole
// lifetime, so an Allocator's arena selection only ever runs once per
// cache (spec.md §5).
type ThreadCache struct {
	heapArena, directArena *arena
	heap, direct           *classCacheSet

	opsSinceTrim int
	trimInterval int
}

func newThreadCache(sc *sizeClasses, cfg Config) *ThreadCache {
	return &ThreadCache{
		trimInterval: cfg.CacheTrimInterval,
		heap:         newClassCacheSet(sc, cfg.TinyCacheSize, cfg.SmallCacheSize, cfg.NormalCacheSize, int64(cfg.MaxCachedBufferCapacity)),
		direct:       newClassCacheSet(sc, cfg.TinyCacheSize, cfg.SmallCacheSize, cfg.NormalCacheSize, int64(cfg.MaxCachedBufferCapacity)),
	}
}

func (tc *ThreadCache) arenaFor(direct bool) *arena {
	if direct {
		return tc.directArena
	}
	return tc.heapArena
}

func (tc *ThreadCache) setFor(direct bool) *classCacheSet {
	if direct {
		return tc.direct
	}
	return tc.heap
}

// tryPop attempts the wait-free fast path: no lock, no arena traffic. A
// hit also counts toward both the per-class allocs figure trim() reads
// and the cache-wide counter that schedules the next trim (spec.md §4.E:
// "on hit also increments allocations; every trimInterval allocations
// triggers trim()").
func (tc *ThreadCache) tryPop(direct bool, family sizeFamily, idx int) (int32, uint64, bool) {
	if tc.arenaFor(direct) == nil {
		return 0, 0, false
	}
	cc := tc.setFor(direct).classCache(family, idx)
	e, ok := cc.pop()
	if !ok {
		return 0, 0, false
	}
	cc.allocs++
	tc.opsSinceTrim++
	if tc.trimInterval > 0 && tc.opsSinceTrim >= tc.trimInterval {
		tc.trim()
		tc.opsSinceTrim = 0
	}
	return e.chunkID, e.handle64, true
}

// tryPush attempts to stash a freed allocation instead of returning it to
// the arena immediately.
func (tc *ThreadCache) tryPush(direct bool, family sizeFamily, idx int, chunkID int32, handle64 uint64, norm int64) bool {
	if tc.arenaFor(direct) == nil {
		return false
	}
	cc := tc.setFor(direct).classCache(family, idx)
	if cc.cap() == 0 {
		return false
	}
	return cc.push(cacheEntry{chunkID: chunkID, handle64: handle64, norm: norm})
}

// trim shrinks every ring down to its recent working set (spec.md §4.E):
// a ring that saw fewer hits than its capacity since the last trim is
// holding more than the thread is actually reusing, so the surplus
// (capacity - allocs) oldest entries are freed back to the owning arena.
// A ring that was fully reused keeps everything it holds.
func (tc *ThreadCache) trim() {
	tc.shrink(false, false)
	tc.shrink(true, false)
}

// drainAll empties every ring unconditionally, used when a ThreadCache is
// being retired (Allocator.ReleaseCache) rather than merely trimmed.
func (tc *ThreadCache) drainAll() {
	tc.shrink(false, true)
	tc.shrink(true, true)
}

func (tc *ThreadCache) shrink(direct, full bool) {
	a := tc.arenaFor(direct)
	if a == nil {
		return
	}
	tc.setFor(direct).each(func(cc *classCache) {
		capacity := cc.cap()
		if capacity == 0 {
			return
		}
		evict := capacity - cc.allocs
		if full {
			evict = capacity
		}
		for i := 0; i < evict; i++ {
			e, ok := cc.pop()
			if !ok {
				break
			}
			if c := a.chunkByID(e.chunkID); c != nil {
				h := Handle{arenaID: a.id, chunkID: e.chunkID, handle64: e.handle64, maxLength: e.norm}
				_ = a.free(h)
			}
		}
		cc.allocs = 0
	})
}
