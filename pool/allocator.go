package pool

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Kind selects which memory an Allocate call is served from.
type Kind int

const (
	// Heap requests are backed by ordinary Go-heap memory.
	Heap Kind = iota
	// Direct requests are backed by off-heap native memory (mmap on
	// unix, cgo malloc elsewhere), kept out of the GC's scan set.
	Direct
)

func (k Kind) String() string {
	if k == Direct {
		return "direct"
	}
	return "heap"
}

// Allocator is the facade spec.md §1 describes: an application talks
// only to this type and to the Handle values it hands back, never to an
// Arena, Chunk, or Subpage directly.
type Allocator struct {
	cfg         Config
	sizeClasses *sizeClasses
	logger      *slog.Logger

	arenas    []*arena // heap arenas first, then direct arenas
	numHeap   int
	numDirect int
}

// NewAllocator validates cfg and builds every configured Arena up front.
// Arenas are cheap to construct (they hold no Chunks until first use), so
// there is no lazy-arena path to reason about.
func NewAllocator(cfg Config) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sc := newSizeClasses(int64(cfg.PageSize), cfg.MaxOrder)
	al := &Allocator{
		cfg:         cfg,
		sizeClasses: sc,
		logger:      logger,
		numHeap:     cfg.NumHeapArenas,
		numDirect:   cfg.NumDirectArenas,
	}
	al.arenas = make([]*arena, cfg.NumHeapArenas+cfg.NumDirectArenas)
	for i := 0; i < cfg.NumHeapArenas; i++ {
		al.arenas[i] = newArena(int32(i), sc, false, 0)
		al.arenas[i].logger = logger
	}
	for i := 0; i < cfg.NumDirectArenas; i++ {
		id := cfg.NumHeapArenas + i
		al.arenas[id] = newArena(int32(id), sc, true, int64(cfg.DirectMemoryCacheAlignment))
		al.arenas[id].logger = logger
	}
	return al, nil
}

func (al *Allocator) heapArenas() []*arena   { return al.arenas[:al.numHeap] }
func (al *Allocator) directArenas() []*arena { return al.arenas[al.numHeap:] }

// NewThreadCache builds a ThreadCache for one goroutine's exclusive use.
// A ThreadCache does not pick its Arenas until the first Allocate call
// routed through it; a goroutine that never allocates never touches an
// Arena's mutex or increments its numThreadCaches count.
func (al *Allocator) NewThreadCache() *ThreadCache {
	return newThreadCache(al.sizeClasses, al.cfg)
}

// ReleaseCache drains every ring in tc back to its owning arenas and
// releases tc's slot in their load counts. Callers should invoke this
// when a goroutine that owned tc is about to exit, the same way a
// database connection pool expects Put before a connection's owner
// disappears.
func (al *Allocator) ReleaseCache(tc *ThreadCache) {
	tc.drainAll()
	if tc.heapArena != nil {
		atomic.AddInt64(&tc.heapArena.numThreadCaches, -1)
		al.logger.Debug("pool: thread cache evicted", "arena", tc.heapArena.id, "kind", Heap.String())
	}
	if tc.directArena != nil {
		atomic.AddInt64(&tc.directArena.numThreadCaches, -1)
		al.logger.Debug("pool: thread cache evicted", "arena", tc.directArena.id, "kind", Direct.String())
	}
	tc.heapArena, tc.directArena = nil, nil
}

// pickArena implements the least-used selection spec.md §4.F requires: a
// deterministic linear scan from index 0, keeping the first arena seen at
// the lowest numThreadCaches, matching the Java ground truth's
// leastUsedArena (a plain scan, no hashing or randomized start).
func (al *Allocator) pickArena(arenas []*arena) *arena {
	if len(arenas) == 0 {
		return nil
	}
	best := arenas[0]
	bestLoad := atomic.LoadInt64(&best.numThreadCaches)
	for _, c := range arenas[1:] {
		if load := atomic.LoadInt64(&c.numThreadCaches); load < bestLoad {
			best, bestLoad = c, load
		}
	}
	atomic.AddInt64(&best.numThreadCaches, 1)
	return best
}

func (al *Allocator) bind(tc *ThreadCache) {
	if tc.heapArena == nil && al.numHeap > 0 {
		tc.heapArena = al.pickArena(al.heapArenas())
		al.logger.Debug("pool: thread cache registered", "arena", tc.heapArena.id, "kind", Heap.String())
	}
	if tc.directArena == nil && al.numDirect > 0 {
		tc.directArena = al.pickArena(al.directArenas())
		al.logger.Debug("pool: thread cache registered", "arena", tc.directArena.id, "kind", Direct.String())
	}
}

// Allocate reserves a Handle of at least reqCapacity bytes (spec.md
// §4.D). The Handle's MaxLength is reqCapacity normalized to its size
// class; maxCapacity is only validated (it must be >= reqCapacity and
// within the package ceiling) and reserves nothing beyond that. tc must
// come from NewThreadCache;
// passing nil is a programmer error and returns ErrHandleInvalid.
func (al *Allocator) Allocate(tc *ThreadCache, kind Kind, reqCapacity, maxCapacity int64) (Handle, error) {
	if tc == nil {
		return Handle{}, fmt.Errorf("%w: nil ThreadCache", ErrHandleInvalid)
	}
	al.bind(tc)

	direct := kind == Direct
	a := tc.arenaFor(direct)
	if a == nil {
		return Handle{}, fmt.Errorf("%w: no %s arenas configured", ErrConfigInvalid, kind)
	}

	if reqCapacity < 0 || maxCapacity < reqCapacity {
		return Handle{}, fmt.Errorf("%w: reqCapacity=%d maxCapacity=%d", ErrCapacityInvalid, reqCapacity, maxCapacity)
	}
	norm := al.sizeClasses.normalize(reqCapacity)
	if norm > 0 {
		if family, idx := al.sizeClasses.classify(norm); family != familyHuge {
			if chunkID, handle64, ok := tc.tryPop(direct, family, idx); ok {
				if h, ok := al.fromCached(a, chunkID, handle64, reqCapacity, norm); ok {
					return h, nil
				}
			}
		}
	}
	return a.allocate(reqCapacity, maxCapacity)
}

// fromCached rebuilds a Handle around a (chunkID, handle64) pair popped
// from a ThreadCache ring. ok is false only if the chunk was somehow
// already reclaimed out from under the cache entry, which should never
// happen in practice (a cached entry still counts as allocated, so a
// chunk holding one is never completely free and never destroyed) but is
// checked rather than assumed.
func (al *Allocator) fromCached(a *arena, chunkID int32, handle64 uint64, reqCapacity, norm int64) (Handle, bool) {
	c := a.chunkByID(chunkID)
	if c == nil {
		return Handle{}, false
	}
	isSubpage, mmIdx, bitmapIdx := decodeHandle64(handle64)
	offset := c.offsetOf(mmIdx)
	if isSubpage {
		offset += int64(bitmapIdx) * norm
	}
	h := Handle{arenaID: a.id, chunkID: chunkID, handle64: handle64, offset: offset, length: reqCapacity, maxLength: norm}
	initRegion(c.region, offset, norm)
	return h, true
}

// Release returns h to the pool: first tc's own cache (spec.md §7's
// deferred-free fast path), and only on a miss the owning Arena's lock.
// Releasing the zero Handle is a no-op.
//
// A handle is cached in tc only when h's owning arena is the arena tc is
// bound to for h's kind. tc's ring for h's kind is bound to whichever
// arena that ThreadCache itself was assigned, which is not necessarily
// h's actual owning arena when more than one arena of that kind exists —
// caching it there would let a later Allocate on tc pop a (chunkID,
// handle64) pair and resolve it against the wrong arena's chunk tree,
// aliasing unrelated memory (spec.md §4.E/§5, §8 invariant 2). Such
// releases go straight to the owning arena's lock instead. A Handle does
// not record which ThreadCache allocated it, so a release through a
// different ThreadCache bound to the same arena is cached in that
// ThreadCache's ring like any other.
func (al *Allocator) Release(tc *ThreadCache, h Handle) error {
	if h.Empty() {
		return nil
	}
	if int(h.arenaID) < 0 || int(h.arenaID) >= len(al.arenas) {
		return fmt.Errorf("%w: arena %d out of range", ErrHandleInvalid, h.arenaID)
	}
	a := al.arenas[h.arenaID]

	if tc != nil && tc.arenaFor(a.direct) == a {
		if family, idx := al.sizeClasses.classify(h.maxLength); family != familyHuge {
			if tc.tryPush(a.direct, family, idx, h.chunkID, h.handle64, h.maxLength) {
				return nil
			}
		}
	}
	return a.free(h)
}

// Bytes returns the live byte range h names. The returned slice aliases
// pooled memory directly; it must not be retained past Release(h).
func (al *Allocator) Bytes(h Handle) []byte {
	if h.Empty() {
		return nil
	}
	if int(h.arenaID) < 0 || int(h.arenaID) >= len(al.arenas) {
		return nil
	}
	a := al.arenas[h.arenaID]
	c := a.chunkByID(h.chunkID)
	if c == nil {
		return nil
	}
	return c.region.slice(h.offset, h.length)
}
