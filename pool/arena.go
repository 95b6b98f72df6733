package pool

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// maxHugeCapacity bounds a single unpooled allocation, mirroring the
// teacher's Maxarenasize ceiling on a whole Arena's capacity but applied
// per-request since a huge allocation in this package gets its own
// unshared chunk.
const maxHugeCapacity = int64(1) << 40

// arena is one independently-lockable partition of Chunks and Subpage
// pools (spec.md §3). Everything under arena.mu is single-threaded;
// ThreadCache exists precisely so that most allocate/free calls never
// reach this lock.
type arena struct {
	id          int32
	sizeClasses *sizeClasses
	direct      bool
	directAlign int64
	logger      *slog.Logger // nil-safe; see arena.log

	mu     sync.Mutex
	chunks []*chunk // indexed by chunk id; a freed slot is nil
	freed  []int32  // recycled chunk ids

	lists [len(bandOrder) + 1]*chunkList // indexed by chunkBand

	tinySubpagePools  [tinyClassCount]*subpage // sentinel heads
	smallSubpagePools []*subpage               // sentinel heads, len numSmallClasses

	numThreadCaches int64 // atomic; used to pick the least-loaded arena

	allocTiny, allocSmall, allocNormal, allocHuge         int64 // atomic
	deallocTiny, deallocSmall, deallocNormal, deallocHuge int64 // atomic
}

// allocSearchOrder is the chunk-list scan order spec.md §4.D fixes for
// both subpage and run allocation: prefer moderately-full chunks over
// nearly-empty or nearly-full ones, so occupancy tends toward the middle
// bands instead of spreading thin across many chunks.
var allocSearchOrder = [...]chunkBand{bandQ050, bandQ025, bandQ000, bandQInit, bandQ075}

func newArena(id int32, sc *sizeClasses, direct bool, directAlign int64) *arena {
	a := &arena{
		id:                id,
		sizeClasses:       sc,
		direct:            direct,
		directAlign:       directAlign,
		smallSubpagePools: make([]*subpage, sc.numSmallClasses),
	}
	for _, b := range bandOrder {
		a.lists[b] = newChunkList(b)
	}
	for i := range a.tinySubpagePools {
		a.tinySubpagePools[i] = newSubpageHead()
	}
	for i := range a.smallSubpagePools {
		a.smallSubpagePools[i] = newSubpageHead()
	}
	return a
}

// log returns a's injected logger, or slog.Default() when none was set
// (the tests in this package construct arenas directly and never bother
// wiring one up; NewAllocator always fills it in).
func (a *arena) log() *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.Default()
}

func (a *arena) subpageHead(family sizeFamily, idx int) *subpage {
	if family == familyTiny {
		return a.tinySubpagePools[idx]
	}
	return a.smallSubpagePools[idx]
}

func (a *arena) newRegion(n int64) (memoryRegion, error) {
	if a.direct {
		return newDirectRegion(n, a.directAlign)
	}
	return newHeapRegion(n), nil
}

// allocChunkSlot reserves a chunk id, reusing one from a destroyed chunk
// when available instead of growing a.chunks without bound.
func (a *arena) allocChunkSlot() int32 {
	if n := len(a.freed); n > 0 {
		id := a.freed[n-1]
		a.freed = a.freed[:n-1]
		return id
	}
	id := int32(len(a.chunks))
	a.chunks = append(a.chunks, nil)
	return id
}

func (a *arena) newChunk() (*chunk, error) {
	region, err := a.newRegion(a.sizeClasses.chunkSize)
	if err != nil {
		a.log().Warn("pool: chunk allocation failed", "arena", a.id, "direct", a.direct, "size", a.sizeClasses.chunkSize, "error", err)
		return nil, err
	}
	id := a.allocChunkSlot()
	c := newChunk(id, a, a.sizeClasses, region)
	a.chunks[id] = c
	a.log().Debug("pool: chunk created", "arena", a.id, "chunk", id, "direct", a.direct, "size", a.sizeClasses.chunkSize)
	return c, nil
}

func (a *arena) chunkByID(id int32) *chunk {
	if int(id) < 0 || int(id) >= len(a.chunks) {
		return nil
	}
	return a.chunks[id]
}

// reband moves c into the band its current utilization belongs in,
// walking bandOrder one step at a time from c's present band so that the
// deliberately overlapping [min,max) windows in bandRanges (spec.md §3)
// give a chunk hysteresis instead of oscillating back and forth across a
// single boundary value.
func (a *arena) reband(c *chunk) {
	if c.unpooled {
		return
	}
	u := c.utilization()
	wasLinked := c.band != bandInvalid
	idx := 0
	if wasLinked {
		idx = bandIndex(c.band)
	}
	for {
		r := bandRanges[bandOrder[idx]]
		if u < r.min && idx > 0 {
			idx--
			continue
		}
		if u >= r.max && idx < len(bandOrder)-1 {
			idx++
			continue
		}
		break
	}
	newBand := bandOrder[idx]
	if wasLinked {
		if newBand == c.band {
			return
		}
		a.lists[c.band].remove(c)
	}
	a.lists[newBand].insertHead(c)
}

// destroyIfIdle reclaims c's backing memory once it has drifted all the
// way down to qInit and gone completely free; only qInit chunks are ever
// unmapped (spec.md §3). Every band above qInit has a nonzero lower
// bound, so reband always walks a completely free chunk down to qInit
// first, and free therefore destroys every pooled chunk that becomes
// completely free.
func (a *arena) destroyIfIdle(c *chunk) {
	if c.unpooled || c.band != bandQInit || c.freeBytes != c.chunkSize {
		return
	}
	a.lists[bandQInit].remove(c)
	c.release()
	a.chunks[c.id] = nil
	a.freed = append(a.freed, c.id)
	a.log().Debug("pool: chunk destroyed", "arena", a.id, "chunk", c.id, "direct", a.direct)
}

// allocate is the Arena half of spec.md §4.D. The Allocator facade tries
// a ThreadCache first; this is only reached on a cache miss, a disabled
// cache, or a huge request that no cache ever holds.
func (a *arena) allocate(reqCapacity, maxCapacity int64) (Handle, error) {
	switch {
	case reqCapacity < 0 || maxCapacity < reqCapacity:
		return Handle{}, fmt.Errorf("%w: reqCapacity=%d maxCapacity=%d", ErrCapacityInvalid, reqCapacity, maxCapacity)
	case maxCapacity > maxHugeCapacity:
		return Handle{}, fmt.Errorf("%w: maxCapacity=%d exceeds ceiling %d", ErrCapacityInvalid, maxCapacity, maxHugeCapacity)
	}

	norm := a.sizeClasses.normalize(reqCapacity)
	if norm == 0 {
		return Handle{}, nil
	}
	family, idx := a.sizeClasses.classify(norm)
	if family == familyHuge {
		return a.allocateHuge(reqCapacity, norm)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var chunkID int32
	var handle64 uint64
	var err error
	switch family {
	case familyTiny, familySmall:
		chunkID, handle64, err = a.allocateSubpage(family, idx, norm)
	default:
		chunkID, handle64, err = a.allocateNormal(idx)
	}
	if err != nil {
		return Handle{}, err
	}

	c := a.chunks[chunkID]
	isSubpage, mmIdx, bitmapIdx := decodeHandle64(handle64)
	offset := c.offsetOf(mmIdx)
	if isSubpage {
		offset += int64(bitmapIdx) * norm
	}

	switch family {
	case familyTiny:
		atomic.AddInt64(&a.allocTiny, 1)
	case familySmall:
		atomic.AddInt64(&a.allocSmall, 1)
	default:
		atomic.AddInt64(&a.allocNormal, 1)
	}

	h := Handle{arenaID: a.id, chunkID: chunkID, handle64: handle64, offset: offset, length: reqCapacity, maxLength: norm}
	initRegion(c.region, offset, norm)
	return h, nil
}

// allocateSubpage serves a tiny/small request: the arena's per-class list
// (spec.md §4.B) is tried first, then a chunk chosen from
// allocSearchOrder is asked to host a fresh subpage, then finally a
// brand-new chunk is created for it.
func (a *arena) allocateSubpage(family sizeFamily, idx int, norm int64) (int32, uint64, error) {
	elemSize := a.sizeClasses.elemSize(family, idx)
	head := a.subpageHead(family, idx)

	if sp := head.next; sp != head {
		bitmapIdx, ok := sp.allocate()
		if !ok {
			panicerr("pool: linked subpage at chunk %d node %d unexpectedly reports full", sp.chunk.id, sp.memoryMapIndex)
		}
		if sp.full() {
			sp.unlink()
		}
		return sp.chunk.id, encodeSubpageHandle(sp.memoryMapIndex, bitmapIdx), nil
	}

	var host *chunk
	var sp *subpage
	for _, band := range allocSearchOrder {
		for c := a.lists[band].head; c != nil; c = c.next {
			if s, ok := c.allocateSubpage(elemSize); ok {
				host, sp = c, s
				break
			}
		}
		if host != nil {
			break
		}
	}
	if host == nil {
		var err error
		host, err = a.newChunk()
		if err != nil {
			return 0, 0, err
		}
		a.reband(host)
		var ok bool
		sp, ok = host.allocateSubpage(elemSize)
		if !ok {
			panicerr("pool: fresh chunk %d cannot host a subpage of its own page size", host.id)
		}
	}
	a.reband(host)

	bitmapIdx, ok := sp.allocate()
	if !ok {
		panicerr("pool: freshly installed subpage at chunk %d node %d unexpectedly reports full", sp.chunk.id, sp.memoryMapIndex)
	}
	if !sp.full() {
		sp.linkAfter(head)
	}
	return host.id, encodeSubpageHandle(sp.memoryMapIndex, bitmapIdx), nil
}

// allocateNormal serves a medium/large request by finding a run of the
// target depth in a chunk chosen from allocSearchOrder, falling back to
// a brand-new chunk appended to qInit.
func (a *arena) allocateNormal(depth int) (int32, uint64, error) {
	var chosen *chunk
	var mmIdx int32
	for _, band := range allocSearchOrder {
		for c := a.lists[band].head; c != nil; c = c.next {
			if id, ok := c.allocateRun(int32(depth)); ok {
				chosen, mmIdx = c, id
				break
			}
		}
		if chosen != nil {
			break
		}
	}
	if chosen == nil {
		var err error
		chosen, err = a.newChunk()
		if err != nil {
			return 0, 0, err
		}
		a.reband(chosen)
		var ok bool
		mmIdx, ok = chosen.allocateRun(int32(depth))
		if !ok {
			panicerr("pool: fresh chunk %d cannot serve its own maximum run at depth %d", chosen.id, depth)
		}
	}
	a.reband(chosen)
	return chosen.id, encodeRunHandle(mmIdx), nil
}

// allocateHuge bypasses pooling entirely: the chunk it creates is
// unbanded, holds exactly norm bytes, and is released outright on free
// rather than ever being reused (spec.md §3, family huge).
func (a *arena) allocateHuge(reqCapacity, norm int64) (Handle, error) {
	region, err := a.newRegion(norm)
	if err != nil {
		a.log().Warn("pool: huge allocation failed", "arena", a.id, "direct", a.direct, "size", norm, "error", err)
		return Handle{}, err
	}
	a.mu.Lock()
	id := a.allocChunkSlot()
	c := newHugeChunk(id, a, a.sizeClasses, region)
	a.chunks[id] = c
	a.mu.Unlock()

	atomic.AddInt64(&a.allocHuge, 1)
	initRegion(region, 0, norm)
	return Handle{arenaID: a.id, chunkID: id, handle64: 0, offset: 0, length: reqCapacity, maxLength: norm}, nil
}

// free is the Arena half of spec.md §7's release path; the Allocator
// facade has already tried cache.tryPush and only reaches here on a
// cache miss, a disabled cache, or an unpooled (huge) handle.
func (a *arena) free(h Handle) error {
	c := a.chunkByID(h.chunkID)
	if c == nil {
		return fmt.Errorf("%w: chunk %d not found in arena %d", ErrHandleInvalid, h.chunkID, a.id)
	}
	if c.unpooled {
		a.mu.Lock()
		c.release()
		a.chunks[c.id] = nil
		a.freed = append(a.freed, c.id)
		a.mu.Unlock()
		atomic.AddInt64(&a.deallocHuge, 1)
		return nil
	}

	family, idx := a.sizeClasses.classify(h.maxLength)

	a.mu.Lock()
	defer a.mu.Unlock()

	isSubpage, mmIdx, bitmapIdx := decodeHandle64(h.handle64)
	if isSubpage {
		sp := c.subpages[mmIdx-c.maxPages]
		if sp == nil {
			return fmt.Errorf("%w: subpage at chunk %d node %d already released", ErrHandleInvalid, c.id, mmIdx)
		}
		wasFull := sp.full()
		_, reclaimed := c.freeSubpageSlot(mmIdx, bitmapIdx)
		switch {
		case reclaimed:
			sp.unlink()
		case wasFull:
			sp.linkAfter(a.subpageHead(family, idx))
		}
	} else {
		c.freeRun(mmIdx)
	}

	switch family {
	case familyTiny:
		atomic.AddInt64(&a.deallocTiny, 1)
	case familySmall:
		atomic.AddInt64(&a.deallocSmall, 1)
	default:
		atomic.AddInt64(&a.deallocNormal, 1)
	}

	a.reband(c)
	a.destroyIfIdle(c)
	return nil
}
