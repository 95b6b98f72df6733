package pool

import "math/bits"

// chunk is the buddy allocator spec.md §3/§4.C describes: a fixed-size
// backing region subdivided by an implicit binary tree, laid out
// heap-index style (root at index 1, node i's children at 2i and 2i+1).
//
// memoryMap[i] holds the smallest allocatable depth within node i's
// subtree; equal to depthMap[i] means the whole subtree is free, equal
// to unusable means the subtree is fully allocated or is itself the
// allocated unit. depthMap[i] (node i's own depth) is not stored as a
// separate array — it is a pure function of i's position in a complete
// binary tree, computed by depthOf — which keeps the tree's memory
// footprint to one int32 per node instead of two, without weakening any
// of spec.md §3's invariants.
type chunk struct {
	id          int32
	arena       *arena
	sizeClasses *sizeClasses
	region      memoryRegion

	unpooled bool // true for a huge, unbanded allocation

	maxPages  int32 // 1 << maxOrder
	maxOrder  int32
	unusable  int32 // maxOrder+1: fully allocated sentinel
	memoryMap []int32
	subpages  []*subpage // len maxPages, indexed by leaf-id - maxPages

	freeBytes int64
	chunkSize int64

	// chunk-list linkage; see chunklist.go.
	prev, next *chunk
	band       chunkBand
}

func newChunk(id int32, arena *arena, sc *sizeClasses, region memoryRegion) *chunk {
	maxPages := int32(1) << uint(sc.maxOrder)
	c := &chunk{
		id:          id,
		arena:       arena,
		sizeClasses: sc,
		region:      region,
		maxPages:    maxPages,
		maxOrder:    int32(sc.maxOrder),
		unusable:    int32(sc.maxOrder) + 1,
		memoryMap:   make([]int32, 2*maxPages),
		subpages:    make([]*subpage, maxPages),
		freeBytes:   sc.chunkSize,
		chunkSize:   sc.chunkSize,
		band:        bandInvalid,
	}
	for d := int32(0); d <= c.maxOrder; d++ {
		lo, hi := int32(1)<<uint(d), int32(1)<<uint(d+1)
		for i := lo; i < hi; i++ {
			c.memoryMap[i] = d
		}
	}
	return c
}

func newHugeChunk(id int32, arena *arena, sc *sizeClasses, region memoryRegion) *chunk {
	return &chunk{
		id:          id,
		arena:       arena,
		sizeClasses: sc,
		region:      region,
		unpooled:    true,
		chunkSize:   region.size(),
		band:        bandInvalid,
	}
}

func depthOf(id int32) int32 {
	return int32(bits.Len32(uint32(id))) - 1
}

// allocateRun finds the first free subtree at exactly targetDepth via an
// iterative, left-first descent (spec.md §4.C). Returns the memoryMap
// index of the node it pinned, or ok=false if the chunk cannot serve a
// run of that depth.
func (c *chunk) allocateRun(targetDepth int32) (memoryMapIndex int32, ok bool) {
	if c.memoryMap[1] > targetDepth {
		return -1, false
	}
	id := int32(1)
	for depthOf(id) < targetDepth {
		left := id << 1
		if c.memoryMap[left] <= targetDepth {
			id = left
		} else {
			id = left ^ 1
		}
	}
	c.memoryMap[id] = c.unusable
	c.propagateUp(id)
	c.freeBytes -= c.sizeClasses.runSize(int(targetDepth))
	return id, true
}

// propagateUp recomputes memoryMap for every ancestor of id as the min of
// its two children, stopping as soon as a parent's value doesn't change
// (its own ancestors are then already correct too).
func (c *chunk) propagateUp(id int32) {
	for id > 1 {
		parent := id >> 1
		sibling := id ^ 1
		val := c.memoryMap[id]
		if s := c.memoryMap[sibling]; s < val {
			val = s
		}
		if c.memoryMap[parent] == val {
			return
		}
		c.memoryMap[parent] = val
		id = parent
	}
}

// allocateSubpage pins a fresh leaf page and installs a subpage sliced
// into elemSize slots (spec.md §4.C). The chunk does not link the new
// subpage into any arena size-class list; that is the Arena's job, since
// list membership spans chunks.
func (c *chunk) allocateSubpage(elemSize int64) (sp *subpage, ok bool) {
	id, ok := c.allocateRun(c.maxOrder)
	if !ok {
		return nil, false
	}
	sp = newSubpage(c, id, elemSize)
	c.subpages[id-c.maxPages] = sp
	return sp, true
}

// freeRun reclaims a run allocated at depth `depth` rooted at
// memoryMapIndex, returning the number of bytes returned to freeBytes.
func (c *chunk) freeRun(memoryMapIndex int32) int64 {
	depth := depthOf(memoryMapIndex)
	runSize := c.sizeClasses.runSize(int(depth))
	c.memoryMap[memoryMapIndex] = depth
	c.propagateUp(memoryMapIndex)
	c.freeBytes += runSize
	return runSize
}

// freeSubpageSlot routes a slot free to its owning subpage. If the
// subpage becomes completely empty, its backing page is returned to the
// tree and freeBytes grows by one page (spec.md §4.C); otherwise the
// tree is untouched.
func (c *chunk) freeSubpageSlot(memoryMapIndex, bitmapIdx int32) (sp *subpage, reclaimed bool) {
	sp = c.subpages[memoryMapIndex-c.maxPages]
	stillInUse := sp.free(bitmapIdx)
	if stillInUse {
		return sp, false
	}
	c.subpages[memoryMapIndex-c.maxPages] = nil
	depth := depthOf(memoryMapIndex)
	c.memoryMap[memoryMapIndex] = depth
	c.propagateUp(memoryMapIndex)
	c.freeBytes += c.sizeClasses.pageSize
	return sp, true
}

// offsetOf returns the byte offset of node id's region within the chunk.
// Siblings at the same depth are laid out left to right in address order,
// so the node's rank within its level times that level's run size gives
// the offset directly, with no need to walk back up the tree.
func (c *chunk) offsetOf(id int32) int64 {
	depth := depthOf(id)
	levelStart := int32(1) << uint(depth)
	return int64(id-levelStart) * c.sizeClasses.runSize(int(depth))
}

// utilization returns the fraction of chunkSize currently allocated, in
// [0,1], used to pick the chunk's utilization band.
func (c *chunk) utilization() float64 {
	if c.chunkSize == 0 {
		return 0
	}
	used := c.chunkSize - c.freeBytes
	return float64(used) / float64(c.chunkSize)
}

func (c *chunk) release() {
	c.region.release()
}
