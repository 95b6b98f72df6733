package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestChunk(t *testing.T) (*chunk, *sizeClasses) {
	t.Helper()
	sc := newSizeClasses(8192, 11) // 16MiB chunk
	c := newChunk(0, nil, sc, newHeapRegion(sc.chunkSize))
	return c, sc
}

func TestDepthOf(t *testing.T) {
	require.EqualValues(t, 0, depthOf(1))
	require.EqualValues(t, 1, depthOf(2))
	require.EqualValues(t, 1, depthOf(3))
	require.EqualValues(t, 11, depthOf(1<<11))
	require.EqualValues(t, 11, depthOf(1<<12-1))
}

func TestAllocateRunSplitsRoot(t *testing.T) {
	c, sc := newTestChunk(t)

	id1, ok := c.allocateRun(1)
	require.True(t, ok)
	id2, ok := c.allocateRun(1)
	require.True(t, ok)
	require.NotEqual(t, id1, id2)
	require.EqualValues(t, 2, id1)
	require.EqualValues(t, 3, id2)

	require.Equal(t, sc.chunkSize-2*sc.runSize(1), c.freeBytes)

	_, ok = c.allocateRun(1)
	require.False(t, ok, "root's two children are both taken; no depth-1 run remains")
}

func TestAllocateRunLeftFirstTiebreak(t *testing.T) {
	c, _ := newTestChunk(t)
	id, ok := c.allocateRun(2)
	require.True(t, ok)
	require.EqualValues(t, 4, id) // leftmost depth-2 node
}

func TestFreeRunRestoresTree(t *testing.T) {
	c, sc := newTestChunk(t)
	id, ok := c.allocateRun(2)
	require.True(t, ok)
	require.EqualValues(t, c.unusable, c.memoryMap[id])

	freed := c.freeRun(id)
	require.Equal(t, sc.runSize(2), freed)
	require.Equal(t, sc.chunkSize, c.freeBytes)
	requireTreeMonotone(t, c)
}

// TestFreeRunNeverCoalescesAboveSplitDepth documents a deliberate
// simplification: memoryMap propagation is a literal min(children) with
// no Netty-style collapse back to a node's own depth once both children
// are free again, matching spec.md §3/§8's invariant exactly. A chunk
// that has ever been split at a given node can no longer serve a run at
// that node's own (larger) depth, even after every allocation beneath it
// is freed — until the whole chunk goes idle and is destroyed, at which
// point a fresh chunk starts with a pristine tree.
func TestFreeRunNeverCoalescesAboveSplitDepth(t *testing.T) {
	c, _ := newTestChunk(t)
	id, _ := c.allocateRun(2)
	c.freeRun(id)

	_, ok := c.allocateRun(0)
	require.False(t, ok, "root run should stay unavailable: node 2's subtree no longer reports its own depth")

	id1, ok := c.allocateRun(1)
	require.True(t, ok)
	require.EqualValues(t, 3, id1, "node 2 itself no longer reports depth 1 after having been split beneath it, so the depth-1 run comes from node 3")

	_, ok = c.allocateRun(2)
	require.True(t, ok, "the freed depth-2 node is still available at its own depth")
}

func TestAllocateSubpageThenRunOnSameChunk(t *testing.T) {
	c, _ := newTestChunk(t)
	sp, ok := c.allocateSubpage(512)
	require.True(t, ok)
	require.EqualValues(t, c.unusable, c.memoryMap[sp.memoryMapIndex])

	_, ok = c.allocateRun(int32(c.maxOrder))
	require.True(t, ok, "a second leaf page is still free elsewhere in the tree")
}

func TestOffsetOfOrdersSiblingsLeftToRight(t *testing.T) {
	c, sc := newTestChunk(t)
	left, _ := c.allocateRun(1)
	right, _ := c.allocateRun(1)
	require.Less(t, c.offsetOf(left), c.offsetOf(right))
	require.EqualValues(t, sc.runSize(1), c.offsetOf(right))
}

func TestUtilization(t *testing.T) {
	c, _ := newTestChunk(t)
	require.InDelta(t, 0.0, c.utilization(), 1e-9)
	c.allocateRun(0) // whole chunk
	require.InDelta(t, 1.0, c.utilization(), 1e-9)
}

// requireTreeMonotone checks spec.md §8's invariant 3: every internal
// node not itself allocated equals the min of its two children, except a
// node holding its own depth, which marks a wholly free subtree whose
// children also hold their own depth.
func requireTreeMonotone(t *testing.T, c *chunk) {
	t.Helper()
	for i := int32(1); i < c.maxPages; i++ {
		left, right := c.memoryMap[2*i], c.memoryMap[2*i+1]
		want := left
		if right < want {
			want = right
		}
		if c.memoryMap[i] == c.unusable {
			continue // the node itself is the allocated unit
		}
		if c.memoryMap[i] == depthOf(i) {
			require.Equal(t, depthOf(i)+1, left, "free node %d has a non-free left child", i)
			require.Equal(t, depthOf(i)+1, right, "free node %d has a non-free right child", i)
			continue
		}
		require.Equal(t, want, c.memoryMap[i], "node %d violates tree monotonicity", i)
	}
}
