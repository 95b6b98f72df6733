package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func smallAllocatorConfig() Config {
	cfg := DefaultConfig()
	cfg.NumHeapArenas = 2
	cfg.NumDirectArenas = 2
	cfg.PageSize = 8192
	cfg.MaxOrder = 11
	return cfg
}

func TestNewAllocatorRejectsInvalidConfig(t *testing.T) {
	cfg := smallAllocatorConfig()
	cfg.PageSize = 100 // not a power of two
	_, err := NewAllocator(cfg)
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func TestNewAllocatorZeroArenaCountsAreValid(t *testing.T) {
	cfg := smallAllocatorConfig()
	cfg.NumDirectArenas = 0
	al, err := NewAllocator(cfg)
	require.NoError(t, err)
	require.Len(t, al.heapArenas(), 2)
	require.Len(t, al.directArenas(), 0)
}

func TestAllocatorAllocateReleaseRoundTrip(t *testing.T) {
	al, err := NewAllocator(smallAllocatorConfig())
	require.NoError(t, err)
	tc := al.NewThreadCache()

	h, err := al.Allocate(tc, Heap, 100, 100)
	require.NoError(t, err)
	require.False(t, h.Empty())

	buf := al.Bytes(h)
	require.Len(t, buf, 100)
	buf[0] = 0x42

	require.NoError(t, al.Release(tc, h))
}

func TestAllocatorReleaseThenReallocateHitsThreadCache(t *testing.T) {
	al, err := NewAllocator(smallAllocatorConfig())
	require.NoError(t, err)
	tc := al.NewThreadCache()

	h1, err := al.Allocate(tc, Heap, 512, 512)
	require.NoError(t, err)
	require.NoError(t, al.Release(tc, h1))

	h2, err := al.Allocate(tc, Heap, 512, 512)
	require.NoError(t, err)
	require.Equal(t, h1.chunkID, h2.chunkID)
	require.Equal(t, h1.offset, h2.offset, "the cached entry, not a fresh subpage slot, served this request")
}

// TestAllocatorForeignReleaseBypassesCache guards against a handle
// allocated through one ThreadCache being released through a different
// ThreadCache bound to a different arena of the same kind: it must go
// straight to the owning arena rather than being cached under the
// releasing ThreadCache's own (unrelated) arena binding, which would
// later hand out memory from the wrong chunk entirely.
func TestAllocatorForeignReleaseBypassesCache(t *testing.T) {
	cfg := smallAllocatorConfig()
	cfg.NumHeapArenas = 2
	cfg.NumDirectArenas = 0
	al, err := NewAllocator(cfg)
	require.NoError(t, err)

	tcA := al.NewThreadCache()
	tcB := al.NewThreadCache()
	al.bind(tcA)
	al.bind(tcB)
	require.NotEqual(t, tcA.heapArena.id, tcB.heapArena.id, "test setup needs two distinct arenas bound")

	h, err := al.Allocate(tcA, Heap, 512, 512)
	require.NoError(t, err)
	require.Equal(t, tcA.heapArena.id, h.arenaID)

	require.NoError(t, al.Release(tcB, h))

	family, idx := al.sizeClasses.classify(h.maxLength)
	cc := tcB.heap.classCache(family, idx)
	require.Equal(t, 0, cc.size, "a foreign release must not land in the releasing ThreadCache's own ring")

	// The release must have actually reached the owning arena: its chunk
	// is either back to fully free or already destroyed out of qInit.
	ownerArena := al.arenas[h.arenaID]
	if c := ownerArena.chunkByID(h.chunkID); c != nil {
		require.Equal(t, c.chunkSize, c.freeBytes)
	}
}

func TestAllocatorHeapAndDirectAreDistinctArenaSpaces(t *testing.T) {
	al, err := NewAllocator(smallAllocatorConfig())
	require.NoError(t, err)
	tc := al.NewThreadCache()

	hHeap, err := al.Allocate(tc, Heap, 512, 512)
	require.NoError(t, err)
	hDirect, err := al.Allocate(tc, Direct, 512, 512)
	require.NoError(t, err)

	require.Less(t, int(hHeap.arenaID), al.numHeap)
	require.GreaterOrEqual(t, int(hDirect.arenaID), al.numHeap)

	require.NoError(t, al.Release(tc, hHeap))
	require.NoError(t, al.Release(tc, hDirect))
}

func TestAllocatorRejectsInvalidCapacity(t *testing.T) {
	al, err := NewAllocator(smallAllocatorConfig())
	require.NoError(t, err)
	tc := al.NewThreadCache()

	_, err = al.Allocate(tc, Heap, 10, 5)
	require.ErrorIs(t, err, ErrCapacityInvalid)
}

func TestAllocatorAllocateNilThreadCacheIsInvalid(t *testing.T) {
	al, err := NewAllocator(smallAllocatorConfig())
	require.NoError(t, err)

	_, err = al.Allocate(nil, Heap, 10, 10)
	require.ErrorIs(t, err, ErrHandleInvalid)
}

func TestAllocatorReleaseEmptyHandleIsNoop(t *testing.T) {
	al, err := NewAllocator(smallAllocatorConfig())
	require.NoError(t, err)
	tc := al.NewThreadCache()

	h, err := al.Allocate(tc, Heap, 0, 0)
	require.NoError(t, err)
	require.True(t, h.Empty())
	require.NoError(t, al.Release(tc, h))
}

// TestS7HugeBypassAllocator mirrors spec.md scenario S7 through the
// facade: a huge request bypasses ThreadCache caching on both ends.
func TestS7HugeBypassAllocator(t *testing.T) {
	al, err := NewAllocator(smallAllocatorConfig())
	require.NoError(t, err)
	tc := al.NewThreadCache()

	huge := int64(20 * 1024 * 1024)
	h, err := al.Allocate(tc, Heap, huge, huge)
	require.NoError(t, err)
	require.Len(t, al.Bytes(h), int(huge))
	require.NoError(t, al.Release(tc, h))

	family, _ := al.sizeClasses.classify(huge)
	require.Equal(t, familyHuge, family)
}

func TestAllocatorPickArenaLoadBalances(t *testing.T) {
	al, err := NewAllocator(smallAllocatorConfig())
	require.NoError(t, err)

	tcs := make([]*ThreadCache, 4)
	for i := range tcs {
		tcs[i] = al.NewThreadCache()
		al.bind(tcs[i])
	}

	counts := make(map[int32]int)
	for _, tc := range tcs {
		counts[tc.heapArena.id]++
	}
	require.Len(t, counts, 2, "four caches spread across both heap arenas")
	for _, c := range counts {
		require.Equal(t, 2, c)
	}
}

func TestAllocatorReleaseCacheDrainsAndUnbinds(t *testing.T) {
	al, err := NewAllocator(smallAllocatorConfig())
	require.NoError(t, err)
	tc := al.NewThreadCache()

	h, err := al.Allocate(tc, Heap, 512, 512)
	require.NoError(t, err)
	require.NoError(t, al.Release(tc, h))

	a := tc.heapArena
	require.EqualValues(t, 1, a.numThreadCaches)

	al.ReleaseCache(tc)
	require.EqualValues(t, 0, a.numThreadCaches)
	require.Nil(t, tc.heapArena)
	require.Nil(t, tc.directArena)
}

func TestAllocatorBytesOutOfRangeArenaReturnsNil(t *testing.T) {
	al, err := NewAllocator(smallAllocatorConfig())
	require.NoError(t, err)

	h := Handle{arenaID: 999, maxLength: 10, length: 10}
	require.Nil(t, al.Bytes(h))
}
