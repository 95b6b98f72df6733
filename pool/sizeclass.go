package pool

import "fmt"
import "math/bits"

// sizeFamily classifies a normalized capacity into one of the four
// families spec.md §3 defines.
type sizeFamily int

const (
	familyTiny sizeFamily = iota
	familySmall
	familyNormal
	familyHuge
)

const tinyClassSize = int64(16)

// tinyClassCount mirrors Arena.tinySubpagePools[32]: index 0 is never
// produced by classify (the smallest tiny class, 16 bytes, maps to index 1)
// but the table is sized for direct indexing rather than index-1 lookups.
const tinyClassCount = 32
const smallClassMin = int64(512)

// sizeClasses is the immutable table spec.md §4.A describes, computed once
// at Allocator construction from (pageSize, maxOrder). Everything on it is
// a pure function of the two, so a *sizeClasses can be shared read-only
// across every Arena.
type sizeClasses struct {
	pageSize  int64
	pageShift uint
	maxOrder  int
	chunkSize int64
	// numSmallClasses is pageShift-9: 4 for the default 8KiB page.
	numSmallClasses int
}

func newSizeClasses(pageSize int64, maxOrder int) *sizeClasses {
	pageShift := uint(bits.TrailingZeros64(uint64(pageSize)))
	return &sizeClasses{
		pageSize:        pageSize,
		pageShift:       pageShift,
		maxOrder:        maxOrder,
		chunkSize:       pageSize << uint(maxOrder),
		numSmallClasses: int(pageShift) - 9,
	}
}

// normalize rounds a requested capacity up to its class representative.
// Tiny requests round to a multiple of 16 (minimum 16); small and normal
// requests round to the next power of two, which for any capacity at or
// above pageSize is automatically also the next power-of-two run of pages
// since pageSize is itself a power of two; huge requests (above chunkSize)
// are left untouched, since they bypass pooling and are allocated exactly
// as asked.
func (sc *sizeClasses) normalize(reqCapacity int64) int64 {
	if reqCapacity == 0 {
		return 0
	}
	if reqCapacity < smallClassMin {
		n := ceilDiv(reqCapacity, tinyClassSize) * tinyClassSize
		if n < tinyClassSize {
			n = tinyClassSize
		}
		return n
	}
	n := nextPowerOfTwo(reqCapacity)
	if n <= sc.chunkSize {
		return n
	}
	return reqCapacity
}

// classify returns the family and within-family index of a value already
// produced by normalize. Callers must special-case normCapacity == 0
// themselves (spec.md §4.A: it yields the empty handle, not a class).
func (sc *sizeClasses) classify(normCapacity int64) (sizeFamily, int) {
	switch {
	case normCapacity < smallClassMin:
		return familyTiny, int(normCapacity >> 4)
	case normCapacity < sc.pageSize:
		idx := bits.TrailingZeros64(uint64(normCapacity)) - 9
		return familySmall, idx
	case normCapacity <= sc.chunkSize:
		k := bits.TrailingZeros64(uint64(normCapacity / sc.pageSize))
		return familyNormal, sc.maxOrder - k
	default:
		return familyHuge, -1
	}
}

// runSize returns the number of bytes a normal-family run at the given
// buddy-tree depth spans.
func (sc *sizeClasses) runSize(depth int) int64 {
	return sc.pageSize << uint(sc.maxOrder-depth)
}

// elemSize returns the slot size a tiny/small family index represents,
// the inverse of classify for those two families.
func (sc *sizeClasses) elemSize(family sizeFamily, idx int) int64 {
	switch family {
	case familyTiny:
		return int64(idx) << 4
	case familySmall:
		return smallClassMin << uint(idx)
	default:
		panic("elemSize: not a tiny or small family")
	}
}

func nextPowerOfTwo(n int64) int64 {
	if n <= 1 {
		return 1
	}
	return int64(1) << uint(bits.Len64(uint64(n-1)))
}

func ceilDiv(a, b int64) int64 {
	if a%b == 0 {
		return a / b
	}
	return a/b + 1
}

func panicerr(format string, args ...interface{}) {
	panic(fmt.Errorf(format, args...))
}
