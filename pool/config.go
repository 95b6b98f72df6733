package pool

import "fmt"
import "log/slog"
import "math/bits"
import "runtime"

// Config carries every startup-tunable parameter of an Allocator. All
// fields have sane defaults via DefaultConfig; fields marked with a *
// in spec.md are the ones an application typically overrides from its own
// environment/flag parsing before calling NewAllocator.
//
// "NumHeapArenas" (int, default: 2*NumCPU)
//		Number of heap arenas; may be 0 to disable pooled heap allocation.
//		The default is not capped by the memory available to the process.
//
// "NumDirectArenas" (int, default: 2*NumCPU)
//		Number of direct (off-heap) arenas; may be 0. The default is not
//		capped by the memory available to the process.
//
// "PageSize" (int, default: 8192)
//		Smallest unit tracked by a chunk's buddy tree. Must be a power of
//		two, >= 4096.
//
// "MaxOrder" (int, default: 11)
//		Depth of a chunk's buddy tree. chunkSize = PageSize << MaxOrder.
//		0 <= MaxOrder <= 14.
//
// "TinyCacheSize" (int, default: 512)
//		Ring capacity per tiny size class in a ThreadCache.
//
// "SmallCacheSize" (int, default: 256)
//		Ring capacity per small size class in a ThreadCache.
//
// "NormalCacheSize" (int, default: 64)
//		Ring capacity per normal size class up to MaxCachedBufferCapacity.
//
// "MaxCachedBufferCapacity" (int, default: 32*1024)
//		Normal classes above this capacity are never cached; their ring
//		capacity is forced to zero at ThreadCache construction.
//
// "CacheTrimInterval" (int, default: 8192)
//		Allocations per trim cycle, per ThreadCache.
//
// "DirectMemoryCacheAlignment" (int, default: 0)
//		0 or a power of two; nonzero pads direct allocations' usable base
//		to this alignment.
//
// "Logger" (*slog.Logger, default: nil)
//		Sink for chunk creation/destruction, out-of-memory, and thread
//		cache registration/eviction events, logged at Debug/Warn. nil is
//		nil-safe: NewAllocator substitutes slog.Default().
type Config struct {
	NumHeapArenas              int
	NumDirectArenas            int
	PageSize                   int
	MaxOrder                   int
	TinyCacheSize              int
	SmallCacheSize             int
	NormalCacheSize            int
	MaxCachedBufferCapacity    int
	CacheTrimInterval          int
	UseCacheForAllThreads      bool
	DirectMemoryCacheAlignment int
	PreferDirect               bool
	Logger                     *slog.Logger
}

// DefaultConfig returns a Config with the defaults spec.md §6 documents,
// sized off the number of logical CPUs the process sees, the way the
// teacher's Defaultsettings sizes pools off its capacity argument.
func DefaultConfig() Config {
	cores := runtime.NumCPU()
	return Config{
		NumHeapArenas:              cores * 2,
		NumDirectArenas:            cores * 2,
		PageSize:                   8192,
		MaxOrder:                   11,
		TinyCacheSize:              512,
		SmallCacheSize:             256,
		NormalCacheSize:            64,
		MaxCachedBufferCapacity:    32 * 1024,
		CacheTrimInterval:          8192,
		UseCacheForAllThreads:      true,
		DirectMemoryCacheAlignment: 0,
		PreferDirect:               false,
	}
}

// Validate rejects a Config the way spec.md §6's startup validation
// requires, returning ErrConfigInvalid rather than panicking: this is a
// caller-facing configuration mistake, not a programmer error against
// this package's own API.
func (c Config) Validate() error {
	if c.PageSize < 4096 {
		return fmt.Errorf("%w: page size %d below minimum 4096", ErrConfigInvalid, c.PageSize)
	}
	if !isPowerOfTwo(c.PageSize) {
		return fmt.Errorf("%w: page size %d is not a power of two", ErrConfigInvalid, c.PageSize)
	}
	if c.MaxOrder < 0 || c.MaxOrder > 14 {
		return fmt.Errorf("%w: max order %d out of range [0,14]", ErrConfigInvalid, c.MaxOrder)
	}
	chunkShift := bits.TrailingZeros(uint(c.PageSize)) + c.MaxOrder
	if chunkShift >= bits.UintSize-1 {
		return fmt.Errorf("%w: page size %d << max order %d overflows", ErrConfigInvalid, c.PageSize, c.MaxOrder)
	}
	if c.DirectMemoryCacheAlignment < 0 || !isPowerOfTwo(orOne(c.DirectMemoryCacheAlignment)) {
		return fmt.Errorf("%w: direct memory cache alignment %d must be 0 or a power of two", ErrConfigInvalid, c.DirectMemoryCacheAlignment)
	}
	if c.NumHeapArenas < 0 {
		return fmt.Errorf("%w: negative heap arena count %d", ErrConfigInvalid, c.NumHeapArenas)
	}
	if c.NumDirectArenas < 0 {
		return fmt.Errorf("%w: negative direct arena count %d", ErrConfigInvalid, c.NumDirectArenas)
	}
	if c.TinyCacheSize < 0 || c.SmallCacheSize < 0 || c.NormalCacheSize < 0 {
		return fmt.Errorf("%w: negative cache size", ErrConfigInvalid)
	}
	if c.CacheTrimInterval <= 0 {
		return fmt.Errorf("%w: cache trim interval must be positive", ErrConfigInvalid)
	}
	return nil
}

// chunkSize is pageSize << maxOrder, the boundary above which allocations
// bypass pooling and become huge (spec.md §3).
func (c Config) chunkSize() int64 {
	return int64(c.PageSize) << uint(c.MaxOrder)
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// orOne treats 0 as "no alignment requested", which trivially satisfies
// the power-of-two check without a special case at every call site.
func orOne(n int) int {
	if n == 0 {
		return 1
	}
	return n
}
