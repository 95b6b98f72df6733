package pool

import "errors"

// Sentinel errors surfaced synchronously to callers. Wrap with fmt.Errorf's
// %w to attach context; callers should compare with errors.Is.
var (
	// ErrConfigInvalid is returned by Config.Validate and NewAllocator when
	// startup parameters fail validation. Fatal to allocator construction.
	ErrConfigInvalid = errors.New("pool: config invalid")

	// ErrCapacityInvalid is returned when a caller passes a negative
	// capacity, or a maxCapacity smaller than reqCapacity, or a maxCapacity
	// exceeding the package's fixed ceiling (maxHugeCapacity).
	ErrCapacityInvalid = errors.New("pool: capacity invalid")

	// ErrOutOfMemory is returned when the OS refuses backing memory for a
	// new chunk or a huge allocation. Arena state is left unchanged.
	ErrOutOfMemory = errors.New("pool: out of memory")

	// ErrHandleInvalid is returned on a best-effort basis for a double
	// free or a stray handle presented to the wrong arena/chunk. Detection
	// is not exhaustive; a release the package cannot recognize as invalid
	// is undefined behavior, per spec.
	ErrHandleInvalid = errors.New("pool: handle invalid")
)
