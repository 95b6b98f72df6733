package pool

import "unsafe"

// memoryRegion is the capability spec.md §9's "Dynamic type parameter"
// note asks for: an abstraction over the backing-memory type (Go-heap
// []byte for heap arenas, off-heap native memory for direct arenas) so
// the chunk/subpage algorithms never care which kind of Arena they run
// inside.
type memoryRegion interface {
	// slice returns the region [offset, offset+length) as a Go byte
	// slice. For a direct region this aliases native memory directly
	// (no copy); callers must not retain it past the owning handle's
	// release.
	slice(offset, length int64) []byte

	// copyFrom copies src into the region starting at offset, returning
	// the number of bytes copied.
	copyFrom(offset int64, src []byte) int

	// copyTo copies out of the region starting at offset into dst,
	// returning the number of bytes copied.
	copyTo(offset int64, dst []byte) int

	// basePointer returns the region's base address when it is backed by
	// native (non-Go-heap) memory, for callers that need to hand it to a
	// syscall without a copy. ok is false for heap regions.
	basePointer() (ptr unsafe.Pointer, ok bool)

	// release returns the region's backing memory to the OS. Idempotent
	// only on the happy path; releasing twice is caller error.
	release()

	// size is the total number of bytes the region spans.
	size() int64
}

// heapRegion backs a chunk with ordinary Go-heap memory, tracked by the
// runtime GC like any other slice.
type heapRegion struct {
	buf []byte
}

func newHeapRegion(n int64) *heapRegion {
	return &heapRegion{buf: make([]byte, n)}
}

func (r *heapRegion) slice(offset, length int64) []byte {
	return r.buf[offset : offset+length]
}

func (r *heapRegion) copyFrom(offset int64, src []byte) int {
	return copy(r.buf[offset:], src)
}

func (r *heapRegion) copyTo(offset int64, dst []byte) int {
	return copy(dst, r.buf[offset:])
}

func (r *heapRegion) basePointer() (unsafe.Pointer, bool) {
	return nil, false
}

func (r *heapRegion) release() {
	r.buf = nil
}

func (r *heapRegion) size() int64 {
	return int64(len(r.buf))
}
