//go:build !unix

package pool

// #include <stdlib.h>
import "C"

import (
	"fmt"
	"unsafe"
)

// directRegion on non-unix platforms falls back to the teacher's own
// off-heap allocation strategy (malloc/pool_fbit.go, malloc/pool_flist.go:
// cgo C.malloc/C.free) rather than unix.Mmap, since the mmap syscall
// surface spec.md's direct arenas otherwise use isn't portable there.
type directRegion struct {
	base   unsafe.Pointer
	n      int64
	usable unsafe.Pointer
}

func newDirectRegion(n int64, alignment int64) (*directRegion, error) {
	pad := int64(0)
	if alignment > 0 {
		pad = alignment
	}
	base := C.malloc(C.size_t(n + pad))
	if base == nil {
		return nil, fmt.Errorf("%w: malloc %d bytes", ErrOutOfMemory, n+pad)
	}
	usable := base
	if alignment > 0 {
		misalign := int64(uintptr(base)) & (alignment - 1)
		if misalign != 0 {
			usable = unsafe.Add(base, alignment-misalign)
		}
	}
	return &directRegion{base: base, n: n, usable: usable}, nil
}

func (r *directRegion) bytes() []byte {
	return unsafe.Slice((*byte)(r.usable), int(r.n))
}

func (r *directRegion) slice(offset, length int64) []byte {
	return r.bytes()[offset : offset+length]
}

func (r *directRegion) copyFrom(offset int64, src []byte) int {
	return copy(r.bytes()[offset:], src)
}

func (r *directRegion) copyTo(offset int64, dst []byte) int {
	return copy(dst, r.bytes()[offset:])
}

func (r *directRegion) basePointer() (unsafe.Pointer, bool) {
	return r.usable, true
}

func (r *directRegion) release() {
	if r.base != nil {
		C.free(r.base)
		r.base, r.usable = nil, nil
	}
}

func (r *directRegion) size() int64 {
	return r.n
}
