//go:build unix

package pool

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// directRegion backs a direct-arena chunk with memory reserved via
// unix.Mmap rather than the Go heap, the way holmberd/go-cmap's
// ChunkPool.alloc reserves off-heap chunks to keep large, long-lived
// buffers out of the GC's scan set. alignment pads the returned region's
// usable base up to Config.DirectMemoryCacheAlignment when nonzero
// (spec.md §6).
type directRegion struct {
	mapped []byte // the full mmap'd region, for Munmap
	usable []byte // mapped, sliced forward to the requested alignment
}

func newDirectRegion(n int64, alignment int64) (*directRegion, error) {
	pad := int64(0)
	if alignment > 0 {
		pad = alignment
	}
	mapped, err := unix.Mmap(-1, 0, int(n+pad),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %d bytes: %v", ErrOutOfMemory, n+pad, err)
	}
	usable := mapped
	if alignment > 0 {
		base := uintptr(unsafe.Pointer(&mapped[0]))
		misalign := int64(base) & (alignment - 1)
		if misalign != 0 {
			usable = mapped[alignment-misalign:]
		}
	}
	return &directRegion{mapped: mapped, usable: usable[:n]}, nil
}

func (r *directRegion) slice(offset, length int64) []byte {
	return r.usable[offset : offset+length]
}

func (r *directRegion) copyFrom(offset int64, src []byte) int {
	return copy(r.usable[offset:], src)
}

func (r *directRegion) copyTo(offset int64, dst []byte) int {
	return copy(dst, r.usable[offset:])
}

func (r *directRegion) basePointer() (unsafe.Pointer, bool) {
	if len(r.usable) == 0 {
		return nil, true
	}
	return unsafe.Pointer(&r.usable[0]), true
}

func (r *directRegion) release() {
	if r.mapped != nil {
		unix.Munmap(r.mapped)
		r.mapped, r.usable = nil, nil
	}
}

func (r *directRegion) size() int64 {
	return int64(len(r.usable))
}
