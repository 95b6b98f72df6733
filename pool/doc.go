// Package pool supplies a pooled byte-buffer allocator for high-throughput
// network servers, with a limited scope:
//
//  * Allocate and Release produce and accept Handle values, not Go byte
//    slices; Allocator.Bytes returns the byte range a Handle names, and
//    callers slice their own buffer type over it.
//  * Memory is reserved from the OS in large, fixed-size Chunks (16MiB by
//    default); Chunks are subdivided internally and are only returned to
//    the OS when they go completely idle.
//  * Small and tiny allocations are served from a bitmap-sliced Subpage;
//    medium and large allocations are served by buddy-subdividing a Chunk;
//    allocations above the chunk size bypass pooling entirely.
//  * Every goroutine that allocates heavily should own a ThreadCache to
//    avoid contending on an Arena's mutex; the cache is plumbed explicitly
//    rather than kept in a real thread-local, since Go has none.
//
// An Allocator is a small number of Arenas, each an independently lockable
// partition of Chunks and Subpage pools. Allocator.Allocate picks an Arena
// for the caller's ThreadCache once, on first use, and routes every
// subsequent request for that cache to the same Arena.
package pool

// TODO: chunks are only unmapped once fully idle and sitting in qInit;
// there is no periodic compaction pass across bands.
