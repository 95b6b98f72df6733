//go:build !pooldebug

package pool

// initRegion is a no-op on the fast path: this package never promises
// zeroed memory (spec.md doesn't require it, and Netty doesn't either),
// only that a Handle's byte range is exclusively owned by its caller.
func initRegion(mr memoryRegion, offset, length int64) {}
