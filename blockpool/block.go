// Package blockpool is a reference implementation of pagefrag's
// BlockAllocator: it backs blocks with real page-aligned Go memory,
// drives their reference counts atomically, and simulates a bounded
// pfmemalloc emergency reserve. It plays the role the kernel leaves to
// mm/page_alloc.c — out of scope for the core allocator, but needed to
// exercise it.
package blockpool

import "sync/atomic"

// block is the concrete pagefrag.Block this package hands out.
type block struct {
	mem        []byte
	base       uintptr
	order      int
	pfmemalloc bool
	refcount   atomic.Int64
}

func (b *block) Base() uintptr    { return b.base }
func (b *block) Order() int       { return b.order }
func (b *block) PFMemalloc() bool { return b.pfmemalloc }
