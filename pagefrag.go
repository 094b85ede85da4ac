// Package pagefrag implements a page-fragment cache allocator: a thin,
// per-context, amortising sub-allocator that carves many small,
// variable-length, variable-alignment byte ranges out of a single
// underlying fixed-size block, batching the block's atomic reference
// count instead of touching it on every hand-out.
//
// A Cache is not safe for concurrent use; the caller must serialise all
// calls on one instance (typically by pinning it to one goroutine/CPU, or
// behind a caller-owned lock). The BlockAllocator it draws from may be
// shared by many Caches concurrently — that is the only concurrency this
// package tolerates.
package pagefrag

// NoAlign is the align_mask value meaning "no alignment requirement".
const NoAlign uint32 = ^uint32(0)

// AlignMask returns the align_mask for a power-of-two alignment, for
// callers that think in terms of alignment rather than masks.
func AlignMask(align uint32) uint32 {
	assertInvariant(align != 0 && align&(align-1) == 0, "align is not a power of two")
	assertInvariant(align <= PageSize, "align exceeds PageSize")
	return ^(align - 1)
}

func alignUp(offset, alignMask uint32) uint32 {
	return (offset + ^alignMask) & alignMask
}

// Fragment is a tentative or committed sub-range of a Cache's current
// block: a virtual address expressed as Block+Offset, plus the maximum
// size available at that offset. The cache retains no record of
// fragments it hands out; this is a value, not a handle.
type Fragment struct {
	Block  Block
	Offset uint32
	Size   uint32
}

// Addr returns the fragment's virtual address.
func (f Fragment) Addr() uintptr {
	return f.Block.Base() + uintptr(f.Offset)
}

// Cache is one per-context page-fragment allocator. The zero value is an
// empty cache with no allocator attached; use New or NewWithOptions.
//
// Unlike the block, offset and bias, allocation flags are not part of a
// Cache's own state: spec.md §4.2/§4.4/§6 model gfp as a per-call
// argument to refill/prepare/alloc, so the same long-lived Cache can be
// driven with different flags from different call sites. Prepare and
// Alloc take flags explicitly for this reason.
type Cache struct {
	alloc BlockAllocator

	encodedPage encodedPage // 0 when empty
	offset      uint32
	pagecntBias uint32
}

// New returns an empty Cache drawing blocks from alloc.
func New(alloc BlockAllocator) *Cache {
	return &Cache{alloc: alloc}
}

// NewWithOptions returns an empty Cache configured by opts.
func NewWithOptions(opts Options) (*Cache, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Cache{alloc: opts.Allocator}, nil
}

// Empty reports whether the cache currently holds no block.
func (c *Cache) Empty() bool {
	return c.encodedPage == 0
}

// PFMemalloc reports whether the cache's current block was drawn from an
// emergency reserve.
func (c *Cache) PFMemalloc() bool {
	return c.encodedPage.pfmemalloc()
}

// block resolves the cache's current encoded word back to a Block handle
// via the allocator's address-to-block bijection. Panics if the
// allocator has lost track of a block the cache believes it still owns —
// that is always a bug in the allocator or in concurrent misuse of the
// cache.
func (c *Cache) block() Block {
	if c.encodedPage == 0 {
		return nil
	}
	b, ok := c.alloc.BlockOf(c.encodedPage.virt())
	if !ok {
		panic("pagefrag: cache's current block is not known to its allocator")
	}
	return b
}

// refill installs a fresh block into the cache, preferring a large
// compound block and falling back to order 0. On failure it leaves the
// cache empty and returns ErrOutOfMemory. flags is the caller's gfp for
// this request; the large-block attempt augments it, but the order-0
// fallback uses the caller's original flags unmodified.
func (c *Cache) refill(flags Flags) error {
	var block Block
	var err error
	order := MaxOrder

	if PageSize < MaxSize {
		bigFlags := (flags &^ FlagDirectReclaim) | FlagComp | FlagNoWarn | FlagNoRetry | FlagNoMemalloc
		block, err = c.alloc.AllocBlock(order, bigFlags)
	}

	if block == nil {
		block, err = c.alloc.AllocBlock(0, flags)
		order = 0
	}

	if block == nil {
		c.encodedPage = 0
		c.offset = 0
		c.pagecntBias = 0
		if err == nil {
			err = ErrOutOfMemory
		}
		return ErrOutOfMemory
	}

	c.encodedPage = newEncodedPage(block.Base(), order, block.PFMemalloc())
	// Even though the cache owns the block, it does not use RefSet here:
	// that would race get-unless-zero-style users of the same block.
	c.alloc.RefAdd(block, MaxBias)
	c.pagecntBias = MaxBias + 1
	c.offset = 0
	return nil
}

// releaseBias collapses count units of bias into block's atomic refcount
// and reports whether that reached zero. Shared by Drain and
// reuseOrDrop, the two call sites the source's own __page_frag_cache_drain
// serves.
func releaseBias(alloc BlockAllocator, block Block, count uint32) bool {
	return alloc.RefSubTest(block, count)
}

// reuseOrDrop runs when the current block cannot satisfy a request:
// collapse the bias into the atomic counter and either recycle the block
// in place or forget it and refill. Returns the block size available for
// the (possibly new) current block, or an error. flags is threaded
// through to the refill it may need to perform.
func (c *Cache) reuseOrDrop(flags Flags) (uint32, error) {
	block := c.block()
	pfmemalloc := c.encodedPage.pfmemalloc()

	if releaseBias(c.alloc, block, c.pagecntBias) {
		// No external references survive; the block can be recycled,
		// unless it was drawn from the emergency reserve, in which case
		// it must go back to the reserve promptly.
		if pfmemalloc {
			c.alloc.FreeBlock(block, block.Order())
		} else {
			c.alloc.RefSet(block, MaxBias+1)
			c.pagecntBias = MaxBias + 1
			c.offset = 0
			return c.encodedPage.blockSize(), nil
		}
	}
	// Either external references survive (forget the block; its holders
	// will free it individually) or it was released above. Either way
	// the cache no longer owns it.
	c.encodedPage = 0
	c.offset = 0
	c.pagecntBias = 0

	if err := c.refill(flags); err != nil {
		return 0, err
	}
	return c.encodedPage.blockSize(), nil
}

// Prepare ensures a contiguous region of at least fragsz bytes, aligned
// per alignMask, is available at the current aligned offset, refilling
// or recycling the current block if needed. flags is this call's gfp,
// passed on to refill exactly as spec.md §4.4's prepare(cache, fragsz,
// gfp, align_mask) does; it is never stored on the Cache, so the same
// Cache may be driven with different flags from different call sites.
// Prepare does not consume space: it never advances Offset or decrements
// the reference-count bias for this request; only Commit/CommitNoRef do.
// A refill or recycle it triggers resets them to a fresh block's values
// (Offset 0, bias MaxBias+1). On success the returned Fragment's Size is the
// maximum available at that offset, not fragsz — the caller may use more
// than it asked for (see Probe/Commit).
func (c *Cache) Prepare(fragsz uint32, flags Flags, alignMask uint32) (Fragment, error) {
	if fragsz > PageSize {
		return Fragment{}, ErrTooLarge
	}

	size, err := c.currentSize(flags)
	if err != nil {
		return Fragment{}, err
	}

	alignedOffset := alignUp(c.offset, alignMask)
	if alignedOffset+fragsz > size {
		size, err = c.reuseOrDrop(flags)
		if err != nil {
			return Fragment{}, err
		}
		alignedOffset = alignUp(c.offset, alignMask)
		if alignedOffset+fragsz > size {
			// A freshly refilled/recycled block is always at least
			// PageSize, and fragsz <= PageSize was checked above, so
			// this cannot happen for a well-behaved allocator.
			return Fragment{}, ErrTooLarge
		}
	}

	return Fragment{
		Block:  c.block(),
		Offset: alignedOffset,
		Size:   size - alignedOffset,
	}, nil
}

// currentSize returns the current block's size, refilling with flags if
// the cache is empty.
func (c *Cache) currentSize(flags Flags) (uint32, error) {
	if c.encodedPage == 0 {
		if err := c.refill(flags); err != nil {
			return 0, err
		}
	}
	return c.encodedPage.blockSize(), nil
}

func (c *Cache) commit(f Fragment, usedSz uint32, referenced bool) uint32 {
	assertInvariant(usedSz <= f.Size, "commit: usedSz exceeds fragment size")
	assertInvariant(c.encodedPage != 0 && f.Block.Base() == c.encodedPage.virt(),
		"commit: fragment does not belong to the cache's current block")
	// Prepare resets offset when it refills or recycles the block, so a
	// fragment from the current block never starts before the cache's
	// current offset.
	assertInvariant(f.Offset >= c.offset, "commit: fragment starts before current offset")

	newOffset := f.Offset + usedSz
	trueConsumed := newOffset - c.offset
	c.offset = newOffset
	if referenced {
		assertInvariant(c.pagecntBias > 0, "commit: pagecnt_bias underflow")
		c.pagecntBias--
	}
	return trueConsumed
}

// Commit marks usedSz <= fragment.Size bytes as consumed starting at
// fragment.Offset, advances Offset to fragment.Offset+usedSz, and
// decrements the reference-count bias by one (the caller is taking one
// external reference to the committed bytes). It returns the true number
// of bytes consumed including any alignment padding since the cache's
// previous offset.
func (c *Cache) Commit(f Fragment, usedSz uint32) uint32 {
	return c.commit(f, usedSz, true)
}

// CommitNoRef is Commit without decrementing the bias: used when the
// caller is coalescing this fragment into a previously committed one
// that already holds the external reference, so no new reference is
// created.
func (c *Cache) CommitNoRef(f Fragment, usedSz uint32) uint32 {
	return c.commit(f, usedSz, false)
}

// Probe is the non-refilling variant of Prepare: it returns a fragment
// iff the current block already satisfies the request without calling
// the block allocator. Used to decide whether a new fragment can be
// merged with the preceding one.
func (c *Cache) Probe(fragsz uint32, alignMask uint32) (Fragment, bool) {
	if c.encodedPage == 0 {
		return Fragment{}, false
	}
	size := c.encodedPage.blockSize()
	alignedOffset := alignUp(c.offset, alignMask)
	if alignedOffset+fragsz > size {
		return Fragment{}, false
	}
	return Fragment{
		Block:  c.block(),
		Offset: alignedOffset,
		Size:   size - alignedOffset,
	}, true
}

// Abort undoes the most recent commit of exactly fragsz bytes: it rewinds
// Offset and restores the bias. Valid only if no external reference to
// that fragment was ever taken (via Commit, not CommitNoRef) — otherwise
// use AbortRef.
func (c *Cache) Abort(fragsz uint32) {
	assertInvariant(fragsz <= c.offset, "abort: fragsz exceeds offset")
	c.offset -= fragsz
	c.pagecntBias++
}

// AbortRef aborts only the reference taken by a prior Commit of f with
// size fragsz, without rewinding Offset: the bytes stay consumed (wasted
// until the block is next recycled or refilled), but the bias is restored
// so that Drain/reuseOrDrop account for them correctly. This avoids the
// atomic operation Free would otherwise require. f must be the most
// recently committed fragment.
func (c *Cache) AbortRef(f Fragment, fragsz uint32) {
	assertInvariant(f.Offset+fragsz == c.offset, "abort_ref: fragment is not the most recent commit")
	c.pagecntBias++
}

// Alloc is Prepare followed by Commit(fragment, fragsz); it returns only
// the virtual address. This is the dominant caller path. flags is this
// call's gfp, per spec.md §4.4's alloc(cache, fragsz, gfp, align_mask).
func (c *Cache) Alloc(fragsz uint32, flags Flags, alignMask uint32) (uintptr, error) {
	f, err := c.Prepare(fragsz, flags, alignMask)
	if err != nil {
		return 0, err
	}
	c.Commit(f, fragsz)
	return f.Addr(), nil
}

// Drain releases the cache's current block back to the allocator (if no
// external fragment references survive) and empties the cache. It is a
// no-op on an already-empty cache, and idempotent.
func (c *Cache) Drain() {
	if c.encodedPage == 0 {
		return
	}
	block := c.block()
	if releaseBias(c.alloc, block, c.pagecntBias) {
		c.alloc.FreeBlock(block, block.Order())
	}
	c.encodedPage = 0
	c.offset = 0
	c.pagecntBias = 0
}

// Free releases a single fragment back to alloc by virtual address. It
// tolerates addresses from blocks that every Cache has long forgotten, as
// long as alloc itself still tracks the block.
func Free(alloc BlockAllocator, addr uintptr) {
	block, ok := alloc.BlockOf(addr)
	if !ok {
		return
	}
	if alloc.PutTest(block) {
		alloc.FreeBlock(block, block.Order())
	}
}
