package pagefrag

// Flags recognises a subset of the caller's allocation intent. The core
// augments it on the large-block path (compound, no-warn, no-retry,
// no-memalloc, and dropping direct reclaim) before handing it to the
// block allocator; the caller's original value is preserved for the
// order-0 fallback.
type Flags uint32

const (
	// FlagDirectReclaim permits the allocator to block/reclaim to satisfy
	// the request. The large-block path always clears it.
	FlagDirectReclaim Flags = 1 << iota
	// FlagComp requests a compound (multi-page) block.
	FlagComp
	// FlagNoWarn suppresses allocator-side warnings on failure.
	FlagNoWarn
	// FlagNoRetry asks the allocator to fail fast instead of retrying.
	FlagNoRetry
	// FlagNoMemalloc forbids drawing the block from an emergency reserve.
	FlagNoMemalloc
)

// Block is a fixed-size, naturally-aligned region of memory supplied by a
// BlockAllocator. The core never constructs one; it only reads the three
// properties below and drives the block's reference counter through the
// allocator's primitives.
type Block interface {
	// Base returns the block's starting address. It is aligned to at
	// least PageSize, and to PageSize<<Order() if the allocator honours
	// the natural-alignment contract.
	Base() uintptr
	// Order is the block's size class: size = PageSize << Order().
	Order() int
	// PFMemalloc reports whether the block was drawn from an emergency
	// reserve. Queried once, immediately after allocation.
	PFMemalloc() bool
}

// BlockAllocator is the external collaborator of §1/§6: it supplies and
// releases blocks, and exposes the atomic reference-count primitives the
// cache drives. Implementations must make RefAdd/RefSubTest/RefSet/PutTest
// safe to call concurrently from multiple Cache instances sharing one
// BlockAllocator — that is the only concurrency this package tolerates;
// a single Cache's own methods are never safe to call concurrently with
// each other.
type BlockAllocator interface {
	// AllocBlock returns a block of PageSize<<order bytes, or an error if
	// none could be supplied.
	AllocBlock(order int, flags Flags) (Block, error)
	// FreeBlock releases a block whose reference count has reached zero.
	FreeBlock(b Block, order int)
	// BlockOf returns the block containing addr, for any addr that lies
	// within a block this allocator has handed out and not yet freed.
	BlockOf(addr uintptr) (Block, bool)

	// RefAdd atomically adds n to the block's reference count.
	RefAdd(b Block, n uint32)
	// RefSubTest atomically subtracts n from the block's reference count
	// and reports whether it reached zero.
	RefSubTest(b Block, n uint32) bool
	// RefSet atomically sets the block's reference count. Only safe to
	// call immediately after a RefSubTest that observed zero.
	RefSet(b Block, n uint32)
	// PutTest atomically decrements the block's reference count by one
	// and reports whether it reached zero.
	PutTest(b Block) bool
}
