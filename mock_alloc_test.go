package pagefrag

import "sync/atomic"

// fakeBlock and fakeAllocator are a minimal, in-package BlockAllocator
// used by this package's own unit tests so they need not depend on any
// concrete allocator implementation.
type fakeBlock struct {
	base       uintptr
	order      int
	pfmemalloc bool
	ref        atomic.Int64
}

func (b *fakeBlock) Base() uintptr    { return b.base }
func (b *fakeBlock) Order() int       { return b.order }
func (b *fakeBlock) PFMemalloc() bool { return b.pfmemalloc }

type fakeAllocator struct {
	nextBase   uintptr
	blocks     map[uintptr]*fakeBlock
	failOrder0 bool
	pfmemalloc bool

	// requireDirectReclaim, when set, fails an order-0 request unless the
	// caller's flags carry FlagDirectReclaim — used to observe that
	// refill's order-0 fallback is driven by the flags passed to that
	// particular Prepare/Alloc call, not a value fixed at construction.
	requireDirectReclaim bool
	// order0Flags records the flags passed to the most recent order-0
	// AllocBlock call.
	order0Flags Flags
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{
		nextBase: PageSize, // keep 0 reserved for "no block"
		blocks:   make(map[uintptr]*fakeBlock),
	}
}

func (a *fakeAllocator) AllocBlock(order int, flags Flags) (Block, error) {
	if order == 0 {
		if a.failOrder0 {
			return nil, ErrOutOfMemory
		}
		if a.requireDirectReclaim && flags&FlagDirectReclaim == 0 {
			return nil, ErrOutOfMemory
		}
		a.order0Flags = flags
	}
	if flags&FlagNoMemalloc != 0 && order > 0 {
		// Simulate large-order allocations being unavailable, forcing
		// the order-0 fallback path, the same way a real allocator might
		// refuse a compound allocation under pressure.
		return nil, ErrOutOfMemory
	}
	size := uintptr(PageSize) << uint(order)
	base := a.nextBase
	a.nextBase += size
	b := &fakeBlock{base: base, order: order, pfmemalloc: a.pfmemalloc}
	b.ref.Store(1)
	a.blocks[base] = b
	return b, nil
}

func (a *fakeAllocator) FreeBlock(b Block, order int) {
	delete(a.blocks, b.Base())
}

func (a *fakeAllocator) BlockOf(addr uintptr) (Block, bool) {
	for base, b := range a.blocks {
		size := uintptr(PageSize) << uint(b.order)
		if addr >= base && addr < base+size {
			return b, true
		}
	}
	return nil, false
}

func (a *fakeAllocator) RefAdd(b Block, n uint32) {
	b.(*fakeBlock).ref.Add(int64(n))
}

func (a *fakeAllocator) RefSubTest(b Block, n uint32) bool {
	return b.(*fakeBlock).ref.Add(-int64(n)) == 0
}

func (a *fakeAllocator) RefSet(b Block, n uint32) {
	b.(*fakeBlock).ref.Store(int64(n))
}

func (a *fakeAllocator) PutTest(b Block) bool {
	return b.(*fakeBlock).ref.Add(-1) == 0
}
