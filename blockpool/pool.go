package blockpool

import (
	"sync"
	"sync/atomic"

	"github.com/fragcache/pagefrag"
)

// Options configures a Pool.
type Options struct {
	// ReserveSize is the total byte size of the bounded emergency
	// reserve Pool carves pfmemalloc blocks from while pressured.
	ReserveSize int

	// PressureThreshold is unused by Pool itself; callers that want
	// pressure to kick in automatically rather than via SetPressured can
	// compare it against their own memory accounting.
	PressureThreshold int64
}

// DefaultOptions sizes the reserve at four max-order blocks' worth.
var DefaultOptions = Options{
	ReserveSize: 4 * pagefrag.MaxSize,
}

// Pool is a reference pagefrag.BlockAllocator: it serves blocks from
// real page-aligned Go memory, recycles freed non-pfmemalloc blocks
// through one reuse cache per order, and simulates a kernel-style pfmemalloc emergency reserve
// that activates under SetPressured(true).
type Pool struct {
	mu           sync.Mutex
	reuseByOrder map[int]*reuseCache

	reserve *reserveArena
	lookup  *lookupTable
	stats   Stats

	pressured atomic.Bool
}

// New returns a Pool configured by opts.
func New(opts Options) *Pool {
	if opts.ReserveSize <= 0 {
		opts.ReserveSize = DefaultOptions.ReserveSize
	}
	return &Pool{
		reuseByOrder: make(map[int]*reuseCache),
		reserve:      newReserveArena(opts.ReserveSize),
		lookup:       newLookupTable(),
	}
}

// SetPressured toggles the simulated low-memory condition: while
// pressured, ordinary allocations are refused and every AllocBlock is
// served from (or fails against) the bounded reserve, exactly the
// situation pagefrag's FlagNoMemalloc/pfmemalloc machinery exists to
// route around.
func (p *Pool) SetPressured(v bool) {
	p.pressured.Store(v)
}

func (p *Pool) pressureActive() bool {
	return p.pressured.Load()
}

// Stats returns the pool's live counters.
func (p *Pool) Stats() *Stats {
	return &p.stats
}

func orderSize(order int) int {
	return pagefrag.PageSize << uint(order)
}

// AllocBlock implements pagefrag.BlockAllocator.
func (p *Pool) AllocBlock(order int, flags pagefrag.Flags) (pagefrag.Block, error) {
	size := orderSize(order)

	if p.pressureActive() {
		if flags&pagefrag.FlagNoMemalloc != 0 {
			return nil, pagefrag.ErrOutOfMemory
		}
		mem, base, ok := p.reserve.alloc(size)
		if !ok {
			return nil, pagefrag.ErrOutOfMemory
		}
		b := &block{mem: mem, base: base, order: order, pfmemalloc: true}
		b.refcount.Store(1)
		p.register(b, size)
		p.stats.reserveHits.Add(1)
		p.stats.allocated.Add(1)
		return b, nil
	}

	p.mu.Lock()
	rc := p.reuseByOrder[order]
	var mem []byte
	if rc != nil {
		mem = rc.fetch(size)
	}
	p.mu.Unlock()

	reused := mem != nil
	if !reused {
		mem = alignedAlloc(size)
	}
	mem = mem[:size:size]

	b := &block{mem: mem, base: addrOf(mem), order: order}
	b.refcount.Store(1)
	p.register(b, size)
	p.stats.allocated.Add(1)
	if reused {
		p.stats.reused.Add(1)
	}
	return b, nil
}

// FreeBlock implements pagefrag.BlockAllocator.
func (p *Pool) FreeBlock(blk pagefrag.Block, order int) {
	b := blk.(*block)
	size := orderSize(order)
	p.unregister(b, size)

	if b.pfmemalloc {
		p.reserve.free(b.base, size)
	} else {
		p.mu.Lock()
		rc := p.reuseByOrder[order]
		if rc == nil {
			rc = newReuseCache()
			p.reuseByOrder[order] = rc
		}
		rc.put(b.mem)
		p.mu.Unlock()
	}
	p.stats.freed.Add(1)
}

// BlockOf implements pagefrag.BlockAllocator.
func (p *Pool) BlockOf(addr uintptr) (pagefrag.Block, bool) {
	page := pageOf(addr)
	b, ok := p.lookup.lookup(page)
	if !ok {
		return nil, false
	}
	return b, true
}

// RefAdd implements pagefrag.BlockAllocator.
func (p *Pool) RefAdd(blk pagefrag.Block, n uint32) {
	blk.(*block).refcount.Add(int64(n))
}

// RefSubTest implements pagefrag.BlockAllocator.
func (p *Pool) RefSubTest(blk pagefrag.Block, n uint32) bool {
	return blk.(*block).refcount.Add(-int64(n)) == 0
}

// RefSet implements pagefrag.BlockAllocator.
func (p *Pool) RefSet(blk pagefrag.Block, n uint32) {
	blk.(*block).refcount.Store(int64(n))
}

// PutTest implements pagefrag.BlockAllocator.
func (p *Pool) PutTest(blk pagefrag.Block) bool {
	return blk.(*block).refcount.Add(-1) == 0
}

func pageOf(addr uintptr) uint64 {
	return uint64(addr &^ (pagefrag.PageSize - 1))
}

// register indexes every page a compound block spans, so that BlockOf
// resolves any address within the block back to its single head,
// mirroring how the kernel's compound_head() resolves a tail page.
func (p *Pool) register(b *block, size int) {
	for off := 0; off < size; off += pagefrag.PageSize {
		p.lookup.register(pageOf(b.base)+uint64(off), b)
	}
}

func (p *Pool) unregister(b *block, size int) {
	for off := 0; off < size; off += pagefrag.PageSize {
		p.lookup.unregister(pageOf(b.base) + uint64(off))
	}
}
