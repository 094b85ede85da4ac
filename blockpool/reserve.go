package blockpool

import (
	"sync"

	"github.com/fragcache/pagefrag"
	"golang.org/x/exp/slices"
)

// reserveArena is the emergency reserve's free-space tracker: size-
// bucketed free lists carving arbitrary extents out of one flat,
// page-aligned backing buffer. Adapted from the allocator's own free-list
// arena (bucketed by size, not by address), generalised from byte-sized
// fragments to PageSize/MaxSize block extents.
type reserveArena struct {
	mu       sync.Mutex
	buf      []byte
	base     uintptr
	freeList [reserveMaxLevel][reserveLevelWidth]extent
}

const (
	reserveMaxLevel       = 16
	reserveLevelWidth     = 8
	reserveLevelScaleBits = 1
)

type extent struct {
	start, size uint32
}

func newReserveArena(size int) *reserveArena {
	a := &reserveArena{buf: alignedAlloc(size)}
	a.base = addrOf(a.buf)
	level := toLevel(size)
	if level < reserveMaxLevel {
		a.freeList[level][0] = extent{0, uint32(size)}
	}
	return a
}

// alloc carves a want-byte, page-aligned extent out of the reserve. A
// request can be satisfied by any extent whose own level is >= the
// request's level, since an extent's level is a floor on its size — so
// the search walks upward from the request's level rather than only
// checking the one exact bucket.
func (a *reserveArena) alloc(want int) (mem []byte, base uintptr, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	startLevel := toLevel(want)
	if startLevel >= reserveMaxLevel {
		return nil, 0, false
	}

	for level := startLevel; level < reserveMaxLevel; level++ {
		for i, e := range a.freeList[level] {
			if e.size >= uint32(want) {
				a.freeList[level][i] = extent{}
				slices.SortFunc(a.freeList[level][:], func(x, y extent) bool {
					return x.size < y.size
				})
				if rem := e.size - uint32(want); rem > 0 {
					a.release(e.start+uint32(want), rem)
				}
				return a.buf[e.start : e.start+uint32(want)], a.base + uintptr(e.start), true
			}
		}
	}
	return nil, 0, false
}

// free returns an extent, identified by its absolute base address and
// size, to the reserve for reuse.
func (a *reserveArena) free(base uintptr, size int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release(uint32(base-a.base), uint32(size))
}

// release must be called with a.mu held. It keeps, per level, the
// largest free extents seen so far, evicting the current smallest when a
// bigger one arrives — the allocator's own eviction policy, unchanged.
func (a *reserveArena) release(start, size uint32) {
	if size == 0 {
		return
	}
	level := toLevel(int(size))
	if level >= reserveMaxLevel {
		return
	}

	cur := a.freeList[level][0]
	if size > cur.size {
		a.freeList[level][0] = extent{start, size}
		slices.SortFunc(a.freeList[level][:], func(x, y extent) bool {
			return x.size < y.size
		})
	}
}

// toLevel buckets a byte size into a free-list level by page count
// rather than raw bytes, so that PageSize and MaxSize (and the
// occasional in-between remainder left by a split) land in distinct,
// well-separated levels.
func toLevel(size int) (level int) {
	size /= pagefrag.PageSize
	for ; size > 0; size >>= reserveLevelScaleBits {
		level++
	}
	return
}
