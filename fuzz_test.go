package pagefrag_test

import (
	"testing"

	"github.com/fragcache/pagefrag"
	"github.com/fragcache/pagefrag/blockpool"
	"github.com/stretchr/testify/assert"
)

// FuzzAllocNeverAliasesOrOverflows replays arbitrary (size, align, free)
// sequences against one Cache and checks that fragments never overlap
// while live, and that a request larger than PageSize fails with
// ErrTooLarge.
func FuzzAllocNeverAliasesOrOverflows(f *testing.F) {
	f.Add(uint32(1), uint8(0), true)
	f.Add(uint32(pagefrag.PageSize), uint8(4), false)
	f.Add(uint32(0), uint8(8), true)

	pool := blockpool.New(blockpool.DefaultOptions)
	c := pagefrag.New(pool)

	type live struct {
		addr uintptr
		size uint32
	}
	var outstanding []live

	f.Fuzz(func(t *testing.T, sz uint32, alignShift uint8, free bool) {
		assert := assert.New(t)
		sz %= pagefrag.PageSize + 8
		alignShift %= 13 // up to 4096

		alignMask := pagefrag.NoAlign
		if alignShift > 0 {
			alignMask = pagefrag.AlignMask(1 << alignShift)
		}

		addr, err := c.Alloc(sz, pagefrag.DefaultOptions.Flags, alignMask)
		if sz > pagefrag.PageSize {
			assert.ErrorIs(err, pagefrag.ErrTooLarge)
			return
		}
		assert.NoError(err)

		for _, o := range outstanding {
			overlap := addr < o.addr+uintptr(o.size) && o.addr < addr+uintptr(sz)
			assert.False(overlap, "fragment must not alias a live one")
		}
		outstanding = append(outstanding, live{addr, sz})

		if free && len(outstanding) > 0 {
			victim := outstanding[0]
			outstanding = outstanding[1:]
			pagefrag.Free(pool, victim.addr)
		}
	})
}
