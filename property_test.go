package pagefrag_test

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/fragcache/pagefrag"
	"github.com/fragcache/pagefrag/blockpool"
	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/rand"
)

// TestAllocRandomSizesStayWithinFragmentBudget replays randomized
// (size, align) pairs and checks that Prepare always reports at least the
// requested size available, that Commit's true-consumed count is at least
// the requested size, and that every returned address respects its
// requested alignment.
func TestAllocRandomSizesStayWithinFragmentBudget(t *testing.T) {
	assert := assert.New(t)
	pool := blockpool.New(blockpool.DefaultOptions)
	c := pagefrag.New(pool)

	faker := gofakeit.New(1)
	for i := 0; i < 20000; i++ {
		sz := uint32(rand.Intn(pagefrag.PageSize))
		alignShift := faker.Number(0, 6)
		alignMask := pagefrag.AlignMask(1 << uint(alignShift))

		f, err := c.Prepare(sz, pagefrag.DefaultOptions.Flags, alignMask)
		assert.NoError(err)
		assert.GreaterOrEqual(f.Size, sz)
		assert.Equal(uintptr(0), f.Addr()%uintptr(1<<uint(alignShift)))

		consumed := c.Commit(f, sz)
		assert.GreaterOrEqual(consumed, sz)
	}
}

// TestAbortAlwaysRestoresExactOffset checks the round-trip law
// prepare;commit(f,k);abort(k) restores Offset, across many random
// starting offsets, observed indirectly through Probe since Offset and
// pagecnt_bias are internal to Cache.
func TestAbortAlwaysRestoresExactOffset(t *testing.T) {
	assert := assert.New(t)
	pool := blockpool.New(blockpool.DefaultOptions)
	c := pagefrag.New(pool)

	for i := 0; i < 5000; i++ {
		// Get to a random offset first so the round trip is exercised
		// from varied starting states, not only from a fresh block.
		warmup := uint32(rand.Intn(200))
		if warmup > 0 {
			if _, err := c.Alloc(warmup, pagefrag.DefaultOptions.Flags, pagefrag.NoAlign); err != nil {
				continue
			}
		}

		// Prepare may refill or recycle the block, so the pre-commit
		// offset is read after it, not before.
		f, err := c.Prepare(16, pagefrag.DefaultOptions.Flags, pagefrag.NoAlign)
		assert.NoError(err)

		before, ok := c.Probe(0, pagefrag.NoAlign)
		assert.True(ok)

		c.Commit(f, 16)
		c.Abort(16)

		after, ok := c.Probe(0, pagefrag.NoAlign)
		assert.True(ok)
		assert.Equal(before.Offset, after.Offset)
	}
}
