package blockpool

import (
	"sync"

	"github.com/tidwall/hashmap"
	"github.com/zeebo/xxh3"
)

// numShards is the count of independent shards the address-to-block
// table is split across, following the allocator's own sharded-bucket
// layout to keep concurrent lookups from many Caches off a single lock.
const numShards = 16

// lookupTable maps a block's PageSize-aligned base address to the block
// that owns it. Blocks are only guaranteed to be PageSize-aligned (not
// self-size-aligned for order > 0), so the key is always the page
// containing an address, never the raw address itself.
type lookupTable struct {
	shards [numShards]lookupShard
}

type lookupShard struct {
	mu sync.RWMutex
	m  hashmap.Map[uint64, *block]
}

func newLookupTable() *lookupTable {
	return &lookupTable{}
}

// hashPage mixes a page address for shard/bucket routing, operating on
// the raw uint64 rather than round-tripping through a string.
func hashPage(page uint64) uint64 {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(page >> (8 * i))
	}
	return xxh3.Hash(buf[:])
}

func (t *lookupTable) shard(page uint64) *lookupShard {
	return &t.shards[hashPage(page)&(numShards-1)]
}

func (t *lookupTable) register(page uint64, b *block) {
	s := t.shard(page)
	s.mu.Lock()
	s.m.Set(page, b)
	s.mu.Unlock()
}

func (t *lookupTable) unregister(page uint64) {
	s := t.shard(page)
	s.mu.Lock()
	s.m.Delete(page)
	s.mu.Unlock()
}

func (t *lookupTable) lookup(page uint64) (*block, bool) {
	s := t.shard(page)
	s.mu.RLock()
	b, ok := s.m.Get(page)
	s.mu.RUnlock()
	return b, ok
}
