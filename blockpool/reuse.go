package blockpool

import "sort"

// reuseCache holds freed block buffers for quick reuse, indexed by
// capacity so a later allocation can fetch one that's at least as big as
// it needs without zeroing or reallocating. Adapted from the allocator's
// own slab-reuse cache (there keyed by byte-string capacity; here keyed
// by block capacity). Pool keeps one reuseCache per order, so every
// buffer in one cache has the same capacity, PageSize<<order.
type reuseCache struct {
	keys  []int
	items [][]byte
}

func newReuseCache() *reuseCache {
	return &reuseCache{}
}

// put stores buf for later reuse. Capacity, not length, is the key: the
// caller always re-slices to the capacity it needs on fetch.
func (r *reuseCache) put(buf []byte) {
	key := cap(buf)
	i := sort.SearchInts(r.keys, key)
	r.keys = append(r.keys, 0)
	copy(r.keys[i+1:], r.keys[i:])
	r.keys[i] = key

	r.items = append(r.items, nil)
	copy(r.items[i+1:], r.items[i:])
	r.items[i] = buf
}

// fetch returns a previously put buffer with capacity >= want, removing
// it from the cache, or nil if none is large enough.
func (r *reuseCache) fetch(want int) []byte {
	i := sort.SearchInts(r.keys, want)
	if i >= len(r.keys) {
		return nil
	}
	buf := r.items[i]
	r.keys = append(r.keys[:i], r.keys[i+1:]...)
	r.items = append(r.items[:i], r.items[i+1:]...)
	return buf
}

func (r *reuseCache) len() int {
	return len(r.keys)
}
