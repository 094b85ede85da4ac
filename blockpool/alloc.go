package blockpool

import (
	"unsafe"

	"github.com/fragcache/pagefrag"
)

// alignedAlloc returns a size-byte slice whose start address is aligned
// to pagefrag.PageSize. Go's allocator gives no alignment guarantee
// beyond what the size class happens to provide, so this carves the
// aligned window out of a slightly larger allocation by hand.
func alignedAlloc(size int) []byte {
	const align = pagefrag.PageSize

	outer := make([]byte, size+align)
	base := uintptr(unsafe.Pointer(&outer[0]))
	aligned := (base + uintptr(align-1)) &^ uintptr(align-1)
	off := aligned - base

	return outer[off : off+uintptr(size) : off+uintptr(size)]
}

func addrOf(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}
