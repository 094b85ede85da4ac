package pagefrag

import "errors"

// ErrOutOfMemory is returned by Prepare/Alloc when the block allocator
// could not supply a block to satisfy the request.
var ErrOutOfMemory = errors.New("pagefrag: out of memory")

// ErrTooLarge is returned by Prepare/Alloc when the requested fragment
// size exceeds PageSize. No single block can ever satisfy it, so the
// cache is left untouched.
var ErrTooLarge = errors.New("pagefrag: fragment larger than a single page")

// Debug toggles the invariant checks described as "debug-only assertion"
// in the allocation protocol. They are off by default so that release
// builds pay no cost for them, matching the VM_BUG_ON/WARN_ON_ONCE style
// of the source this package ports.
var Debug = false

func assertInvariant(cond bool, msg string) {
	if Debug && !cond {
		panic("pagefrag: " + msg)
	}
}
