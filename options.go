package pagefrag

import "errors"

// Options configures a Cache. It follows the allocator's own house
// style of a plain exported-field struct plus a package default, rather
// than functional options.
type Options struct {
	// Allocator supplies and releases blocks. Required.
	Allocator BlockAllocator

	// Flags is a suggested default gfp value for callers to pass to
	// Prepare/Alloc. It is not applied by NewWithOptions and never stored
	// on a Cache: spec.md §4.2/§4.4 model flags as a per-call argument, so
	// a Cache built from these Options still requires flags at each
	// Prepare/Alloc call site — this field exists only so callers that
	// don't need to vary gfp per call have a documented value to reuse.
	Flags Flags
}

// DefaultOptions allows direct reclaim and draws from the emergency
// reserve if the allocator needs to; nothing here is forced until the
// large-block refill path augments it.
var DefaultOptions = Options{
	Flags: FlagDirectReclaim,
}

var errNilAllocator = errors.New("pagefrag: options: nil allocator")

func (o Options) validate() error {
	if o.Allocator == nil {
		return errNilAllocator
	}
	return nil
}
