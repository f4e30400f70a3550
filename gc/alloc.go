package gc

import (
	"unsafe"

	"github.com/joshuapare/memkit/internal/arith"
)

// Alloc returns a pointer to size managed bytes, or nil. The memory is not
// zeroed. Alloc(0) returns nil.
func (c *Collector) Alloc(size uintptr) unsafe.Pointer {
	return c.AllocOpts(size, 0, nil)
}

// AllocOpts is Alloc with initial flags and an optional destructor. When the
// raw allocator fails, a forced collection runs and the request is retried
// once; nil is returned only after the retry fails.
func (c *Collector) AllocOpts(size uintptr, flags Flag, dtor Destructor) unsafe.Pointer {
	if !c.started || size == 0 {
		return nil
	}
	p := c.heap.Alloc(size)
	if p == nil {
		c.Run()
		p = c.heap.Alloc(size)
		if p == nil {
			c.stats.FailedAllocs++
			return nil
		}
	}
	c.track(uintptr(p), size, flags, dtor)
	return p
}

// Calloc returns zeroed memory for num elements of size bytes each, or nil
// when the product overflows or the allocation fails.
func (c *Collector) Calloc(num, size uintptr) unsafe.Pointer {
	return c.CallocOpts(num, size, 0, nil)
}

// CallocOpts is Calloc with initial flags and an optional destructor.
func (c *Collector) CallocOpts(num, size uintptr, flags Flag, dtor Destructor) unsafe.Pointer {
	total, ok := arith.MulUintptr(num, size)
	if !ok {
		c.stats.FailedAllocs++
		return nil
	}
	p := c.AllocOpts(total, flags, dtor)
	if p == nil {
		return nil
	}
	clear(unsafe.Slice((*byte)(p), total))
	return p
}

// Realloc resizes the managed allocation at p to size bytes, preserving its
// flags and destructor across an address change. Realloc(nil, n) behaves as
// Alloc(n); Realloc(p, 0) behaves as Free(p) and returns nil. Pointers the
// collector does not manage yield nil.
func (c *Collector) Realloc(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	if p == nil {
		return c.Alloc(size)
	}
	if !c.started {
		return nil
	}
	if size == 0 {
		c.Free(p)
		return nil
	}

	e := c.reg.lookup(uintptr(p))
	if e == nil {
		return nil
	}
	flags := e.flags & publicFlags
	dtor := e.dtor

	np := c.heap.Realloc(p, size)
	if np == nil {
		// The old block and its entry are untouched.
		return nil
	}

	if np == p {
		// Resized in place; only the tracked length changes. The entry
		// pointer is still valid: nothing rehashed since the lookup.
		e.size = size
		return np
	}

	c.reg.remove(uintptr(p))
	c.track(uintptr(np), size, flags, dtor)
	return np
}

// Free releases a managed allocation immediately: its destructor runs once,
// its entry leaves the registry, and its memory returns to the raw
// allocator. Unknown pointers and nil are ignored.
func (c *Collector) Free(p unsafe.Pointer) {
	if p == nil || !c.started {
		return
	}
	removed, ok := c.reg.remove(uintptr(p))
	if !ok {
		return
	}
	if removed.dtor != nil {
		removed.dtor(p)
	}
	c.heap.Free(p)
	c.stats.Frees++
	c.stats.BytesFreed += uint64(removed.size)
}

// SetFlags replaces the flags of a managed allocation. Unknown pointers are
// ignored. The mark bit cannot be set from outside.
func (c *Collector) SetFlags(p unsafe.Pointer, flags Flag) {
	if e := c.reg.lookup(uintptr(p)); e != nil {
		e.flags = e.flags&flagMark | flags&publicFlags
	}
}

// Flags returns the flags of a managed allocation, or zero for unknown
// pointers.
func (c *Collector) Flags(p unsafe.Pointer) Flag {
	if e := c.reg.lookup(uintptr(p)); e != nil {
		return e.flags & publicFlags
	}
	return 0
}

// SetDtor replaces the destructor of a managed allocation. Unknown pointers
// are ignored.
func (c *Collector) SetDtor(p unsafe.Pointer, dtor Destructor) {
	if e := c.reg.lookup(uintptr(p)); e != nil {
		e.dtor = dtor
	}
}

// Dtor returns the destructor of a managed allocation, or nil.
func (c *Collector) Dtor(p unsafe.Pointer) Destructor {
	if e := c.reg.lookup(uintptr(p)); e != nil {
		return e.dtor
	}
	return nil
}

// Size returns the tracked byte length of a managed allocation, or zero for
// unknown pointers.
func (c *Collector) Size(p unsafe.Pointer) uintptr {
	if e := c.reg.lookup(uintptr(p)); e != nil {
		return e.size
	}
	return 0
}
