package gc

import "unsafe"

// The stack window is the contiguous range between the base hint captured
// at Start and the stack pointer sampled at collection time, ordered
// low-to-high because stacks may grow either way. Every frame that holds a
// managed reference must sit inside that window; the Start hint therefore
// has to come from a frame shallower than any allocating frame. That is a
// caller contract, not something the collector can verify.

// currentStackPointer returns an address inside the caller's active frame.
//
//go:noinline
func currentStackPointer() uintptr {
	var anchor byte
	return uintptr(unsafe.Pointer(&anchor))
}

// stackWindow returns the root range to scan for this cycle. Tests may
// replace the window via boundsFn to trace from a controlled buffer.
func (c *Collector) stackWindow() (uintptr, uintptr) {
	if c.boundsFn != nil {
		return c.boundsFn()
	}
	c.minStack = currentStackPointer()
	lo, hi := c.minStack, c.stackBase
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}
