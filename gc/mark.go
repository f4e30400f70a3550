package gc

import "unsafe"

const ptrSize = unsafe.Sizeof(uintptr(0))

// markReachable seeds the trace from the root set — FlagRoot entries,
// enrolled static ranges, and the stack window — and drains the work list
// until every transitively reachable allocation carries the mark bit.
// Marking is monotonic, so scan order does not matter.
func (c *Collector) markReachable() {
	c.work = c.work[:0]

	// Explicit roots first: mark them and queue their bodies.
	for i := range c.reg.slots {
		s := &c.reg.slots[i]
		if s.hash == 0 || s.flags&FlagRoot == 0 {
			continue
		}
		s.flags |= flagMark
		if s.flags&FlagLeaf == 0 {
			c.work = append(c.work, memRange{s.ptr, s.ptr + s.size})
		}
	}
	c.drainWork()

	for _, r := range c.statics {
		c.scanRange(r.lo, r.hi)
		c.drainWork()
	}

	lo, hi := c.stackWindow()
	c.scanRange(lo, hi)
	c.drainWork()
}

// scanRange reads every pointer-aligned word in [lo, hi) as a candidate
// address. Reads of uninitialized bytes are expected and tolerated; the
// caller guarantees the range is owned memory.
func (c *Collector) scanRange(lo, hi uintptr) {
	addr := (lo + ptrSize - 1) &^ (ptrSize - 1)
	for ; addr+ptrSize <= hi; addr += ptrSize {
		word := *(*uintptr)(unsafe.Pointer(addr))
		// Fast reject against the managed address bounds; only exact start
		// addresses can match, so anything outside [loPtr, hiPtr] cannot.
		if word < c.loPtr || word > c.hiPtr {
			continue
		}
		c.markAddr(word)
	}
}

// markAddr marks the entry starting exactly at p, if any, and queues its
// body for scanning unless it is a leaf. Interior addresses never match:
// the registry is keyed by start address only.
func (c *Collector) markAddr(p uintptr) {
	e := c.reg.lookup(p)
	if e == nil || e.flags&flagMark != 0 {
		return
	}
	e.flags |= flagMark
	if debugGC {
		debugLogf("marked %#x (%d bytes)", e.ptr, e.size)
	}
	if e.flags&FlagLeaf == 0 {
		c.work = append(c.work, memRange{e.ptr, e.ptr + e.size})
	}
}

// drainWork scans queued allocation bodies until the work list is empty.
// An explicit list bounds peak stack depth regardless of how deeply the
// traced object graph nests.
func (c *Collector) drainWork() {
	for len(c.work) > 0 {
		r := c.work[len(c.work)-1]
		c.work = c.work[:len(c.work)-1]
		c.scanRange(r.lo, r.hi)
	}
}
