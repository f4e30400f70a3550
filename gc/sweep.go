package gc

// sweep reclaims every unmarked non-root entry. The pass is split in two:
// the registry is brought to a self-consistent state first (removals, then
// a possible shrink), and only then do destructors run and memory return to
// the raw allocator — destructors may call back into the collector, so they
// must never observe a half-mutated registry. No ordering between frees
// within one sweep is promised.
func (c *Collector) sweep() {
	c.frees = c.frees[:0]
	for i := range c.reg.slots {
		s := &c.reg.slots[i]
		if s.hash == 0 {
			continue
		}
		if s.flags&(flagMark|FlagRoot) == 0 {
			c.frees = append(c.frees, freeItem{s.ptr, s.size, s.dtor})
		}
	}

	for _, f := range c.frees {
		c.reg.remove(f.ptr)
	}

	// Shrinking rehashes; the collecting flag already holds off any
	// re-entrant cycle while slots move.
	c.reg.maybeShrink()

	c.releaseFrees()

	// Clear marks for the next cycle and rebuild the candidate bounds.
	// Entries inserted by destructors are unmarked already and simply join
	// the bounds.
	c.loPtr = ^uintptr(0)
	c.hiPtr = 0
	for i := range c.reg.slots {
		s := &c.reg.slots[i]
		if s.hash == 0 {
			continue
		}
		s.flags &^= flagMark
		if s.ptr < c.loPtr {
			c.loPtr = s.ptr
		}
		if s.ptr > c.hiPtr {
			c.hiPtr = s.ptr
		}
	}

	next := int(float64(c.reg.occupied) * c.cfg.TriggerGrowth)
	if next < c.cfg.InitialTrigger {
		next = c.cfg.InitialTrigger
	}
	c.trigger = next
}
