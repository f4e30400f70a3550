// Package gc implements a conservative, thread-confined, mark-and-sweep
// garbage collector for memory allocated outside the Go heap.
//
// # Overview
//
// A Collector owns a registry of allocations obtained through its raw
// Allocator (by default an arena over anonymous memory mappings). Memory is
// requested through the collector's allocation entry points and reclaimed
// automatically once no reachable reference to it remains. Reachability is
// conservative: the collector scans raw memory — the goroutine stack window
// between the Start hint and the collection-time stack pointer, enrolled
// static ranges, and the bodies of reachable allocations — for aligned words
// that equal the start address of a live allocation.
//
// # Key Types
//
//   - Collector: one thread's managed heap; registry + trace + sweep
//   - Allocator: the three-operation raw allocator underneath
//   - Flag: per-allocation flags (FlagRoot, FlagLeaf)
//   - Destructor: callback invoked just before a block's memory is released
//   - Stats: collector counters
//
// # Usage Example
//
//	func main() {
//		var argc int
//		c, err := gc.New(nil, nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//		c.Start(unsafe.Pointer(&argc))
//		defer c.Stop()
//
//		run(c) // allocate freely; unreachable blocks are reclaimed
//	}
//
// # Reachability Contract
//
// Only exact start addresses root an allocation; interior pointers do not.
// Only the scanned ranges count: a pointer held solely in unscanned memory
// (the Go heap, another goroutine, an unenrolled global) does not keep its
// referent alive. FlagRoot entries always survive; FlagLeaf entries are
// never scanned for interior references.
//
// The hint passed to Start must come from a frame shallower than any frame
// that creates managed references, and the collector must never manage Go
// heap pointers — it manages only memory returned by its own Allocator.
//
// One Go-specific caveat: goroutine stacks relocate when they grow. The
// Start hint is an address into the stack as it was at Start time, so the
// goroutine must reach its working stack depth before calling Start (a
// throwaway deep call suffices). Code that respects the outermost-frame
// contract rarely trips this in practice.
//
// # Thread Safety
//
// Collector instances are not thread-safe and are meant to be confined to a
// single goroutine. Pointers reachable only from other goroutines are
// invisible to the trace.
package gc
