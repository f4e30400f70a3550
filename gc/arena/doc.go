// Package arena provides the default raw allocator backing a collector.
//
// # Overview
//
// An Arena hands out untyped blocks of memory carved from anonymous,
// privately mapped segments. It is the "underlying allocator" a collector
// builds on: the collector registers and traces the blocks, the arena only
// manages the free space. Blocks never move, so address-valued references
// held by client code stay valid until the block is freed.
//
// # Design
//
// Free blocks are kept in segregated free lists by size class, one min-heap
// per class:
//
//   - Min-heaps give O(log n) allocation/removal and perfect best-fit
//   - Linear small classes plus logarithmic medium classes keep heaps small
//   - byAddr map enables O(1) block lookup for coalescing
//   - segs index enables O(log S) segment bounds lookup
//
// Each block carries a two-word header holding its total size and an
// allocated bit. Freeing coalesces with free neighbors inside the same
// segment before reinserting the block.
//
// When no free block fits, the arena maps a new segment (Config.SegmentSize,
// or larger when a single request demands it) and retries.
//
// # Usage Example
//
//	a, err := arena.New(nil)
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	p := a.Alloc(256)
//	// ... use the 256 payload bytes at p ...
//	a.Free(p)
//
// # Thread Safety
//
// Arena instances are not thread-safe. Callers must confine an arena to one
// goroutine or synchronize access externally; a collector already imposes
// the same confinement.
package arena
