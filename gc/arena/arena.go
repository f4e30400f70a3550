package arena

import (
	"container/heap"
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/joshuapare/memkit/internal/arith"
	"github.com/joshuapare/memkit/internal/mmseg"
)

// Debug flag - set to true to enable verbose logging (compile-time toggle).
const debugArena = false

// Runtime debug flag for allocation logging - controlled by MEMKIT_LOG_ARENA env var.
var logArena = os.Getenv("MEMKIT_LOG_ARENA") != ""

const (
	// headerSize is the per-block header: one word for size+allocated bit,
	// one word for the magic. Payloads start headerSize bytes into a block,
	// which keeps them 16-byte aligned on 64-bit platforms.
	headerSize = 2 * unsafe.Sizeof(uintptr(0))

	// blockAlign is the alignment of block sizes and addresses. The low bit
	// of the size word is free to carry the allocated flag.
	blockAlign = 16

	// minBlockSize is the minimum total block size (including header).
	// Splitting never produces a smaller remainder.
	minBlockSize = headerSize + blockAlign

	// pageSize rounds oversized segment requests.
	pageSize = 4096

	// allocatedBit marks a block as live in its size word.
	allocatedBit uintptr = 1

	// blockMagic guards the second header word; Free and Realloc reject
	// pointers whose header does not carry it.
	blockMagic uintptr = 0xA11C_0DE5
)

// Arena is a raw allocator over anonymous memory segments using min-heaps
// per size class.
//   - Min-heaps give O(log n) allocation/removal and perfect best-fit
//   - byAddr map enables O(1) block lookup for coalescing
//   - segs index enables O(log S) segment bounds lookup
type Arena struct {
	cfg Config

	// Size class configuration and lookup table
	sizeTable *sizeClassTable

	// Segregated free lists by size class using min-heaps
	freeLists []freeList

	// Large blocks (>= MediumMax) - simple linked list
	largeFree *largeBlock

	// Pool for reusing freeBlock structs
	blockPool sync.Pool

	// O(1) coalescing indexes
	// startIdx: block address -> size (forward coalesce lookup)
	// endIdx: block end address -> start address (backward coalesce lookup)
	startIdx map[uintptr]uintptr
	endIdx   map[uintptr]uintptr

	// O(1) block lookup by address (for heap.Remove during coalescing)
	byAddr map[uintptr]*freeBlock

	// Mapped segments, sorted by base address for binary search
	segs []segment

	closed bool

	// Statistics for testing and instrumentation
	stats Stats
}

// segment is one mapped region. data keeps the mapping (or fallback slab)
// referenced for the lifetime of the segment.
type segment struct {
	base    uintptr
	end     uintptr
	data    []byte
	release func() error
}

// Stats holds arena counters.
type Stats struct {
	MapCalls         int    // number of segment mappings
	MappedBytes      uint64 // total bytes mapped
	AllocCalls       int    // total Alloc() calls that found a block
	AllocFastPath    int    // allocations served without mapping
	AllocSlowPath    int    // allocations that required a new segment
	FreeCalls        int    // total Free() calls
	BytesAllocated   uint64 // total bytes allocated (including headers)
	BytesFreed       uint64 // total bytes freed
	SplitCount       int    // number of block splits
	CoalesceForward  int    // forward coalesce operations
	CoalesceBackward int    // backward coalesce operations
	HeapPushes       int    // heap.Push() calls
	HeapRemoves      int    // heap.Remove()/Pop() calls
}

// freeList is a size-class-specific free list using a min-heap.
type freeList struct {
	heap  freeBlockHeap // min-heap keyed on size
	count int
}

// freeBlock represents a free block in the arena.
type freeBlock struct {
	addr      uintptr // absolute block address
	size      uintptr // size including header
	sc        int     // size class (which heap this belongs to)
	heapIndex int     // position in heap (for heap.Remove)
}

// freeBlockHeap implements heap.Interface for a min-heap keyed on block size.
// The smallest block is at the top, giving perfect best-fit allocation.
type freeBlockHeap []*freeBlock

func (h *freeBlockHeap) Len() int { return len(*h) }

func (h *freeBlockHeap) Less(i, j int) bool {
	return (*h)[i].size < (*h)[j].size
}

func (h *freeBlockHeap) Swap(i, j int) {
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
	(*h)[i].heapIndex = i
	(*h)[j].heapIndex = j
}

func (h *freeBlockHeap) Push(x any) {
	blk := x.(*freeBlock) //nolint:errcheck // heap.Interface contract guarantees type
	blk.heapIndex = len(*h)
	*h = append(*h, blk)
}

func (h *freeBlockHeap) Pop() any {
	old := *h
	n := len(old)
	blk := old[n-1]
	blk.heapIndex = -1
	*h = old[0 : n-1]
	return blk
}

// largeBlock for free blocks >= MediumMax.
type largeBlock struct {
	addr uintptr
	size uintptr
	next *largeBlock
}

// New creates an arena. No memory is mapped until the first allocation.
//
// Parameters:
//   - config: segment and size class configuration (nil for DefaultConfig)
func New(config *Config) (*Arena, error) {
	if config == nil {
		config = &DefaultConfig
	}
	if config.SegmentSize < pageSize {
		return nil, fmt.Errorf("arena: segment size %d below page size", config.SegmentSize)
	}
	if config.SmallMin < minBlockSize {
		return nil, fmt.Errorf("arena: SmallMin %d below minimum block size %d", config.SmallMin, minBlockSize)
	}

	sizeTable := newSizeClassTable(*config)

	a := &Arena{
		cfg:       *config,
		sizeTable: sizeTable,
		freeLists: make([]freeList, sizeTable.NumClasses()),
		startIdx:  make(map[uintptr]uintptr),
		endIdx:    make(map[uintptr]uintptr),
		byAddr:    make(map[uintptr]*freeBlock, 256),
		blockPool: sync.Pool{
			New: func() any {
				return &freeBlock{}
			},
		},
	}
	return a, nil
}

// Alloc returns a pointer to size usable bytes, or nil when the request
// cannot be satisfied. The memory is not zeroed.
func (a *Arena) Alloc(size uintptr) unsafe.Pointer {
	if a.closed || size == 0 {
		return nil
	}

	total, ok := blockSizeFor(size)
	if !ok {
		return nil
	}

	sc := a.sizeTable.getSizeClass(total)

	var blk *freeBlock
	grew := false
	for {
		// O(log n) perfect best-fit via the class heaps.
		for c := sc; c < len(a.freeLists); c++ {
			if blk = a.allocFromSizeClass(c, total); blk != nil {
				break
			}
		}
		if blk == nil {
			blk = a.allocFromLarge(total)
		}
		if blk != nil {
			break
		}
		if grew {
			if debugArena {
				debugLogf("Alloc(%d): failed after grow", size)
				a.dumpArenaState(total)
			}
			return nil
		}
		if err := a.grow(total); err != nil {
			if logArena {
				fmt.Fprintf(os.Stderr, "[ARENA] grow for %d bytes failed: %v\n", total, err)
			}
			return nil
		}
		grew = true
	}

	a.stats.AllocCalls++
	if grew {
		a.stats.AllocSlowPath++
	} else {
		a.stats.AllocFastPath++
	}

	addr := blk.addr
	blkSize := blk.size
	a.putFreeBlock(blk)

	rem := blkSize - total
	if rem >= minBlockSize {
		// Split: allocate head, return tail to the free list.
		a.stats.SplitCount++
		writeHeader(addr, total, true)
		writeHeader(addr+total, rem, false)
		a.insertFreeBlock(addr+total, rem)
	} else {
		// Use the entire block (absorb remainder).
		total = blkSize
		writeHeader(addr, total, true)
	}

	a.stats.BytesAllocated += uint64(total)

	if logArena && size > 1<<16 {
		fmt.Fprintf(os.Stderr, "[ARENA] large request: %d bytes -> block %d at %#x\n", size, total, addr)
	}

	return unsafe.Pointer(addr + headerSize)
}

// Realloc resizes the block at p to hold at least size usable bytes. The
// returned pointer may differ from p, in which case the old block is freed
// after its contents are copied. Realloc(nil, n) behaves as Alloc(n).
func (a *Arena) Realloc(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	if p == nil {
		return a.Alloc(size)
	}
	if size == 0 {
		a.Free(p)
		return nil
	}
	if a.closed {
		return nil
	}

	addr := uintptr(p) - headerSize
	blkSize, allocated, valid := a.readBlock(addr)
	if !valid || !allocated {
		if debugArena {
			debugLogf("Realloc(%#x, %d): %v", uintptr(p), size, ErrBadPointer)
		}
		return nil
	}

	payload := blkSize - headerSize
	if payload >= size {
		// Shrink or same size: the block already fits.
		return p
	}

	np := a.Alloc(size)
	if np == nil {
		return nil
	}
	copy(unsafe.Slice((*byte)(np), payload), unsafe.Slice((*byte)(p), payload))
	a.Free(p)
	return np
}

// Free returns the block at p to the arena, coalescing with free neighbors
// inside the same segment. Pointers the arena does not own are ignored.
func (a *Arena) Free(p unsafe.Pointer) {
	if p == nil || a.closed {
		return
	}

	addr := uintptr(p) - headerSize
	size, allocated, valid := a.readBlock(addr)
	if !valid || !allocated {
		if debugArena {
			debugLogf("Free(%#x): %v", uintptr(p), ErrBadPointer)
		}
		return
	}

	segStart, segEnd, _ := a.findSegment(addr)

	a.stats.FreeCalls++
	a.stats.BytesFreed += uint64(size)
	writeHeader(addr, size, false)

	// Forward coalesce (only within the same segment).
	next := addr + size
	if next+headerSize <= segEnd {
		if nextSize, ok := a.startIdx[next]; ok {
			a.stats.CoalesceForward++
			a.removeFreeBlock(next, nextSize)
			size += nextSize
			writeHeader(addr, size, false)
		}
	}

	// Backward coalesce using the O(1) end index (only within the same segment).
	if prevAddr, ok := a.endIdx[addr]; ok && prevAddr >= segStart {
		prevSize := a.startIdx[prevAddr]
		if prevSize != 0 {
			a.stats.CoalesceBackward++
			a.removeFreeBlock(prevAddr, prevSize)
			size += prevSize
			addr = prevAddr
			writeHeader(addr, size, false)
		}
	}

	a.insertFreeBlock(addr, size)
}

// Close unmaps every segment. The arena cannot be used afterwards.
func (a *Arena) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	for i := range a.segs {
		if err := a.segs[i].release(); err != nil {
			errs = append(errs, err)
		}
	}
	a.segs = nil
	a.freeLists = nil
	a.largeFree = nil
	a.byAddr = nil
	a.startIdx = nil
	a.endIdx = nil
	return errors.Join(errs...)
}

// Stats returns a copy of the arena counters.
func (a *Arena) Stats() Stats {
	return a.stats
}

// Owns reports whether addr falls inside a mapped segment.
func (a *Arena) Owns(addr uintptr) bool {
	_, _, found := a.findSegment(addr)
	return found
}

// ============================================================================
// Internal helpers
// ============================================================================

// blockSizeFor rounds a payload request up to a full aligned block,
// guarding against overflow.
func blockSizeFor(size uintptr) (uintptr, bool) {
	total, ok := arith.AddUintptr(size, headerSize+blockAlign-1)
	if !ok {
		return 0, false
	}
	total &^= blockAlign - 1
	if total < minBlockSize {
		total = minBlockSize
	}
	return total, true
}

// writeHeader stores a block's size word and magic.
func writeHeader(addr, size uintptr, allocated bool) {
	word := size
	if allocated {
		word |= allocatedBit
	}
	*(*uintptr)(unsafe.Pointer(addr)) = word
	*(*uintptr)(unsafe.Pointer(addr + unsafe.Sizeof(uintptr(0)))) = blockMagic
}

// readHeader loads a block's size and allocated bit.
func readHeader(addr uintptr) (size uintptr, allocated bool) {
	word := *(*uintptr)(unsafe.Pointer(addr))
	return word &^ allocatedBit, word&allocatedBit != 0
}

// readBlock validates addr against the segment index and the header magic
// before trusting its header.
func (a *Arena) readBlock(addr uintptr) (size uintptr, allocated, valid bool) {
	segStart, segEnd, found := a.findSegment(addr)
	if !found || addr < segStart || addr+headerSize > segEnd {
		return 0, false, false
	}
	magic := *(*uintptr)(unsafe.Pointer(addr + unsafe.Sizeof(uintptr(0))))
	if magic != blockMagic {
		return 0, false, false
	}
	size, allocated = readHeader(addr)
	if size < minBlockSize || addr+size > segEnd {
		return 0, false, false
	}
	return size, allocated, true
}

// grow maps a new segment large enough for a block of total bytes.
func (a *Arena) grow(total uintptr) error {
	segSize := a.cfg.SegmentSize
	if total > segSize {
		aligned, ok := arith.AddUintptr(total, pageSize-1)
		if !ok {
			return ErrNoSpace
		}
		segSize = aligned &^ (pageSize - 1)
	}

	data, release, err := mmseg.Map(int(segSize))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMapFail, err)
	}

	base := uintptr(unsafe.Pointer(&data[0]))
	seg := segment{base: base, end: base + uintptr(len(data)), data: data, release: release}

	// Keep segs sorted by base for binary search.
	pos := len(a.segs)
	for i := range a.segs {
		if base < a.segs[i].base {
			pos = i
			break
		}
	}
	a.segs = append(a.segs, segment{})
	copy(a.segs[pos+1:], a.segs[pos:])
	a.segs[pos] = seg

	a.stats.MapCalls++
	a.stats.MappedBytes += uint64(len(data))

	if logArena {
		fmt.Fprintf(os.Stderr, "[ARENA] mapped segment #%d: %d bytes at %#x\n",
			a.stats.MapCalls, len(data), base)
	}

	// The whole segment starts as one master free block.
	writeHeader(base, uintptr(len(data)), false)
	a.insertFreeBlock(base, uintptr(len(data)))
	return nil
}

// findSegment finds the segment containing addr.
// Returns (base, end, true) if found. O(log S) via binary search.
func (a *Arena) findSegment(addr uintptr) (uintptr, uintptr, bool) {
	lo, hi := 0, len(a.segs)-1
	for lo <= hi {
		mid := (lo + hi) >> 1
		s := &a.segs[mid]
		switch {
		case addr < s.base:
			hi = mid - 1
		case addr >= s.end:
			lo = mid + 1
		default:
			return s.base, s.end, true
		}
	}
	return 0, 0, false
}

// allocFromSizeClass allocates from a size class heap using best-fit.
// Returns a block >= need, or nil if none is found among the blocks examined.
//
// Fast path (O(log n)): the min-heap guarantees heap[0] is the smallest
// block. If heap[0].size >= need, it is the best fit — pop immediately.
//
// Slow path: heap[0] is too small but the class range may include larger
// blocks; a bounded scan accepts a good-enough fit.
func (a *Arena) allocFromSizeClass(sc int, need uintptr) *freeBlock {
	list := &a.freeLists[sc]
	if list.heap.Len() == 0 {
		return nil
	}

	if list.heap[0].size >= need {
		a.stats.HeapRemoves++
		blk := heap.Pop(&list.heap).(*freeBlock) //nolint:errcheck // heap contains only *freeBlock
		list.count--
		a.unindexFreeBlock(blk.addr, blk.size)
		return blk
	}

	const (
		maxSlowPathScan = 32  // never scan more than 32 blocks
		fitTolerance    = 128 // accept blocks within 128 bytes of optimal
	)

	bestIdx := -1
	bestSize := ^uintptr(0)
	maxAcceptable := need + fitTolerance

	scanLimit := min(list.heap.Len(), maxSlowPathScan)
	for i := 1; i < scanLimit; i++ {
		blockSize := list.heap[i].size
		if blockSize >= need {
			if blockSize <= maxAcceptable {
				bestIdx = i
				break
			}
			if blockSize < bestSize {
				bestIdx = i
				bestSize = blockSize
			}
		}
	}

	if bestIdx == -1 {
		return nil
	}

	a.stats.HeapRemoves++
	blk := heap.Remove(&list.heap, bestIdx).(*freeBlock) //nolint:errcheck // heap contains only *freeBlock
	list.count--
	a.unindexFreeBlock(blk.addr, blk.size)
	return blk
}

// allocFromLarge takes the first fitting block off the large list.
func (a *Arena) allocFromLarge(need uintptr) *freeBlock {
	var prev *largeBlock
	for curr := a.largeFree; curr != nil; curr = curr.next {
		if curr.size >= need {
			if prev == nil {
				a.largeFree = curr.next
			} else {
				prev.next = curr.next
			}
			blk := a.getFreeBlock()
			blk.addr = curr.addr
			blk.size = curr.size
			a.unindexFreeBlock(curr.addr, curr.size)
			return blk
		}
		prev = curr
	}
	return nil
}

// insertFreeBlock inserts a free block into the appropriate structure.
func (a *Arena) insertFreeBlock(addr, size uintptr) {
	sc := a.sizeTable.getSizeClass(size)

	if sc < len(a.freeLists) {
		blk := a.getFreeBlock()
		blk.addr = addr
		blk.size = size
		blk.sc = sc

		a.stats.HeapPushes++
		heap.Push(&a.freeLists[sc].heap, blk)
		a.freeLists[sc].count++

		a.byAddr[addr] = blk
	} else {
		// Large block (>= MediumMax) -> linked list.
		a.largeFree = &largeBlock{addr: addr, size: size, next: a.largeFree}
	}

	a.startIdx[addr] = size
	a.endIdx[addr+size] = addr
}

// removeFreeBlock removes a free block found via the coalescing indexes.
func (a *Arena) removeFreeBlock(addr, size uintptr) {
	sc := a.sizeTable.getSizeClass(size)

	if sc < len(a.freeLists) {
		blk := a.byAddr[addr]
		if blk == nil {
			return
		}
		a.stats.HeapRemoves++
		heap.Remove(&a.freeLists[sc].heap, blk.heapIndex)
		a.freeLists[sc].count--
		a.unindexFreeBlock(addr, size)
		a.putFreeBlock(blk)
		return
	}

	var prev *largeBlock
	for curr := a.largeFree; curr != nil; curr = curr.next {
		if curr.addr == addr {
			if prev == nil {
				a.largeFree = curr.next
			} else {
				prev.next = curr.next
			}
			a.unindexFreeBlock(addr, size)
			return
		}
		prev = curr
	}
}

// unindexFreeBlock drops a block from the coalescing indexes and byAddr map.
func (a *Arena) unindexFreeBlock(addr, size uintptr) {
	delete(a.byAddr, addr)
	delete(a.startIdx, addr)
	delete(a.endIdx, addr+size)
}

func (a *Arena) getFreeBlock() *freeBlock {
	blk, ok := a.blockPool.Get().(*freeBlock)
	if !ok {
		return &freeBlock{}
	}
	return blk
}

func (a *Arena) putFreeBlock(blk *freeBlock) {
	blk.heapIndex = -1
	blk.sc = 0
	a.blockPool.Put(blk)
}

// ============================================================================
// Debug helpers
// ============================================================================

// debugLogf prints debug messages if debugArena is enabled.
func debugLogf(format string, args ...any) {
	if debugArena {
		fmt.Fprintf(os.Stderr, "[ARENA] "+format+"\n", args...)
	}
}

// dumpArenaState dumps the free structures for debugging.
func (a *Arena) dumpArenaState(need uintptr) {
	if !debugArena {
		return
	}

	fmt.Fprintf(os.Stderr, "\n=== ARENA STATE DUMP (need=%d) ===\n", need)
	fmt.Fprintf(os.Stderr, "segments: %d\n", len(a.segs))
	fmt.Fprintf(os.Stderr, "size classes: %d\n", len(a.freeLists))
	fmt.Fprintf(os.Stderr, "byAddr map: %d entries\n", len(a.byAddr))

	for sc := range a.freeLists {
		h := &a.freeLists[sc].heap
		if h.Len() > 0 {
			minSize := (*h)[0].size
			maxSize := uintptr(0)
			for i := range h.Len() {
				if (*h)[i].size > maxSize {
					maxSize = (*h)[i].size
				}
			}
			fmt.Fprintf(os.Stderr, "  SC[%d]: %d blocks, size range [%d, %d]\n",
				sc, h.Len(), minSize, maxSize)
		}
	}

	lbCount := 0
	for lb := a.largeFree; lb != nil; lb = lb.next {
		lbCount++
	}
	fmt.Fprintf(os.Stderr, "large list: %d blocks\n", lbCount)
}
