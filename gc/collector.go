package gc

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/joshuapare/memkit/gc/arena"
)

// Debug flag - set to true to enable verbose logging (compile-time toggle).
const debugGC = false

// Runtime debug flag for collection logging - controlled by MEMKIT_LOG_GC env var.
var logGC = os.Getenv("MEMKIT_LOG_GC") != ""

// Config holds the collector tuning knobs. The zero value of any field
// selects its default; none are required for correctness.
type Config struct {
	// LoadFactor is the registry occupancy ratio that triggers growth.
	LoadFactor float64 // default 0.9

	// SweepFactor is the occupancy ratio below which a sweep shrinks the registry.
	SweepFactor float64 // default 0.5

	// MinCapacity is the smallest registry size; rounded up to a power of two.
	MinCapacity int // default 32

	// TriggerGrowth multiplies the post-sweep live count to set the next
	// automatic collection threshold.
	TriggerGrowth float64 // default 1.5

	// InitialTrigger is the allocation count that starts the first
	// automatic collection.
	InitialTrigger int // default 128
}

// DefaultConfig is used when New receives a nil config.
var DefaultConfig = Config{
	LoadFactor:     0.9,
	SweepFactor:    0.5,
	MinCapacity:    32,
	TriggerGrowth:  1.5,
	InitialTrigger: 128,
}

// Compile-time interface satisfaction check.
var _ Allocator = (*arena.Arena)(nil)

// memRange is a half-open [lo, hi) address range.
type memRange struct {
	lo, hi uintptr
}

// freeItem defers a destructor+release pair until the registry is
// consistent again.
type freeItem struct {
	ptr  uintptr
	size uintptr
	dtor Destructor
}

// Collector owns one goroutine's managed heap.
type Collector struct {
	heap Allocator
	cfg  Config
	reg  registry

	// Stack window bookkeeping (see stack.go).
	stackBase uintptr
	minStack  uintptr

	// boundsFn overrides the stack window; tests use it to drive the root
	// set from a controlled buffer (nil in production).
	boundsFn func() (lo, hi uintptr)

	// Enrolled static ranges, scanned as roots each cycle.
	statics []memRange

	// Bounds of managed start addresses for O(1) candidate rejection.
	loPtr, hiPtr uintptr

	// Trace work list and sweep frees buffer, reused across cycles.
	work  []memRange
	frees []freeItem

	trigger    int
	paused     bool
	collecting bool
	started    bool

	// ownArena is set when New built the default allocator; Stop closes it.
	ownArena *arena.Arena

	stats Stats
}

// New creates a collector over heap. A nil heap selects a private
// default-configured arena, which Stop will close. A nil config selects
// DefaultConfig. The collector does nothing until Start is called.
func New(heap Allocator, config *Config) (*Collector, error) {
	if config == nil {
		config = &DefaultConfig
	}
	cfg := *config
	if cfg.LoadFactor == 0 {
		cfg.LoadFactor = DefaultConfig.LoadFactor
	}
	if cfg.SweepFactor == 0 {
		cfg.SweepFactor = DefaultConfig.SweepFactor
	}
	if cfg.MinCapacity == 0 {
		cfg.MinCapacity = DefaultConfig.MinCapacity
	}
	if cfg.TriggerGrowth == 0 {
		cfg.TriggerGrowth = DefaultConfig.TriggerGrowth
	}
	if cfg.InitialTrigger == 0 {
		cfg.InitialTrigger = DefaultConfig.InitialTrigger
	}

	if cfg.LoadFactor <= 0 || cfg.LoadFactor > 1 {
		return nil, fmt.Errorf("%w: load factor %v", ErrBadConfig, cfg.LoadFactor)
	}
	if cfg.SweepFactor < 0 || cfg.SweepFactor >= cfg.LoadFactor {
		return nil, fmt.Errorf("%w: sweep factor %v", ErrBadConfig, cfg.SweepFactor)
	}
	if cfg.MinCapacity < 4 {
		return nil, fmt.Errorf("%w: min capacity %d", ErrBadConfig, cfg.MinCapacity)
	}
	if cfg.TriggerGrowth <= 1 {
		return nil, fmt.Errorf("%w: trigger growth %v", ErrBadConfig, cfg.TriggerGrowth)
	}
	if cfg.InitialTrigger < 1 {
		return nil, fmt.Errorf("%w: initial trigger %d", ErrBadConfig, cfg.InitialTrigger)
	}
	cfg.MinCapacity = ceilPow2(cfg.MinCapacity)

	c := &Collector{
		cfg: cfg,
		reg: newRegistry(cfg.MinCapacity, cfg.LoadFactor, cfg.SweepFactor),
	}
	if heap == nil {
		a, err := arena.New(nil)
		if err != nil {
			return nil, err
		}
		c.ownArena = a
		heap = a
	}
	c.heap = heap
	return c, nil
}

// Start arms the collector. hint must be the address of a local variable in
// the function intended to be the outermost live frame: every frame that
// holds managed references must be deeper than it.
func (c *Collector) Start(hint unsafe.Pointer) {
	c.stackBase = uintptr(hint)
	c.minStack = c.stackBase
	c.loPtr = ^uintptr(0)
	c.hiPtr = 0
	c.trigger = c.cfg.InitialTrigger
	c.paused = false
	c.collecting = false
	c.started = true
}

// Stop frees every allocation not flagged FlagRoot, running destructors,
// then releases the registry storage. FlagRoot allocations remain with the
// raw allocator unless the caller freed them first — except when the
// collector owns its default arena, which Stop unmaps entirely.
func (c *Collector) Stop() {
	if !c.started {
		return
	}
	c.collecting = true

	c.frees = c.frees[:0]
	for i := range c.reg.slots {
		s := &c.reg.slots[i]
		if s.hash != 0 && s.flags&FlagRoot == 0 {
			c.frees = append(c.frees, freeItem{s.ptr, s.size, s.dtor})
		}
	}
	for _, f := range c.frees {
		c.reg.remove(f.ptr)
	}
	c.releaseFrees()

	c.reg.release()
	c.statics = nil
	c.work = nil
	c.frees = nil
	c.collecting = false
	c.started = false

	if c.ownArena != nil {
		if err := c.ownArena.Close(); err != nil && logGC {
			fmt.Fprintf(os.Stderr, "[GC] arena close: %v\n", err)
		}
		c.ownArena = nil
	}
}

// Run performs a full mark and sweep immediately. It works while paused;
// nested runs (from destructors or allocation during collection) are no-ops.
func (c *Collector) Run() {
	if !c.started || c.collecting {
		return
	}
	c.collecting = true
	before := c.reg.occupied

	c.markReachable()
	c.sweep()

	c.collecting = false
	c.stats.Collections++

	if logGC {
		fmt.Fprintf(os.Stderr, "[GC] cycle #%d: %d -> %d live, next trigger %d\n",
			c.stats.Collections, before, c.reg.occupied, c.trigger)
	}
}

// Pause disables automatic collection on allocation. Run still works.
func (c *Collector) Pause() {
	c.paused = true
}

// Resume re-enables automatic collection.
func (c *Collector) Resume() {
	c.paused = false
}

// Paused reports whether automatic collection is disabled.
func (c *Collector) Paused() bool {
	return c.paused
}

// AddRoots enrolls the address range [lo, hi) as additional root memory,
// scanned on every collection. Use it for ecosystems where long-lived
// buffers outside the stack hold managed references.
func (c *Collector) AddRoots(lo, hi unsafe.Pointer) {
	if uintptr(lo) >= uintptr(hi) {
		return
	}
	c.statics = append(c.statics, memRange{uintptr(lo), uintptr(hi)})
}

// maybeCollect starts a cycle when the live count has crossed the trigger
// threshold. Called after every successful insert.
func (c *Collector) maybeCollect() {
	if c.paused || c.collecting {
		return
	}
	if c.reg.occupied >= c.trigger {
		c.Run()
	}
}

// track registers a fresh allocation.
func (c *Collector) track(ptr, size uintptr, flags Flag, dtor Destructor) {
	c.reg.ensureCapacity()
	c.reg.insert(entry{
		ptr:   ptr,
		size:  size,
		hash:  hashPtr(ptr),
		flags: flags & publicFlags,
		dtor:  dtor,
	})
	if ptr < c.loPtr {
		c.loPtr = ptr
	}
	if ptr > c.hiPtr {
		c.hiPtr = ptr
	}
	c.stats.Allocs++
	c.stats.BytesAllocated += uint64(size)
	c.maybeCollect()
}

// releaseFrees runs destructors and returns memory for everything in the
// frees buffer. The registry must already be consistent: destructors may
// call back into the collector.
func (c *Collector) releaseFrees() {
	for _, f := range c.frees {
		if f.dtor != nil {
			f.dtor(unsafe.Pointer(f.ptr))
		}
		c.heap.Free(unsafe.Pointer(f.ptr))
		c.stats.Frees++
		c.stats.BytesFreed += uint64(f.size)
	}
	c.frees = c.frees[:0]
}

func ceilPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
