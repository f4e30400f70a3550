package gc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/memkit/gc/arena"
)

// rootBuf is the controlled "stack" used by collector tests: the trace
// window is pointed at this buffer so reachability is driven entirely by
// what a test stores in it, independent of goroutine stack layout.
const rootWordCount = 64

type rootBuf [rootWordCount]uintptr

func (r *rootBuf) window() (uintptr, uintptr) {
	lo := uintptr(unsafe.Pointer(&r[0]))
	return lo, lo + rootWordCount*ptrSize
}

func (r *rootBuf) clear() {
	for i := range r {
		r[i] = 0
	}
}

// newTestCollector builds a collector over a fresh arena with the trace
// window bound to a rootBuf. With a nil config the automatic trigger is
// pushed out of the way so tests collect only when they call Run.
func newTestCollector(t *testing.T, config *Config) (*Collector, *rootBuf) {
	t.Helper()

	a, err := arena.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, a.Close())
	})

	if config == nil {
		config = &Config{InitialTrigger: 1 << 30}
	}
	c, err := New(a, config)
	require.NoError(t, err)

	roots := new(rootBuf)
	c.boundsFn = roots.window

	var hint int
	c.Start(unsafe.Pointer(&hint))
	t.Cleanup(c.Stop)
	return c, roots
}

// word returns the aligned word at byte offset off inside the managed
// allocation p.
func word(p unsafe.Pointer, off uintptr) *uintptr {
	return (*uintptr)(unsafe.Add(p, off))
}

// alive reports whether p is still registered.
func alive(c *Collector, p unsafe.Pointer) bool {
	return c.reg.lookup(uintptr(p)) != nil
}
