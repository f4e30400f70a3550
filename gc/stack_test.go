package gc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/memkit/gc/arena"
)

// growStack forces the goroutine stack to its working size up front, so
// the frames between Start and Run stay put.
//
//go:noinline
func growStack(n int) int {
	var pad [256]byte
	if n == 0 {
		return int(pad[0])
	}
	return growStack(n-1) + int(pad[255])
}

func TestStackWindow_Ordered(t *testing.T) {
	growStack(128)
	a, err := arena.New(nil)
	require.NoError(t, err)
	defer a.Close()

	c, err := New(a, nil)
	require.NoError(t, err)
	var hint int
	c.Start(unsafe.Pointer(&hint))
	defer c.Stop()

	var lo, hi uintptr
	// Sample from a deeper frame so the window is non-degenerate.
	func() {
		var pad [32]uintptr
		_ = pad
		lo, hi = c.stackWindow()
	}()

	require.Less(t, lo, hi)
	base := uintptr(unsafe.Pointer(&hint))
	require.True(t, lo == base || hi == base, "one end must be the Start hint")
}

func TestStackWindow_HookOverrides(t *testing.T) {
	c, roots := newTestCollector(t, nil)
	lo, hi := c.stackWindow()
	wantLo, wantHi := roots.window()
	require.Equal(t, wantLo, lo)
	require.Equal(t, wantHi, hi)
}

// The default window makes a fresh allocation reachable through the very
// frame that requested it: the returned pointer sits in a scanned stack
// slot, so collecting immediately after allocating must retain it.
func TestStackScan_RetainsFramePointer(t *testing.T) {
	growStack(128)
	a, err := arena.New(nil)
	require.NoError(t, err)
	defer a.Close()

	c, err := New(a, nil)
	require.NoError(t, err)
	var hint int
	c.Start(unsafe.Pointer(&hint))
	defer c.Stop()

	p := c.Alloc(64)
	require.NotNil(t, p)

	c.Run()
	require.True(t, alive(c, p), "pointer held in a live frame must survive")
	require.Equal(t, uintptr(64), c.Size(p))
}

func TestScan_AlignsRangeStart(t *testing.T) {
	c, roots := newTestCollector(t, nil)

	p0 := c.Alloc(64)
	p1 := c.Alloc(64)
	require.NotNil(t, p0)
	require.NotNil(t, p1)
	roots[0] = uintptr(p0)
	roots[1] = uintptr(p1)

	// A window starting one byte into the buffer rounds up to the next
	// aligned word: roots[0] falls outside, roots[1] stays inside.
	lo, hi := roots.window()
	c.boundsFn = func() (uintptr, uintptr) { return lo + 1, hi }

	c.Run()
	require.False(t, alive(c, p0))
	require.True(t, alive(c, p1))
}

func TestScan_ToleratesGarbageWords(t *testing.T) {
	c, roots := newTestCollector(t, nil)

	p := c.Alloc(64)
	require.NotNil(t, p)

	// Fill the window with junk that looks nothing like (and a little like)
	// managed addresses; only the exact start address may root.
	for i := range roots {
		roots[i] = uintptr(p) + uintptr(i)*7
	}
	roots[3] = uintptr(p)

	c.Run()
	require.True(t, alive(c, p))

	roots.clear()
	c.Run()
	require.False(t, alive(c, p))
}
