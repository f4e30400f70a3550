package arena

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newTestArena(t *testing.T) *Arena {
	t.Helper()
	a, err := New(nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, a.Close())
	})
	return a
}

func TestArena_AllocBasic(t *testing.T) {
	a := newTestArena(t)

	p := a.Alloc(64)
	require.NotNil(t, p)
	require.True(t, a.Owns(uintptr(p)))

	// The payload is writable across its full extent.
	buf := unsafe.Slice((*byte)(p), 64)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.Equal(t, byte(63), buf[63])

	st := a.Stats()
	require.Equal(t, 1, st.AllocCalls)
	require.Equal(t, 1, st.MapCalls)
}

func TestArena_AllocZero(t *testing.T) {
	a := newTestArena(t)
	require.Nil(t, a.Alloc(0))
}

func TestArena_AllocAligned(t *testing.T) {
	a := newTestArena(t)

	for _, size := range []uintptr{1, 7, 16, 33, 255, 4096} {
		p := a.Alloc(size)
		require.NotNil(t, p, "size %d", size)
		require.Zero(t, uintptr(p)%uintptr(blockAlign), "size %d not aligned", size)
	}
}

func TestArena_AllocDistinct(t *testing.T) {
	a := newTestArena(t)

	seen := make(map[uintptr]bool)
	for range 128 {
		p := a.Alloc(48)
		require.NotNil(t, p)
		require.False(t, seen[uintptr(p)], "duplicate block %#x", uintptr(p))
		seen[uintptr(p)] = true
	}
}

func TestArena_FreeAndReuse(t *testing.T) {
	a := newTestArena(t)

	p := a.Alloc(64)
	require.NotNil(t, p)
	a.Free(p)

	st := a.Stats()
	require.Equal(t, 1, st.FreeCalls)
	require.Equal(t, st.BytesAllocated, st.BytesFreed)

	// A same-size request reuses the freed block.
	q := a.Alloc(64)
	require.Equal(t, p, q)
}

func TestArena_FreeForeignPointerIgnored(t *testing.T) {
	a := newTestArena(t)
	a.Alloc(64)

	var local int
	before := a.Stats().FreeCalls
	a.Free(unsafe.Pointer(&local)) // not arena memory
	a.Free(nil)
	require.Equal(t, before, a.Stats().FreeCalls)
}

func TestArena_DoubleFreeIgnored(t *testing.T) {
	a := newTestArena(t)

	p := a.Alloc(64)
	require.NotNil(t, p)
	a.Free(p)
	a.Free(p) // allocated bit is clear; second free is a no-op
	require.Equal(t, 1, a.Stats().FreeCalls)
}

func TestArena_Coalescing(t *testing.T) {
	a := newTestArena(t)

	// Three adjacent blocks carved from the master free block.
	p1 := a.Alloc(64)
	p2 := a.Alloc(64)
	p3 := a.Alloc(64)
	require.NotNil(t, p3)

	a.Free(p1)
	a.Free(p3)
	// Freeing the middle block merges all three plus the trailing remainder.
	a.Free(p2)

	st := a.Stats()
	require.Positive(t, st.CoalesceForward+st.CoalesceBackward)

	// The merged span satisfies a request bigger than any single freed block.
	q := a.Alloc(160)
	require.NotNil(t, q)
	require.Equal(t, 1, a.Stats().MapCalls, "coalesced space should avoid a new segment")
}

func TestArena_SplitRemainder(t *testing.T) {
	a := newTestArena(t)

	p := a.Alloc(1024)
	require.NotNil(t, p)
	a.Free(p)

	// A smaller request splits the 1KB block; the remainder serves another.
	q := a.Alloc(64)
	require.NotNil(t, q)
	r := a.Alloc(64)
	require.NotNil(t, r)
	require.Positive(t, a.Stats().SplitCount)
}

func TestArena_LargeAllocation(t *testing.T) {
	a := newTestArena(t)

	// Larger than a default segment: maps a dedicated one.
	const big = 4 << 20
	p := a.Alloc(big)
	require.NotNil(t, p)

	buf := unsafe.Slice((*byte)(p), big)
	buf[0] = 0xAA
	buf[big-1] = 0xBB
	require.Equal(t, byte(0xAA), buf[0])
	require.Equal(t, byte(0xBB), buf[big-1])

	a.Free(p)
	q := a.Alloc(big)
	require.NotNil(t, q)
}

func TestArena_ReallocNil(t *testing.T) {
	a := newTestArena(t)
	p := a.Realloc(nil, 64)
	require.NotNil(t, p)
}

func TestArena_ReallocInPlace(t *testing.T) {
	a := newTestArena(t)

	p := a.Alloc(128)
	require.NotNil(t, p)

	// Shrinking fits in place.
	q := a.Realloc(p, 16)
	require.Equal(t, p, q)
}

func TestArena_ReallocMoves(t *testing.T) {
	a := newTestArena(t)

	p := a.Alloc(32)
	require.NotNil(t, p)
	buf := unsafe.Slice((*byte)(p), 32)
	for i := range buf {
		buf[i] = byte(i + 1)
	}

	q := a.Realloc(p, 1<<20)
	require.NotNil(t, q)
	require.NotEqual(t, p, q)

	// Contents survive the move.
	moved := unsafe.Slice((*byte)(q), 32)
	for i := range moved {
		require.Equal(t, byte(i+1), moved[i])
	}
}

func TestArena_ReallocZeroFrees(t *testing.T) {
	a := newTestArena(t)

	p := a.Alloc(64)
	require.NotNil(t, p)
	require.Nil(t, a.Realloc(p, 0))
	require.Equal(t, 1, a.Stats().FreeCalls)
}

func TestArena_ClosedRejectsOperations(t *testing.T) {
	a, err := New(nil)
	require.NoError(t, err)
	p := a.Alloc(64)
	require.NotNil(t, p)

	require.NoError(t, a.Close())
	require.Nil(t, a.Alloc(64))
	require.NoError(t, a.Close()) // idempotent
}

func TestArena_BadConfigRejected(t *testing.T) {
	_, err := New(&Config{Name: "tiny", SegmentSize: 64, SmallMin: 32, SmallMax: 512, SmallIncrement: 16, MediumMax: 16384, GrowthFactor: 1.5})
	require.Error(t, err)

	_, err = New(&Config{Name: "small-min", SegmentSize: 1 << 20, SmallMin: 8, SmallMax: 512, SmallIncrement: 16, MediumMax: 16384, GrowthFactor: 1.5})
	require.Error(t, err)
}

func TestArena_OverflowRequest(t *testing.T) {
	a := newTestArena(t)
	require.Nil(t, a.Alloc(^uintptr(0)-4))
}

func TestSizeClassTable(t *testing.T) {
	table := newSizeClassTable(DefaultConfig)
	require.Positive(t, table.NumClasses())

	// Class boundaries are monotonically increasing.
	for i := 1; i < table.numClasses; i++ {
		require.Greater(t, table.boundaries[i], table.boundaries[i-1])
	}

	// Every in-range size maps to a class whose boundary covers it.
	for _, size := range []uintptr{32, 33, 48, 511, 512, 4095, 16383} {
		sc := table.getSizeClass(size)
		require.Less(t, sc, table.numClasses, "size %d", size)
		require.LessOrEqual(t, size, table.boundaries[sc], "size %d", size)
		if sc > 0 {
			require.Greater(t, size, table.boundaries[sc-1], "size %d", size)
		}
	}

	// Sizes at or beyond MediumMax go to the large list.
	require.Equal(t, table.numClasses, table.getSizeClass(DefaultConfig.MediumMax))
	require.Equal(t, table.numClasses, table.getSizeClass(1<<30))
}
