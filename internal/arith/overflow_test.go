package arith

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddUintptr(t *testing.T) {
	sum, ok := AddUintptr(1, 2)
	require.True(t, ok)
	require.Equal(t, uintptr(3), sum)

	_, ok = AddUintptr(maxUintptr, 1)
	require.False(t, ok)

	sum, ok = AddUintptr(maxUintptr-1, 1)
	require.True(t, ok)
	require.Equal(t, maxUintptr, sum)

	sum, ok = AddUintptr(0, 0)
	require.True(t, ok)
	require.Equal(t, uintptr(0), sum)
}

func TestMulUintptr(t *testing.T) {
	prod, ok := MulUintptr(8, 16)
	require.True(t, ok)
	require.Equal(t, uintptr(128), prod)

	// Zero operands never overflow.
	prod, ok = MulUintptr(0, maxUintptr)
	require.True(t, ok)
	require.Equal(t, uintptr(0), prod)

	_, ok = MulUintptr(maxUintptr, 2)
	require.False(t, ok)

	_, ok = MulUintptr(maxUintptr/2+1, 2)
	require.False(t, ok)

	prod, ok = MulUintptr(maxUintptr/2, 2)
	require.True(t, ok)
	require.Equal(t, maxUintptr-1, prod)
}
