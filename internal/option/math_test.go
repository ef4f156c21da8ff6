package option

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckedAdd(t *testing.T) {
	sum, err := CheckedAdd(1, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), sum)

	_, err = CheckedAdd(math.MaxUint64, 1)
	require.ErrorIs(t, err, ErrArithmetic)
}

func TestCheckedSub(t *testing.T) {
	diff, err := CheckedSub(10, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(6), diff)

	_, err = CheckedSub(4, 10)
	require.ErrorIs(t, err, ErrArithmetic)
}

func TestCheckedMul(t *testing.T) {
	product, err := CheckedMul(1_000_000, 500)
	require.NoError(t, err)
	require.Equal(t, uint64(500_000_000), product)

	_, err = CheckedMul(math.MaxUint64, 2)
	require.ErrorIs(t, err, ErrArithmetic)

	product, err = CheckedMul(0, math.MaxUint64)
	require.NoError(t, err)
	require.Equal(t, uint64(0), product)
}

func TestExactDiv(t *testing.T) {
	lots, err := ExactDiv(1_000_000, 1_000)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), lots)

	_, err = ExactDiv(1_000_001, 1_000)
	require.ErrorIs(t, err, ErrArithmetic)

	_, err = ExactDiv(1, 0)
	require.ErrorIs(t, err, ErrArithmetic)
}

func TestMulDivFloor(t *testing.T) {
	// Would overflow a uint64 intermediate; big.Int math must not.
	out, err := MulDivFloor(math.MaxUint64, 350, 10_000)
	require.NoError(t, err)
	require.Equal(t, uint64(645_636_042_579_834_306), out)

	out, err = MulDivFloor(999, 1, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(499), out)

	_, err = MulDivFloor(1, 1, 0)
	require.ErrorIs(t, err, ErrArithmetic)
}
