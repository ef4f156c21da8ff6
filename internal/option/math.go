package option

import (
	"fmt"
	"math/big"
)

// Token amount arithmetic never wraps. Anything that would overflow,
// underflow, or divide inexactly where exactness is required returns
// ErrArithmetic and aborts the whole operation.

func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("%w: %d + %d overflows", ErrArithmetic, a, b)
	}
	return sum, nil
}

func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%w: %d - %d underflows", ErrArithmetic, a, b)
	}
	return a - b, nil
}

func CheckedMul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/a != b {
		return 0, fmt.Errorf("%w: %d * %d overflows", ErrArithmetic, a, b)
	}
	return product, nil
}

// ExactDiv fails unless b divides a with no remainder.
func ExactDiv(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, fmt.Errorf("%w: division by zero", ErrArithmetic)
	}
	if a%b != 0 {
		return 0, fmt.Errorf("%w: %d is not a multiple of %d", ErrArithmetic, a, b)
	}
	return a / b, nil
}

// MulDivFloor computes floor(a*b/denominator) through big.Int so the
// intermediate product cannot wrap.
func MulDivFloor(a, b, denominator uint64) (uint64, error) {
	if denominator == 0 {
		return 0, fmt.Errorf("%w: division by zero", ErrArithmetic)
	}
	left := new(big.Int).SetUint64(a)
	left.Mul(left, new(big.Int).SetUint64(b))
	left.Div(left, new(big.Int).SetUint64(denominator))
	if !left.IsUint64() {
		return 0, fmt.Errorf("%w: mulDiv overflow", ErrArithmetic)
	}
	return left.Uint64(), nil
}
