package factory

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// BasisPoints is the denominator of every weight and fee ratio.
const BasisPoints = 10_000

// MaxDecimals is the largest exponent for which 10^d fits in 64 bits.
const MaxDecimals = 19

// MultiplyFraction returns floor(value*numerator/denominator). The product is
// computed in 256 bits so only the final quotient must fit in 64 bits.
func MultiplyFraction(value, numerator, denominator uint64) (uint64, error) {
	if denominator == 0 {
		return 0, fmt.Errorf("%w: division by zero", ErrArithmeticOverflow)
	}
	x := uint256.NewInt(value)
	y := uint256.NewInt(numerator)
	d := uint256.NewInt(denominator)
	quotient, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow || !quotient.IsUint64() {
		return 0, fmt.Errorf("%w: %d*%d/%d exceeds 64 bits", ErrArithmeticOverflow, value, numerator, denominator)
	}
	return quotient.Uint64(), nil
}

// Pow10 returns 10^decimals.
func Pow10(decimals uint16) (uint64, error) {
	if decimals > MaxDecimals {
		return 0, fmt.Errorf("%w: 10^%d exceeds 64 bits", ErrArithmeticOverflow, decimals)
	}
	out := uint64(1)
	for i := uint16(0); i < decimals; i++ {
		out *= 10
	}
	return out, nil
}

// Rescale converts value expressed with fromDecimals into toDecimals, rounding
// down when precision is lost.
func Rescale(value uint64, fromDecimals, toDecimals uint16) (uint64, error) {
	to, err := Pow10(toDecimals)
	if err != nil {
		return 0, err
	}
	from, err := Pow10(fromDecimals)
	if err != nil {
		return 0, err
	}
	return MultiplyFraction(value, to, from)
}

// CheckedAdd returns a+b or ErrArithmeticOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("%w: %d+%d", ErrArithmeticOverflow, a, b)
	}
	return a + b, nil
}

// CheckedSub returns a-b or ErrArithmeticOverflow when b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%w: %d-%d underflows", ErrArithmeticOverflow, a, b)
	}
	return a - b, nil
}
