/*

This file contains the integer fixed-point helpers used by every calculation in the rebalancer.

All monetary amounts are integer base units and all rates are basis points. Products that can
exceed 64 bits are computed in a 256-bit intermediate and narrowed with an explicit overflow check.
Rounding is always the explicit (num + div/2) / div rule, never a library rounding mode.

*/

package fixedpoint

import (
	"errors"
	"math"
	"math/bits"
	"sync"

	"github.com/holiman/uint256"
)

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator uint64 = 10000

var (
	ErrOverflow       = errors.New("fixed-point overflow")
	ErrUnderflow      = errors.New("fixed-point underflow")
	ErrDivisionByZero = errors.New("fixed-point division by zero")
)

var u256Pool = sync.Pool{
	New: func() interface{} {
		return new(uint256.Int)
	},
}

func getU256() *uint256.Int {
	return u256Pool.Get().(*uint256.Int)
}

func putU256(v *uint256.Int) {
	v.Clear()
	u256Pool.Put(v)
}

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrUnderflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// CheckedMul returns a*b or ErrOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// SaturatingSub returns a-b, or 0 when b > a.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// SaturatingAddInt64 clamps a+b to the int64 range.
func SaturatingAddInt64(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

// SaturatingSubInt64 clamps a-b to the int64 range.
func SaturatingSubInt64(a, b int64) int64 {
	if b == math.MinInt64 {
		if a >= 0 {
			return math.MaxInt64
		}
		return a - b
	}
	return SaturatingAddInt64(a, -b)
}

// MulDiv computes (a * b) / c with a 256-bit intermediate product.
//
// Inputs:
//   - a, b: factors
//   - c: divisor, must be non-zero
//
// Output: the truncated quotient, or ErrOverflow if it does not fit in 64 bits.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivisionByZero
	}

	result := getU256()
	temp := getU256()
	defer func() {
		putU256(result)
		putU256(temp)
	}()

	result.SetUint64(a)
	temp.SetUint64(b)
	result.Mul(result, temp)
	temp.SetUint64(c)
	result.Div(result, temp)

	if !result.IsUint64() {
		return 0, ErrOverflow
	}
	return result.Uint64(), nil
}

// MulDivRound computes (a*b + c/2) / c, the round-half-up rule used by the scorer.
func MulDivRound(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivisionByZero
	}

	result := getU256()
	temp := getU256()
	defer func() {
		putU256(result)
		putU256(temp)
	}()

	result.SetUint64(a)
	temp.SetUint64(b)
	result.Mul(result, temp)
	temp.SetUint64(c / 2)
	result.Add(result, temp)
	temp.SetUint64(c)
	result.Div(result, temp)

	if !result.IsUint64() {
		return 0, ErrOverflow
	}
	return result.Uint64(), nil
}

// ApplyBps returns amount * bps / 10000, truncated.
func ApplyBps(amount, bps uint64) (uint64, error) {
	return MulDiv(amount, bps, BpsDenominator)
}

// Sqrt returns floor(sqrt(x)) using Newton iteration seeded at x/2.
// The input is not modified.
func Sqrt(x *uint256.Int) *uint256.Int {
	if x.IsZero() {
		return new(uint256.Int)
	}
	one := uint256.NewInt(1)
	if x.Eq(one) {
		return one
	}

	two := uint256.NewInt(2)
	root := new(uint256.Int).Div(x, two)
	next := new(uint256.Int)
	quotient := new(uint256.Int)

	quotient.Div(x, root)
	next.Add(root, quotient)
	next.Div(next, two)
	for next.Lt(root) {
		root.Set(next)
		quotient.Div(x, root)
		next.Add(root, quotient)
		next.Div(next, two)
	}
	return root
}

// SqrtUint64 is Sqrt narrowed to 64-bit inputs.
func SqrtUint64(x uint64) uint64 {
	return Sqrt(uint256.NewInt(x)).Uint64()
}

// BitLen returns the number of bits needed to represent x (64 - leading zeros).
func BitLen(x uint64) uint64 {
	return uint64(64 - bits.LeadingZeros64(x))
}
