package fixedpoint

import (
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckedArithmetic(t *testing.T) {
	sum, err := CheckedAdd(math.MaxUint64-1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), sum)

	_, err = CheckedAdd(math.MaxUint64, 1)
	assert.ErrorIs(t, err, ErrOverflow)

	diff, err := CheckedSub(10, 10)
	require.NoError(t, err)
	assert.Zero(t, diff)

	_, err = CheckedSub(9, 10)
	assert.ErrorIs(t, err, ErrUnderflow)

	prod, err := CheckedMul(1<<32, 1<<31)
	require.NoError(t, err)
	assert.Equal(t, uint64(1)<<63, prod)

	_, err = CheckedMul(1<<32, 1<<32)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestSaturating(t *testing.T) {
	assert.Equal(t, uint64(0), SaturatingSub(5, 7))
	assert.Equal(t, uint64(2), SaturatingSub(7, 5))

	assert.Equal(t, int64(math.MaxInt64), SaturatingAddInt64(math.MaxInt64-5, 10))
	assert.Equal(t, int64(math.MinInt64), SaturatingAddInt64(math.MinInt64+5, -10))
	assert.Equal(t, int64(15), SaturatingAddInt64(5, 10))

	assert.Equal(t, int64(math.MaxInt64), SaturatingSubInt64(1, math.MinInt64))
	assert.Equal(t, int64(math.MinInt64), SaturatingSubInt64(math.MinInt64, 1))
	assert.Equal(t, int64(-5), SaturatingSubInt64(5, 10))
}

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name     string
		a, b, c  uint64
		expected uint64
		err      error
	}{
		{name: "simple", a: 100, b: 50, c: 10000, expected: 0},
		{name: "bps of large amount", a: 100_000_000_000, b: 4000, c: 10000, expected: 40_000_000_000},
		{name: "wide intermediate", a: math.MaxUint64, b: 10000, c: 10000, expected: math.MaxUint64},
		{name: "truncates", a: 7, b: 3, c: 2, expected: 10},
		{name: "division by zero", a: 1, b: 1, c: 0, err: ErrDivisionByZero},
		{name: "result overflow", a: math.MaxUint64, b: 2, c: 1, err: ErrOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDiv(tt.a, tt.b, tt.c)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMulDivRound(t *testing.T) {
	// (10000*10000 + 25000) / 50000
	got, err := MulDivRound(10000, 10000, 50000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), got)

	// 0.5 rounds up
	got, err = MulDivRound(1, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got)

	// 0.4 rounds down
	got, err = MulDivRound(2, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got)
}

func TestSqrt(t *testing.T) {
	cases := map[uint64]uint64{
		0:             0,
		1:             1,
		2:             1,
		3:             1,
		4:             2,
		15:            3,
		16:            4,
		1_000_000:     1000,
		999_999:       999,
		1_000_000_000: 31622,
	}
	for in, want := range cases {
		assert.Equal(t, want, SqrtUint64(in), "sqrt(%d)", in)
	}

	// 128-bit input: (2^64)^2 = 2^128
	x := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	root := Sqrt(x)
	assert.Equal(t, new(uint256.Int).Lsh(uint256.NewInt(1), 64), root)
}

func TestBitLen(t *testing.T) {
	assert.Equal(t, uint64(0), BitLen(0))
	assert.Equal(t, uint64(1), BitLen(1))
	assert.Equal(t, uint64(2), BitLen(2))
	assert.Equal(t, uint64(10), BitLen(999))
	assert.Equal(t, uint64(64), BitLen(math.MaxUint64))
}

func BenchmarkMulDiv(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = MulDiv(123_456_789_012, 4321, 10000)
	}
}
