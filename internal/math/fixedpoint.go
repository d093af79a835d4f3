package math

import (
	"math/big"
	"sync"

	sdkmath "cosmossdk.io/math"
)

// Decimal precision of every fixed-point quantity handled by the engine.
const (
	TokensDecimals      = 18
	PriceDecimals       = 18
	LeverageDecimals    = 21
	MultiplierDecimals  = 38
	FundingSFDecimals   = 3
	FundingRateDecimals = 18

	BPSDivisor    = 10_000
	SecondsPerDay = 86_400
)

var (
	PriceScale       = Pow10(PriceDecimals)
	TokensScale      = Pow10(TokensDecimals)
	LeverageScale    = Pow10(LeverageDecimals)
	MultiplierScale  = Pow10(MultiplierDecimals)
	FundingSFScale   = Pow10(FundingSFDecimals)
	FundingRateScale = Pow10(FundingRateDecimals)
	BPS              = sdkmath.NewInt(BPSDivisor)
)

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown                         // toward zero
	RoundUp                           // away from zero
)

// big.Int pool for quotient/remainder scratch values
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// Pow10 returns 10^n as an Int.
func Pow10(n int) sdkmath.Int {
	return sdkmath.NewIntFromBigInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil))
}

// MulDiv returns a*b/d with an unbounded intermediate product.
// Rounding applies to the magnitude of the result. Panics if d is zero.
func MulDiv(a, b, d sdkmath.Int, mode RoundingMode) sdkmath.Int {
	if d.IsZero() {
		panic("fpmath: division by zero")
	}

	num := new(big.Int).Mul(a.BigInt(), b.BigInt())
	return sdkmath.NewIntFromBigInt(divRound(num, d.BigInt(), mode))
}

// MulDivDown is MulDiv with RoundDown, the default for protocol-favoring math.
func MulDivDown(a, b, d sdkmath.Int) sdkmath.Int {
	return MulDiv(a, b, d, RoundDown)
}

// QuoRound returns a/d with the given rounding.
func QuoRound(a, d sdkmath.Int, mode RoundingMode) sdkmath.Int {
	if d.IsZero() {
		panic("fpmath: division by zero")
	}
	return sdkmath.NewIntFromBigInt(divRound(a.BigInt(), d.BigInt(), mode))
}

// divRound divides num by den, truncating toward zero then applying mode.
func divRound(num, den *big.Int, mode RoundingMode) *big.Int {
	quotient := new(big.Int)
	remainder := getBig()
	defer putBig(remainder)

	quotient.QuoRem(num, den, remainder)
	if remainder.Sign() == 0 {
		return quotient
	}

	// sign of the exact result
	sign := num.Sign() * den.Sign()

	switch mode {
	case RoundUp:
		quotient.Add(quotient, big.NewInt(int64(sign)))

	case RoundHalfEven:
		twice := getBig()
		defer putBig(twice)
		twice.Abs(remainder)
		twice.Lsh(twice, 1)

		absDen := getBig()
		defer putBig(absDen)
		absDen.Abs(den)

		cmp := twice.Cmp(absDen)
		if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
			quotient.Add(quotient, big.NewInt(int64(sign)))
		}
	}

	return quotient
}

// ApplyBps returns v*bps/10000 rounded down.
func ApplyBps(v sdkmath.Int, bps int64) sdkmath.Int {
	return MulDivDown(v, sdkmath.NewInt(bps), BPS)
}

func MinInt(a, b sdkmath.Int) sdkmath.Int {
	if a.LT(b) {
		return a
	}
	return b
}

func MaxInt(a, b sdkmath.Int) sdkmath.Int {
	if a.GT(b) {
		return a
	}
	return b
}

// ClampInt bounds v to [lo, hi]. lo wins when lo > hi.
func ClampInt(v, lo, hi sdkmath.Int) sdkmath.Int {
	if v.GT(hi) {
		v = hi
	}
	if v.LT(lo) {
		v = lo
	}
	return v
}

// NonNegative returns v, or zero if v is negative.
func NonNegative(v sdkmath.Int) sdkmath.Int {
	if v.IsNegative() {
		return sdkmath.ZeroInt()
	}
	return v
}
