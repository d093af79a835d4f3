package math

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// FromDecimal scales a human decimal into a fixed-point integer with the
// given number of decimals, truncating extra precision.
func FromDecimal(d decimal.Decimal, decimals int32) sdkmath.Int {
	return sdkmath.NewIntFromBigInt(d.Shift(decimals).Truncate(0).BigInt())
}

// ToDecimal is the inverse of FromDecimal.
func ToDecimal(v sdkmath.Int, decimals int32) decimal.Decimal {
	if v.IsNil() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.BigInt(), -decimals)
}

// ParseDecimal parses a human decimal string into fixed point.
func ParseDecimal(s string, decimals int32) (sdkmath.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return FromDecimal(d, decimals), nil
}

// FromDecimalExact is FromDecimal for inputs that must not lose precision:
// it fails if d has more than decimals fractional digits or is negative.
func FromDecimalExact(d decimal.Decimal, decimals int32) (sdkmath.Int, error) {
	if d.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("must be >= 0, got %s", d)
	}
	if !d.Shift(decimals).IsInteger() {
		return sdkmath.Int{}, fmt.Errorf("%s has more than %d decimals", d, decimals)
	}
	return FromDecimal(d, decimals), nil
}
