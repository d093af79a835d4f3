package math

import (
	stdmath "math"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

// Tick bounds. PriceAtTick(MinTick) is about 1e4 wei, PriceAtTick(MaxTick) about 3.6e60.
const (
	MinTick int32 = -322378
	MaxTick int32 = 980000
)

var (
	// 1.0001 at multiplier precision
	tickBase = new(big.Int).Mul(big.NewInt(10_001), new(big.Int).Exp(big.NewInt(10), big.NewInt(MultiplierDecimals-4), nil))

	multiplierScaleBig = new(big.Int).Exp(big.NewInt(10), big.NewInt(MultiplierDecimals), nil)
	priceScaleBig      = new(big.Int).Exp(big.NewInt(10), big.NewInt(PriceDecimals), nil)

	logTickBase = stdmath.Log(1.0001)
)

// PriceAtTick returns 1.0001^tick with 18 decimals.
// Computed by squaring at 38-decimal precision, so the mapping is exact and monotonic.
func PriceAtTick(tick int32) sdkmath.Int {
	if tick < MinTick || tick > MaxTick {
		panic("fpmath: tick out of range")
	}

	exp := int64(tick)
	if exp < 0 {
		exp = -exp
	}

	result := new(big.Int).Set(multiplierScaleBig)
	base := new(big.Int).Set(tickBase)
	for exp > 0 {
		if exp&1 == 1 {
			result.Mul(result, base)
			result.Quo(result, multiplierScaleBig)
		}
		exp >>= 1
		if exp > 0 {
			base.Mul(base, base)
			base.Quo(base, multiplierScaleBig)
		}
	}

	price := new(big.Int)
	if tick >= 0 {
		price.Mul(result, priceScaleBig)
		price.Quo(price, multiplierScaleBig)
	} else {
		price.Mul(priceScaleBig, multiplierScaleBig)
		price.Quo(price, result)
	}
	return sdkmath.NewIntFromBigInt(price)
}

// TickAtPrice returns the largest tick whose price is <= price.
// Prices below the minimum tick price map to MinTick.
func TickAtPrice(price sdkmath.Int) int32 {
	if !price.IsPositive() || price.LTE(PriceAtTick(MinTick)) {
		return MinTick
	}
	if price.GTE(PriceAtTick(MaxTick)) {
		return MaxTick
	}

	f, _ := new(big.Float).SetInt(price.BigInt()).Float64()
	estimate := stdmath.Floor(stdmath.Log(f/1e18) / logTickBase)

	tick := int32(estimate)
	if estimate < float64(MinTick) {
		tick = MinTick
	} else if estimate > float64(MaxTick) {
		tick = MaxTick
	}

	// the float log is only an estimate; settle on the exact answer
	for tick > MinTick && PriceAtTick(tick).GT(price) {
		tick--
	}
	for tick < MaxTick && PriceAtTick(tick+1).LTE(price) {
		tick++
	}
	return tick
}

// RoundDownToSpacing rounds tick toward negative infinity to a multiple of spacing,
// staying within the usable tick range.
func RoundDownToSpacing(tick, spacing int32) int32 {
	rounded := tick / spacing * spacing
	if tick < 0 && tick%spacing != 0 {
		rounded -= spacing
	}
	if lo := MinUsableTick(spacing); rounded < lo {
		return lo
	}
	if hi := MaxUsableTick(spacing); rounded > hi {
		return hi
	}
	return rounded
}

// MinUsableTick is the smallest multiple of spacing >= MinTick.
func MinUsableTick(spacing int32) int32 {
	t := MinTick / spacing * spacing
	if t < MinTick {
		t += spacing
	}
	return t
}

// MaxUsableTick is the largest multiple of spacing <= MaxTick.
func MaxUsableTick(spacing int32) int32 {
	return MaxTick / spacing * spacing
}
