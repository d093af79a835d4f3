package math

import (
	sdkmath "cosmossdk.io/math"
)

// AdjustPrice converts a raw tick price into the funding-adjusted price:
// unadjusted * assetPrice * longTradingExpo / accumulator.
// The accumulator is the sum of tick expo times the raw penalty-free tick price.
// Returns the input unchanged while there is nothing to adjust against.
func AdjustPrice(unadjusted, assetPrice, longTradingExpo, accumulator sdkmath.Int) sdkmath.Int {
	if accumulator.IsZero() || !longTradingExpo.IsPositive() {
		return unadjusted
	}
	return MulDivDown(unadjusted, assetPrice.Mul(longTradingExpo), accumulator)
}

// UnadjustPrice is the inverse of AdjustPrice:
// adjusted * accumulator / (assetPrice * longTradingExpo).
func UnadjustPrice(adjusted, assetPrice, longTradingExpo, accumulator sdkmath.Int) sdkmath.Int {
	if accumulator.IsZero() || !longTradingExpo.IsPositive() || !assetPrice.IsPositive() {
		return adjusted
	}
	return MulDivDown(adjusted, accumulator, assetPrice.Mul(longTradingExpo))
}

// AccumulatorTerm is the contribution of expo placed at a tick whose raw
// penalty-free price is tickPrice.
func AccumulatorTerm(expo, tickPrice sdkmath.Int) sdkmath.Int {
	return expo.Mul(tickPrice)
}
