package math

import (
	sdkmath "cosmossdk.io/math"
)

// ImbalanceIndex returns (longExpo - vaultExpo) / max(longExpo, vaultExpo) with 18 decimals.
// Negative exposures count as zero. Zero when both sides are empty.
func ImbalanceIndex(longExpo, vaultExpo sdkmath.Int) sdkmath.Int {
	longExpo = NonNegative(longExpo)
	vaultExpo = NonNegative(vaultExpo)

	denominator := MaxInt(longExpo, vaultExpo)
	if denominator.IsZero() {
		return sdkmath.ZeroInt()
	}
	return MulDiv(longExpo.Sub(vaultExpo), FundingRateScale, denominator, RoundDown)
}

// FundingRatePerDay returns sf * imbalance / 10^3, clamped to +/- maxRate.
// Positive means longs pay the vault.
func FundingRatePerDay(longExpo, vaultExpo, sf, maxRate sdkmath.Int) sdkmath.Int {
	rate := MulDiv(sf, ImbalanceIndex(longExpo, vaultExpo), FundingSFScale, RoundDown)
	if maxRate.IsPositive() {
		rate = ClampInt(rate, maxRate.Neg(), maxRate)
	}
	return rate
}

// FundingAsset returns the signed amount of asset moving from the long side to
// the vault over elapsedSeconds at ratePerDay. Longs pay on their trading
// exposure when the rate is positive; the vault pays on its balance otherwise.
func FundingAsset(ratePerDay sdkmath.Int, elapsedSeconds int64, longExpo, vaultExpo sdkmath.Int) sdkmath.Int {
	if elapsedSeconds <= 0 || ratePerDay.IsZero() {
		return sdkmath.ZeroInt()
	}

	expo := NonNegative(longExpo)
	if ratePerDay.IsNegative() {
		expo = NonNegative(vaultExpo)
	}

	// rate * elapsed / day, then applied to the paying side's exposure
	scaled := ratePerDay.Mul(sdkmath.NewInt(elapsedSeconds))
	denominator := FundingRateScale.Mul(sdkmath.NewInt(SecondsPerDay))
	return MulDiv(scaled, expo, denominator, RoundDown)
}
