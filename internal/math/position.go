package math

import (
	sdkmath "cosmossdk.io/math"
)

// Leverage returns start*10^21/(start-liq). Callers guarantee liq < start.
func Leverage(startPrice, liqPrice sdkmath.Int) sdkmath.Int {
	return MulDivDown(startPrice, LeverageScale, startPrice.Sub(liqPrice))
}

// LiquidationPrice is the liquidation price, without penalty, of a position opened
// at startPrice with the given leverage.
func LiquidationPrice(startPrice, leverage sdkmath.Int) sdkmath.Int {
	return startPrice.Sub(MulDivDown(startPrice, LeverageScale, leverage))
}

// PositionTotalExpo returns amount*start/(start-liq), rounded down.
func PositionTotalExpo(amount, startPrice, liqPrice sdkmath.Int) sdkmath.Int {
	return MulDivDown(amount, startPrice, startPrice.Sub(liqPrice))
}

// PositionValue returns expo*(price-liq)/price. Negative when the price is below
// the liquidation price without penalty.
func PositionValue(price, liqPriceWithoutPenalty, totalExpo sdkmath.Int) sdkmath.Int {
	if price.IsZero() {
		return sdkmath.ZeroInt()
	}
	return MulDivDown(totalExpo, price.Sub(liqPriceWithoutPenalty), price)
}

// LongAssetAvailable returns the long side balance after PnL between oldPrice and
// newPrice: totalExpo - (totalExpo-balanceLong)*oldPrice/newPrice.
// The result is signed; callers clamp.
func LongAssetAvailable(totalExpo, balanceLong, newPrice, oldPrice sdkmath.Int) sdkmath.Int {
	if newPrice.IsZero() {
		return balanceLong
	}
	tradingExpo := totalExpo.Sub(balanceLong)
	return totalExpo.Sub(MulDivDown(tradingExpo, oldPrice, newPrice))
}

// VaultAssetAvailable returns balanceLong+balanceVault minus the long side's
// available balance at newPrice, clamped at zero. The long side available
// balance is bounded by the total so the vault never exceeds it either.
func VaultAssetAvailable(totalExpo, balanceVault, balanceLong, newPrice, oldPrice sdkmath.Int) sdkmath.Int {
	total := balanceLong.Add(balanceVault)
	longAvailable := ClampInt(LongAssetAvailable(totalExpo, balanceLong, newPrice, oldPrice), sdkmath.ZeroInt(), total)
	return NonNegative(total.Sub(longAvailable))
}
