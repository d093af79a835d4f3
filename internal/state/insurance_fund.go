package state

import (
	sdkmath "cosmossdk.io/math"
)

// The vault acts as the insurance fund of the long side: when a liquidated
// tick is worth less than nothing at its penalty-free price, the vault covers
// the shortfall and the covered amount is recorded as bad debt.

// ComputeCoverage returns how much of deficit the vault can cover and what is left.
func ComputeCoverage(vaultBalance, deficit sdkmath.Int) (covered, uncovered sdkmath.Int) {
	if vaultBalance.GTE(deficit) {
		return deficit, sdkmath.ZeroInt()
	}
	if vaultBalance.IsNegative() {
		return sdkmath.ZeroInt(), deficit
	}
	return vaultBalance, deficit.Sub(vaultBalance)
}
