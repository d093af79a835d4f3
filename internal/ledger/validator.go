package ledger

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateGlobalBalance verifies the books are zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if !total.IsZero() {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %s", assetName, total)
		}
	}

	return nil
}

// ValidateNonExternalNonNegative checks that no user or protocol account is overdrawn
func (v *InvariantValidator) ValidateNonExternalNonNegative() error {
	for key := range v.tracker.Snapshot() {
		if key.Scope == AccountScopeExternal {
			continue
		}
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCollateralCovers checks the protocol collateral pool equals the
// amount the engine accounts for.
func (v *InvariantValidator) ValidateCollateralCovers(accounted sdkmath.Int) error {
	pool := v.tracker.GetBalance(NewProtocolAccountKey(SubTypeCollateralPool, AssetUnderlying))
	if !pool.Equal(accounted) {
		return fmt.Errorf("collateral pool %s != accounted %s", pool, accounted)
	}
	return nil
}
