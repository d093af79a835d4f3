package event

import (
	sdkmath "cosmossdk.io/math"
)

// FundingApplied reports one PnL and funding settlement.
type FundingApplied struct {
	Meta
	Price          sdkmath.Int `json:"price"`
	RatePerDay     sdkmath.Int `json:"rate_per_day"`
	FundAsset      sdkmath.Int `json:"fund_asset"` // positive: longs paid the vault
	ElapsedSeconds int64       `json:"elapsed_seconds"`
	BalanceLong    sdkmath.Int `json:"balance_long"`
	BalanceVault   sdkmath.Int `json:"balance_vault"`
}

func (e *FundingApplied) EventType() EventType {
	return EventTypeFundingApplied
}
