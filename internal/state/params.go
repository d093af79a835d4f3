package state

import (
	"fmt"
	"time"

	fpmath "UsdnLedger/internal/math"

	sdkmath "cosmossdk.io/math"
)

// Hard caps on tunables.
const (
	MaxLiquidationIterations = 10
	MaxLiquidationPenalty    = 15
)

// Params holds every protocol tunable. Amounts use 18 decimals, leverage 21,
// funding scale factor 3.
type Params struct {
	TickSpacing        int32 `json:"tick_spacing"`
	LiquidationPenalty int32 `json:"liquidation_penalty"` // in tick spacing units

	MinLeverage     sdkmath.Int `json:"min_leverage"`
	MaxLeverage     sdkmath.Int `json:"max_leverage"`
	SafetyMarginBps int64       `json:"safety_margin_bps"`
	PositionFeeBps  int64       `json:"position_fee_bps"`
	VaultFeeBps     int64       `json:"vault_fee_bps"`
	MinLongPosition sdkmath.Int `json:"min_long_position"`
	SecurityDeposit sdkmath.Int `json:"security_deposit"`

	FundingSF            sdkmath.Int `json:"funding_sf"`
	MaxFundingRatePerDay sdkmath.Int `json:"max_funding_rate_per_day"`

	Imbalance ImbalanceLimits `json:"imbalance"`

	ValidationDelay time.Duration `json:"validation_delay"`
	Deadlines       Deadlines     `json:"deadlines"`

	LiquidationIterations int `json:"liquidation_iterations"`
	MaxActionablesPerCall int `json:"max_actionables_per_call"`
}

// FundingParams is the subset of Params consumed by ApplyFunding.
type FundingParams struct {
	SF      sdkmath.Int
	MaxRate sdkmath.Int
}

func (p Params) Funding() FundingParams {
	return FundingParams{SF: p.FundingSF, MaxRate: p.MaxFundingRatePerDay}
}

// DefaultParams returns the reference configuration.
func DefaultParams() Params {
	return Params{
		TickSpacing:        100,
		LiquidationPenalty: 2,

		MinLeverage:     fpmath.LeverageScale.Add(fpmath.Pow10(12)), // 1.000000001x
		MaxLeverage:     fpmath.LeverageScale.MulRaw(10),
		SafetyMarginBps: 200,
		PositionFeeBps:  4,
		VaultFeeBps:     4,
		MinLongPosition: fpmath.TokensScale.MulRaw(2),
		SecurityDeposit: fpmath.TokensScale.QuoRaw(2),

		FundingSF:            sdkmath.NewInt(120), // 0.12
		MaxFundingRatePerDay: fpmath.FundingRateScale.QuoRaw(20),

		Imbalance: ImbalanceLimits{
			OpenBps:       500,
			DepositBps:    500,
			WithdrawalBps: 600,
			CloseBps:      600,
		},

		ValidationDelay: 24 * time.Second,
		Deadlines: Deadlines{
			LowLatencyValidatorDeadline: 15 * time.Minute,
			LowLatencyDelay:             20 * time.Minute,
			OnChainValidatorDeadline:    65 * time.Minute,
		},

		LiquidationIterations: 1,
		MaxActionablesPerCall: 1,
	}
}

// ValidateParams checks that parameters are within valid ranges.
func ValidateParams(p Params) error {
	if p.TickSpacing <= 0 {
		return fmt.Errorf("tick_spacing must be > 0, got %d", p.TickSpacing)
	}
	if p.LiquidationPenalty < 0 || p.LiquidationPenalty > MaxLiquidationPenalty {
		return fmt.Errorf("liquidation_penalty must be in [0, %d], got %d", MaxLiquidationPenalty, p.LiquidationPenalty)
	}
	if p.MinLeverage.IsNil() || p.MinLeverage.LTE(fpmath.LeverageScale) {
		return fmt.Errorf("min_leverage must be > 1x, got %s", p.MinLeverage)
	}
	if p.MaxLeverage.IsNil() || p.MaxLeverage.LTE(p.MinLeverage) {
		return fmt.Errorf("max_leverage (%s) must be > min_leverage (%s)", p.MaxLeverage, p.MinLeverage)
	}
	if p.SafetyMarginBps < 0 || p.SafetyMarginBps >= fpmath.BPSDivisor {
		return fmt.Errorf("safety_margin_bps must be in [0, %d), got %d", fpmath.BPSDivisor, p.SafetyMarginBps)
	}
	if p.PositionFeeBps < 0 || p.PositionFeeBps >= fpmath.BPSDivisor {
		return fmt.Errorf("position_fee_bps must be in [0, %d), got %d", fpmath.BPSDivisor, p.PositionFeeBps)
	}
	if p.VaultFeeBps < 0 || p.VaultFeeBps >= fpmath.BPSDivisor {
		return fmt.Errorf("vault_fee_bps must be in [0, %d), got %d", fpmath.BPSDivisor, p.VaultFeeBps)
	}
	if p.MinLongPosition.IsNil() || p.MinLongPosition.IsNegative() {
		return fmt.Errorf("min_long_position must be >= 0")
	}
	if p.SecurityDeposit.IsNil() || p.SecurityDeposit.IsNegative() {
		return fmt.Errorf("security_deposit must be >= 0")
	}
	if p.FundingSF.IsNil() || p.FundingSF.IsNegative() {
		return fmt.Errorf("funding_sf must be >= 0")
	}
	if p.MaxFundingRatePerDay.IsNil() || p.MaxFundingRatePerDay.IsNegative() {
		return fmt.Errorf("max_funding_rate_per_day must be >= 0")
	}
	if p.ValidationDelay < 0 {
		return fmt.Errorf("validation_delay must be >= 0, got %s", p.ValidationDelay)
	}
	if p.Deadlines.LowLatencyValidatorDeadline <= 0 {
		return fmt.Errorf("low_latency_validator_deadline must be > 0")
	}
	if p.Deadlines.LowLatencyDelay < p.Deadlines.LowLatencyValidatorDeadline {
		return fmt.Errorf("low_latency_delay (%s) must be >= low_latency_validator_deadline (%s)",
			p.Deadlines.LowLatencyDelay, p.Deadlines.LowLatencyValidatorDeadline)
	}
	if p.Deadlines.OnChainValidatorDeadline < 0 {
		return fmt.Errorf("on_chain_validator_deadline must be >= 0")
	}
	if p.LiquidationIterations < 1 || p.LiquidationIterations > MaxLiquidationIterations {
		return fmt.Errorf("liquidation_iterations must be in [1, %d], got %d", MaxLiquidationIterations, p.LiquidationIterations)
	}
	if p.MaxActionablesPerCall < 0 {
		return fmt.Errorf("max_actionables_per_call must be >= 0, got %d", p.MaxActionablesPerCall)
	}
	return nil
}
