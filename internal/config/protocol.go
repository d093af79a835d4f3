package config

import (
	"fmt"
	"os"
	"time"

	fpmath "UsdnLedger/internal/math"
	"UsdnLedger/internal/state"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ProtocolFile is the YAML form of the protocol parameters. Amounts and
// ratios are human decimals ("10" for 10x leverage, "0.5" for half a token).
// Unset fields keep their defaults.
type ProtocolFile struct {
	TickSpacing        *int32 `yaml:"tick_spacing"`
	LiquidationPenalty *int32 `yaml:"liquidation_penalty"`

	MinLeverage     *decimal.Decimal `yaml:"min_leverage"`
	MaxLeverage     *decimal.Decimal `yaml:"max_leverage"`
	SafetyMarginBps *int64           `yaml:"safety_margin_bps"`
	PositionFeeBps  *int64           `yaml:"position_fee_bps"`
	VaultFeeBps     *int64           `yaml:"vault_fee_bps"`
	MinLongPosition *decimal.Decimal `yaml:"min_long_position"`
	SecurityDeposit *decimal.Decimal `yaml:"security_deposit"`

	FundingSF            *decimal.Decimal `yaml:"funding_sf"`
	MaxFundingRatePerDay *decimal.Decimal `yaml:"max_funding_rate_per_day"`

	Imbalance *struct {
		OpenBps       *int64 `yaml:"open_bps"`
		DepositBps    *int64 `yaml:"deposit_bps"`
		WithdrawalBps *int64 `yaml:"withdrawal_bps"`
		CloseBps      *int64 `yaml:"close_bps"`
	} `yaml:"imbalance"`

	ValidationDelay *time.Duration `yaml:"validation_delay"`
	Deadlines       *struct {
		LowLatencyValidator *time.Duration `yaml:"low_latency_validator"`
		LowLatencyDelay     *time.Duration `yaml:"low_latency_delay"`
		OnChainValidator    *time.Duration `yaml:"on_chain_validator"`
	} `yaml:"deadlines"`

	LiquidationIterations *int `yaml:"liquidation_iterations"`
	MaxActionablesPerCall *int `yaml:"max_actionables_per_call"`
}

// LoadProtocolFile reads path and applies it over the default parameters.
// An empty path yields the defaults.
func LoadProtocolFile(path string) (state.Params, error) {
	if path == "" {
		return state.DefaultParams(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return state.Params{}, err
	}
	return ParseProtocol(data)
}

// ParseProtocol decodes YAML parameters over the defaults and validates them.
func ParseProtocol(data []byte) (state.Params, error) {
	var f ProtocolFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return state.Params{}, fmt.Errorf("parse protocol file: %w", err)
	}
	p, err := f.Apply(state.DefaultParams())
	if err != nil {
		return state.Params{}, err
	}
	if err := state.ValidateParams(p); err != nil {
		return state.Params{}, fmt.Errorf("invalid protocol parameters: %w", err)
	}
	return p, nil
}

// Apply overlays the set fields of f onto p.
func (f *ProtocolFile) Apply(p state.Params) (state.Params, error) {
	setInt32(&p.TickSpacing, f.TickSpacing)
	setInt32(&p.LiquidationPenalty, f.LiquidationPenalty)
	setInt64(&p.SafetyMarginBps, f.SafetyMarginBps)
	setInt64(&p.PositionFeeBps, f.PositionFeeBps)
	setInt64(&p.VaultFeeBps, f.VaultFeeBps)

	scaled := []struct {
		name     string
		dst      *sdkmath.Int
		src      *decimal.Decimal
		decimals int32
	}{
		{"min_leverage", &p.MinLeverage, f.MinLeverage, fpmath.LeverageDecimals},
		{"max_leverage", &p.MaxLeverage, f.MaxLeverage, fpmath.LeverageDecimals},
		{"min_long_position", &p.MinLongPosition, f.MinLongPosition, fpmath.TokensDecimals},
		{"security_deposit", &p.SecurityDeposit, f.SecurityDeposit, fpmath.TokensDecimals},
		{"funding_sf", &p.FundingSF, f.FundingSF, fpmath.FundingSFDecimals},
		{"max_funding_rate_per_day", &p.MaxFundingRatePerDay, f.MaxFundingRatePerDay, fpmath.FundingRateDecimals},
	}
	for _, s := range scaled {
		if s.src == nil {
			continue
		}
		v, err := fpmath.FromDecimalExact(*s.src, s.decimals)
		if err != nil {
			return p, fmt.Errorf("%s: %w", s.name, err)
		}
		*s.dst = v
	}

	if im := f.Imbalance; im != nil {
		setInt64(&p.Imbalance.OpenBps, im.OpenBps)
		setInt64(&p.Imbalance.DepositBps, im.DepositBps)
		setInt64(&p.Imbalance.WithdrawalBps, im.WithdrawalBps)
		setInt64(&p.Imbalance.CloseBps, im.CloseBps)
	}

	if f.ValidationDelay != nil {
		p.ValidationDelay = *f.ValidationDelay
	}
	if d := f.Deadlines; d != nil {
		setDuration(&p.Deadlines.LowLatencyValidatorDeadline, d.LowLatencyValidator)
		setDuration(&p.Deadlines.LowLatencyDelay, d.LowLatencyDelay)
		setDuration(&p.Deadlines.OnChainValidatorDeadline, d.OnChainValidator)
	}

	if f.LiquidationIterations != nil {
		p.LiquidationIterations = *f.LiquidationIterations
	}
	if f.MaxActionablesPerCall != nil {
		p.MaxActionablesPerCall = *f.MaxActionablesPerCall
	}
	return p, nil
}

func setInt32(dst *int32, src *int32) {
	if src != nil {
		*dst = *src
	}
}

func setInt64(dst *int64, src *int64) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *time.Duration) {
	if src != nil {
		*dst = *src
	}
}

// Describe renders p in the same human units the file uses.
func Describe(p state.Params) map[string]string {
	dec := func(v sdkmath.Int, decimals int32) string { return fpmath.ToDecimal(v, decimals).String() }
	return map[string]string{
		"tick_spacing":                    fmt.Sprint(p.TickSpacing),
		"liquidation_penalty":             fmt.Sprint(p.LiquidationPenalty),
		"min_leverage":                    dec(p.MinLeverage, fpmath.LeverageDecimals),
		"max_leverage":                    dec(p.MaxLeverage, fpmath.LeverageDecimals),
		"safety_margin_bps":               fmt.Sprint(p.SafetyMarginBps),
		"position_fee_bps":                fmt.Sprint(p.PositionFeeBps),
		"vault_fee_bps":                   fmt.Sprint(p.VaultFeeBps),
		"min_long_position":               dec(p.MinLongPosition, fpmath.TokensDecimals),
		"security_deposit":                dec(p.SecurityDeposit, fpmath.TokensDecimals),
		"funding_sf":                      dec(p.FundingSF, fpmath.FundingSFDecimals),
		"max_funding_rate_per_day":        dec(p.MaxFundingRatePerDay, fpmath.FundingRateDecimals),
		"imbalance.open_bps":              fmt.Sprint(p.Imbalance.OpenBps),
		"imbalance.deposit_bps":           fmt.Sprint(p.Imbalance.DepositBps),
		"imbalance.withdrawal_bps":        fmt.Sprint(p.Imbalance.WithdrawalBps),
		"imbalance.close_bps":             fmt.Sprint(p.Imbalance.CloseBps),
		"validation_delay":                p.ValidationDelay.String(),
		"deadlines.low_latency_validator": p.Deadlines.LowLatencyValidatorDeadline.String(),
		"deadlines.low_latency_delay":     p.Deadlines.LowLatencyDelay.String(),
		"deadlines.on_chain_validator":    p.Deadlines.OnChainValidatorDeadline.String(),
		"liquidation_iterations":          fmt.Sprint(p.LiquidationIterations),
		"max_actionables_per_call":        fmt.Sprint(p.MaxActionablesPerCall),
	}
}
