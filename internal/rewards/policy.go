// Package rewards prices the bounty paid to whoever triggers a liquidation.
package rewards

import (
	"UsdnLedger/internal/core"
	fpmath "UsdnLedger/internal/math"
	"UsdnLedger/internal/state"

	sdkmath "cosmossdk.io/math"
)

// Config of the tick bounty policy. Amounts use 18 decimals.
type Config struct {
	PerTick sdkmath.Int `json:"per_tick"` // flat amount per liquidated tick
	ExpoBps int64       `json:"expo_bps"` // share of the liquidated expo
	Max     sdkmath.Int `json:"max"`      // cap per call, zero disables
	Minimum sdkmath.Int `json:"minimum"`  // floor when at least one tick was liquidated
}

func DefaultConfig() Config {
	return Config{
		PerTick: fpmath.TokensScale.QuoRaw(1_000), // 0.001
		ExpoBps: 10,
		Max:     fpmath.TokensScale,
		Minimum: sdkmath.ZeroInt(),
	}
}

// TickBounty pays PerTick for every liquidated tick plus ExpoBps of the total
// liquidated expo, clamped to [Minimum, Max].
type TickBounty struct {
	cfg Config
}

var _ core.RewardsPolicy = (*TickBounty)(nil)

func NewTickBounty(cfg Config) *TickBounty {
	if cfg.PerTick.IsNil() {
		cfg.PerTick = sdkmath.ZeroInt()
	}
	if cfg.Max.IsNil() {
		cfg.Max = sdkmath.ZeroInt()
	}
	if cfg.Minimum.IsNil() {
		cfg.Minimum = sdkmath.ZeroInt()
	}
	return &TickBounty{cfg: cfg}
}

func (p *TickBounty) RewardFor(outcomes []state.TickOutcome, _ core.RewardContext) sdkmath.Int {
	if len(outcomes) == 0 {
		return sdkmath.ZeroInt()
	}

	expo := sdkmath.ZeroInt()
	for _, out := range outcomes {
		expo = expo.Add(out.TotalExpo)
	}

	reward := p.cfg.PerTick.MulRaw(int64(len(outcomes))).Add(fpmath.ApplyBps(expo, p.cfg.ExpoBps))
	reward = fpmath.MaxInt(reward, p.cfg.Minimum)
	if p.cfg.Max.IsPositive() {
		reward = fpmath.MinInt(reward, p.cfg.Max)
	}
	return reward
}
