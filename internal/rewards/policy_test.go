package rewards_test

import (
	"testing"

	"UsdnLedger/internal/core"
	fpmath "UsdnLedger/internal/math"
	"UsdnLedger/internal/rewards"
	"UsdnLedger/internal/state"

	sdkmath "cosmossdk.io/math"
)

func tokens(n int64) sdkmath.Int {
	return fpmath.TokensScale.MulRaw(n)
}

func outcome(expo sdkmath.Int) state.TickOutcome {
	return state.TickOutcome{TotalExpo: expo, RemainingCollateral: sdkmath.ZeroInt()}
}

// ============================================================================
// Test: TickBounty
// ============================================================================

func TestTickBounty_NothingLiquidated(t *testing.T) {
	p := rewards.NewTickBounty(rewards.Config{PerTick: tokens(1), Minimum: tokens(1)})

	if got := p.RewardFor(nil, core.RewardContext{}); !got.IsZero() {
		t.Fatalf("expected no reward without liquidations, got %s", got)
	}
}

func TestTickBounty_PerTickPlusExpo(t *testing.T) {
	p := rewards.NewTickBounty(rewards.Config{PerTick: tokens(1), ExpoBps: 100})

	got := p.RewardFor([]state.TickOutcome{outcome(tokens(100)), outcome(tokens(200))}, core.RewardContext{})

	// 2 ticks * 1 + 1% of 300
	if !got.Equal(tokens(5)) {
		t.Fatalf("expected 5e18, got %s", got)
	}
}

func TestTickBounty_Clamped(t *testing.T) {
	capped := rewards.NewTickBounty(rewards.Config{PerTick: tokens(10), Max: tokens(3)})
	if got := capped.RewardFor([]state.TickOutcome{outcome(tokens(1))}, core.RewardContext{}); !got.Equal(tokens(3)) {
		t.Errorf("expected cap at 3e18, got %s", got)
	}

	floored := rewards.NewTickBounty(rewards.Config{Minimum: tokens(2)})
	if got := floored.RewardFor([]state.TickOutcome{outcome(tokens(1))}, core.RewardContext{}); !got.Equal(tokens(2)) {
		t.Errorf("expected floor at 2e18, got %s", got)
	}
}
