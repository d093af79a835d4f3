package state_test

import (
	"errors"
	"testing"

	"UsdnLedger/internal/state"
	"UsdnLedger/internal/types"

	sdkmath "cosmossdk.io/math"
)

// balancedInputs has a long trading expo equal to the vault: 100e18 each.
func balancedInputs(amount, expo sdkmath.Int) state.ImbalanceInputs {
	return state.ImbalanceInputs{
		TotalExpo:         tokens(150),
		BalanceLong:       tokens(50),
		BalanceVault:      tokens(100),
		PendingVaultDelta: sdkmath.ZeroInt(),
		Amount:            amount,
		Expo:              expo,
	}
}

// ============================================================================
// Test: Imbalance limits
// ============================================================================

func TestCheckImbalance(t *testing.T) {
	limits := state.ImbalanceLimits{OpenBps: 200, DepositBps: 500, WithdrawalBps: 500, CloseBps: 600}

	cases := []struct {
		name    string
		kind    state.ImbalanceKind
		inputs  state.ImbalanceInputs
		wantErr error
	}{
		{"open at limit", state.ImbalanceOpen, balancedInputs(tokens(10), tokens(12)), nil},
		{"open over limit", state.ImbalanceOpen, balancedInputs(tokens(10), milliTokens(12_010)), types.ErrImbalanceLimitReached},
		{"deposit at limit", state.ImbalanceDeposit, balancedInputs(tokens(5), sdkmath.ZeroInt()), nil},
		{"deposit over limit", state.ImbalanceDeposit, balancedInputs(milliTokens(5_010), sdkmath.ZeroInt()), types.ErrImbalanceLimitReached},
		{"withdraw under limit", state.ImbalanceWithdraw, balancedInputs(milliTokens(4_700), sdkmath.ZeroInt()), nil},
		{"withdraw over limit", state.ImbalanceWithdraw, balancedInputs(tokens(5), sdkmath.ZeroInt()), types.ErrImbalanceLimitReached},
		{"close over limit", state.ImbalanceClose, balancedInputs(tokens(2), tokens(12)), types.ErrImbalanceLimitReached},
		{"withdraw empties vault", state.ImbalanceWithdraw, balancedInputs(tokens(100), sdkmath.ZeroInt()), types.ErrInvalidVaultExpo},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := state.CheckImbalance(tc.kind, limits, tc.inputs)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("expected pass, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestImbalanceBps_Values(t *testing.T) {
	bps, err := state.ImbalanceBps(state.ImbalanceWithdraw, balancedInputs(tokens(5), sdkmath.ZeroInt()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// (100 - 95) / 95 = 526.3 bps, truncated
	if bps != 526 {
		t.Errorf("expected 526 bps, got %d", bps)
	}

	bps, _ = state.ImbalanceBps(state.ImbalanceClose, balancedInputs(tokens(2), tokens(12)))
	// newLongExpo = 138 - 48 = 90, (100 - 90) / 90
	if bps != 1111 {
		t.Errorf("expected 1111 bps, got %d", bps)
	}
}

func TestCheckImbalance_PendingDeltaCounts(t *testing.T) {
	limits := state.ImbalanceLimits{DepositBps: 500}
	in := balancedInputs(tokens(5), sdkmath.ZeroInt())
	in.PendingVaultDelta = tokens(1)

	if err := state.CheckImbalance(state.ImbalanceDeposit, limits, in); !errors.Is(err, types.ErrImbalanceLimitReached) {
		t.Fatalf("expected pending deposit to count toward the limit, got %v", err)
	}
}

func TestCheckImbalance_DisabledAndZeroExpo(t *testing.T) {
	in := balancedInputs(tokens(80), sdkmath.ZeroInt())
	if err := state.CheckImbalance(state.ImbalanceDeposit, state.ImbalanceLimits{}, in); err != nil {
		t.Fatalf("expected disabled limit to pass, got %v", err)
	}

	in.BalanceLong = in.TotalExpo
	err := state.CheckImbalance(state.ImbalanceDeposit, state.ImbalanceLimits{DepositBps: 500}, in)
	if !errors.Is(err, types.ErrInvalidLongExpo) {
		t.Fatalf("expected ErrInvalidLongExpo, got %v", err)
	}
}
