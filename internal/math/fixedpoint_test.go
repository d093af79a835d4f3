package math_test

import (
	fpmath "UsdnLedger/internal/math"
	"testing"

	sdkmath "cosmossdk.io/math"
)

func mustInt(s string) sdkmath.Int {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		panic("bad int literal: " + s)
	}
	return v
}

// ============================================================================
// Test: MulDiv rounding
// ============================================================================

func TestMulDiv_Rounding(t *testing.T) {
	cases := []struct {
		name     string
		a, b, d  int64
		mode     fpmath.RoundingMode
		expected int64
	}{
		{"exact", 6, 4, 3, fpmath.RoundDown, 8},
		{"down truncates", 7, 1, 2, fpmath.RoundDown, 3},
		{"up rounds away", 7, 1, 2, fpmath.RoundUp, 4},
		{"half even keeps even", 5, 1, 2, fpmath.RoundHalfEven, 2},
		{"half even rounds odd up", 7, 1, 2, fpmath.RoundHalfEven, 4},
		{"negative down toward zero", -7, 1, 2, fpmath.RoundDown, -3},
		{"negative up away from zero", -7, 1, 2, fpmath.RoundUp, -4},
		{"negative half even", -5, 1, 2, fpmath.RoundHalfEven, -2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := fpmath.MulDiv(sdkmath.NewInt(tc.a), sdkmath.NewInt(tc.b), sdkmath.NewInt(tc.d), tc.mode)
			if !got.Equal(sdkmath.NewInt(tc.expected)) {
				t.Fatalf("expected %d, got %s", tc.expected, got)
			}
		})
	}
}

func TestMulDiv_LargeIntermediate(t *testing.T) {
	// 1e40 * 1e40 / 1e40 must not lose precision
	a := mustInt("10000000000000000000000000000000000000000")
	got := fpmath.MulDiv(a, a, a, fpmath.RoundDown)
	if !got.Equal(a) {
		t.Fatalf("expected %s, got %s", a, got)
	}
}

func TestMulDiv_ZeroDivisorPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on zero divisor")
		}
	}()
	fpmath.MulDiv(sdkmath.OneInt(), sdkmath.OneInt(), sdkmath.ZeroInt(), fpmath.RoundDown)
}

func TestClampAndBps(t *testing.T) {
	v := fpmath.ClampInt(sdkmath.NewInt(15), sdkmath.ZeroInt(), sdkmath.NewInt(10))
	if !v.Equal(sdkmath.NewInt(10)) {
		t.Errorf("clamp high: got %s", v)
	}
	v = fpmath.ClampInt(sdkmath.NewInt(-5), sdkmath.ZeroInt(), sdkmath.NewInt(10))
	if !v.IsZero() {
		t.Errorf("clamp low: got %s", v)
	}
	if got := fpmath.ApplyBps(sdkmath.NewInt(1_000_000), 250); !got.Equal(sdkmath.NewInt(25_000)) {
		t.Errorf("ApplyBps: got %s", got)
	}
}

// ============================================================================
// Test: Position formulas
// ============================================================================

func TestLeverageRoundTrip(t *testing.T) {
	start := fpmath.PriceScale.MulRaw(2000)
	tenX := fpmath.LeverageScale.MulRaw(10)

	liq := fpmath.LiquidationPrice(start, tenX)
	if !liq.Equal(fpmath.PriceScale.MulRaw(1800)) {
		t.Fatalf("expected liq 1800, got %s", liq)
	}

	lev := fpmath.Leverage(start, liq)
	if !lev.Equal(tenX) {
		t.Fatalf("expected 10x, got %s", lev)
	}
}

func TestPositionExpoAndValue(t *testing.T) {
	amount := fpmath.TokensScale // 1 unit
	start := fpmath.PriceScale.MulRaw(2000)
	liq := fpmath.PriceScale.MulRaw(1000)

	expo := fpmath.PositionTotalExpo(amount, start, liq)
	if !expo.Equal(fpmath.TokensScale.MulRaw(2)) {
		t.Fatalf("expected expo 2, got %s", expo)
	}

	// at entry price the position is worth its collateral
	if v := fpmath.PositionValue(start, liq, expo); !v.Equal(amount) {
		t.Errorf("value at start: got %s", v)
	}

	// below the liquidation price the value is negative
	if v := fpmath.PositionValue(fpmath.PriceScale.MulRaw(500), liq, expo); !v.IsNegative() {
		t.Errorf("value below liq should be negative, got %s", v)
	}
}

func TestLongAssetAvailable_PriceMove(t *testing.T) {
	totalExpo := fpmath.TokensScale.MulRaw(20)
	balanceLong := fpmath.TokensScale.MulRaw(10)
	oldPrice := fpmath.PriceScale.MulRaw(1000)
	newPrice := fpmath.PriceScale.MulRaw(2000)

	// trading expo 10 * 1000/2000 = 5, available = 20 - 5
	got := fpmath.LongAssetAvailable(totalExpo, balanceLong, newPrice, oldPrice)
	if !got.Equal(fpmath.TokensScale.MulRaw(15)) {
		t.Fatalf("expected 15, got %s", got)
	}

	vault := fpmath.VaultAssetAvailable(totalExpo, fpmath.TokensScale.MulRaw(10), balanceLong, newPrice, oldPrice)
	if !vault.Equal(fpmath.TokensScale.MulRaw(5)) {
		t.Fatalf("expected vault 5, got %s", vault)
	}
}

// ============================================================================
// Test: Funding
// ============================================================================

func TestFundingRatePerDay(t *testing.T) {
	sf := sdkmath.NewInt(120) // 0.12
	maxRate := fpmath.FundingRateScale.QuoRaw(20)

	// long twice the vault: imbalance 0.5 -> 0.06 per day
	rate := fpmath.FundingRatePerDay(fpmath.TokensScale.MulRaw(20), fpmath.TokensScale.MulRaw(10), sf, maxRate)
	if !rate.Equal(mustInt("50000000000000000")) {
		t.Fatalf("expected clamp to 0.05, got %s", rate)
	}

	rate = fpmath.FundingRatePerDay(fpmath.TokensScale.MulRaw(10), fpmath.TokensScale.MulRaw(40), sf, maxRate)
	if !rate.IsNegative() {
		t.Fatalf("vault-heavy imbalance should give negative rate, got %s", rate)
	}

	if r := fpmath.FundingRatePerDay(sdkmath.ZeroInt(), sdkmath.ZeroInt(), sf, maxRate); !r.IsZero() {
		t.Fatalf("empty sides should give zero rate, got %s", r)
	}
}

func TestFundingAsset_OneDay(t *testing.T) {
	rate := fpmath.FundingRateScale.QuoRaw(100) // 1% per day
	got := fpmath.FundingAsset(rate, fpmath.SecondsPerDay, fpmath.TokensScale.MulRaw(100), fpmath.TokensScale.MulRaw(50))
	if !got.Equal(fpmath.TokensScale) {
		t.Fatalf("expected 1 unit, got %s", got)
	}

	got = fpmath.FundingAsset(rate.Neg(), fpmath.SecondsPerDay, fpmath.TokensScale.MulRaw(100), fpmath.TokensScale.MulRaw(50))
	if !got.Equal(fpmath.TokensScale.QuoRaw(2).Neg()) {
		t.Fatalf("expected -0.5 unit, got %s", got)
	}
}

// ============================================================================
// Test: Decimal conversion
// ============================================================================

func TestParseDecimal(t *testing.T) {
	got, err := fpmath.ParseDecimal("2012.55", fpmath.PriceDecimals)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Equal(mustInt("2012550000000000000000")) {
		t.Fatalf("expected 2012.55e18, got %s", got)
	}

	// precision beyond the scale is truncated
	got, _ = fpmath.ParseDecimal("0.0000000000000000019", fpmath.TokensDecimals)
	if !got.Equal(sdkmath.NewInt(1)) {
		t.Fatalf("expected 1 wei, got %s", got)
	}

	if _, err := fpmath.ParseDecimal("ten", fpmath.TokensDecimals); err == nil {
		t.Fatal("expected error for non-numeric input")
	}
}

func TestToDecimal_RoundTrip(t *testing.T) {
	v := mustInt("49199700000000000000")
	if s := fpmath.ToDecimal(v, fpmath.TokensDecimals).String(); s != "49.1997" {
		t.Fatalf("expected 49.1997, got %s", s)
	}
}
