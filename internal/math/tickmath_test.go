package math_test

import (
	fpmath "UsdnLedger/internal/math"
	"testing"

	sdkmath "cosmossdk.io/math"
)

func TestPriceAtTick_Zero(t *testing.T) {
	if p := fpmath.PriceAtTick(0); !p.Equal(fpmath.PriceScale) {
		t.Fatalf("tick 0 should be 1.0, got %s", p)
	}
}

func TestPriceAtTick_One(t *testing.T) {
	expected := mustInt("1000100000000000000")
	if p := fpmath.PriceAtTick(1); !p.Equal(expected) {
		t.Fatalf("tick 1 should be 1.0001, got %s", p)
	}
}

func TestPriceAtTick_Monotonic(t *testing.T) {
	ticks := []int32{fpmath.MinTick, -200000, -1000, -1, 0, 1, 1000, 76000, 500000, fpmath.MaxTick}
	prev := sdkmath.ZeroInt()
	for _, tick := range ticks {
		p := fpmath.PriceAtTick(tick)
		if !p.GT(prev) {
			t.Fatalf("price at tick %d (%s) not above previous (%s)", tick, p, prev)
		}
		prev = p
	}

	for tick := int32(75_990); tick < 76_010; tick++ {
		if !fpmath.PriceAtTick(tick + 1).GT(fpmath.PriceAtTick(tick)) {
			t.Fatalf("adjacent ticks %d/%d not strictly increasing", tick, tick+1)
		}
	}
}

func TestTickAtPrice_Inverse(t *testing.T) {
	for _, tick := range []int32{-100000, -12345, -1, 0, 1, 69081, 76012, 300000} {
		price := fpmath.PriceAtTick(tick)
		if got := fpmath.TickAtPrice(price); got != tick {
			t.Errorf("TickAtPrice(PriceAtTick(%d)) = %d", tick, got)
		}
		// one wei below the tick price falls into the previous tick
		if got := fpmath.TickAtPrice(price.SubRaw(1)); got != tick-1 {
			t.Errorf("TickAtPrice(PriceAtTick(%d)-1) = %d", tick, got)
		}
	}
}

func TestTickAtPrice_Bounds(t *testing.T) {
	if got := fpmath.TickAtPrice(sdkmath.OneInt()); got != fpmath.MinTick {
		t.Errorf("tiny price should map to MinTick, got %d", got)
	}
	if got := fpmath.TickAtPrice(sdkmath.ZeroInt()); got != fpmath.MinTick {
		t.Errorf("zero price should map to MinTick, got %d", got)
	}
}

func TestRoundDownToSpacing(t *testing.T) {
	cases := []struct {
		tick, expected int32
	}{
		{150, 100},
		{100, 100},
		{-1, -100},
		{-100, -100},
		{-150, -200},
		{fpmath.MinTick, -322300},
	}
	for _, tc := range cases {
		if got := fpmath.RoundDownToSpacing(tc.tick, 100); got != tc.expected {
			t.Errorf("RoundDownToSpacing(%d) = %d, want %d", tc.tick, got, tc.expected)
		}
	}
}

func TestAdjustPrice_Identity(t *testing.T) {
	p := fpmath.PriceScale.MulRaw(1500)
	if got := fpmath.AdjustPrice(p, p, sdkmath.ZeroInt(), sdkmath.ZeroInt()); !got.Equal(p) {
		t.Fatalf("empty accumulator must not adjust, got %s", got)
	}

	// a single position: acc = expo*liq, trading expo = expo*liq/price
	expo := fpmath.TokensScale.MulRaw(2)
	liq := fpmath.PriceScale.MulRaw(1000)
	price := fpmath.PriceScale.MulRaw(2000)
	acc := fpmath.AccumulatorTerm(expo, liq)
	tradingExpo := fpmath.MulDivDown(expo, liq, price)

	if got := fpmath.AdjustPrice(liq, price, tradingExpo, acc); !got.Equal(liq) {
		t.Fatalf("fair multiplier should be identity, got %s", got)
	}
	if got := fpmath.UnadjustPrice(liq, price, tradingExpo, acc); !got.Equal(liq) {
		t.Fatalf("fair multiplier unadjust should be identity, got %s", got)
	}
}
