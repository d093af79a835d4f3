package state

import (
	fpmath "UsdnLedger/internal/math"

	sdkmath "cosmossdk.io/math"
)

// TickOutcome describes one liquidated tick.
type TickOutcome struct {
	Tick                int32       `json:"tick"`
	TickVersion         uint64      `json:"tick_version"` // version that was liquidated
	TotalPositions      int         `json:"total_positions"`
	TotalExpo           sdkmath.Int `json:"total_expo"`
	RemainingCollateral sdkmath.Int `json:"remaining_collateral"` // signed value at the penalty-free price
	TickPrice           sdkmath.Int `json:"tick_price"`
	PriceWithoutPenalty sdkmath.Int `json:"price_without_penalty"`
}

// SettleResult is the outcome of one Settle call.
type SettleResult struct {
	Ticks               []TickOutcome
	Pending             bool        // iteration cap hit while crossed ticks remain
	RemainingCollateral sdkmath.Int // aggregate signed value moved to the vault
	BadDebt             sdkmath.Int // part of a negative aggregate covered by the vault
}

// TotalPositions sums the liquidated positions over all ticks.
func (r SettleResult) TotalPositions() int {
	n := 0
	for _, t := range r.Ticks {
		n += t.TotalPositions
	}
	return n
}

// LiquidationEngine removes ticks whose liquidation price has been crossed.
type LiquidationEngine struct {
	book *Book
}

func NewLiquidationEngine(book *Book) *LiquidationEngine {
	return &LiquidationEngine{book: book}
}

// Settle liquidates, highest first, every tick whose penalty-inclusive
// effective price is >= price, processing at most maxIterations ticks.
// The multiplier is fixed at the start of the call so all ticks of one
// settlement are priced consistently.
func (le *LiquidationEngine) Settle(price sdkmath.Int, maxIterations int) SettleResult {
	result := SettleResult{
		RemainingCollateral: sdkmath.ZeroInt(),
		BadDebt:             sdkmath.ZeroInt(),
	}
	if maxIterations <= 0 || le.book.Ticks.Len() == 0 {
		return result
	}

	ticks := le.book.Ticks
	m := le.book.Multiplier(price)

	for len(result.Ticks) < maxIterations {
		tick, ok := ticks.Highest()
		if !ok {
			break
		}

		tickPrice := ticks.EffectivePrice(tick, m)
		if tickPrice.LT(price) {
			break
		}

		data, _ := ticks.Get(tick)
		priceWithoutPenalty := ticks.EffectivePrice(ticks.TickWithoutPenalty(tick, data.LiquidationPenalty), m)
		value := fpmath.PositionValue(price, priceWithoutPenalty, data.TotalExpo)

		le.book.RemoveTick(tick)

		result.RemainingCollateral = result.RemainingCollateral.Add(value)
		result.Ticks = append(result.Ticks, TickOutcome{
			Tick:                tick,
			TickVersion:         data.Version,
			TotalPositions:      data.TotalPositions,
			TotalExpo:           data.TotalExpo,
			RemainingCollateral: value,
			TickPrice:           tickPrice,
			PriceWithoutPenalty: priceWithoutPenalty,
		})
	}

	if len(result.Ticks) == 0 {
		return result
	}

	if len(result.Ticks) == maxIterations {
		if next, ok := ticks.Highest(); ok && ticks.EffectivePrice(next, m).GTE(price) {
			result.Pending = true
		}
	}

	moved := le.book.Balances.MoveToVault(result.RemainingCollateral)
	if moved.IsNegative() {
		result.BadDebt = moved.Neg()
		le.book.Balances.BadDebt = le.book.Balances.BadDebt.Add(result.BadDebt)
	}

	return result
}
