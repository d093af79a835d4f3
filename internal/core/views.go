package core

import (
	"time"

	fpmath "UsdnLedger/internal/math"
	"UsdnLedger/internal/state"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Read-only views. They return copies and never mutate state.

func (e *Engine) Params() state.Params {
	return e.params
}

func (e *Engine) Initialized() bool {
	return e.initialized
}

func (e *Engine) Balances() state.Balances {
	return *e.book.Balances.Clone()
}

// Tick returns the populated tick, or false.
func (e *Engine) Tick(tick int32) (state.Tick, bool) {
	return e.book.Ticks.Get(tick)
}

func (e *Engine) TickVersion(tick int32) uint64 {
	return e.book.Ticks.Version(tick)
}

// Position returns a copy of the live position behind id.
func (e *Engine) Position(id state.PositionID) (state.Position, error) {
	pos, err := e.livePosition(id)
	if err != nil {
		return state.Position{}, err
	}
	return *pos.Clone(), nil
}

// Positions returns every live position ordered by id.
func (e *Engine) Positions() []state.PositionEntry {
	entries := e.book.Positions.All()
	for i := range entries {
		entries[i].Position = entries[i].Position.Clone()
	}
	return entries
}

// PendingActionOf returns a copy of the validator's pending action.
func (e *Engine) PendingActionOf(validator common.Address) (state.PendingAction, bool) {
	action, _, ok := e.queue.Get(validator)
	if !ok {
		return nil, false
	}
	return state.ClonePending(action), true
}

// ActionablePendingActions lists, oldest first, up to limit actions a third
// party could validate at now.
func (e *Engine) ActionablePendingActions(now time.Time, limit int) []state.QueueEntry {
	entries := e.queue.Actionable(now, limit, e.params.Deadlines)
	for i := range entries {
		entries[i].Action = state.ClonePending(entries[i].Action)
	}
	return entries
}

func (e *Engine) PendingQueueLen() int {
	return e.queue.Len()
}

// LongTradingExpo is the long trading exposure after PnL at price.
func (e *Engine) LongTradingExpo(price sdkmath.Int) sdkmath.Int {
	b := e.book.Balances
	return b.TotalExpo.Sub(b.LongAssetAvailable(price))
}

func (e *Engine) LongAssetAvailable(price sdkmath.Int) sdkmath.Int {
	return e.book.Balances.LongAssetAvailable(price)
}

func (e *Engine) VaultAssetAvailable(price sdkmath.Int) sdkmath.Int {
	return e.book.Balances.VaultAssetAvailable(price)
}

// multiplierAt is the multiplier as it would be after PnL at price.
func (e *Engine) multiplierAt(price sdkmath.Int) state.Multiplier {
	return state.Multiplier{
		AssetPrice:      price,
		LongTradingExpo: e.LongTradingExpo(price),
		Accumulator:     e.book.Balances.LiqMultiplierAccumulator,
	}
}

// EffectivePriceForTick is the liquidation price of tick at asset price.
func (e *Engine) EffectivePriceForTick(tick int32, price sdkmath.Int) sdkmath.Int {
	return e.book.Ticks.EffectivePrice(tick, e.multiplierAt(price))
}

// EffectiveTickForPrice is the tick whose effective price is at or below
// liqPrice when the asset trades at assetPrice.
func (e *Engine) EffectiveTickForPrice(liqPrice, assetPrice sdkmath.Int) int32 {
	if !liqPrice.IsPositive() {
		return fpmath.MinUsableTick(e.params.TickSpacing)
	}
	return e.book.Ticks.PriceToTick(liqPrice, e.multiplierAt(assetPrice))
}

func (e *Engine) HighestPopulatedTick() (int32, bool) {
	return e.book.Ticks.Highest()
}

// CheckTickInvariant verifies every populated tick against its positions.
func (e *Engine) CheckTickInvariant() error {
	return e.book.CheckTickInvariant()
}

// StateHash is the chained hash after the last mutating call.
func (e *Engine) StateHash() [32]byte {
	return e.stateHash
}

func (e *Engine) Sequence() uint64 {
	return e.sequence
}

// PendingActions returns every live pending action, oldest first.
func (e *Engine) PendingActions() []state.QueueEntry {
	entries := e.queue.Entries()
	for i := range entries {
		entries[i].Action = state.ClonePending(entries[i].Action)
	}
	return entries
}

// AccountedCollateral is what the collateral pool must hold: both balances
// plus asset parked in pending deposits and closes.
func (e *Engine) AccountedCollateral() sdkmath.Int {
	b := e.book.Balances
	total := b.BalanceLong.Add(b.BalanceVault)
	for _, entry := range e.queue.Entries() {
		switch a := entry.Action.(type) {
		case *state.DepositAction:
			total = total.Add(a.Amount)
		case *state.CloseAction:
			total = total.Add(a.BoundedValue)
		}
	}
	return total
}
