package state

import (
	"fmt"

	fpmath "UsdnLedger/internal/math"

	sdkmath "cosmossdk.io/math"
)

// Book keeps the tick index, the position ledger and the global exposure
// scalars in step. Every exposure change goes through it so that
// tick.TotalExpo, Balances.TotalExpo and the multiplier accumulator agree.
type Book struct {
	Ticks     *TickIndex
	Positions *PositionLedger
	Balances  *Balances
}

func NewBook(spacing int32) *Book {
	return &Book{
		Ticks:     NewTickIndex(spacing),
		Positions: NewPositionLedger(),
		Balances:  NewBalances(),
	}
}

// Multiplier returns the drift adjustment at assetPrice.
func (b *Book) Multiplier(assetPrice sdkmath.Int) Multiplier {
	return b.Balances.Multiplier(assetPrice)
}

// accumulatorTerm is expo times the raw penalty-free price of tick.
func (b *Book) accumulatorTerm(tick, penalty int32, expo sdkmath.Int) sdkmath.Int {
	return fpmath.AccumulatorTerm(expo, fpmath.PriceAtTick(b.Ticks.TickWithoutPenalty(tick, penalty)))
}

// AddPosition inserts pos at tick. The penalty is stored only if the tick is
// empty; the stored penalty is returned along with the new id.
// Collateral accounting (BalanceLong) is left to the caller.
func (b *Book) AddPosition(tick, penalty int32, pos *Position) (PositionID, int32) {
	t := b.Ticks.AddExpo(tick, pos.TotalExpo, penalty)
	index := b.Positions.Add(tick, t.Version, pos)

	b.Balances.TotalExpo = b.Balances.TotalExpo.Add(pos.TotalExpo)
	b.Balances.LiqMultiplierAccumulator = b.Balances.LiqMultiplierAccumulator.Add(
		b.accumulatorTerm(tick, t.LiquidationPenalty, pos.TotalExpo))

	return PositionID{Tick: tick, TickVersion: t.Version, Index: index}, t.LiquidationPenalty
}

// ReducePosition removes amount of collateral and expo from a position. A full
// reduction deletes it.
func (b *Book) ReducePosition(id PositionID, amount, expo sdkmath.Int) error {
	pos := b.Positions.Get(id)
	if pos == nil {
		return fmt.Errorf("position %s not found", id)
	}
	t, ok := b.Ticks.Get(id.Tick)
	if !ok || t.Version != id.TickVersion {
		return fmt.Errorf("tick %d is not at version %d", id.Tick, id.TickVersion)
	}
	if amount.GT(pos.Amount) || expo.GT(pos.TotalExpo) {
		return fmt.Errorf("reduce %s/%s exceeds position %s/%s", amount, expo, pos.Amount, pos.TotalExpo)
	}

	full := amount.Equal(pos.Amount)
	if full {
		expo = pos.TotalExpo
		b.Positions.Remove(id)
	} else {
		pos.Amount = pos.Amount.Sub(amount)
		pos.TotalExpo = pos.TotalExpo.Sub(expo)
	}

	b.Ticks.RemoveExpo(id.Tick, expo, full)
	b.Balances.TotalExpo = b.Balances.TotalExpo.Sub(expo)
	b.Balances.LiqMultiplierAccumulator = b.Balances.LiqMultiplierAccumulator.Sub(
		b.accumulatorTerm(id.Tick, t.LiquidationPenalty, expo))
	return nil
}

// UpdatePositionExpo replaces a position's expo in place.
func (b *Book) UpdatePositionExpo(id PositionID, newExpo sdkmath.Int) error {
	pos := b.Positions.Get(id)
	if pos == nil {
		return fmt.Errorf("position %s not found", id)
	}
	t, ok := b.Ticks.Get(id.Tick)
	if !ok || t.Version != id.TickVersion {
		return fmt.Errorf("tick %d is not at version %d", id.Tick, id.TickVersion)
	}

	delta := newExpo.Sub(pos.TotalExpo)
	pos.TotalExpo = newExpo
	b.Ticks.AdjustExpo(id.Tick, delta)
	b.Balances.TotalExpo = b.Balances.TotalExpo.Add(delta)
	b.Balances.LiqMultiplierAccumulator = b.Balances.LiqMultiplierAccumulator.Add(
		b.accumulatorTerm(id.Tick, t.LiquidationPenalty, delta))
	return nil
}

// RemoveTick liquidates every position of tick at once, bumping its version.
func (b *Book) RemoveTick(tick int32) (Tick, bool) {
	t, ok := b.Ticks.Liquidate(tick)
	if !ok {
		return Tick{}, false
	}
	b.Positions.DropTick(tick, t.Version)

	b.Balances.TotalExpo = b.Balances.TotalExpo.Sub(t.TotalExpo)
	b.Balances.LiqMultiplierAccumulator = b.Balances.LiqMultiplierAccumulator.Sub(
		b.accumulatorTerm(tick, t.LiquidationPenalty, t.TotalExpo))
	return t, true
}

// CheckTickInvariant verifies that every populated tick's expo and count
// match its positions.
func (b *Book) CheckTickInvariant() error {
	var err error
	b.Ticks.Ascend(func(tick int32) bool {
		t, _ := b.Ticks.Get(tick)
		sum := sdkmath.ZeroInt()
		positions := b.Positions.Positions(tick, t.Version)
		for _, pos := range positions {
			sum = sum.Add(pos.TotalExpo)
		}
		if !sum.Equal(t.TotalExpo) {
			err = fmt.Errorf("tick %d expo %s != sum of positions %s", tick, t.TotalExpo, sum)
			return false
		}
		if len(positions) != t.TotalPositions {
			err = fmt.Errorf("tick %d count %d != live positions %d", tick, t.TotalPositions, len(positions))
			return false
		}
		return true
	})
	return err
}

// Digest returns canonical bytes of the whole book for state hashing.
func (b *Book) Digest() []byte {
	digest := b.Balances.CanonicalBytes()
	b.Ticks.Ascend(func(tick int32) bool {
		t, _ := b.Ticks.Get(tick)
		digest = append(digest, t.CanonicalBytes(tick)...)
		return true
	})
	for _, entry := range b.Positions.All() {
		digest = append(digest, entry.Position.CanonicalBytes(entry.ID)...)
	}
	return digest
}
