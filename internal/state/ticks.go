package state

import (
	fpmath "UsdnLedger/internal/math"

	sdkmath "cosmossdk.io/math"
	"github.com/google/btree"
)

const btreeDegree = 32

// Tick aggregates every position of one liquidation bucket at its current version.
type Tick struct {
	Version            uint64      `json:"version"`
	TotalExpo          sdkmath.Int `json:"total_expo"`
	TotalPositions     int         `json:"total_positions"`
	LiquidationPenalty int32       `json:"liquidation_penalty"` // snapshotted on first entry
}

// Multiplier carries the funding-drift adjustment between raw tick prices and
// effective liquidation prices.
type Multiplier struct {
	AssetPrice      sdkmath.Int `json:"asset_price"`
	LongTradingExpo sdkmath.Int `json:"long_trading_expo"`
	Accumulator     sdkmath.Int `json:"accumulator"`
}

func (m Multiplier) Adjust(unadjusted sdkmath.Int) sdkmath.Int {
	return fpmath.AdjustPrice(unadjusted, m.AssetPrice, m.LongTradingExpo, m.Accumulator)
}

func (m Multiplier) Unadjust(adjusted sdkmath.Int) sdkmath.Int {
	return fpmath.UnadjustPrice(adjusted, m.AssetPrice, m.LongTradingExpo, m.Accumulator)
}

// TickIndex buckets positions by liquidation price. The btree holds populated
// ticks for highest-first iteration; versions outlive the tick data.
type TickIndex struct {
	spacing   int32
	populated *btree.BTreeG[int32]
	ticks     map[int32]*Tick
	versions  map[int32]uint64
}

func NewTickIndex(spacing int32) *TickIndex {
	return &TickIndex{
		spacing:   spacing,
		populated: btree.NewOrderedG[int32](btreeDegree),
		ticks:     make(map[int32]*Tick),
		versions:  make(map[int32]uint64),
	}
}

func (ti *TickIndex) Spacing() int32 {
	return ti.spacing
}

// Version returns the current version of tick; zero before its first liquidation.
func (ti *TickIndex) Version(tick int32) uint64 {
	return ti.versions[tick]
}

// Get returns a copy of the populated tick.
func (ti *TickIndex) Get(tick int32) (Tick, bool) {
	t, ok := ti.ticks[tick]
	if !ok {
		return Tick{}, false
	}
	return *t, true
}

// PenaltyOf returns the stored penalty of a populated tick, or fallback.
func (ti *TickIndex) PenaltyOf(tick int32, fallback int32) int32 {
	if t, ok := ti.ticks[tick]; ok {
		return t.LiquidationPenalty
	}
	return fallback
}

// AddExpo records one more position at tick. The penalty is only stored when
// the tick is empty.
func (ti *TickIndex) AddExpo(tick int32, expo sdkmath.Int, penalty int32) *Tick {
	t, ok := ti.ticks[tick]
	if !ok {
		t = &Tick{
			Version:            ti.versions[tick],
			TotalExpo:          sdkmath.ZeroInt(),
			LiquidationPenalty: penalty,
		}
		ti.ticks[tick] = t
		ti.populated.ReplaceOrInsert(tick)
	}
	t.TotalExpo = t.TotalExpo.Add(expo)
	t.TotalPositions++
	return t
}

// AdjustExpo changes the tick exposure without changing its position count.
func (ti *TickIndex) AdjustExpo(tick int32, delta sdkmath.Int) {
	if t, ok := ti.ticks[tick]; ok {
		t.TotalExpo = t.TotalExpo.Add(delta)
	}
}

// RemoveExpo subtracts exposure; removePosition also drops one from the count.
// An emptied tick leaves the index with its version unchanged.
func (ti *TickIndex) RemoveExpo(tick int32, expo sdkmath.Int, removePosition bool) {
	t, ok := ti.ticks[tick]
	if !ok {
		return
	}
	t.TotalExpo = t.TotalExpo.Sub(expo)
	if removePosition {
		t.TotalPositions--
	}
	if t.TotalPositions <= 0 {
		delete(ti.ticks, tick)
		ti.populated.Delete(tick)
	}
}

// Liquidate removes the tick and bumps its version, returning the removed data.
func (ti *TickIndex) Liquidate(tick int32) (Tick, bool) {
	t, ok := ti.ticks[tick]
	if !ok {
		return Tick{}, false
	}
	delete(ti.ticks, tick)
	ti.populated.Delete(tick)
	ti.BumpVersion(tick)
	return *t, true
}

// BumpVersion invalidates every handle naming the current version of tick.
func (ti *TickIndex) BumpVersion(tick int32) {
	ti.versions[tick]++
}

// Highest returns the populated tick with the highest price.
func (ti *TickIndex) Highest() (int32, bool) {
	return ti.populated.Max()
}

// Descend visits populated ticks from highest to lowest until fn returns false.
func (ti *TickIndex) Descend(fn func(tick int32) bool) {
	ti.populated.Descend(fn)
}

// Ascend visits populated ticks from lowest to highest until fn returns false.
func (ti *TickIndex) Ascend(fn func(tick int32) bool) {
	ti.populated.Ascend(fn)
}

func (ti *TickIndex) Len() int {
	return ti.populated.Len()
}

// TickWithoutPenalty shifts a bucketing tick down by the penalty.
func (ti *TickIndex) TickWithoutPenalty(tick, penalty int32) int32 {
	return tick - penalty*ti.spacing
}

// TickWithPenalty shifts a penalty-free tick up into its bucket.
func (ti *TickIndex) TickWithPenalty(tick, penalty int32) int32 {
	return tick + penalty*ti.spacing
}

// PriceToTick maps an effective price to the tick whose price is at or below it.
func (ti *TickIndex) PriceToTick(price sdkmath.Int, m Multiplier) int32 {
	return fpmath.RoundDownToSpacing(fpmath.TickAtPrice(m.Unadjust(price)), ti.spacing)
}

// EffectivePrice is the funding-adjusted price of tick.
func (ti *TickIndex) EffectivePrice(tick int32, m Multiplier) sdkmath.Int {
	return m.Adjust(fpmath.PriceAtTick(tick))
}

// Populated returns a copy of every populated tick.
func (ti *TickIndex) Populated() map[int32]Tick {
	out := make(map[int32]Tick, len(ti.ticks))
	for k, v := range ti.ticks {
		out[k] = *v
	}
	return out
}

// Versions returns a copy of the version table.
func (ti *TickIndex) Versions() map[int32]uint64 {
	out := make(map[int32]uint64, len(ti.versions))
	for k, v := range ti.versions {
		out[k] = v
	}
	return out
}

// Restore replaces the index contents.
func (ti *TickIndex) Restore(ticks map[int32]Tick, versions map[int32]uint64) {
	ti.populated.Clear(false)
	ti.ticks = make(map[int32]*Tick, len(ticks))
	ti.versions = make(map[int32]uint64, len(versions))
	for k, v := range versions {
		ti.versions[k] = v
	}
	for k, v := range ticks {
		t := v
		ti.ticks[k] = &t
		ti.populated.ReplaceOrInsert(k)
	}
}
