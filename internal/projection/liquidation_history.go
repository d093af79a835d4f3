package projection

import (
	"time"

	"UsdnLedger/internal/event"

	sdkmath "cosmossdk.io/math"
)

// Liquidation kinds.
const (
	LiquidationTick     = "tick"
	LiquidationPosition = "position"
)

// LiquidationEntry is one settled tick, or one pending close that settled
// below its liquidation price.
type LiquidationEntry struct {
	Sequence    uint64
	Timestamp   time.Time
	Kind        string
	Tick        int32
	TickVersion uint64
	Positions   int
	TotalExpo   sdkmath.Int
	Value       sdkmath.Int // remaining collateral, or bounded value for a position
	Price       sdkmath.Int
}

// LiquidationHistoryProjection maintains queryable liquidation history.
type LiquidationHistoryProjection struct {
	h *history[LiquidationEntry]
}

func NewLiquidationHistoryProjection(capacity int) *LiquidationHistoryProjection {
	return &LiquidationHistoryProjection{h: newHistory[LiquidationEntry](capacity)}
}

func (p *LiquidationHistoryProjection) ApplyTick(evt *event.TickLiquidated) {
	p.h.add(evt.Sequence, LiquidationEntry{
		Sequence:    evt.Sequence,
		Timestamp:   evt.Timestamp,
		Kind:        LiquidationTick,
		Tick:        evt.Tick,
		TickVersion: evt.TickVersion,
		Positions:   evt.TotalPositions,
		TotalExpo:   evt.TotalExpo,
		Value:       evt.RemainingCollateral,
		Price:       evt.Price,
	})
}

func (p *LiquidationHistoryProjection) ApplyPosition(evt *event.PositionLiquidated) {
	p.h.add(evt.Sequence, LiquidationEntry{
		Sequence:    evt.Sequence,
		Timestamp:   evt.Timestamp,
		Kind:        LiquidationPosition,
		Tick:        evt.Position.Tick,
		TickVersion: evt.Position.TickVersion,
		Positions:   1,
		TotalExpo:   sdkmath.ZeroInt(),
		Value:       evt.BoundedValue,
		Price:       evt.Price,
	})
}

// Latest returns up to limit liquidations, newest first.
func (p *LiquidationHistoryProjection) Latest(limit int) []LiquidationEntry {
	return p.h.latest(limit)
}

func (p *LiquidationHistoryProjection) Since(seq uint64, limit int) []LiquidationEntry {
	return p.h.since(seq, limit)
}

func (p *LiquidationHistoryProjection) Len() int { return p.h.len() }
