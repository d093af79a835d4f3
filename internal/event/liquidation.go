package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// TickLiquidated is emitted once per tick removed by settlement.
type TickLiquidated struct {
	Meta
	Tick                int32       `json:"tick"`
	TickVersion         uint64      `json:"tick_version"`
	TotalPositions      int         `json:"total_positions"`
	TotalExpo           sdkmath.Int `json:"total_expo"`
	RemainingCollateral sdkmath.Int `json:"remaining_collateral"`
	TickPrice           sdkmath.Int `json:"tick_price"`
	Price               sdkmath.Int `json:"price"`
}

func (e *TickLiquidated) EventType() EventType {
	return EventTypeTickLiquidated
}

// PositionLiquidated is emitted when a pending close settles below its
// liquidation price.
type PositionLiquidated struct {
	Meta
	Validator        common.Address `json:"validator"`
	Position         PositionRef    `json:"position"`
	Price            sdkmath.Int    `json:"price"`
	LiquidationPrice sdkmath.Int    `json:"liquidation_price"`
	BoundedValue     sdkmath.Int    `json:"bounded_value"`
}

func (e *PositionLiquidated) EventType() EventType {
	return EventTypePositionLiquidated
}

type LiquidatorRewarded struct {
	Meta
	Liquidator common.Address `json:"liquidator"`
	Rewards    sdkmath.Int    `json:"rewards"`
}

func (e *LiquidatorRewarded) EventType() EventType {
	return EventTypeLiquidatorRewarded
}

type BadDebtCovered struct {
	Meta
	Amount     sdkmath.Int `json:"amount"`
	Cumulative sdkmath.Int `json:"cumulative"`
}

func (e *BadDebtCovered) EventType() EventType {
	return EventTypeBadDebtCovered
}
