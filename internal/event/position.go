package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// PositionRef names a position by tick, tick version and index.
type PositionRef struct {
	Tick        int32  `json:"tick"`
	TickVersion uint64 `json:"tick_version"`
	Index       uint64 `json:"index"`
}

type InitiatedOpenPosition struct {
	Meta
	Owner            common.Address `json:"owner"`
	Validator        common.Address `json:"validator"`
	Position         PositionRef    `json:"position"`
	Amount           sdkmath.Int    `json:"amount"`
	TotalExpo        sdkmath.Int    `json:"total_expo"`
	StartPrice       sdkmath.Int    `json:"start_price"`
	LiquidationPrice sdkmath.Int    `json:"liquidation_price"` // effective price of the tick
}

func (e *InitiatedOpenPosition) EventType() EventType {
	return EventTypeInitiatedOpenPosition
}

type ValidatedOpenPosition struct {
	Meta
	Owner      common.Address `json:"owner"`
	Validator  common.Address `json:"validator"`
	Position   PositionRef    `json:"position"`
	TotalExpo  sdkmath.Int    `json:"total_expo"`
	StartPrice sdkmath.Int    `json:"start_price"`
}

func (e *ValidatedOpenPosition) EventType() EventType {
	return EventTypeValidatedOpenPosition
}

// PositionTickChanged is emitted when validation moves a position whose
// leverage grew past the maximum to a safer tick.
type PositionTickChanged struct {
	Meta
	Owner     common.Address `json:"owner"`
	Old       PositionRef    `json:"old"`
	New       PositionRef    `json:"new"`
	TotalExpo sdkmath.Int    `json:"total_expo"`
}

func (e *PositionTickChanged) EventType() EventType {
	return EventTypePositionTickChanged
}

type InitiatedClosePosition struct {
	Meta
	Owner        common.Address `json:"owner"`
	Validator    common.Address `json:"validator"`
	To           common.Address `json:"to"`
	Position     PositionRef    `json:"position"`
	Amount       sdkmath.Int    `json:"amount"`
	TotalExpo    sdkmath.Int    `json:"total_expo"`
	BoundedValue sdkmath.Int    `json:"bounded_value"`
}

func (e *InitiatedClosePosition) EventType() EventType {
	return EventTypeInitiatedClosePosition
}

type ValidatedClosePosition struct {
	Meta
	Validator common.Address `json:"validator"`
	To        common.Address `json:"to"`
	Position  PositionRef    `json:"position"`
	Amount    sdkmath.Int    `json:"amount"`
	Value     sdkmath.Int    `json:"value"`
	Profit    sdkmath.Int    `json:"profit"` // signed, relative to the bounded value
}

func (e *ValidatedClosePosition) EventType() EventType {
	return EventTypeValidatedClosePosition
}
