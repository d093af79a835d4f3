package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// StalePendingActionRemoved is emitted when an open action is dropped because
// its position was liquidated before validation.
type StalePendingActionRemoved struct {
	Meta
	Validator       common.Address `json:"validator"`
	Position        PositionRef    `json:"position"`
	SecurityDeposit sdkmath.Int    `json:"security_deposit"`
}

func (e *StalePendingActionRemoved) EventType() EventType {
	return EventTypeStalePendingActionRemoved
}

// ActionableValidated is emitted when a third party validates someone else's
// action and collects its security deposit.
type ActionableValidated struct {
	Meta
	Validator       common.Address `json:"validator"`
	Caller          common.Address `json:"caller"`
	Kind            string         `json:"kind"`
	SecurityDeposit sdkmath.Int    `json:"security_deposit"`
}

func (e *ActionableValidated) EventType() EventType {
	return EventTypeActionableValidated
}
