package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Initialized is emitted once, when the vault is seeded and the first long opened.
type Initialized struct {
	Meta
	Sender   common.Address `json:"sender"`
	Deposit  sdkmath.Int    `json:"deposit"`
	Long     sdkmath.Int    `json:"long"`
	Price    sdkmath.Int    `json:"price"`
	Minted   sdkmath.Int    `json:"minted"`
	Position PositionRef    `json:"position"`
}

func (e *Initialized) EventType() EventType {
	return EventTypeInitialized
}

type InitiatedDeposit struct {
	Meta
	Validator       common.Address `json:"validator"`
	To              common.Address `json:"to"`
	Amount          sdkmath.Int    `json:"amount"`
	SecurityDeposit sdkmath.Int    `json:"security_deposit"`
}

func (e *InitiatedDeposit) EventType() EventType {
	return EventTypeInitiatedDeposit
}

type ValidatedDeposit struct {
	Meta
	Validator common.Address `json:"validator"`
	To        common.Address `json:"to"`
	Amount    sdkmath.Int    `json:"amount"`
	Minted    sdkmath.Int    `json:"minted"`
	Price     sdkmath.Int    `json:"price"`
}

func (e *ValidatedDeposit) EventType() EventType {
	return EventTypeValidatedDeposit
}

type InitiatedWithdrawal struct {
	Meta
	Validator       common.Address `json:"validator"`
	To              common.Address `json:"to"`
	Shares          sdkmath.Int    `json:"shares"`
	Estimate        sdkmath.Int    `json:"estimate"`
	SecurityDeposit sdkmath.Int    `json:"security_deposit"`
}

func (e *InitiatedWithdrawal) EventType() EventType {
	return EventTypeInitiatedWithdrawal
}

type ValidatedWithdrawal struct {
	Meta
	Validator common.Address `json:"validator"`
	To        common.Address `json:"to"`
	Shares    sdkmath.Int    `json:"shares"`
	Asset     sdkmath.Int    `json:"asset"`
	Price     sdkmath.Int    `json:"price"`
}

func (e *ValidatedWithdrawal) EventType() EventType {
	return EventTypeValidatedWithdrawal
}
