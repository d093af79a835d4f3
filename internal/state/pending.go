package state

import (
	"encoding/json"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// PendingKind tags a pending two-step action.
type PendingKind int32

const (
	PendingNone PendingKind = iota
	PendingDeposit
	PendingWithdrawal
	PendingOpen
	PendingClose
)

func (k PendingKind) String() string {
	switch k {
	case PendingDeposit:
		return "Deposit"
	case PendingWithdrawal:
		return "Withdrawal"
	case PendingOpen:
		return "Open"
	case PendingClose:
		return "Close"
	default:
		return "None"
	}
}

// ActionHeader is shared by every pending action.
type ActionHeader struct {
	Validator       common.Address `json:"validator"`
	To              common.Address `json:"to"`
	Timestamp       time.Time      `json:"timestamp"` // initiation time, the oracle target base
	SecurityDeposit sdkmath.Int    `json:"security_deposit"`
}

// VaultSnapshot is the vault-side state observed when a deposit or withdrawal
// was initiated. Validation prices the action against it.
type VaultSnapshot struct {
	Price        sdkmath.Int `json:"price"`
	TotalExpo    sdkmath.Int `json:"total_expo"`
	BalanceVault sdkmath.Int `json:"balance_vault"`
	BalanceLong  sdkmath.Int `json:"balance_long"`
	TotalSupply  sdkmath.Int `json:"total_supply"`
}

// PendingAction is one of DepositAction, WithdrawalAction, OpenAction or CloseAction.
type PendingAction interface {
	Kind() PendingKind
	Header() *ActionHeader
}

type DepositAction struct {
	ActionHeader
	Amount   sdkmath.Int   `json:"amount"`
	Snapshot VaultSnapshot `json:"snapshot"`
}

func (a *DepositAction) Kind() PendingKind     { return PendingDeposit }
func (a *DepositAction) Header() *ActionHeader { return &a.ActionHeader }

type WithdrawalAction struct {
	ActionHeader
	Shares       sdkmath.Int   `json:"shares"`
	Snapshot     VaultSnapshot `json:"snapshot"`
	PendingDelta sdkmath.Int   `json:"pending_delta"` // estimate subtracted from PendingVaultDelta
}

func (a *WithdrawalAction) Kind() PendingKind     { return PendingWithdrawal }
func (a *WithdrawalAction) Header() *ActionHeader { return &a.ActionHeader }

type OpenAction struct {
	ActionHeader
	Position PositionID `json:"position"`
}

func (a *OpenAction) Kind() PendingKind     { return PendingOpen }
func (a *OpenAction) Header() *ActionHeader { return &a.ActionHeader }

// CloseAction carries everything needed to settle a close after the position
// left the tick: the removed amount and expo, the value already taken from the
// long side and the multiplier at initiation.
type CloseAction struct {
	ActionHeader
	Position           PositionID  `json:"position"`
	Amount             sdkmath.Int `json:"amount"`
	TotalExpo          sdkmath.Int `json:"total_expo"`
	BoundedValue       sdkmath.Int `json:"bounded_value"`
	LiquidationPenalty int32       `json:"liquidation_penalty"`
	Multiplier         Multiplier  `json:"multiplier"`
}

func (a *CloseAction) Kind() PendingKind     { return PendingClose }
func (a *CloseAction) Header() *ActionHeader { return &a.ActionHeader }

// IsStale reports whether an open action's position was liquidated since it
// was queued. Other kinds never go stale.
func IsStale(action PendingAction, ticks *TickIndex) bool {
	open, ok := action.(*OpenAction)
	if !ok {
		return false
	}
	return ticks.Version(open.Position.Tick) != open.Position.TickVersion
}

// ClonePending returns a deep copy of action.
func ClonePending(action PendingAction) PendingAction {
	switch a := action.(type) {
	case *DepositAction:
		c := *a
		return &c
	case *WithdrawalAction:
		c := *a
		return &c
	case *OpenAction:
		c := *a
		return &c
	case *CloseAction:
		c := *a
		return &c
	}
	return nil
}

// PendingRecord is the tagged JSON form of a pending action.
type PendingRecord struct {
	Kind   PendingKind     `json:"kind"`
	Action json.RawMessage `json:"action"`
}

func EncodePending(action PendingAction) (PendingRecord, error) {
	raw, err := json.Marshal(action)
	if err != nil {
		return PendingRecord{}, fmt.Errorf("encode %s action: %w", action.Kind(), err)
	}
	return PendingRecord{Kind: action.Kind(), Action: raw}, nil
}

func DecodePending(rec PendingRecord) (PendingAction, error) {
	var action PendingAction
	switch rec.Kind {
	case PendingDeposit:
		action = &DepositAction{}
	case PendingWithdrawal:
		action = &WithdrawalAction{}
	case PendingOpen:
		action = &OpenAction{}
	case PendingClose:
		action = &CloseAction{}
	default:
		return nil, fmt.Errorf("unknown pending kind %d", rec.Kind)
	}
	if err := json.Unmarshal(rec.Action, action); err != nil {
		return nil, fmt.Errorf("decode %s action: %w", rec.Kind, err)
	}
	return action, nil
}

// canonicalPending is the hashed form of a queued action.
func canonicalPending(rawIndex uint64, action PendingAction) []byte {
	h := action.Header()
	buf := make([]byte, 0, 128)
	buf = appendUint64LE(buf, rawIndex)
	buf = appendInt64LE(buf, int64(action.Kind()))
	buf = append(buf, h.Validator.Bytes()...)
	buf = append(buf, h.To.Bytes()...)
	buf = appendInt64LE(buf, h.Timestamp.UnixNano())
	buf = appendInt(buf, h.SecurityDeposit)

	switch a := action.(type) {
	case *DepositAction:
		buf = appendInt(buf, a.Amount)
		buf = appendSnapshot(buf, a.Snapshot)
	case *WithdrawalAction:
		buf = appendInt(buf, a.Shares)
		buf = appendSnapshot(buf, a.Snapshot)
		buf = appendInt(buf, a.PendingDelta)
	case *OpenAction:
		buf = appendPositionID(buf, a.Position)
	case *CloseAction:
		buf = appendPositionID(buf, a.Position)
		buf = appendInt(buf, a.Amount)
		buf = appendInt(buf, a.TotalExpo)
		buf = appendInt(buf, a.BoundedValue)
		buf = appendInt64LE(buf, int64(a.LiquidationPenalty))
		buf = appendInt(buf, a.Multiplier.AssetPrice)
		buf = appendInt(buf, a.Multiplier.LongTradingExpo)
		buf = appendInt(buf, a.Multiplier.Accumulator)
	}
	return buf
}

func appendSnapshot(buf []byte, s VaultSnapshot) []byte {
	buf = appendInt(buf, s.Price)
	buf = appendInt(buf, s.TotalExpo)
	buf = appendInt(buf, s.BalanceVault)
	buf = appendInt(buf, s.BalanceLong)
	return appendInt(buf, s.TotalSupply)
}

func appendPositionID(buf []byte, id PositionID) []byte {
	buf = appendInt64LE(buf, int64(id.Tick))
	buf = appendUint64LE(buf, id.TickVersion)
	return appendUint64LE(buf, id.Index)
}
