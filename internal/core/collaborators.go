package core

import (
	"context"
	"time"

	"UsdnLedger/internal/state"
	"UsdnLedger/internal/types"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// PriceInfo is an oracle answer: a positive 18-decimal price and the time it
// was observed.
type PriceInfo struct {
	Price     sdkmath.Int `json:"price"`
	Timestamp time.Time   `json:"timestamp"`
}

// Oracle supplies prices. For validation kinds the engine rejects answers
// stamped before target; initiations pass the call time as target.
type Oracle interface {
	GetPrice(ctx context.Context, kind types.ActionKind, target time.Time, data []byte) (PriceInfo, error)
}

// Custody moves the underlying asset and security deposits between users and
// the protocol.
type Custody interface {
	PullCollateral(ctx context.Context, from common.Address, amount sdkmath.Int) error
	PushCollateral(ctx context.Context, to common.Address, amount sdkmath.Int) error
	PullSecurityDeposit(ctx context.Context, from common.Address, amount sdkmath.Int) error
	PushSecurityDeposit(ctx context.Context, to common.Address, amount sdkmath.Int) error
}

// StableToken is the vault share token. Withdrawals lock shares at
// initiation and burn them at validation.
type StableToken interface {
	TotalSupply() sdkmath.Int
	Mint(ctx context.Context, to common.Address, amount sdkmath.Int) error
	Lock(ctx context.Context, from common.Address, shares sdkmath.Int) error
	BurnLocked(ctx context.Context, shares sdkmath.Int) error
}

// RewardContext describes the settlement a reward is computed for.
type RewardContext struct {
	Kind      types.ActionKind
	Price     sdkmath.Int
	Timestamp time.Time
}

// RewardsPolicy prices the liquidator bounty. The engine caps the answer at
// the vault balance.
type RewardsPolicy interface {
	RewardFor(outcomes []state.TickOutcome, rc RewardContext) sdkmath.Int
}

// Rebalancer is notified when the position it tracks is liquidated.
type Rebalancer interface {
	Position() (state.PositionID, bool)
	PositionLiquidated(ctx context.Context, id state.PositionID)
}

type noRewards struct{}

func (noRewards) RewardFor([]state.TickOutcome, RewardContext) sdkmath.Int {
	return sdkmath.ZeroInt()
}
