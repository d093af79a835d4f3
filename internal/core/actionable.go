package core

import (
	"context"
	"time"

	"UsdnLedger/internal/state"
	"UsdnLedger/internal/types"

	errorsmod "cosmossdk.io/errors"
)

// Liquidate settles crossed ticks at the current price, up to iterations of
// them, and pays the caller the liquidation reward.
func (e *Engine) Liquidate(ctx context.Context, call Call, iterations int) (res Result, err error) {
	if err = e.enter(call); err != nil {
		return newResult(), err
	}
	start := time.Now()
	res = newResult()
	defer e.exit(types.ActionLiquidation, start, &res, &err)

	if err = e.requireInitialized(); err != nil {
		return res, err
	}
	if iterations < 1 || iterations > state.MaxLiquidationIterations {
		return res, errorsmod.Wrapf(types.ErrInvalidIterations, "got %d, want 1..%d", iterations, state.MaxLiquidationIterations)
	}

	price, err := e.getPrice(ctx, types.ActionLiquidation, call.Now, call.OracleData)
	if err != nil {
		return res, err
	}
	if settled := e.settle(ctx, call, types.ActionLiquidation, price, iterations, &res); settled.Pending {
		res.Status = StatusPendingLiquidation
	}

	e.validateActionables(ctx, call, e.params.MaxActionablesPerCall, &res)
	return res, nil
}

// ValidateActionablePendingActions validates up to limit pending actions
// whose exclusive window has passed. Each one is settled at its own
// validation price first. Every security deposit collected goes to the caller.
func (e *Engine) ValidateActionablePendingActions(ctx context.Context, call Call, limit int) (res Result, err error) {
	if err = e.enter(call); err != nil {
		return newResult(), err
	}
	start := time.Now()
	res = newResult()
	defer e.exit(types.ActionValidatePending, start, &res, &err)

	if err = e.requireInitialized(); err != nil {
		return res, err
	}
	if limit <= 0 {
		return res, nil
	}
	e.validateActionables(ctx, call, limit, &res)
	return res, nil
}
