package core

import (
	"context"
	"time"

	"UsdnLedger/internal/event"
	fpmath "UsdnLedger/internal/math"
	"UsdnLedger/internal/state"
	"UsdnLedger/internal/types"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// openPlan is where and how large a new long would be.
type openPlan struct {
	tick         int32
	penalty      int32
	liqPrice     sdkmath.Int // effective, penalty included
	liqNoPenalty sdkmath.Int
	leverage     sdkmath.Int
	expo         sdkmath.Int
}

// planOpen picks the tick for desiredLiqPrice and sizes the position opened
// at startPrice. price is the current oracle price.
func (e *Engine) planOpen(amount, desiredLiqPrice, price, startPrice sdkmath.Int) (openPlan, error) {
	if desiredLiqPrice.IsNil() || !desiredLiqPrice.IsPositive() {
		return openPlan{}, errorsmod.Wrap(types.ErrInvalidLiquidationPrice, "must be positive")
	}

	ticks := e.book.Ticks
	spacing := ticks.Spacing()
	m := e.book.Multiplier(price)
	live := e.params.LiquidationPenalty

	tick := ticks.TickWithPenalty(ticks.PriceToTick(desiredLiqPrice, m), live)
	if tick > fpmath.MaxUsableTick(spacing) {
		return openPlan{}, errorsmod.Wrapf(types.ErrInvalidLiquidationPrice, "tick %d above usable range", tick)
	}
	penalty := ticks.PenaltyOf(tick, live)
	noPenaltyTick := ticks.TickWithoutPenalty(tick, penalty)
	if noPenaltyTick < fpmath.MinUsableTick(spacing) {
		return openPlan{}, errorsmod.Wrapf(types.ErrInvalidLiquidationPrice, "tick %d below usable range", noPenaltyTick)
	}

	plan := openPlan{
		tick:         tick,
		penalty:      penalty,
		liqPrice:     ticks.EffectivePrice(tick, m),
		liqNoPenalty: ticks.EffectivePrice(noPenaltyTick, m),
	}
	if plan.liqNoPenalty.GTE(startPrice) {
		return openPlan{}, errorsmod.Wrapf(types.ErrLeverageTooHigh,
			"liquidation price %s at or above start price %s", plan.liqNoPenalty, startPrice)
	}

	plan.leverage = fpmath.Leverage(startPrice, plan.liqNoPenalty)
	if plan.leverage.LT(e.params.MinLeverage) {
		return openPlan{}, errorsmod.Wrapf(types.ErrLeverageTooLow, "leverage %s below %s", plan.leverage, e.params.MinLeverage)
	}
	if plan.leverage.GT(e.params.MaxLeverage) {
		return openPlan{}, errorsmod.Wrapf(types.ErrLeverageTooHigh, "leverage %s above %s", plan.leverage, e.params.MaxLeverage)
	}

	limit := fpmath.MulDivDown(price, fpmath.BPS.SubRaw(e.params.SafetyMarginBps), fpmath.BPS)
	if plan.liqPrice.GTE(limit) {
		return openPlan{}, errorsmod.Wrapf(types.ErrLiquidationPriceSafetyMargin,
			"liquidation price %s not below %s", plan.liqPrice, limit)
	}

	plan.expo = fpmath.PositionTotalExpo(amount, startPrice, plan.liqNoPenalty)
	return plan, nil
}

// withPositionFee marks price up by the position fee.
func (e *Engine) withPositionFee(price sdkmath.Int) sdkmath.Int {
	return price.Add(fpmath.ApplyBps(price, e.params.PositionFeeBps))
}

// --- open ---

func (e *Engine) InitiateOpenPosition(ctx context.Context, call Call, amount, desiredLiqPrice sdkmath.Int, to, validator common.Address) (res Result, err error) {
	if err = e.enter(call); err != nil {
		return newResult(), err
	}
	start := time.Now()
	res = newResult()
	defer e.exit(types.ActionInitiateOpenPosition, start, &res, &err)

	if err = e.requireInitialized(); err != nil {
		return res, err
	}
	if amount.IsNil() || !amount.IsPositive() {
		return res, types.ErrZeroAmount
	}
	if amount.LT(e.params.MinLongPosition) {
		return res, errorsmod.Wrapf(types.ErrLongPositionTooSmall, "amount %s below minimum %s", amount, e.params.MinLongPosition)
	}
	if err = requireAddresses(to, validator); err != nil {
		return res, err
	}
	if desiredLiqPrice.IsNil() || !desiredLiqPrice.IsPositive() {
		return res, errorsmod.Wrap(types.ErrInvalidLiquidationPrice, "must be positive")
	}

	price, err := e.getPrice(ctx, types.ActionInitiateOpenPosition, call.Now, call.OracleData)
	if err != nil {
		return res, err
	}
	if settled := e.settle(ctx, call, types.ActionInitiateOpenPosition, price, e.params.LiquidationIterations, &res); settled.Pending {
		res.Status = StatusPendingLiquidation
		return res, nil
	}
	if err = e.resolveExisting(ctx, call, validator, &res); err != nil {
		return res, err
	}

	startPrice := e.withPositionFee(price.Price)
	plan, err := e.planOpen(amount, desiredLiqPrice, price.Price, startPrice)
	if err != nil {
		return res, err
	}
	bal := e.book.Balances
	if err = state.CheckImbalance(state.ImbalanceOpen, e.params.Imbalance, state.InputsFrom(bal, amount, plan.expo)); err != nil {
		return res, err
	}

	deposit := e.params.SecurityDeposit
	if err = e.pullWithDeposit(ctx, call.Sender, deposit, amount); err != nil {
		return res, err
	}

	id, _ := e.book.AddPosition(plan.tick, plan.penalty, &state.Position{
		Timestamp: call.Now,
		Owner:     to,
		Amount:    amount,
		TotalExpo: plan.expo,
	})
	bal.BalanceLong = bal.BalanceLong.Add(amount)

	action := &state.OpenAction{
		ActionHeader: state.ActionHeader{Validator: validator, To: to, Timestamp: call.Now, SecurityDeposit: deposit},
		Position:     id,
	}
	if _, err = e.queue.Push(action); err != nil {
		panic("FATAL: queue slot taken after resolveExisting: " + err.Error())
	}

	e.emit(&event.InitiatedOpenPosition{
		Owner:            to,
		Validator:        validator,
		Position:         positionRef(id),
		Amount:           amount,
		TotalExpo:        plan.expo,
		StartPrice:       startPrice,
		LiquidationPrice: plan.liqPrice,
	})
	res.PositionID = id

	e.validateActionables(ctx, call, e.params.MaxActionablesPerCall, &res)
	return res, nil
}

func (e *Engine) ValidateOpenPosition(ctx context.Context, call Call, validator common.Address) (res Result, err error) {
	if err = e.enter(call); err != nil {
		return newResult(), err
	}
	start := time.Now()
	res = newResult()
	defer e.exit(types.ActionValidateOpenPosition, start, &res, &err)

	return e.validateOwn(ctx, call, types.ActionValidateOpenPosition, validator, state.PendingOpen)
}

// executeOpen re-prices a pending long at the validation price. A long whose
// leverage grew past the maximum moves to the max leverage tick.
func (e *Engine) executeOpen(a *state.OpenAction, price PriceInfo) (state.PositionID, error) {
	id := a.Position
	ticks := e.book.Ticks
	pos := e.book.Positions.Get(id)
	t, ok := ticks.Get(id.Tick)
	if pos == nil || !ok {
		return id, errorsmod.Wrapf(types.ErrPositionNotFound, "pending open %s", id)
	}

	startPrice := e.withPositionFee(price.Price)
	m := e.book.Multiplier(price.Price)
	liqNoPenalty := ticks.EffectivePrice(ticks.TickWithoutPenalty(id.Tick, t.LiquidationPenalty), m)

	if e.leverageFits(startPrice, liqNoPenalty) {
		expo := fpmath.PositionTotalExpo(pos.Amount, startPrice, liqNoPenalty)
		if err := e.book.UpdatePositionExpo(id, expo); err != nil {
			return id, errorsmod.Wrap(types.ErrPositionNotFound, err.Error())
		}
		pos.Validated = true
		e.emit(&event.ValidatedOpenPosition{
			Owner:      pos.Owner,
			Validator:  a.Validator,
			Position:   positionRef(id),
			TotalExpo:  expo,
			StartPrice: startPrice,
		})
		return id, nil
	}

	moved := pos.Clone()
	if err := e.book.ReducePosition(id, pos.Amount, pos.TotalExpo); err != nil {
		return id, errorsmod.Wrap(types.ErrPositionNotFound, err.Error())
	}
	// the collateral leaves with the position so the multiplier only
	// describes the longs that stay in the book
	bal := e.book.Balances
	bal.BalanceLong = bal.BalanceLong.Sub(moved.Amount)

	live := e.params.LiquidationPenalty
	spacing := ticks.Spacing()
	m = e.book.Multiplier(price.Price)
	tick := ticks.TickWithPenalty(ticks.PriceToTick(fpmath.LiquidationPrice(startPrice, e.params.MaxLeverage), m), live)
	floor := fpmath.MinUsableTick(spacing) + live*spacing

	var newID state.PositionID
	moved.Validated = true
	for {
		// a populated tick may carry a larger penalty; step down until the
		// leverage fits
		penalty := ticks.PenaltyOf(tick, live)
		liqNoPenalty = ticks.EffectivePrice(ticks.TickWithoutPenalty(tick, penalty), m)
		for tick > floor && !e.leverageFits(startPrice, liqNoPenalty) {
			tick -= spacing
			penalty = ticks.PenaltyOf(tick, live)
			liqNoPenalty = ticks.EffectivePrice(ticks.TickWithoutPenalty(tick, penalty), m)
		}

		moved.TotalExpo = fpmath.PositionTotalExpo(moved.Amount, startPrice, liqNoPenalty)
		newID, penalty = e.book.AddPosition(tick, penalty, moved)
		bal.BalanceLong = bal.BalanceLong.Add(moved.Amount)

		// inserting the expo moves the multiplier; check the leverage again
		m = e.book.Multiplier(price.Price)
		if tick <= floor || e.leverageFits(startPrice, ticks.EffectivePrice(ticks.TickWithoutPenalty(tick, penalty), m)) {
			break
		}
		if err := e.book.ReducePosition(newID, moved.Amount, moved.TotalExpo); err != nil {
			panic("FATAL: remove just inserted position: " + err.Error())
		}
		bal.BalanceLong = bal.BalanceLong.Sub(moved.Amount)
		m = e.book.Multiplier(price.Price)
		tick -= spacing
	}

	e.emit(&event.PositionTickChanged{
		Owner:     moved.Owner,
		Old:       positionRef(id),
		New:       positionRef(newID),
		TotalExpo: moved.TotalExpo,
	})
	e.emit(&event.ValidatedOpenPosition{
		Owner:      moved.Owner,
		Validator:  a.Validator,
		Position:   positionRef(newID),
		TotalExpo:  moved.TotalExpo,
		StartPrice: startPrice,
	})
	e.logger.Debug().Str("old", id.String()).Str("new", newID.String()).Msg("position moved to max leverage tick")
	return newID, nil
}

// leverageFits reports whether a long started at startPrice and liquidated
// at liqNoPenalty stays within the maximum leverage.
func (e *Engine) leverageFits(startPrice, liqNoPenalty sdkmath.Int) bool {
	return liqNoPenalty.LT(startPrice) && fpmath.Leverage(startPrice, liqNoPenalty).LTE(e.params.MaxLeverage)
}

// --- close ---

func (e *Engine) InitiateClosePosition(ctx context.Context, call Call, id state.PositionID, amount sdkmath.Int, to, validator common.Address) (res Result, err error) {
	if err = e.enter(call); err != nil {
		return newResult(), err
	}
	start := time.Now()
	res = newResult()
	res.PositionID = id
	defer e.exit(types.ActionInitiateClosePosition, start, &res, &err)

	if err = e.requireInitialized(); err != nil {
		return res, err
	}
	if amount.IsNil() || !amount.IsPositive() {
		return res, types.ErrZeroAmount
	}
	if err = requireAddresses(to, validator); err != nil {
		return res, err
	}
	pos, err := e.livePosition(id)
	if err != nil {
		return res, err
	}
	if pos.Owner != call.Sender {
		return res, errorsmod.Wrapf(types.ErrUnauthorized, "position %s is owned by %s", id, pos.Owner.Hex())
	}
	if !pos.Validated {
		return res, errorsmod.Wrapf(types.ErrPositionNotValidated, "position %s", id)
	}
	if amount.GT(pos.Amount) {
		return res, errorsmod.Wrapf(types.ErrAmountExceedsPosition, "amount %s exceeds %s", amount, pos.Amount)
	}
	if remaining := pos.Amount.Sub(amount); remaining.IsPositive() && remaining.LT(e.params.MinLongPosition) {
		return res, errorsmod.Wrapf(types.ErrRemainingPositionTooSmall, "remaining %s below minimum %s", remaining, e.params.MinLongPosition)
	}

	price, err := e.getPrice(ctx, types.ActionInitiateClosePosition, call.Now, call.OracleData)
	if err != nil {
		return res, err
	}
	settled := e.settle(ctx, call, types.ActionInitiateClosePosition, price, e.params.LiquidationIterations, &res)
	if e.book.Ticks.Version(id.Tick) != id.TickVersion {
		res.Status = StatusPositionLiquidated
		return res, nil
	}
	if settled.Pending {
		res.Status = StatusPendingLiquidation
		return res, nil
	}
	if err = e.resolveExisting(ctx, call, validator, &res); err != nil {
		return res, err
	}
	// the forced validation may have settled ticks
	if e.book.Ticks.Version(id.Tick) != id.TickVersion {
		res.Status = StatusPositionLiquidated
		return res, nil
	}

	ticks := e.book.Ticks
	t, _ := ticks.Get(id.Tick)
	m := e.book.Multiplier(price.Price)
	liqNoPenalty := ticks.EffectivePrice(ticks.TickWithoutPenalty(id.Tick, t.LiquidationPenalty), m)

	closeExpo := pos.TotalExpo
	if !amount.Equal(pos.Amount) {
		closeExpo = fpmath.MulDivDown(pos.TotalExpo, amount, pos.Amount)
	}
	bal := e.book.Balances
	bounded := fpmath.ClampInt(fpmath.PositionValue(price.Price, liqNoPenalty, closeExpo), sdkmath.ZeroInt(), bal.BalanceLong)

	if err = state.CheckImbalance(state.ImbalanceClose, e.params.Imbalance, state.InputsFrom(bal, bounded, closeExpo)); err != nil {
		return res, err
	}

	deposit := e.params.SecurityDeposit
	if err = e.pullDeposit(ctx, call.Sender, deposit); err != nil {
		return res, err
	}

	owner := pos.Owner
	if err = e.book.ReducePosition(id, amount, closeExpo); err != nil {
		panic("FATAL: reduce checked position: " + err.Error())
	}
	bal.BalanceLong = bal.BalanceLong.Sub(bounded)

	action := &state.CloseAction{
		ActionHeader:       state.ActionHeader{Validator: validator, To: to, Timestamp: call.Now, SecurityDeposit: deposit},
		Position:           id,
		Amount:             amount,
		TotalExpo:          closeExpo,
		BoundedValue:       bounded,
		LiquidationPenalty: t.LiquidationPenalty,
		Multiplier:         m,
	}
	if _, err = e.queue.Push(action); err != nil {
		panic("FATAL: queue slot taken after resolveExisting: " + err.Error())
	}

	e.emit(&event.InitiatedClosePosition{
		Owner:        owner,
		Validator:    validator,
		To:           to,
		Position:     positionRef(id),
		Amount:       amount,
		TotalExpo:    closeExpo,
		BoundedValue: bounded,
	})

	e.validateActionables(ctx, call, e.params.MaxActionablesPerCall, &res)
	return res, nil
}

func (e *Engine) ValidateClosePosition(ctx context.Context, call Call, validator common.Address) (res Result, err error) {
	if err = e.enter(call); err != nil {
		return newResult(), err
	}
	start := time.Now()
	res = newResult()
	defer e.exit(types.ActionValidateClosePosition, start, &res, &err)

	return e.validateOwn(ctx, call, types.ActionValidateClosePosition, validator, state.PendingClose)
}

// executeClose settles a pending close against the multiplier recorded at
// initiation. A price at or below the liquidation price hands the bounded
// value to the vault instead of the user.
func (e *Engine) executeClose(ctx context.Context, a *state.CloseAction, price PriceInfo) (Status, sdkmath.Int, error) {
	ticks := e.book.Ticks
	bal := e.book.Balances

	liqPrice := a.Multiplier.Adjust(fpmath.PriceAtTick(a.Position.Tick))
	liqNoPenalty := a.Multiplier.Adjust(fpmath.PriceAtTick(ticks.TickWithoutPenalty(a.Position.Tick, a.LiquidationPenalty)))

	if price.Price.LTE(liqPrice) {
		bal.BalanceVault = bal.BalanceVault.Add(a.BoundedValue)
		e.emit(&event.PositionLiquidated{
			Validator:        a.Validator,
			Position:         positionRef(a.Position),
			Price:            price.Price,
			LiquidationPrice: liqPrice,
			BoundedValue:     a.BoundedValue,
		})
		e.logger.Info().Str("position", a.Position.String()).Msg("closing position liquidated")
		return StatusPositionLiquidated, sdkmath.ZeroInt(), nil
	}

	exitPrice := price.Price.Sub(fpmath.ApplyBps(price.Price, e.params.PositionFeeBps))
	value := fpmath.NonNegative(fpmath.PositionValue(exitPrice, liqNoPenalty, a.TotalExpo))

	newLong := bal.BalanceLong
	switch {
	case value.LT(a.BoundedValue):
		newLong = newLong.Add(a.BoundedValue.Sub(value))
	case value.GT(a.BoundedValue):
		profit := fpmath.MinInt(value.Sub(a.BoundedValue), newLong)
		newLong = newLong.Sub(profit)
		value = a.BoundedValue.Add(profit)
	}

	if value.IsPositive() {
		if err := e.custody.PushCollateral(ctx, a.To, value); err != nil {
			return StatusApplied, sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrCustody, "push close value: %v", err)
		}
	}
	bal.BalanceLong = newLong

	e.emit(&event.ValidatedClosePosition{
		Validator: a.Validator,
		To:        a.To,
		Position:  positionRef(a.Position),
		Amount:    a.Amount,
		Value:     value,
		Profit:    value.Sub(a.Amount),
	})
	return StatusApplied, value, nil
}

// livePosition resolves id, distinguishing a liquidated tick from a closed position.
func (e *Engine) livePosition(id state.PositionID) (*state.Position, error) {
	if e.book.Ticks.Version(id.Tick) != id.TickVersion {
		return nil, errorsmod.Wrapf(types.ErrOutdatedTick, "tick %d is at version %d", id.Tick, e.book.Ticks.Version(id.Tick))
	}
	pos := e.book.Positions.Get(id)
	if pos == nil {
		return nil, errorsmod.Wrapf(types.ErrPositionNotFound, "position %s", id)
	}
	return pos, nil
}
