package core

import (
	"context"
	"fmt"
	"time"

	"UsdnLedger/internal/event"
	fpmath "UsdnLedger/internal/math"
	"UsdnLedger/internal/observability"
	"UsdnLedger/internal/state"
	"UsdnLedger/internal/types"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// invariantCheckInterval controls how often the full tick invariant is verified.
const invariantCheckInterval = 1000

// Call carries the caller identity, the host-supplied time and opaque oracle
// data. The engine never reads the wall clock for state.
type Call struct {
	Sender     common.Address
	Now        time.Time
	OracleData []byte
}

// Status is the non-error outcome of an entry point.
type Status int

const (
	StatusApplied Status = iota
	// StatusPendingLiquidation: crossed ticks remain after the iteration cap.
	// The intent was not applied; resubmit it.
	StatusPendingLiquidation
	// StatusPositionLiquidated: the position the call was about is gone.
	StatusPositionLiquidated
)

func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusPendingLiquidation:
		return "pending_liquidation"
	case StatusPositionLiquidated:
		return "position_liquidated"
	default:
		return "unknown"
	}
}

// Result summarizes one entry point call.
type Result struct {
	Status               Status
	PositionID           state.PositionID
	Liquidated           []state.TickOutcome
	Rewards              sdkmath.Int
	ActionablesValidated int
	// Amount is the minted shares, the withdrawn asset or the close value,
	// depending on the call.
	Amount sdkmath.Int
}

func newResult() Result {
	return Result{Rewards: sdkmath.ZeroInt(), Amount: sdkmath.ZeroInt()}
}

// Dependencies are the engine's collaborators. Oracle, Custody and Stable are
// required.
type Dependencies struct {
	Oracle     Oracle
	Custody    Custody
	Stable     StableToken
	Rewards    RewardsPolicy
	Rebalancer Rebalancer
	Sink       event.Sink
	Logger     *zerolog.Logger
	Metrics    *observability.Metrics
}

// Engine is the single-threaded protocol core. Calls must be serialized by
// the host; a nested call fails with ErrReentrantCall.
type Engine struct {
	params       state.Params
	book         *state.Book
	liquidations *state.LiquidationEngine
	queue        *state.PendingQueue
	initialized  bool

	oracle     Oracle
	custody    Custody
	stable     StableToken
	rewards    RewardsPolicy
	rebalancer Rebalancer
	sink       event.Sink
	logger     zerolog.Logger
	metrics    *observability.Metrics

	sequence  uint64
	hasher    *StateHasher
	prevTip   [32]byte
	stateHash [32]byte

	// per-call
	inCall     bool
	dirty      bool
	eventIndex int
	callTime   time.Time
}

func NewEngine(params state.Params, deps Dependencies) (*Engine, error) {
	if err := state.ValidateParams(params); err != nil {
		return nil, errorsmod.Wrap(types.ErrInvalidParams, err.Error())
	}
	if deps.Oracle == nil || deps.Custody == nil || deps.Stable == nil {
		return nil, errorsmod.Wrap(types.ErrInvalidParams, "oracle, custody and stable token are required")
	}

	e := &Engine{
		params:     params,
		queue:      state.NewPendingQueue(),
		oracle:     deps.Oracle,
		custody:    deps.Custody,
		stable:     deps.Stable,
		rewards:    deps.Rewards,
		rebalancer: deps.Rebalancer,
		sink:       deps.Sink,
		logger:     zerolog.Nop(),
		metrics:    deps.Metrics,
		hasher:     NewStateHasher(),
		prevTip:    GenesisHash(),
	}
	e.book = state.NewBook(params.TickSpacing)
	e.liquidations = state.NewLiquidationEngine(e.book)
	if e.rewards == nil {
		e.rewards = noRewards{}
	}
	if e.sink == nil {
		e.sink = event.NopSink{}
	}
	if deps.Logger != nil {
		e.logger = *deps.Logger
	}
	return e, nil
}

// --- call lifecycle ---

func (e *Engine) enter(call Call) error {
	if e.inCall {
		return types.ErrReentrantCall
	}
	e.inCall = true
	e.dirty = false
	e.eventIndex = 0
	e.callTime = call.Now
	return nil
}

// exit closes a call: advances the sequence and hash if anything changed,
// checks invariants and records metrics.
func (e *Engine) exit(kind types.ActionKind, start time.Time, res *Result, err *error) {
	defer func() { e.inCall = false }()

	if e.dirty {
		e.sequence++
		e.prevTip = e.hasher.GetPrevHash()
		hashStart := time.Now()
		e.stateHash = e.hasher.ComputeHash(e.sequence, e.digest())
		if e.metrics != nil {
			e.metrics.EngineStateHashDur.Observe(time.Since(hashStart).Seconds())
		}

		if checkErr := e.postCheckInvariants(); checkErr != nil {
			panic(fmt.Sprintf("FATAL: invariant violated: %v", checkErr))
		}
	}

	if e.metrics == nil {
		return
	}
	outcome := res.Status.String()
	if *err != nil {
		outcome = "rejected"
	}
	e.metrics.EngineCalls.WithLabelValues(kind.String(), outcome).Inc()
	e.metrics.EngineCallDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	e.metrics.EngineSequence.Set(float64(e.sequence))
	e.metrics.PendingQueueLength.Set(float64(e.queue.Len()))
	e.metrics.BalanceLong.Set(tokensFloat(e.book.Balances.BalanceLong))
	e.metrics.BalanceVault.Set(tokensFloat(e.book.Balances.BalanceVault))
	e.metrics.TotalExpo.Set(tokensFloat(e.book.Balances.TotalExpo))
	e.metrics.FundingRate.Set(decimal.NewFromBigInt(e.book.Balances.LastFundingRate.BigInt(), -fpmath.FundingRateDecimals).InexactFloat64())
}

func tokensFloat(v sdkmath.Int) float64 {
	return decimal.NewFromBigInt(v.BigInt(), -fpmath.TokensDecimals).InexactFloat64()
}

// emit stamps evt with the call's sequence and a deterministic id.
func (e *Engine) emit(evt event.Event) {
	e.dirty = true
	seq := e.sequence + 1
	meta := evt.Metadata()
	meta.ID = event.NewEventID(seq, e.eventIndex)
	meta.Sequence = seq
	meta.Timestamp = e.callTime
	e.eventIndex++
	e.sink.Emit(evt)
}

// postCheckInvariants validates the balance sheet after a mutating call.
func (e *Engine) postCheckInvariants() error {
	b := e.book.Balances
	for name, v := range map[string]sdkmath.Int{
		"balance_long":  b.BalanceLong,
		"balance_vault": b.BalanceVault,
		"total_expo":    b.TotalExpo,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%s is negative: %s", name, v)
		}
	}
	if e.sequence%invariantCheckInterval == 0 {
		if err := e.book.CheckTickInvariant(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) requireInitialized() error {
	if !e.initialized {
		return types.ErrNotInitialized
	}
	return nil
}

// --- shared steps ---

// getPrice queries the oracle and enforces positivity and, for validations,
// freshness against target.
func (e *Engine) getPrice(ctx context.Context, kind types.ActionKind, target time.Time, data []byte) (PriceInfo, error) {
	info, err := e.oracle.GetPrice(ctx, kind, target, data)
	if err != nil {
		if types.KindOf(err) == types.KindExternalFailure {
			return PriceInfo{}, err
		}
		return PriceInfo{}, errorsmod.Wrapf(types.ErrOracle, "%s: %v", kind, err)
	}
	if info.Price.IsNil() || !info.Price.IsPositive() {
		return PriceInfo{}, errorsmod.Wrapf(types.ErrOracle, "non-positive price for %s", kind)
	}
	if kind.IsValidation() && info.Timestamp.Before(target) {
		return PriceInfo{}, errorsmod.Wrapf(types.ErrOraclePriceTooOld,
			"price at %s before target %s", info.Timestamp.Format(time.RFC3339), target.Format(time.RFC3339))
	}
	return info, nil
}

// validationTarget is the time a pending action must be priced at.
func (e *Engine) validationTarget(action state.PendingAction) time.Time {
	return action.Header().Timestamp.Add(e.params.ValidationDelay)
}

// settle applies funding and PnL at price, then liquidates crossed ticks and
// pays the liquidator. Liquidations stand even if the rest of the call fails.
func (e *Engine) settle(ctx context.Context, call Call, kind types.ActionKind, price PriceInfo, iterations int, res *Result) state.SettleResult {
	e.dirty = true
	bal := e.book.Balances

	funding := bal.ApplyFunding(price.Price, price.Timestamp, e.params.Funding())
	if !funding.Recent {
		return state.SettleResult{RemainingCollateral: sdkmath.ZeroInt(), BadDebt: sdkmath.ZeroInt()}
	}
	if funding.Elapsed > 0 || !funding.FundAsset.IsZero() {
		e.emit(&event.FundingApplied{
			Price:          price.Price,
			RatePerDay:     funding.RatePerDay,
			FundAsset:      funding.FundAsset,
			ElapsedSeconds: int64(funding.Elapsed / time.Second),
			BalanceLong:    funding.BalanceLong,
			BalanceVault:   funding.BalanceVault,
		})
	}

	settled := e.liquidations.Settle(price.Price, iterations)
	if settled.Pending && e.metrics != nil {
		e.metrics.LiquidationPending.Inc()
	}
	if len(settled.Ticks) == 0 {
		return settled
	}

	for _, out := range settled.Ticks {
		e.emit(&event.TickLiquidated{
			Tick:                out.Tick,
			TickVersion:         out.TickVersion,
			TotalPositions:      out.TotalPositions,
			TotalExpo:           out.TotalExpo,
			RemainingCollateral: out.RemainingCollateral,
			TickPrice:           out.TickPrice,
			Price:               price.Price,
		})
	}
	res.Liquidated = append(res.Liquidated, settled.Ticks...)

	e.logger.Info().
		Int("ticks", len(settled.Ticks)).
		Int("positions", settled.TotalPositions()).
		Str("price", price.Price.String()).
		Bool("pending", settled.Pending).
		Msg("ticks liquidated")

	if settled.BadDebt.IsPositive() {
		e.emit(&event.BadDebtCovered{Amount: settled.BadDebt, Cumulative: bal.BadDebt})
		e.logger.Warn().Str("amount", settled.BadDebt.String()).Msg("vault covered negative liquidation value")
	}

	e.payRewards(ctx, call, kind, price, settled.Ticks, res)

	if e.metrics != nil {
		e.metrics.TicksLiquidated.Add(float64(len(settled.Ticks)))
		e.metrics.PositionsLiquidated.Add(float64(settled.TotalPositions()))
		if settled.BadDebt.IsPositive() {
			e.metrics.BadDebtCovered.Add(tokensFloat(settled.BadDebt))
		}
	}

	e.notifyRebalancer(ctx)
	return settled
}

// payRewards pays the liquidator bounty from the vault, capped at its balance.
// A failed push leaves the vault untouched.
func (e *Engine) payRewards(ctx context.Context, call Call, kind types.ActionKind, price PriceInfo, outcomes []state.TickOutcome, res *Result) {
	bal := e.book.Balances
	reward := e.rewards.RewardFor(outcomes, RewardContext{Kind: kind, Price: price.Price, Timestamp: price.Timestamp})
	if reward.IsNil() || !reward.IsPositive() {
		return
	}
	reward = fpmath.MinInt(reward, bal.BalanceVault)
	if !reward.IsPositive() {
		return
	}
	if err := e.custody.PushCollateral(ctx, call.Sender, reward); err != nil {
		e.logger.Error().Err(err).Str("liquidator", call.Sender.Hex()).Msg("liquidation reward push failed")
		return
	}
	bal.BalanceVault = bal.BalanceVault.Sub(reward)
	res.Rewards = res.Rewards.Add(reward)
	e.emit(&event.LiquidatorRewarded{Liquidator: call.Sender, Rewards: reward})
	if e.metrics != nil {
		e.metrics.RewardsPaid.Add(tokensFloat(reward))
	}
}

func (e *Engine) notifyRebalancer(ctx context.Context) {
	if e.rebalancer == nil {
		return
	}
	id, ok := e.rebalancer.Position()
	if !ok {
		return
	}
	if e.book.Ticks.Version(id.Tick) != id.TickVersion {
		e.rebalancer.PositionLiquidated(ctx, id)
	}
}

// pullWithDeposit pulls the security deposit then the collateral, returning
// the deposit if the collateral pull fails.
func (e *Engine) pullWithDeposit(ctx context.Context, from common.Address, deposit, collateral sdkmath.Int) error {
	if err := e.pullDeposit(ctx, from, deposit); err != nil {
		return err
	}
	if collateral.IsNil() || collateral.IsZero() {
		return nil
	}
	if err := e.custody.PullCollateral(ctx, from, collateral); err != nil {
		if deposit.IsPositive() {
			if refundErr := e.custody.PushSecurityDeposit(ctx, from, deposit); refundErr != nil {
				e.logger.Error().Err(refundErr).Str("user", from.Hex()).Msg("security deposit refund failed")
			}
		}
		return errorsmod.Wrapf(types.ErrCustody, "pull collateral: %v", err)
	}
	return nil
}

func (e *Engine) pullDeposit(ctx context.Context, from common.Address, deposit sdkmath.Int) error {
	if !deposit.IsPositive() {
		return nil
	}
	if err := e.custody.PullSecurityDeposit(ctx, from, deposit); err != nil {
		return errorsmod.Wrapf(types.ErrCustody, "pull security deposit: %v", err)
	}
	return nil
}

// payDeposit sends a security deposit to whoever earned it. The action is
// already settled, so a failure is logged and reported without rollback.
func (e *Engine) payDeposit(ctx context.Context, to common.Address, deposit sdkmath.Int) error {
	if deposit.IsNil() || !deposit.IsPositive() {
		return nil
	}
	if err := e.custody.PushSecurityDeposit(ctx, to, deposit); err != nil {
		e.logger.Error().Err(err).Str("recipient", to.Hex()).Msg("security deposit push failed")
		return errorsmod.Wrapf(types.ErrCustody, "push security deposit: %v", err)
	}
	return nil
}

// resolveExisting makes room for a new action of validator.
func (e *Engine) resolveExisting(ctx context.Context, call Call, validator common.Address, res *Result) error {
	existing, raw, ok := e.queue.Get(validator)
	if !ok {
		return nil
	}

	if state.IsStale(existing, e.book.Ticks) {
		return e.removeStale(ctx, existing, raw)
	}

	if !e.params.Deadlines.IsActionable(existing.Header().Timestamp, call.Now) {
		return errorsmod.Wrapf(types.ErrPendingActionExists, "validator %s has a %s action", validator.Hex(), existing.Kind())
	}

	price, err := e.getPrice(ctx, types.ActionValidatePending, e.validationTarget(existing), nil)
	if err != nil {
		return errorsmod.Wrapf(types.ErrPendingActionExists, "forced validation: %v", err)
	}
	validated, err := e.validateQueued(ctx, call, existing, raw, price, res)
	if err != nil {
		return errorsmod.Wrapf(types.ErrPendingActionExists, "forced validation: %v", err)
	}
	if validated {
		e.recordActionable(existing, call.Sender)
		res.ActionablesValidated++
		return nil
	}
	if _, _, still := e.queue.Get(validator); still {
		return errorsmod.Wrap(types.ErrPendingActionExists, "forced validation pending liquidation")
	}
	return nil
}

// validateQueued validates another user's action at its validation price.
// Crossed ticks are settled at that price first: an open whose tick was
// liquidated is cleared as stale, and remaining liquidations leave the
// action queued. It reports whether the action was validated.
func (e *Engine) validateQueued(ctx context.Context, call Call, action state.PendingAction, raw uint64, price PriceInfo, res *Result) (bool, error) {
	settled := e.settle(ctx, call, types.ActionValidatePending, price, e.params.LiquidationIterations, res)
	if state.IsStale(action, e.book.Ticks) {
		return false, e.removeStale(ctx, action, raw)
	}
	if settled.Pending {
		return false, nil
	}
	status, _, err := e.validatePending(ctx, action, raw, price, call.Sender, res)
	if err != nil {
		return false, err
	}
	return status != StatusPendingLiquidation, nil
}

// removeStale clears a stale open action and refunds its validator.
func (e *Engine) removeStale(ctx context.Context, action state.PendingAction, raw uint64) error {
	h := action.Header()
	e.queue.Clear(h.Validator, raw)

	evt := &event.StalePendingActionRemoved{Validator: h.Validator, SecurityDeposit: h.SecurityDeposit}
	if open, ok := action.(*state.OpenAction); ok {
		evt.Position = positionRef(open.Position)
	}
	e.emit(evt)
	e.logger.Info().Str("validator", h.Validator.Hex()).Msg("stale pending action removed")
	if e.metrics != nil {
		e.metrics.StaleActionsRemoved.Inc()
	}
	return e.payDeposit(ctx, h.Validator, h.SecurityDeposit)
}

func (e *Engine) recordActionable(action state.PendingAction, caller common.Address) {
	h := action.Header()
	e.emit(&event.ActionableValidated{
		Validator:       h.Validator,
		Caller:          caller,
		Kind:            action.Kind().String(),
		SecurityDeposit: h.SecurityDeposit,
	})
	if e.metrics != nil {
		e.metrics.ActionablesValidated.Inc()
	}
}

// validateActionables validates, best effort, up to limit actions of other
// users whose exclusive window has passed. Their deposits go to the caller.
func (e *Engine) validateActionables(ctx context.Context, call Call, limit int, res *Result) {
	for _, entry := range e.queue.Actionable(call.Now, limit, e.params.Deadlines) {
		action := entry.Action
		validator := action.Header().Validator

		if state.IsStale(action, e.book.Ticks) {
			if err := e.removeStale(ctx, action, entry.RawIndex); err != nil {
				e.logger.Warn().Err(err).Msg("stale refund failed")
			}
			continue
		}

		price, err := e.getPrice(ctx, types.ActionValidatePending, e.validationTarget(action), nil)
		if err != nil {
			e.logger.Debug().Err(err).Str("validator", validator.Hex()).Msg("actionable skipped: no price")
			continue
		}
		validated, err := e.validateQueued(ctx, call, action, entry.RawIndex, price, res)
		if err != nil {
			e.logger.Debug().Err(err).Str("validator", validator.Hex()).Msg("actionable validation failed")
			continue
		}
		if !validated {
			continue
		}
		e.recordActionable(action, call.Sender)
		res.ActionablesValidated++
	}
}

// validatePending settles one queued action at price. On success the entry
// is cleared and its security deposit paid to depositTo.
func (e *Engine) validatePending(ctx context.Context, action state.PendingAction, raw uint64, price PriceInfo, depositTo common.Address, res *Result) (Status, sdkmath.Int, error) {
	var (
		status = StatusApplied
		amount = sdkmath.ZeroInt()
		err    error
	)

	switch a := action.(type) {
	case *state.DepositAction:
		amount, err = e.executeDeposit(ctx, a, price)
	case *state.WithdrawalAction:
		amount, err = e.executeWithdrawal(ctx, a, price)
	case *state.OpenAction:
		if state.IsStale(a, e.book.Ticks) {
			return StatusPositionLiquidated, amount, e.removeStale(ctx, a, raw)
		}
		var id state.PositionID
		id, err = e.executeOpen(a, price)
		res.PositionID = id
	case *state.CloseAction:
		status, amount, err = e.executeClose(ctx, a, price)
		res.PositionID = a.Position
	default:
		return status, amount, errorsmod.Wrapf(types.ErrWrongPendingActionKind, "unknown action %T", action)
	}
	if err != nil {
		return status, amount, err
	}

	e.queue.Clear(action.Header().Validator, raw)
	return status, amount, e.payDeposit(ctx, depositTo, action.Header().SecurityDeposit)
}

// takePending loads the caller's own pending action of the wanted kind.
func (e *Engine) takePending(call Call, validator common.Address, want state.PendingKind) (state.PendingAction, uint64, error) {
	if call.Sender != validator {
		return nil, 0, errorsmod.Wrapf(types.ErrUnauthorized, "sender %s is not validator %s", call.Sender.Hex(), validator.Hex())
	}
	action, raw, ok := e.queue.Get(validator)
	if !ok {
		return nil, 0, errorsmod.Wrapf(types.ErrNoPendingAction, "validator %s", validator.Hex())
	}
	if action.Kind() != want {
		return nil, 0, errorsmod.Wrapf(types.ErrWrongPendingActionKind, "have %s, want %s", action.Kind(), want)
	}
	return action, raw, nil
}

// validateOwn is the shared body of the four Validate* entry points.
func (e *Engine) validateOwn(ctx context.Context, call Call, kind types.ActionKind, validator common.Address, want state.PendingKind) (Result, error) {
	res := newResult()
	if err := e.requireInitialized(); err != nil {
		return res, err
	}
	action, raw, err := e.takePending(call, validator, want)
	if err != nil {
		return res, err
	}

	price, err := e.getPrice(ctx, kind, e.validationTarget(action), call.OracleData)
	if err != nil {
		return res, err
	}
	settled := e.settle(ctx, call, kind, price, e.params.LiquidationIterations, &res)

	if open, ok := action.(*state.OpenAction); ok && state.IsStale(open, e.book.Ticks) {
		res.Status = StatusPositionLiquidated
		res.PositionID = open.Position
		return res, e.removeStale(ctx, action, raw)
	}
	if settled.Pending {
		res.Status = StatusPendingLiquidation
		return res, nil
	}

	status, amount, err := e.validatePending(ctx, action, raw, price, validator, &res)
	if err != nil {
		return res, err
	}
	res.Status = status
	res.Amount = amount

	e.validateActionables(ctx, call, e.params.MaxActionablesPerCall, &res)
	return res, nil
}

func positionRef(id state.PositionID) event.PositionRef {
	return event.PositionRef{Tick: id.Tick, TickVersion: id.TickVersion, Index: id.Index}
}

func isZeroAddress(a common.Address) bool {
	return a == (common.Address{})
}

func requireAddresses(addrs ...common.Address) error {
	for _, a := range addrs {
		if isZeroAddress(a) {
			return types.ErrZeroAddress
		}
	}
	return nil
}

// digest returns the canonical bytes of the whole engine state.
func (e *Engine) digest() []byte {
	buf := e.book.Digest()
	buf = append(buf, e.queue.Digest()...)
	if e.initialized {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}
