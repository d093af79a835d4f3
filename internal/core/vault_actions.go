package core

import (
	"context"
	"fmt"
	"time"

	"UsdnLedger/internal/event"
	fpmath "UsdnLedger/internal/math"
	"UsdnLedger/internal/state"
	"UsdnLedger/internal/types"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Initialize seeds the vault with deposit and opens the first, already
// validated, long of amount long. The stable token is minted at the oracle
// price with no fee.
func (e *Engine) Initialize(ctx context.Context, call Call, deposit, long, desiredLiqPrice sdkmath.Int) (res Result, err error) {
	if err = e.enter(call); err != nil {
		return newResult(), err
	}
	start := time.Now()
	res = newResult()
	defer e.exit(types.ActionInitialize, start, &res, &err)

	if e.initialized {
		return res, types.ErrAlreadyInitialized
	}
	if deposit.IsNil() || !deposit.IsPositive() || long.IsNil() || !long.IsPositive() {
		return res, types.ErrZeroAmount
	}
	if long.LT(e.params.MinLongPosition) {
		return res, errorsmod.Wrapf(types.ErrLongPositionTooSmall, "long %s below minimum %s", long, e.params.MinLongPosition)
	}
	if err = requireAddresses(call.Sender); err != nil {
		return res, err
	}

	price, err := e.getPrice(ctx, types.ActionInitialize, call.Now, call.OracleData)
	if err != nil {
		return res, err
	}

	plan, err := e.planOpen(long, desiredLiqPrice, price.Price, price.Price)
	if err != nil {
		return res, err
	}

	if err = e.custody.PullCollateral(ctx, call.Sender, deposit.Add(long)); err != nil {
		return res, errorsmod.Wrapf(types.ErrCustody, "pull initial collateral: %v", err)
	}
	minted := fpmath.MulDivDown(deposit, price.Price, fpmath.PriceScale)
	if err = e.stable.Mint(ctx, call.Sender, minted); err != nil {
		if pushErr := e.custody.PushCollateral(ctx, call.Sender, deposit.Add(long)); pushErr != nil {
			e.logger.Error().Err(pushErr).Msg("initial collateral refund failed")
		}
		return res, errorsmod.Wrapf(types.ErrCustody, "mint initial shares: %v", err)
	}

	e.dirty = true
	bal := e.book.Balances
	bal.LastPrice = price.Price
	bal.LastUpdate = price.Timestamp
	bal.BalanceVault = deposit
	bal.BalanceLong = long

	id, _ := e.book.AddPosition(plan.tick, plan.penalty, &state.Position{
		Validated: true,
		Timestamp: call.Now,
		Owner:     call.Sender,
		Amount:    long,
		TotalExpo: plan.expo,
	})
	e.initialized = true

	e.emit(&event.Initialized{
		Sender:   call.Sender,
		Deposit:  deposit,
		Long:     long,
		Price:    price.Price,
		Minted:   minted,
		Position: positionRef(id),
	})
	e.logger.Info().Str("deposit", deposit.String()).Str("long", long.String()).Str("price", price.Price.String()).Msg("protocol initialized")

	res.PositionID = id
	res.Amount = minted
	return res, nil
}

// --- deposits ---

func (e *Engine) InitiateDeposit(ctx context.Context, call Call, amount sdkmath.Int, to, validator common.Address) (res Result, err error) {
	if err = e.enter(call); err != nil {
		return newResult(), err
	}
	start := time.Now()
	res = newResult()
	defer e.exit(types.ActionInitiateDeposit, start, &res, &err)

	if err = e.requireInitialized(); err != nil {
		return res, err
	}
	if amount.IsNil() || !amount.IsPositive() {
		return res, types.ErrZeroAmount
	}
	if err = requireAddresses(to, validator); err != nil {
		return res, err
	}

	price, err := e.getPrice(ctx, types.ActionInitiateDeposit, call.Now, call.OracleData)
	if err != nil {
		return res, err
	}
	if settled := e.settle(ctx, call, types.ActionInitiateDeposit, price, e.params.LiquidationIterations, &res); settled.Pending {
		res.Status = StatusPendingLiquidation
		return res, nil
	}
	if err = e.resolveExisting(ctx, call, validator, &res); err != nil {
		return res, err
	}

	bal := e.book.Balances
	if err = state.CheckImbalance(state.ImbalanceDeposit, e.params.Imbalance,
		state.InputsFrom(bal, amount, sdkmath.ZeroInt())); err != nil {
		return res, err
	}

	snapshot := state.VaultSnapshot{
		Price:        price.Price,
		TotalExpo:    bal.TotalExpo,
		BalanceVault: bal.BalanceVault,
		BalanceLong:  bal.BalanceLong,
		TotalSupply:  e.stable.TotalSupply(),
	}
	if expected := e.sharesFor(amount, snapshot, price.Price); !expected.IsPositive() {
		return res, errorsmod.Wrapf(types.ErrDepositTooSmall, "amount %s mints nothing", amount)
	}

	deposit := e.params.SecurityDeposit
	if err = e.pullWithDeposit(ctx, call.Sender, deposit, amount); err != nil {
		return res, err
	}

	action := &state.DepositAction{
		ActionHeader: state.ActionHeader{Validator: validator, To: to, Timestamp: call.Now, SecurityDeposit: deposit},
		Amount:       amount,
		Snapshot:     snapshot,
	}
	if _, err = e.queue.Push(action); err != nil {
		return res, err
	}
	bal.PendingVaultDelta = bal.PendingVaultDelta.Add(amount)

	e.emit(&event.InitiatedDeposit{Validator: validator, To: to, Amount: amount, SecurityDeposit: deposit})

	e.validateActionables(ctx, call, e.params.MaxActionablesPerCall, &res)
	return res, nil
}

func (e *Engine) ValidateDeposit(ctx context.Context, call Call, validator common.Address) (res Result, err error) {
	if err = e.enter(call); err != nil {
		return newResult(), err
	}
	start := time.Now()
	res = newResult()
	defer e.exit(types.ActionValidateDeposit, start, &res, &err)

	return e.validateOwn(ctx, call, types.ActionValidateDeposit, validator, state.PendingDeposit)
}

// sharesFor prices amount of asset in vault shares against snapshot, valuing
// the vault at priceToUse.
func (e *Engine) sharesFor(amount sdkmath.Int, snap state.VaultSnapshot, priceToUse sdkmath.Int) sdkmath.Int {
	afterFees := amount.Sub(fpmath.ApplyBps(amount, e.params.VaultFeeBps))
	available := fpmath.NonNegative(fpmath.VaultAssetAvailable(
		snap.TotalExpo, snap.BalanceVault, snap.BalanceLong, priceToUse, snap.Price))

	if snap.TotalSupply.IsNil() || snap.TotalSupply.IsZero() || available.IsZero() {
		return fpmath.MulDivDown(afterFees, priceToUse, fpmath.PriceScale)
	}
	return fpmath.MulDivDown(afterFees, snap.TotalSupply, available)
}

func (e *Engine) executeDeposit(ctx context.Context, a *state.DepositAction, price PriceInfo) (sdkmath.Int, error) {
	priceToUse := fpmath.MinInt(a.Snapshot.Price, price.Price)
	minted := e.sharesFor(a.Amount, a.Snapshot, priceToUse)

	if err := e.stable.Mint(ctx, a.To, minted); err != nil {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrCustody, "mint: %v", err)
	}

	bal := e.book.Balances
	bal.BalanceVault = bal.BalanceVault.Add(a.Amount)
	bal.PendingVaultDelta = bal.PendingVaultDelta.Sub(a.Amount)

	e.emit(&event.ValidatedDeposit{
		Validator: a.Validator,
		To:        a.To,
		Amount:    a.Amount,
		Minted:    minted,
		Price:     priceToUse,
	})
	return minted, nil
}

// --- withdrawals ---

func (e *Engine) InitiateWithdrawal(ctx context.Context, call Call, shares sdkmath.Int, to, validator common.Address) (res Result, err error) {
	if err = e.enter(call); err != nil {
		return newResult(), err
	}
	start := time.Now()
	res = newResult()
	defer e.exit(types.ActionInitiateWithdrawal, start, &res, &err)

	if err = e.requireInitialized(); err != nil {
		return res, err
	}
	if shares.IsNil() || !shares.IsPositive() {
		return res, types.ErrZeroAmount
	}
	if err = requireAddresses(to, validator); err != nil {
		return res, err
	}

	price, err := e.getPrice(ctx, types.ActionInitiateWithdrawal, call.Now, call.OracleData)
	if err != nil {
		return res, err
	}
	if settled := e.settle(ctx, call, types.ActionInitiateWithdrawal, price, e.params.LiquidationIterations, &res); settled.Pending {
		res.Status = StatusPendingLiquidation
		return res, nil
	}
	if err = e.resolveExisting(ctx, call, validator, &res); err != nil {
		return res, err
	}

	bal := e.book.Balances
	supply := e.stable.TotalSupply()
	if supply.IsNil() || !supply.IsPositive() {
		return res, errorsmod.Wrap(types.ErrWithdrawalTooSmall, "no shares outstanding")
	}
	snapshot := state.VaultSnapshot{
		Price:        price.Price,
		TotalExpo:    bal.TotalExpo,
		BalanceVault: bal.BalanceVault,
		BalanceLong:  bal.BalanceLong,
		TotalSupply:  supply,
	}
	estimate := e.assetFor(shares, snapshot, price.Price)
	if !estimate.IsPositive() {
		return res, errorsmod.Wrapf(types.ErrWithdrawalTooSmall, "shares %s return nothing", shares)
	}
	if err = state.CheckImbalance(state.ImbalanceWithdraw, e.params.Imbalance,
		state.InputsFrom(bal, estimate, sdkmath.ZeroInt())); err != nil {
		return res, err
	}

	deposit := e.params.SecurityDeposit
	if err = e.pullDeposit(ctx, call.Sender, deposit); err != nil {
		return res, err
	}
	if err = e.stable.Lock(ctx, call.Sender, shares); err != nil {
		if deposit.IsPositive() {
			if refundErr := e.custody.PushSecurityDeposit(ctx, call.Sender, deposit); refundErr != nil {
				e.logger.Error().Err(refundErr).Msg("security deposit refund failed")
			}
		}
		return res, errorsmod.Wrapf(types.ErrCustody, "lock shares: %v", err)
	}

	action := &state.WithdrawalAction{
		ActionHeader: state.ActionHeader{Validator: validator, To: to, Timestamp: call.Now, SecurityDeposit: deposit},
		Shares:       shares,
		Snapshot:     snapshot,
		PendingDelta: estimate,
	}
	if _, err = e.queue.Push(action); err != nil {
		return res, err
	}
	bal.PendingVaultDelta = bal.PendingVaultDelta.Sub(estimate)

	e.emit(&event.InitiatedWithdrawal{
		Validator:       validator,
		To:              to,
		Shares:          shares,
		Estimate:        estimate,
		SecurityDeposit: deposit,
	})

	e.validateActionables(ctx, call, e.params.MaxActionablesPerCall, &res)
	return res, nil
}

func (e *Engine) ValidateWithdrawal(ctx context.Context, call Call, validator common.Address) (res Result, err error) {
	if err = e.enter(call); err != nil {
		return newResult(), err
	}
	start := time.Now()
	res = newResult()
	defer e.exit(types.ActionValidateWithdrawal, start, &res, &err)

	return e.validateOwn(ctx, call, types.ActionValidateWithdrawal, validator, state.PendingWithdrawal)
}

// assetFor prices shares in asset against snapshot at priceToUse, net of the
// vault fee. Rounds down.
func (e *Engine) assetFor(shares sdkmath.Int, snap state.VaultSnapshot, priceToUse sdkmath.Int) sdkmath.Int {
	if snap.TotalSupply.IsNil() || !snap.TotalSupply.IsPositive() {
		return sdkmath.ZeroInt()
	}
	available := fpmath.NonNegative(fpmath.VaultAssetAvailable(
		snap.TotalExpo, snap.BalanceVault, snap.BalanceLong, priceToUse, snap.Price))
	available = available.Sub(fpmath.ApplyBps(available, e.params.VaultFeeBps))
	return fpmath.MulDivDown(shares, available, snap.TotalSupply)
}

func (e *Engine) executeWithdrawal(ctx context.Context, a *state.WithdrawalAction, price PriceInfo) (sdkmath.Int, error) {
	bal := e.book.Balances
	priceToUse := fpmath.MaxInt(a.Snapshot.Price, price.Price)
	asset := fpmath.MinInt(e.assetFor(a.Shares, a.Snapshot, priceToUse), bal.BalanceVault)

	// burn only once the asset is out; a failed push keeps the shares locked
	if asset.IsPositive() {
		if err := e.custody.PushCollateral(ctx, a.To, asset); err != nil {
			return sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrCustody, "push withdrawal: %v", err)
		}
	}
	if err := e.stable.BurnLocked(ctx, a.Shares); err != nil {
		panic(fmt.Sprintf("FATAL: burn %s locked shares after withdrawal push: %v", a.Shares, err))
	}

	bal.BalanceVault = bal.BalanceVault.Sub(asset)
	bal.PendingVaultDelta = bal.PendingVaultDelta.Add(a.PendingDelta)

	e.emit(&event.ValidatedWithdrawal{
		Validator: a.Validator,
		To:        a.To,
		Shares:    a.Shares,
		Asset:     asset,
		Price:     priceToUse,
	})
	return asset, nil
}
