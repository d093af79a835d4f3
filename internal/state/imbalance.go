package state

import (
	fpmath "UsdnLedger/internal/math"
	"UsdnLedger/internal/types"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
)

// ImbalanceKind selects which side of the protocol an action grows.
type ImbalanceKind int

const (
	ImbalanceOpen ImbalanceKind = iota
	ImbalanceClose
	ImbalanceDeposit
	ImbalanceWithdraw
)

func (k ImbalanceKind) String() string {
	switch k {
	case ImbalanceOpen:
		return "open"
	case ImbalanceClose:
		return "close"
	case ImbalanceDeposit:
		return "deposit"
	case ImbalanceWithdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

// ImbalanceLimits are the maximum imbalance, in bps, each kind of action may
// leave behind. A value <= 0 disables the check.
type ImbalanceLimits struct {
	OpenBps       int64 `json:"open_bps"`
	DepositBps    int64 `json:"deposit_bps"`
	WithdrawalBps int64 `json:"withdrawal_bps"`
	CloseBps      int64 `json:"close_bps"`
}

func (l ImbalanceLimits) limit(kind ImbalanceKind) int64 {
	switch kind {
	case ImbalanceOpen:
		return l.OpenBps
	case ImbalanceClose:
		return l.CloseBps
	case ImbalanceDeposit:
		return l.DepositBps
	case ImbalanceWithdraw:
		return l.WithdrawalBps
	}
	return 0
}

// ImbalanceInputs is the state an action is checked against, after settlement.
//
//   - Deposit: Amount is the deposited asset.
//   - Withdraw: Amount is the estimated asset leaving the vault.
//   - Open: Expo is the new position's expo, Amount its collateral.
//   - Close: Expo is the closed expo, Amount the bounded value leaving the long side.
type ImbalanceInputs struct {
	TotalExpo         sdkmath.Int
	BalanceLong       sdkmath.Int
	BalanceVault      sdkmath.Int
	PendingVaultDelta sdkmath.Int
	Amount            sdkmath.Int
	Expo              sdkmath.Int
}

// InputsFrom fills the aggregate fields from b.
func InputsFrom(b *Balances, amount, expo sdkmath.Int) ImbalanceInputs {
	return ImbalanceInputs{
		TotalExpo:         b.TotalExpo,
		BalanceLong:       b.BalanceLong,
		BalanceVault:      b.BalanceVault,
		PendingVaultDelta: b.PendingVaultDelta,
		Amount:            amount,
		Expo:              expo,
	}
}

// ImbalanceBps returns the imbalance, in bps truncated toward zero, that the
// action would leave behind.
func ImbalanceBps(kind ImbalanceKind, in ImbalanceInputs) (int64, error) {
	vault := in.BalanceVault.Add(in.PendingVaultDelta)
	longExpo := in.TotalExpo.Sub(in.BalanceLong)

	var num, den sdkmath.Int
	switch kind {
	case ImbalanceDeposit:
		if !longExpo.IsPositive() {
			return 0, errorsmod.Wrapf(types.ErrInvalidLongExpo, "long expo %s", longExpo)
		}
		num = vault.Add(in.Amount).Sub(longExpo)
		den = longExpo

	case ImbalanceWithdraw:
		newVault := vault.Sub(in.Amount)
		if !newVault.IsPositive() {
			return 0, errorsmod.Wrapf(types.ErrInvalidVaultExpo, "vault expo %s", newVault)
		}
		num = longExpo.Sub(newVault)
		den = newVault

	case ImbalanceOpen:
		if !vault.IsPositive() {
			return 0, errorsmod.Wrapf(types.ErrInvalidVaultExpo, "vault expo %s", vault)
		}
		newLongExpo := in.TotalExpo.Add(in.Expo).Sub(in.BalanceLong.Add(in.Amount))
		num = newLongExpo.Sub(vault)
		den = vault

	case ImbalanceClose:
		newLongExpo := in.TotalExpo.Sub(in.Expo).Sub(in.BalanceLong.Sub(in.Amount))
		if !newLongExpo.IsPositive() {
			return 0, errorsmod.Wrapf(types.ErrInvalidLongExpo, "long expo %s", newLongExpo)
		}
		num = vault.Sub(newLongExpo)
		den = newLongExpo

	default:
		return 0, errorsmod.Wrapf(types.ErrInvalidParams, "imbalance kind %d", kind)
	}

	bps := num.Mul(fpmath.BPS).Quo(den)
	if !bps.IsInt64() {
		if bps.IsNegative() {
			return -1 << 62, nil
		}
		return 1 << 62, nil
	}
	return bps.Int64(), nil
}

// CheckImbalance fails with ErrImbalanceLimitReached when the action would
// push the imbalance above the kind's limit. Disabled kinds always pass.
func CheckImbalance(kind ImbalanceKind, limits ImbalanceLimits, in ImbalanceInputs) error {
	limit := limits.limit(kind)
	if limit <= 0 {
		return nil
	}
	bps, err := ImbalanceBps(kind, in)
	if err != nil {
		return err
	}
	if bps > limit {
		return errorsmod.Wrapf(types.ErrImbalanceLimitReached, "%s imbalance %d bps > %d", kind, bps, limit)
	}
	return nil
}
