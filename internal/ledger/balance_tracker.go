package ledger

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]sdkmath.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]sdkmath.Int),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] = bt.GetBalance(j.DebitAccount).Add(j.Amount)
	bt.balances[j.CreditAccount] = bt.GetBalance(j.CreditAccount).Sub(j.Amount)
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) sdkmath.Int {
	if v, ok := bt.balances[key]; ok {
		return v
	}
	return sdkmath.ZeroInt()
}

// ValidateSufficient checks that key can be credited amount without going
// negative. External accounts are unbounded.
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, amount sdkmath.Int) error {
	if key.Scope == AccountScopeExternal {
		return nil
	}
	if have := bt.GetBalance(key); have.LT(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, key.AccountPath(), have, amount)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.IsNegative() {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]sdkmath.Int {
	totals := make(map[AssetID]sdkmath.Int)

	for key, balance := range bt.balances {
		if cur, ok := totals[key.AssetID]; ok {
			totals[key.AssetID] = cur.Add(balance)
		} else {
			totals[key.AssetID] = balance
		}
	}

	return totals
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]sdkmath.Int {
	snapshot := make(map[AccountKey]sdkmath.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
