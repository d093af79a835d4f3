package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// Bank is an in-memory double-entry custodian. It moves the collateral asset,
// the vault share token and security deposits between user wallets and
// protocol accounts, journaling every transfer.
type Bank struct {
	mu       sync.Mutex
	tracker  *BalanceTracker
	journals []Journal
	sequence int64
	clock    func() time.Time
}

func NewBank() *Bank {
	return &Bank{
		tracker: NewBalanceTracker(),
		clock:   time.Now,
	}
}

// WithClock replaces the journal timestamp source.
func (b *Bank) WithClock(clock func() time.Time) *Bank {
	b.clock = clock
	return b
}

// transfer moves amount from credit to debit. Non-external credit accounts
// cannot be overdrawn.
func (b *Bank) transfer(jt JournalType, debit, credit AccountKey, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsZero() {
		return nil
	}
	if err := b.tracker.ValidateSufficient(credit, amount); err != nil {
		return fmt.Errorf("%s: %w", jt, err)
	}

	j := Journal{
		JournalID:     uuid.New(),
		Sequence:      b.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
		JournalType:   jt,
		RecordedAt:    b.clock(),
	}
	if err := j.Validate(); err != nil {
		return err
	}
	b.tracker.ApplyJournal(j)
	b.journals = append(b.journals, j)
	b.sequence++
	return nil
}

// Fund credits a user wallet from outside the system.
func (b *Bank) Fund(to common.Address, asset AssetID, amount sdkmath.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transfer(JournalTypeFund, NewUserAccountKey(to, asset), NewExternalAccountKey(SubTypeExternalFaucet, asset), amount)
}

// --- core.Custody ---

func (b *Bank) PullCollateral(_ context.Context, from common.Address, amount sdkmath.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transfer(JournalTypePullCollateral,
		NewProtocolAccountKey(SubTypeCollateralPool, AssetUnderlying),
		NewUserAccountKey(from, AssetUnderlying), amount)
}

func (b *Bank) PushCollateral(_ context.Context, to common.Address, amount sdkmath.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transfer(JournalTypePushCollateral,
		NewUserAccountKey(to, AssetUnderlying),
		NewProtocolAccountKey(SubTypeCollateralPool, AssetUnderlying), amount)
}

func (b *Bank) PullSecurityDeposit(_ context.Context, from common.Address, amount sdkmath.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transfer(JournalTypePullSecurityDeposit,
		NewProtocolAccountKey(SubTypeSecurityDeposits, AssetNative),
		NewUserAccountKey(from, AssetNative), amount)
}

func (b *Bank) PushSecurityDeposit(_ context.Context, to common.Address, amount sdkmath.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transfer(JournalTypePushSecurityDeposit,
		NewUserAccountKey(to, AssetNative),
		NewProtocolAccountKey(SubTypeSecurityDeposits, AssetNative), amount)
}

// --- core.StableToken ---

// TotalSupply is every share minted and not yet burned, locked shares included.
func (b *Bank) TotalSupply() sdkmath.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tracker.GetBalance(NewExternalAccountKey(SubTypeExternalMint, AssetStable)).Neg()
}

func (b *Bank) Mint(_ context.Context, to common.Address, amount sdkmath.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transfer(JournalTypeMint,
		NewUserAccountKey(to, AssetStable),
		NewExternalAccountKey(SubTypeExternalMint, AssetStable), amount)
}

func (b *Bank) Lock(_ context.Context, from common.Address, shares sdkmath.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transfer(JournalTypeLock,
		NewProtocolAccountKey(SubTypeLockedShares, AssetStable),
		NewUserAccountKey(from, AssetStable), shares)
}

func (b *Bank) BurnLocked(_ context.Context, shares sdkmath.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transfer(JournalTypeBurn,
		NewExternalAccountKey(SubTypeExternalMint, AssetStable),
		NewProtocolAccountKey(SubTypeLockedShares, AssetStable), shares)
}

// --- queries ---

// BalanceOf returns a user's wallet balance of asset.
func (b *Bank) BalanceOf(owner common.Address, asset AssetID) sdkmath.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tracker.GetBalance(NewUserAccountKey(owner, asset))
}

// ProtocolBalance returns the balance of a protocol account.
func (b *Bank) ProtocolBalance(subType AccountSubType, asset AssetID) sdkmath.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tracker.GetBalance(NewProtocolAccountKey(subType, asset))
}

// Journals returns a copy of every journal recorded so far.
func (b *Bank) Journals() []Journal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Journal, len(b.journals))
	copy(out, b.journals)
	return out
}

// Validate runs every ledger invariant.
func (b *Bank) Validate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := NewInvariantValidator(b.tracker)
	if err := v.ValidateGlobalBalance(); err != nil {
		return err
	}
	return v.ValidateNonExternalNonNegative()
}

// ValidateCollateral checks the collateral pool against the engine's books.
func (b *Bank) ValidateCollateral(accounted sdkmath.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return NewInvariantValidator(b.tracker).ValidateCollateralCovers(accounted)
}
