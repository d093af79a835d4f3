package ledger

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeFund JournalType = iota
	JournalTypePullCollateral
	JournalTypePushCollateral
	JournalTypePullSecurityDeposit
	JournalTypePushSecurityDeposit
	JournalTypeMint
	JournalTypeLock
	JournalTypeBurn
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeFund:
		return "fund"
	case JournalTypePullCollateral:
		return "pull_collateral"
	case JournalTypePushCollateral:
		return "push_collateral"
	case JournalTypePullSecurityDeposit:
		return "pull_security_deposit"
	case JournalTypePushSecurityDeposit:
		return "push_security_deposit"
	case JournalTypeMint:
		return "mint"
	case JournalTypeLock:
		return "lock"
	case JournalTypeBurn:
		return "burn"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	Sequence      int64       // Bank-local sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        sdkmath.Int // ALWAYS positive
	JournalType   JournalType // Entry type
	RecordedAt    time.Time
}

// Validate ensures the entry is well-formed. A single positive amount moving
// from credit to debit is balanced by construction.
func (j Journal) Validate() error {
	if j.Amount.IsNil() || !j.Amount.IsPositive() {
		return fmt.Errorf("journal %s has non-positive amount: %s", j.JournalID, j.Amount)
	}
	if j.DebitAccount == j.CreditAccount {
		return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
	}
	if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
		return fmt.Errorf("journal %s mixes assets", j.JournalID)
	}
	return nil
}
