package types

// ActionKind tags every protocol entry point. Oracle adapters use it to pick a
// price source; metrics use it as a label.
type ActionKind int32

const (
	ActionNone ActionKind = iota
	ActionInitialize
	ActionInitiateDeposit
	ActionValidateDeposit
	ActionInitiateWithdrawal
	ActionValidateWithdrawal
	ActionInitiateOpenPosition
	ActionValidateOpenPosition
	ActionInitiateClosePosition
	ActionValidateClosePosition
	ActionLiquidation
	ActionValidatePending
)

func (k ActionKind) String() string {
	switch k {
	case ActionInitialize:
		return "Initialize"
	case ActionInitiateDeposit:
		return "InitiateDeposit"
	case ActionValidateDeposit:
		return "ValidateDeposit"
	case ActionInitiateWithdrawal:
		return "InitiateWithdrawal"
	case ActionValidateWithdrawal:
		return "ValidateWithdrawal"
	case ActionInitiateOpenPosition:
		return "InitiateOpenPosition"
	case ActionValidateOpenPosition:
		return "ValidateOpenPosition"
	case ActionInitiateClosePosition:
		return "InitiateClosePosition"
	case ActionValidateClosePosition:
		return "ValidateClosePosition"
	case ActionLiquidation:
		return "Liquidation"
	case ActionValidatePending:
		return "ValidatePending"
	default:
		return "None"
	}
}

// IsValidation reports whether the action confirms a previously initiated one.
// Validation prices must be published at or after the validation target.
func (k ActionKind) IsValidation() bool {
	switch k {
	case ActionValidateDeposit, ActionValidateWithdrawal, ActionValidateOpenPosition,
		ActionValidateClosePosition, ActionValidatePending:
		return true
	default:
		return false
	}
}
