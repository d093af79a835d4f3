package types

import (
	stderrors "errors"

	"cosmossdk.io/errors"
)

// Codespace for every engine error.
const Codespace = "usdn"

// Kind groups errors by how callers should react to them.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindEconomicLimit
	KindStateConflict
	KindExternalFailure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindEconomicLimit:
		return "economic_limit"
	case KindStateConflict:
		return "state_conflict"
	case KindExternalFailure:
		return "external_failure"
	default:
		return "unknown"
	}
}

// Error codes: 1xx invalid input, 2xx economic limits, 3xx state conflicts,
// 5xx external collaborators.
var (
	ErrZeroAmount              = errors.Register(Codespace, 101, "amount must be greater than zero")
	ErrZeroAddress             = errors.Register(Codespace, 102, "address must not be zero")
	ErrInvalidParams           = errors.Register(Codespace, 103, "invalid protocol parameters")
	ErrInvalidLiquidationPrice = errors.Register(Codespace, 104, "invalid desired liquidation price")
	ErrAmountExceedsPosition   = errors.Register(Codespace, 105, "close amount exceeds position collateral")
	ErrInvalidIterations       = errors.Register(Codespace, 106, "invalid liquidation iterations")
	ErrInvalidRequest          = errors.Register(Codespace, 107, "malformed request")

	ErrLeverageTooLow               = errors.Register(Codespace, 201, "leverage too low")
	ErrLeverageTooHigh              = errors.Register(Codespace, 202, "leverage too high")
	ErrLiquidationPriceSafetyMargin = errors.Register(Codespace, 203, "liquidation price violates safety margin")
	ErrImbalanceLimitReached        = errors.Register(Codespace, 204, "imbalance limit reached")
	ErrInvalidLongExpo              = errors.Register(Codespace, 205, "long exposure is zero or negative")
	ErrInvalidVaultExpo             = errors.Register(Codespace, 206, "vault exposure is zero or negative")
	ErrDepositTooSmall              = errors.Register(Codespace, 207, "deposit too small to mint any token")
	ErrWithdrawalTooSmall           = errors.Register(Codespace, 208, "withdrawal too small to return any asset")
	ErrLongPositionTooSmall         = errors.Register(Codespace, 209, "long position below minimum size")
	ErrRemainingPositionTooSmall    = errors.Register(Codespace, 210, "remaining position below minimum size")

	ErrPositionNotValidated   = errors.Register(Codespace, 301, "position not validated yet")
	ErrNoPendingAction        = errors.Register(Codespace, 302, "no pending action for validator")
	ErrWrongPendingActionKind = errors.Register(Codespace, 303, "pending action has a different kind")
	ErrOutdatedTick           = errors.Register(Codespace, 304, "tick version is outdated")
	ErrUnauthorized           = errors.Register(Codespace, 305, "caller is not authorized")
	ErrPendingActionExists    = errors.Register(Codespace, 306, "validator already has a pending action")
	ErrReentrantCall          = errors.Register(Codespace, 307, "reentrant call")
	ErrNotInitialized         = errors.Register(Codespace, 308, "protocol not initialized")
	ErrAlreadyInitialized     = errors.Register(Codespace, 309, "protocol already initialized")
	ErrPositionNotFound       = errors.Register(Codespace, 310, "position not found")
	ErrStateHashMismatch      = errors.Register(Codespace, 311, "snapshot state hash mismatch")

	ErrOracle                = errors.Register(Codespace, 501, "oracle failure")
	ErrOraclePriceTooOld     = errors.Register(Codespace, 502, "oracle price older than target timestamp")
	ErrOracleFeeInsufficient = errors.Register(Codespace, 503, "oracle fee insufficient")
	ErrCustody               = errors.Register(Codespace, 504, "custody transfer failed")
)

// KindOf classifies an engine error by its registered code range.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var coded interface {
		ABCICode() uint32
		Codespace() string
	}
	if !stderrors.As(err, &coded) || coded.Codespace() != Codespace {
		return KindUnknown
	}

	code := coded.ABCICode()
	switch {
	case code >= 100 && code < 200:
		return KindInvalidInput
	case code >= 200 && code < 300:
		return KindEconomicLimit
	case code >= 300 && code < 400:
		return KindStateConflict
	case code >= 500 && code < 600:
		return KindExternalFailure
	default:
		return KindUnknown
	}
}
