package market

import "errors"

// Class groups errors by the kind of precondition that failed
type Class string

const (
	ClassState         Class = "state"
	ClassAuthorization Class = "authorization"
	ClassEconomic      Class = "economic"
	ClassTemporal      Class = "temporal"
	ClassArgument      Class = "argument"
	ClassLedger        Class = "ledger"
)

// Error is a market operation failure identified by a stable code
type Error struct {
	Code    string
	Class   Class
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code string, class Class, msg string) *Error {
	return &Error{Code: code, Class: class, Message: msg}
}

var (
	ErrAlreadyInitialized = newError("AlreadyInitialized", ClassState, "market already initialized")
	ErrNotInitialized     = newError("NotInitialized", ClassState, "market not initialized")
	ErrWinnerAlreadySet   = newError("WinnerAlreadySet", ClassState, "market winner already set")
	ErrMarketNotSettled   = newError("MarketNotSettled", ClassState, "market not settled")
	ErrMarketResolved     = newError("MarketResolved", ClassState, "market already resolved")

	ErrOracleMismatch = newError("OracleMismatch", ClassAuthorization, "caller is not the market oracle")
	ErrWinnerMismatch = newError("WinnerMismatch", ClassAuthorization, "outcome is not the market winner")

	ErrZeroDeposit     = newError("ZeroDeposit", ClassEconomic, "deposited zero")
	ErrDepositMismatch = newError("DepositMismatch", ClassEconomic, "mint amount does not match deposited collateral")
	ErrNoProfits       = newError("NoProfits", ClassEconomic, "no profits to claim")
	ErrZeroAmount      = newError("ZeroAmount", ClassEconomic, "amount must be greater than 0")
	ErrVaultShortfall  = newError("VaultShortfall", ClassEconomic, "vault holds less collateral than outstanding sets")

	ErrExpirationNotPassed = newError("ExpirationNotPassed", ClassTemporal, "market expiration time has not passed")

	ErrInvalidConfig   = newError("InvalidConfig", ClassArgument, "invalid market configuration")
	ErrInvalidOutcome  = newError("InvalidOutcome", ClassArgument, "address is not an outcome of this market")
	ErrInvalidAccount  = newError("InvalidAccount", ClassArgument, "account address must be set")
	ErrOutcomeIsWinner = newError("OutcomeIsWinner", ClassArgument, "winning outcome cannot be burned as losing")

	ErrLedgerRejected = newError("LedgerRejected", ClassLedger, "token ledger rejected operation")
)

// CodeOf returns the market error code carried by err, or "" if none
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ClassOf returns the error class carried by err, or "" if none
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// Retryable reports whether the same call may succeed with corrected amounts
// or once time advances.
func Retryable(err error) bool {
	switch ClassOf(err) {
	case ClassEconomic, ClassTemporal:
		return true
	default:
		return false
	}
}
