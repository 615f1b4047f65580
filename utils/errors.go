package utils

import "errors"

// Error codes of the transfer protocol. They travel on the wire inside the
// error envelope and never change meaning between services.
const (
	CodeInvalidArgument   = "InvalidArgument"
	CodeNotFound          = "NotFound"
	CodeInsufficientFunds = "InsufficientFunds"
	CodeConflict          = "Conflict"
	CodeTransport         = "Transport"
	CodeCritical          = "Critical"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTxnNotFound is returned when a transaction is unknown to the log.
	ErrTxnNotFound = errors.New("transaction not found")

	// ErrInsufficientFunds is returned when a debit prepare exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLockConflict is returned when an account is locked by another
	// transaction, or a commit/abort names a transaction that does not hold
	// the lock.
	ErrLockConflict = errors.New("account locked by another transaction")

	// ErrDeltaMismatch is returned on re-prepare with a different amount or
	// operation than the one the lock holder stored.
	ErrDeltaMismatch = errors.New("pending delta mismatch on re-prepare")

	// ErrInvalidAmount is returned when the transfer amount is not positive.
	ErrInvalidAmount = errors.New("invalid amount: must be positive")

	// ErrSameAccount is returned when source and destination are the same.
	ErrSameAccount = errors.New("source and destination must be different accounts")

	// ErrMissingAccount is returned when a request omits an account identifier.
	ErrMissingAccount = errors.New("account identifier is required")

	// ErrTxnFinalized is returned when a begin names a transaction that
	// already reached a terminal status.
	ErrTxnFinalized = errors.New("transaction already finalized")
)

// CodeOf maps a sentinel error to its wire code.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrTxnNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ErrLockConflict) || errors.Is(err, ErrDeltaMismatch) || errors.Is(err, ErrTxnFinalized):
		return CodeConflict
	case errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrSameAccount) || errors.Is(err, ErrMissingAccount):
		return CodeInvalidArgument
	default:
		return CodeTransport
	}
}
