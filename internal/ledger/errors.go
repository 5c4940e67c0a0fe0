package ledger

import "errors"

// Submission errors. Each maps to a rejection reason on the wire.
var (
	ErrInvalidSubmission   = errors.New("invalid submission")
	ErrSignatureMismatch   = errors.New("signature mismatch")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletUserMismatch  = errors.New("wallet belongs to another user")
	ErrIdempotencyConflict = errors.New("idempotency key reused for a different transaction")
)

// Persistence errors
var (
	ErrDuplicate           = errors.New("duplicate record")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNegativeBalance     = errors.New("balance cannot be negative")
	ErrInvalidDeviceID     = errors.New("invalid device ID")
	ErrMasterSecretSize    = errors.New("master secret must be at least 32 bytes")
)
