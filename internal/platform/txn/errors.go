package txn

import "errors"

var (
	// Creation-time validation errors, returned to the caller; nothing is queued
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidType        = errors.New("invalid transaction type")
	ErrInvalidAmount      = errors.New("amount must be a finite non-zero number")
	ErrAmountSign         = errors.New("amount sign does not match transaction type")
	ErrInvalidWalletID    = errors.New("invalid wallet ID")
	ErrInvalidUserID      = errors.New("invalid user ID")
	ErrInvalidItems       = errors.New("invalid line items")
	ErrItemsTotalMismatch = errors.New("line items do not add up to the amount")

	// Sync outcomes, recorded per item
	ErrSubmissionFailed   = errors.New("submission failed")
	ErrSubmissionRejected = errors.New("submission rejected by ledger")
	ErrTransactionExpired = errors.New("transaction expired before it could sync")
	ErrMaxRetriesExceeded = errors.New("maximum sync retries exceeded")

	// Lookup
	ErrTransactionNotFound = errors.New("transaction not found")
)
