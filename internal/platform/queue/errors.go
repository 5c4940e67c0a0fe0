package queue

import "errors"

var (
	ErrItemNotFound   = errors.New("sync item not found")
	ErrFailedNotFound = errors.New("failed transaction not found")
	ErrInvalidKind    = errors.New("sync item kind is required")
	ErrWalletMismatch = errors.New("transaction does not belong to wallet")
)
