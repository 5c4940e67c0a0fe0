package ledgerclient

import (
	"errors"
	"fmt"

	"github.com/kislikjeka/festpay/internal/platform/txn"
)

// RejectedError is a business rejection by the ledger. Resubmitting the same
// request will not change the answer.
type RejectedError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger rejected request (%d %s): %s", e.StatusCode, e.Reason, e.Message)
}

// Unwrap lets callers match rejections with errors.Is(err, txn.ErrSubmissionRejected)
func (e *RejectedError) Unwrap() error {
	return txn.ErrSubmissionRejected
}

// TransportError is a failure to get an answer: network errors, timeouts,
// server errors and rate limits. The request may be retried.
type TransportError struct {
	StatusCode int // zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("ledger unreachable: %v", e.Err)
	}
	return fmt.Sprintf("ledger error (status %d): %v", e.StatusCode, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRejected checks if an error is (or wraps) a ledger rejection
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

var (
	ErrUnauthorized = errors.New("device is not authorized by the ledger")
	ErrNotFound     = errors.New("not found on ledger")
)
