package sync

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/festpay/internal/platform/txn"
)

// State is the engine's drain state
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
)

// Outcome is how a drain ended
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialFailure Outcome = "partial_failure"
	OutcomeCancelled      Outcome = "cancelled"
)

// ItemError is the failure detail of one transaction or sync item
type ItemError struct {
	ID       uuid.UUID         `json:"id"`
	WalletID uuid.UUID         `json:"wallet_id,omitempty"`
	Kind     string            `json:"kind"` // "transaction" or the sync item kind
	Error    string            `json:"error"`
	Terminal bool              `json:"terminal"`
	Reason   txn.FailureReason `json:"reason,omitempty"`
}

// Result is the outcome of one drain
type Result struct {
	Outcome     Outcome     `json:"outcome"`
	Synced      int         `json:"synced"`
	Failed      int         `json:"failed"`
	Skipped     int         `json:"skipped"`
	Held        int         `json:"held"`
	Expired     int         `json:"expired"`
	ItemsSynced int         `json:"items_synced"`
	ItemsFailed int         `json:"items_failed"`
	Errors      []ItemError `json:"errors"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
}

// Success reports whether nothing failed
func (r *Result) Success() bool {
	return r.Outcome == OutcomeSuccess
}

// Err summarises failures; each item's detail stays in Errors and on the item itself
func (r *Result) Err() error {
	failed := r.Failed + r.ItemsFailed
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d transactions and %d sync items failed", ErrPartialFailure, r.Failed, r.ItemsFailed)
}

func (r *Result) finish(cancelled bool, now time.Time) {
	r.FinishedAt = now
	switch {
	case cancelled:
		r.Outcome = OutcomeCancelled
	case r.Failed+r.ItemsFailed > 0:
		r.Outcome = OutcomePartialFailure
	default:
		r.Outcome = OutcomeSuccess
	}
}

// Status is a read-only view of the engine
type Status struct {
	State      State   `json:"state"`
	LastResult *Result `json:"last_result,omitempty"`
}
