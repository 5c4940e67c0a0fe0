package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/festpay/internal/platform/queue"
	"github.com/kislikjeka/festpay/internal/platform/txn"
)

// AckStatus is the ledger's verdict on an accepted submission
type AckStatus string

const (
	AckAccepted  AckStatus = "accepted"
	AckDuplicate AckStatus = "duplicate"
)

// Ack is the ledger's acknowledgment of a transaction
type Ack struct {
	Status   AckStatus
	LedgerID string
	// Balance is the wallet's authoritative balance after the transaction, if sent
	Balance *decimal.Decimal
}

// Ledger is the remote ledger's sync endpoint.
// Business rejections are returned as errors wrapping txn.ErrSubmissionRejected;
// any other error is a transport failure and is retried.
type Ledger interface {
	SubmitTransaction(ctx context.Context, tx *txn.PendingTransaction) (*Ack, error)
	SubmitItem(ctx context.Context, item *queue.SyncItem) error
}

// Queue is the local queue the engine drains
type Queue interface {
	PurgeExpired(ctx context.Context, maxAge time.Duration) ([]txn.FailedTransaction, error)
	ListPending(ctx context.Context, walletID *uuid.UUID) ([]*txn.PendingTransaction, error)
	MarkSynced(ctx context.Context, id uuid.UUID, confirmed *decimal.Decimal) error
	RecordFailure(ctx context.Context, id uuid.UUID, cause error) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason txn.FailureReason, detail string) (*txn.FailedTransaction, error)

	ListItems(ctx context.Context) ([]*queue.SyncItem, error)
	MarkItemSynced(ctx context.Context, id uuid.UUID) error
	RecordItemFailure(ctx context.Context, item *queue.SyncItem, cause error) error
	DiscardItem(ctx context.Context, id uuid.UUID, reason string) error
}

// Provisioner obtains and installs the device's ledger-issued signing secret,
// re-signing queued transactions. Provision returns how many were re-signed.
type Provisioner interface {
	Provisioned() bool
	Provision(ctx context.Context) (int, error)
}

// Reachability gates drains on the network being usable
type Reachability interface {
	Online() bool
}

var _ Queue = (*queue.Queue)(nil)
