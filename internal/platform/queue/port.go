package queue

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/festpay/internal/platform/balance"
	"github.com/kislikjeka/festpay/internal/platform/txn"
)

// Repository is the durable keyed store behind the queue.
// Every method is atomic on its own.
type Repository interface {
	// Pending transactions
	InsertPending(ctx context.Context, tx *txn.PendingTransaction) error
	GetPending(ctx context.Context, id uuid.UUID) (*txn.PendingTransaction, error)
	// ListPending returns pending transactions ordered by CreatedAt, then ID.
	// A nil walletID lists every wallet.
	ListPending(ctx context.Context, walletID *uuid.UUID) ([]*txn.PendingTransaction, error)
	CountPending(ctx context.Context) (int, error)
	UpdatePendingRetry(ctx context.Context, id uuid.UUID, state RetryState) error

	// AcknowledgeSynced removes the pending transaction and writes the wallet's
	// new cached balance in one step
	AcknowledgeSynced(ctx context.Context, id uuid.UUID, wallet balance.CachedWallet) error
	// MoveToFailed records the failure and removes the pending transaction in one step
	MoveToFailed(ctx context.Context, failed txn.FailedTransaction) error

	// Failed transactions
	ListFailed(ctx context.Context) ([]txn.FailedTransaction, error)
	DeleteFailed(ctx context.Context, id uuid.UUID) error

	// Cached wallets
	GetWallet(ctx context.Context, id uuid.UUID) (*balance.CachedWallet, bool, error)
	PutWallet(ctx context.Context, w balance.CachedWallet) error
	// WalletSnapshot reads the cached wallet and its pending transactions
	// from one consistent view of the store
	WalletSnapshot(ctx context.Context, walletID uuid.UUID) (*balance.CachedWallet, []*txn.PendingTransaction, error)

	// InstallSecret stores the signing secret and replaces the signatures of the
	// given pending transactions (clearing their provisional flag) in one step
	InstallSecret(ctx context.Context, secret, origin []byte, signatures map[uuid.UUID]string) error

	// Sync items
	InsertItem(ctx context.Context, item *SyncItem) error
	ListItems(ctx context.Context) ([]*SyncItem, error)
	DeleteItem(ctx context.Context, id uuid.UUID) error
	UpdateItemRetry(ctx context.Context, id uuid.UUID, state RetryState) error
}

// SecretHolder is the in-memory identity updated after a secret is persisted
type SecretHolder interface {
	Adopt(secret []byte, provisioned bool) error
	Provisioned() bool
}

// Builder creates a transaction given the wallet's current effective balance
type Builder func(current decimal.Decimal) (*txn.PendingTransaction, error)
