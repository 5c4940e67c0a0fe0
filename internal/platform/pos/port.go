package pos

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/festpay/internal/platform/balance"
	"github.com/kislikjeka/festpay/internal/platform/catalog"
	"github.com/kislikjeka/festpay/internal/platform/netmon"
	"github.com/kislikjeka/festpay/internal/platform/queue"
	pkgsync "github.com/kislikjeka/festpay/internal/platform/sync"
	"github.com/kislikjeka/festpay/internal/platform/txn"
)

// Queue is the part of the local store the point of sale reads and writes
type Queue interface {
	Submit(ctx context.Context, walletID uuid.UUID, build queue.Builder) (*txn.PendingTransaction, balance.EffectiveBalance, error)
	EffectiveBalance(ctx context.Context, walletID uuid.UUID) (balance.EffectiveBalance, error)
	PendingCount(ctx context.Context) (int, error)
	ListPending(ctx context.Context, walletID *uuid.UUID) ([]*txn.PendingTransaction, error)
	ListFailed(ctx context.Context) ([]txn.FailedTransaction, error)
	DismissFailed(ctx context.Context, id uuid.UUID) error
	Wallet(ctx context.Context, walletID uuid.UUID) (*balance.CachedWallet, bool, error)
	RefreshWallet(ctx context.Context, w balance.CachedWallet) error
	InstallSecret(ctx context.Context, secret []byte, provisioned bool) (int, error)
	Provisioned() bool
	EnqueueItem(ctx context.Context, kind string, payload []byte) (*queue.SyncItem, error)
}

// Factory builds pending transactions
type Factory interface {
	Create(ctx context.Context, in txn.Input, currentEffective decimal.Decimal) (*txn.PendingTransaction, error)
}

// Syncer is the drain engine
type Syncer interface {
	Trigger()
	Drain(ctx context.Context) (*pkgsync.Result, error)
	Cancel() bool
	Status() pkgsync.Status
}

// Ledger is the remote ledger as seen outside a drain
type Ledger interface {
	catalog.Source
	Provision(ctx context.Context) ([]byte, error)
	FetchWallet(ctx context.Context, walletID uuid.UUID) (*balance.CachedWallet, error)
}

// Catalog is the cached catalog
type Catalog interface {
	Snapshot() *catalog.Snapshot
	Refresh(ctx context.Context, src catalog.Source) (bool, error)
}

// Network reports ledger reachability
type Network interface {
	Status() netmon.Status
	ForceCheck(ctx context.Context) netmon.Quality
}

// LinkReporter accepts connectivity readings from the host
type LinkReporter interface {
	Set(c netmon.Connectivity)
}
