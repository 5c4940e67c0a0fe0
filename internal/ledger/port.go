package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository defines the interface for ledger persistence operations
type Repository interface {
	// Wallet operations
	CreateWallet(ctx context.Context, w *Wallet) error
	GetWallet(ctx context.Context, id uuid.UUID) (*Wallet, error)
	GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*Wallet, error)
	UpdateWalletBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal, at time.Time) error

	// Transaction operations. InsertTransaction returns ErrDuplicate when the
	// idempotency key already exists.
	InsertTransaction(ctx context.Context, tx *Transaction) error
	GetTransactionByKey(ctx context.Context, key string) (*Transaction, error)

	// InsertItem returns ErrDuplicate when the item ID already exists
	InsertItem(ctx context.Context, item *Item) error

	// Transaction management
	BeginTx(ctx context.Context) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error
}

// AckCache remembers acknowledgments by idempotency key so retried
// submissions skip signature checks and the database
type AckCache interface {
	GetAck(ctx context.Context, key string) (*Ack, bool, error)
	SetAck(ctx context.Context, key string, ack *Ack) error
}
