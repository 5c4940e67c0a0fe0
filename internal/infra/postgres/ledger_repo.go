package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/festpay/internal/ledger"
	"github.com/kislikjeka/festpay/internal/platform/txn"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// LedgerRepository implements ledger.Repository using PostgreSQL
type LedgerRepository struct {
	pool *pgxpool.Pool
}

var _ ledger.Repository = (*LedgerRepository)(nil)

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Wallet operations

// CreateWallet inserts a new wallet
func (r *LedgerRepository) CreateWallet(ctx context.Context, w *ledger.Wallet) error {
	query := `
		INSERT INTO wallets (id, user_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	q := r.getQueryer(ctx)
	_, err := q.Exec(ctx, query, w.ID, w.UserID, w.Balance, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return ledger.ErrDuplicate
		}
		if isPgError(err, pgCheckViolation) {
			return ledger.ErrNegativeBalance
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

// GetWallet retrieves a wallet by ID
func (r *LedgerRepository) GetWallet(ctx context.Context, id uuid.UUID) (*ledger.Wallet, error) {
	return r.getWallet(ctx, id, false)
}

// GetWalletForUpdate retrieves a wallet and locks its row until the transaction ends
func (r *LedgerRepository) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*ledger.Wallet, error) {
	if r.getTxFromContext(ctx) == nil {
		return nil, fmt.Errorf("GetWalletForUpdate requires a transaction")
	}
	return r.getWallet(ctx, id, true)
}

func (r *LedgerRepository) getWallet(ctx context.Context, id uuid.UUID, forUpdate bool) (*ledger.Wallet, error) {
	query := `
		SELECT id, user_id, balance, created_at, updated_at
		FROM wallets
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var w ledger.Wallet
	err := r.getQueryer(ctx).QueryRow(ctx, query, id).Scan(
		&w.ID,
		&w.UserID,
		&w.Balance,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	return &w, nil
}

// UpdateWalletBalance sets a wallet's balance
func (r *LedgerRepository) UpdateWalletBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal, at time.Time) error {
	if balance.IsNegative() {
		return ledger.ErrNegativeBalance
	}

	query := `
		UPDATE wallets
		SET balance = $2, updated_at = $3
		WHERE id = $1
	`

	tag, err := r.getQueryer(ctx).Exec(ctx, query, id, balance, at)
	if err != nil {
		if isPgError(err, pgCheckViolation) {
			return ledger.ErrNegativeBalance
		}
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrWalletNotFound
	}

	return nil
}

// Transaction operations

// InsertTransaction stores an applied transaction
func (r *LedgerRepository) InsertTransaction(ctx context.Context, tx *ledger.Transaction) error {
	items := tx.Items
	if items == nil {
		items = []txn.Item{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}

	query := `
		INSERT INTO transactions (
			id, client_id, type, amount, wallet_id, user_id, stand_id, description, items,
			idempotency_key, device_id, signature, created_at, recorded_at, balance_after
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.getQueryer(ctx).Exec(ctx, query,
		tx.ID,
		tx.ClientID,
		string(tx.Type),
		tx.Amount,
		tx.WalletID,
		tx.UserID,
		tx.StandID,
		tx.Description,
		itemsJSON,
		tx.IdempotencyKey,
		tx.DeviceID,
		tx.Signature,
		tx.CreatedAt,
		tx.RecordedAt,
		tx.BalanceAfter,
	)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return ledger.ErrDuplicate
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return nil
}

// GetTransactionByKey retrieves a transaction by its idempotency key
func (r *LedgerRepository) GetTransactionByKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	query := `
		SELECT id, client_id, type, amount, wallet_id, user_id, stand_id, description, items,
		       idempotency_key, device_id, signature, created_at, recorded_at, balance_after
		FROM transactions
		WHERE idempotency_key = $1
	`

	var tx ledger.Transaction
	var txType string
	var itemsJSON []byte

	err := r.getQueryer(ctx).QueryRow(ctx, query, key).Scan(
		&tx.ID,
		&tx.ClientID,
		&txType,
		&tx.Amount,
		&tx.WalletID,
		&tx.UserID,
		&tx.StandID,
		&tx.Description,
		&itemsJSON,
		&tx.IdempotencyKey,
		&tx.DeviceID,
		&tx.Signature,
		&tx.CreatedAt,
		&tx.RecordedAt,
		&tx.BalanceAfter,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	tx.Type = txn.Type(txType)
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &tx.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal items: %w", err)
		}
	}
	if len(tx.Items) == 0 {
		tx.Items = nil
	}

	return &tx, nil
}

// InsertItem stores a generic sync item
func (r *LedgerRepository) InsertItem(ctx context.Context, item *ledger.Item) error {
	query := `
		INSERT INTO sync_items (id, kind, payload, device_id, created_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.getQueryer(ctx).Exec(ctx, query,
		item.ID,
		item.Kind,
		item.Payload,
		item.DeviceID,
		item.CreatedAt,
		item.RecordedAt,
	)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return ledger.ErrDuplicate
		}
		return fmt.Errorf("failed to insert sync item: %w", err)
	}

	return nil
}

// Transaction management
// Transactions are stored in context using txContextKey

type ctxKey string

const txContextKey ctxKey = "ledger_tx"

// BeginTx starts a new database transaction and stores it in the context
func (r *LedgerRepository) BeginTx(ctx context.Context) (context.Context, error) {
	if tx := r.getTxFromContext(ctx); tx != nil {
		return ctx, fmt.Errorf("transaction already in progress")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return context.WithValue(ctx, txContextKey, tx), nil
}

// CommitTx commits the database transaction from the context
func (r *LedgerRepository) CommitTx(ctx context.Context) error {
	tx := r.getTxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// RollbackTx rolls back the database transaction from the context.
// Rolling back a finished transaction is a no-op.
func (r *LedgerRepository) RollbackTx(ctx context.Context) error {
	tx := r.getTxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}

	if err := tx.Rollback(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return nil
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	return nil
}

func (r *LedgerRepository) getTxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// getQueryer returns the transaction if one exists in context, otherwise returns the pool
func (r *LedgerRepository) getQueryer(ctx context.Context) interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
} {
	if tx := r.getTxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// isPgError checks if err is a PostgreSQL error with the given SQLSTATE code
func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
