// Package localdb is the device's durable store: pending and failed
// transactions, cached wallets, sync items, the cached catalog and the
// device identity, kept in one SQLite file.
//
// Records are stored as deterministic CBOR blobs next to the columns that
// are queried or ordered on.
package localdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/kislikjeka/festpay/internal/platform/balance"
	"github.com/kislikjeka/festpay/internal/platform/catalog"
	"github.com/kislikjeka/festpay/internal/platform/identity"
	"github.com/kislikjeka/festpay/internal/platform/queue"
	"github.com/kislikjeka/festpay/internal/platform/txn"
	"github.com/kislikjeka/festpay/pkg/codec"
)

const keyCatalog = "catalog"

// ErrDuplicate is returned when a record with the same ID or idempotency key exists
var ErrDuplicate = errors.New("record already exists")

// Store implements queue.Repository, identity.KeyValue and catalog.Store
type Store struct {
	pool *Pool
}

var (
	_ queue.Repository  = (*Store)(nil)
	_ identity.KeyValue = (*Store)(nil)
	_ catalog.Store     = (*Store)(nil)
)

// NewStore creates a store over an open pool
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// read runs fn inside a deferred transaction so every query sees one snapshot
func (s *Store) read(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	defer sqlitex.Transaction(conn)(&err)
	return fn(conn)
}

// write runs fn inside an immediate transaction
func (s *Store) write(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("failed to begin local transaction: %w", err)
	}
	defer end(&err)
	return fn(conn)
}

func columnBlob(stmt *sqlite.Stmt, col int) []byte {
	buf := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, buf)
	return buf
}

func isConstraint(err error) bool {
	switch sqlite.ErrCode(err) {
	case sqlite.ResultConstraintUnique, sqlite.ResultConstraintPrimaryKey:
		return true
	}
	return false
}

// =============================================================================
// Key/value
// =============================================================================

// Get reads a value by key
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT value FROM kv WHERE key = ?`, &sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = columnBlob(stmt, 0)
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, found, nil
}

// Set writes a value by key
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	err := s.write(ctx, func(conn *sqlite.Conn) error {
		return setKV(conn, key, value)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func setKV(conn *sqlite.Conn, key string, value []byte) error {
	return sqlitex.Execute(conn,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		&sqlitex.ExecOptions{Args: []any{key, value}})
}

// =============================================================================
// Catalog
// =============================================================================

// LoadCatalog reads the cached catalog snapshot
func (s *Store) LoadCatalog(ctx context.Context) (*catalog.Snapshot, bool, error) {
	raw, ok, err := s.Get(ctx, keyCatalog)
	if err != nil || !ok {
		return nil, false, err
	}
	var snap catalog.Snapshot
	if err := codec.Unmarshal(raw, &snap); err != nil {
		return nil, false, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return &snap, true, nil
}

// SaveCatalog replaces the cached catalog snapshot
func (s *Store) SaveCatalog(ctx context.Context, snap *catalog.Snapshot) error {
	raw, err := codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	return s.Set(ctx, keyCatalog, raw)
}

// =============================================================================
// Pending transactions
// =============================================================================

// InsertPending stores a new pending transaction
func (s *Store) InsertPending(ctx context.Context, tx *txn.PendingTransaction) error {
	raw, err := codec.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	err = s.write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO pending_transactions (id, wallet_id, idempotency_key, created_at, record)
			 VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				tx.ID.String(), tx.WalletID.String(), tx.IdempotencyKey, tx.CreatedAt.UnixMilli(), raw,
			}})
	})
	if isConstraint(err) {
		return fmt.Errorf("%w: transaction %s", ErrDuplicate, tx.ID)
	}
	return err
}

// GetPending reads one pending transaction
func (s *Store) GetPending(ctx context.Context, id uuid.UUID) (*txn.PendingTransaction, error) {
	var tx *txn.PendingTransaction
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		var err error
		tx, err = getPending(conn, id)
		return err
	})
	return tx, err
}

func getPending(conn *sqlite.Conn, id uuid.UUID) (*txn.PendingTransaction, error) {
	var tx *txn.PendingTransaction
	err := sqlitex.Execute(conn, `SELECT record FROM pending_transactions WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var err error
			tx, err = decodePending(columnBlob(stmt, 0))
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: %s", txn.ErrTransactionNotFound, id)
	}
	return tx, nil
}

func decodePending(raw []byte) (*txn.PendingTransaction, error) {
	var tx txn.PendingTransaction
	if err := codec.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return &tx, nil
}

func putPending(conn *sqlite.Conn, tx *txn.PendingTransaction) error {
	raw, err := codec.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	if err := sqlitex.Execute(conn, `UPDATE pending_transactions SET record = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{raw, tx.ID.String()}}); err != nil {
		return err
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: %s", txn.ErrTransactionNotFound, tx.ID)
	}
	return nil
}

// ListPending lists pending transactions oldest first
func (s *Store) ListPending(ctx context.Context, walletID *uuid.UUID) ([]*txn.PendingTransaction, error) {
	var txs []*txn.PendingTransaction
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		var err error
		txs, err = listPending(conn, walletID)
		return err
	})
	return txs, err
}

func listPending(conn *sqlite.Conn, walletID *uuid.UUID) ([]*txn.PendingTransaction, error) {
	query := `SELECT record FROM pending_transactions ORDER BY created_at, id`
	var args []any
	if walletID != nil {
		query = `SELECT record FROM pending_transactions WHERE wallet_id = ? ORDER BY created_at, id`
		args = []any{walletID.String()}
	}

	txs := make([]*txn.PendingTransaction, 0)
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			tx, err := decodePending(columnBlob(stmt, 0))
			if err != nil {
				return err
			}
			txs = append(txs, tx)
			return nil
		},
	})
	return txs, err
}

// CountPending counts pending transactions
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT COUNT(*) FROM pending_transactions`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	return n, err
}

// UpdatePendingRetry writes the sync-state of a pending transaction
func (s *Store) UpdatePendingRetry(ctx context.Context, id uuid.UUID, state queue.RetryState) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		tx, err := getPending(conn, id)
		if err != nil {
			return err
		}
		at := state.LastRetryAt
		tx.RetryCount = state.RetryCount
		tx.LastRetryAt = &at
		tx.Error = &state.Error
		tx.ErrorKind = txn.ErrorKind(state.Kind)
		return putPending(conn, tx)
	})
}

// AcknowledgeSynced deletes the pending transaction and stores the wallet
func (s *Store) AcknowledgeSynced(ctx context.Context, id uuid.UUID, wallet balance.CachedWallet) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		if err := deletePending(conn, id); err != nil {
			return err
		}
		return putWallet(conn, wallet)
	})
}

func deletePending(conn *sqlite.Conn, id uuid.UUID) error {
	if err := sqlitex.Execute(conn, `DELETE FROM pending_transactions WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id.String()}}); err != nil {
		return err
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: %s", txn.ErrTransactionNotFound, id)
	}
	return nil
}

// MoveToFailed inserts the failed record and deletes the pending transaction
func (s *Store) MoveToFailed(ctx context.Context, failed txn.FailedTransaction) error {
	raw, err := codec.Marshal(failed)
	if err != nil {
		return fmt.Errorf("failed to encode failed transaction: %w", err)
	}
	id := failed.Transaction.ID

	return s.write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn,
			`INSERT INTO failed_transactions (id, failed_at, record) VALUES (?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET failed_at = excluded.failed_at, record = excluded.record`,
			&sqlitex.ExecOptions{Args: []any{id.String(), failed.FailedAt.UnixMilli(), raw}}); err != nil {
			return err
		}
		return deletePending(conn, id)
	})
}

// =============================================================================
// Failed transactions
// =============================================================================

// ListFailed lists failed transactions, most recent first
func (s *Store) ListFailed(ctx context.Context) ([]txn.FailedTransaction, error) {
	failed := make([]txn.FailedTransaction, 0)
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT record FROM failed_transactions ORDER BY failed_at DESC, id`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					var f txn.FailedTransaction
					if err := codec.Unmarshal(columnBlob(stmt, 0), &f); err != nil {
						return fmt.Errorf("failed to decode failed transaction: %w", err)
					}
					failed = append(failed, f)
					return nil
				},
			})
	})
	return failed, err
}

// DeleteFailed removes a failed transaction
func (s *Store) DeleteFailed(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `DELETE FROM failed_transactions WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{id.String()}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("%w: %s", queue.ErrFailedNotFound, id)
		}
		return nil
	})
}

// =============================================================================
// Wallets
// =============================================================================

// GetWallet reads a cached wallet
func (s *Store) GetWallet(ctx context.Context, id uuid.UUID) (*balance.CachedWallet, bool, error) {
	var w *balance.CachedWallet
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		var err error
		w, err = getWallet(conn, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return w, w != nil, nil
}

func getWallet(conn *sqlite.Conn, id uuid.UUID) (*balance.CachedWallet, error) {
	var w *balance.CachedWallet
	err := sqlitex.Execute(conn, `SELECT record FROM wallets WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var cw balance.CachedWallet
			if err := codec.Unmarshal(columnBlob(stmt, 0), &cw); err != nil {
				return fmt.Errorf("failed to decode wallet: %w", err)
			}
			w = &cw
			return nil
		},
	})
	return w, err
}

// PutWallet stores a cached wallet
func (s *Store) PutWallet(ctx context.Context, w balance.CachedWallet) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		return putWallet(conn, w)
	})
}

func putWallet(conn *sqlite.Conn, w balance.CachedWallet) error {
	raw, err := codec.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to encode wallet: %w", err)
	}
	return sqlitex.Execute(conn,
		`INSERT INTO wallets (id, record) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET record = excluded.record`,
		&sqlitex.ExecOptions{Args: []any{w.ID.String(), raw}})
}

// WalletSnapshot reads a wallet and its pending transactions in one read transaction
func (s *Store) WalletSnapshot(ctx context.Context, walletID uuid.UUID) (*balance.CachedWallet, []*txn.PendingTransaction, error) {
	var (
		w   *balance.CachedWallet
		txs []*txn.PendingTransaction
	)
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		var err error
		if w, err = getWallet(conn, walletID); err != nil {
			return err
		}
		txs, err = listPending(conn, &walletID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return w, txs, nil
}

// =============================================================================
// Signing secret
// =============================================================================

// InstallSecret stores the secret and its origin and re-signs pending transactions
func (s *Store) InstallSecret(ctx context.Context, secret, origin []byte, signatures map[uuid.UUID]string) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		if err := setKV(conn, identity.KeySecret, secret); err != nil {
			return err
		}
		if err := setKV(conn, identity.KeySecretOrigin, origin); err != nil {
			return err
		}
		for id, sig := range signatures {
			tx, err := getPending(conn, id)
			if err != nil {
				return err
			}
			tx.Signature = sig
			tx.Provisional = false
			if err := putPending(conn, tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// Sync items
// =============================================================================

// InsertItem stores a new sync item
func (s *Store) InsertItem(ctx context.Context, item *queue.SyncItem) error {
	raw, err := codec.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode sync item: %w", err)
	}
	err = s.write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO sync_items (id, created_at, record) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{item.ID.String(), item.CreatedAt.UnixMilli(), raw}})
	})
	if isConstraint(err) {
		return fmt.Errorf("%w: sync item %s", ErrDuplicate, item.ID)
	}
	return err
}

// ListItems lists sync items oldest first
func (s *Store) ListItems(ctx context.Context) ([]*queue.SyncItem, error) {
	items := make([]*queue.SyncItem, 0)
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT record FROM sync_items ORDER BY created_at, id`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var item queue.SyncItem
				if err := codec.Unmarshal(columnBlob(stmt, 0), &item); err != nil {
					return fmt.Errorf("failed to decode sync item: %w", err)
				}
				items = append(items, &item)
				return nil
			},
		})
	})
	return items, err
}

// DeleteItem removes a sync item
func (s *Store) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `DELETE FROM sync_items WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{id.String()}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("%w: %s", queue.ErrItemNotFound, id)
		}
		return nil
	})
}

// UpdateItemRetry writes the sync-state of a sync item
func (s *Store) UpdateItemRetry(ctx context.Context, id uuid.UUID, state queue.RetryState) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		var item *queue.SyncItem
		err := sqlitex.Execute(conn, `SELECT record FROM sync_items WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var it queue.SyncItem
				if err := codec.Unmarshal(columnBlob(stmt, 0), &it); err != nil {
					return fmt.Errorf("failed to decode sync item: %w", err)
				}
				item = &it
				return nil
			},
		})
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("%w: %s", queue.ErrItemNotFound, id)
		}

		at := state.LastRetryAt
		item.RetryCount = state.RetryCount
		item.LastRetryAt = &at
		item.Error = &state.Error

		raw, err := codec.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode sync item: %w", err)
		}
		return sqlitex.Execute(conn, `UPDATE sync_items SET record = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{raw, id.String()}})
	})
}
