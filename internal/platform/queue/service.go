// Package queue is the local store of offline transactions waiting for the
// ledger. It is the only place the pending set and cached balances change.
//
// Every mutation is serialised by one writer lock. Readers go straight to
// the repository, which serves consistent snapshots.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/festpay/internal/platform/balance"
	"github.com/kislikjeka/festpay/internal/platform/identity"
	"github.com/kislikjeka/festpay/internal/platform/signing"
	"github.com/kislikjeka/festpay/internal/platform/txn"
	"github.com/kislikjeka/festpay/pkg/logger"
)

// Queue is the single-writer front of the local store
type Queue struct {
	repo    Repository
	secrets SecretHolder
	logger  *logger.Logger
	now     func() time.Time

	mu sync.Mutex
}

// Option configures a Queue
type Option func(*Queue)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a queue over repo. secrets is updated after a new signing
// secret has been persisted by InstallSecret.
func New(repo Repository, secrets SecretHolder, log *logger.Logger, opts ...Option) *Queue {
	q := &Queue{
		repo:    repo,
		secrets: secrets,
		logger:  log.Component("queue"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends tx to the pending set and returns the wallet's new effective balance
func (q *Queue) Enqueue(ctx context.Context, tx *txn.PendingTransaction) (balance.EffectiveBalance, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.repo.InsertPending(ctx, tx); err != nil {
		return balance.EffectiveBalance{}, fmt.Errorf("failed to enqueue transaction: %w", err)
	}

	q.logger.Info("transaction queued",
		"tx_id", tx.ID,
		"wallet_id", tx.WalletID,
		"type", tx.Type,
		"amount", tx.Amount.String(),
		"provisional", tx.Provisional,
	)

	return q.EffectiveBalance(ctx, tx.WalletID)
}

// Submit reads the wallet's effective balance, builds a transaction from it
// and enqueues the result, all under the writer lock. Two concurrent
// payments therefore cannot both pass the overdraft check.
func (q *Queue) Submit(ctx context.Context, walletID uuid.UUID, build Builder) (*txn.PendingTransaction, balance.EffectiveBalance, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.EffectiveBalance(ctx, walletID)
	if err != nil {
		return nil, balance.EffectiveBalance{}, err
	}

	tx, err := build(current.Effective)
	if err != nil {
		return nil, current, err
	}
	if tx.WalletID != walletID {
		return nil, current, ErrWalletMismatch
	}

	if err := q.repo.InsertPending(ctx, tx); err != nil {
		return nil, current, fmt.Errorf("failed to enqueue transaction: %w", err)
	}

	q.logger.Info("transaction queued",
		"tx_id", tx.ID,
		"wallet_id", tx.WalletID,
		"type", tx.Type,
		"amount", tx.Amount.String(),
		"provisional", tx.Provisional,
	)

	eff, err := q.EffectiveBalance(ctx, walletID)
	if err != nil {
		return tx, current, err
	}
	return tx, eff, nil
}

// ListPending returns pending transactions oldest first. A nil walletID lists all wallets.
func (q *Queue) ListPending(ctx context.Context, walletID *uuid.UUID) ([]*txn.PendingTransaction, error) {
	txs, err := q.repo.ListPending(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	return txs, nil
}

// PendingCount returns the number of unsynced transactions
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	n, err := q.repo.CountPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending transactions: %w", err)
	}
	return n, nil
}

// EffectiveBalance computes the wallet's effective balance from one
// consistent snapshot. An uncached wallet has a confirmed balance of zero.
func (q *Queue) EffectiveBalance(ctx context.Context, walletID uuid.UUID) (balance.EffectiveBalance, error) {
	w, pending, err := q.repo.WalletSnapshot(ctx, walletID)
	if err != nil {
		return balance.EffectiveBalance{}, fmt.Errorf("failed to read wallet snapshot: %w", err)
	}

	wallet := balance.CachedWallet{ID: walletID, Balance: decimal.Zero}
	if w != nil {
		wallet = *w
	}
	return balance.Resolve(wallet, balance.DeltasOf(pending)), nil
}

// Wallet returns the cached wallet
func (q *Queue) Wallet(ctx context.Context, walletID uuid.UUID) (*balance.CachedWallet, bool, error) {
	w, ok, err := q.repo.GetWallet(ctx, walletID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, ok, nil
}

// MarkSynced removes an acknowledged transaction. confirmed is the
// authoritative balance from the acknowledgment, if the ledger sent one;
// otherwise the transaction's amount is folded into the cached balance.
// Either way the removal and the balance update happen together.
func (q *Queue) MarkSynced(ctx context.Context, id uuid.UUID, confirmed *decimal.Decimal) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.repo.GetPending(ctx, id)
	if err != nil {
		return err
	}

	wallet, ok, err := q.repo.GetWallet(ctx, tx.WalletID)
	if err != nil {
		return fmt.Errorf("failed to get wallet: %w", err)
	}
	if !ok {
		wallet = &balance.CachedWallet{ID: tx.WalletID, UserID: tx.UserID, Balance: decimal.Zero}
	}

	if confirmed != nil {
		wallet.Balance = *confirmed
	} else {
		wallet.Balance = wallet.Balance.Add(tx.Amount)
	}
	wallet.UpdatedAt = q.now().UTC()

	if err := q.repo.AcknowledgeSynced(ctx, id, *wallet); err != nil {
		return fmt.Errorf("failed to acknowledge transaction: %w", err)
	}

	q.logger.Info("transaction synced",
		"tx_id", id,
		"wallet_id", tx.WalletID,
		"balance", wallet.Balance.String(),
		"confirmed", confirmed != nil,
	)
	return nil
}

// RecordFailure keeps the transaction queued and bumps its retry state
func (q *Queue) RecordFailure(ctx context.Context, id uuid.UUID, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.repo.GetPending(ctx, id)
	if err != nil {
		return err
	}

	state := RetryState{
		RetryCount:  tx.RetryCount + 1,
		LastRetryAt: q.now().UTC(),
		Error:       errorText(cause),
		Kind:        string(errorKind(cause)),
	}
	if err := q.repo.UpdatePendingRetry(ctx, id, state); err != nil {
		return fmt.Errorf("failed to record sync failure: %w", err)
	}

	q.logger.Warn("transaction sync failed",
		"tx_id", id,
		"retry_count", state.RetryCount,
		"error", state.Error,
	)
	return nil
}

// MarkFailed moves the transaction to the failed set. It will not be retried.
func (q *Queue) MarkFailed(ctx context.Context, id uuid.UUID, reason txn.FailureReason, detail string) (*txn.FailedTransaction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.repo.GetPending(ctx, id)
	if err != nil {
		return nil, err
	}
	return q.moveToFailed(ctx, tx, reason, detail)
}

func (q *Queue) moveToFailed(ctx context.Context, tx *txn.PendingTransaction, reason txn.FailureReason, detail string) (*txn.FailedTransaction, error) {
	failed := txn.FailedTransaction{
		Transaction: *tx,
		Reason:      reason,
		Detail:      detail,
		FailedAt:    q.now().UTC(),
	}
	if err := q.repo.MoveToFailed(ctx, failed); err != nil {
		return nil, fmt.Errorf("failed to move transaction to failed: %w", err)
	}

	q.logger.Error("transaction failed permanently",
		"tx_id", tx.ID,
		"wallet_id", tx.WalletID,
		"reason", reason,
		"detail", detail,
	)
	return &failed, nil
}

// PurgeExpired moves every pending transaction older than maxAge to the
// failed set as TransactionExpired and returns those records
func (q *Queue) PurgeExpired(ctx context.Context, maxAge time.Duration) ([]txn.FailedTransaction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err := q.repo.ListPending(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}

	cutoff := q.now().Add(-maxAge)
	var expired []txn.FailedTransaction
	for _, tx := range pending {
		if !tx.CreatedAt.Before(cutoff) {
			continue
		}
		detail := fmt.Sprintf("created %s, older than %s", signing.FormatTime(tx.CreatedAt), maxAge)
		failed, err := q.moveToFailed(ctx, tx, txn.ReasonExpired, detail)
		if err != nil {
			return expired, err
		}
		expired = append(expired, *failed)
	}
	return expired, nil
}

// ListFailed returns transactions that need the user's attention
func (q *Queue) ListFailed(ctx context.Context) ([]txn.FailedTransaction, error) {
	failed, err := q.repo.ListFailed(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed transactions: %w", err)
	}
	return failed, nil
}

// DismissFailed removes an acknowledged failure
func (q *Queue) DismissFailed(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.repo.DeleteFailed(ctx, id); err != nil {
		return err
	}
	q.logger.Info("failed transaction dismissed", "tx_id", id)
	return nil
}

// RefreshWallet overwrites the cached wallet with a server-confirmed state
func (q *Queue) RefreshWallet(ctx context.Context, w balance.CachedWallet) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = q.now().UTC()
	}
	if err := q.repo.PutWallet(ctx, w); err != nil {
		return fmt.Errorf("failed to cache wallet: %w", err)
	}
	return nil
}

// InstallSecret persists a new signing secret and re-signs every pending
// transaction with it in the same local transaction, then hands the secret
// to the in-memory identity. Provisional transactions become signed.
func (q *Queue) InstallSecret(ctx context.Context, secret []byte, provisioned bool) (int, error) {
	if err := identity.ValidateSecret(secret); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err := q.repo.ListPending(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending transactions: %w", err)
	}

	signatures := make(map[uuid.UUID]string, len(pending))
	for _, tx := range pending {
		signatures[tx.ID] = signing.Digest(secret, tx.Fields())
	}

	if err := q.repo.InstallSecret(ctx, secret, identity.OriginValue(provisioned), signatures); err != nil {
		return 0, fmt.Errorf("failed to install signing secret: %w", err)
	}
	if err := q.secrets.Adopt(secret, provisioned); err != nil {
		return 0, err
	}

	q.logger.Info("signing secret installed",
		"provisioned", provisioned,
		"resigned", len(signatures),
	)
	return len(signatures), nil
}

// Provisioned reports whether the installed secret was issued by the ledger
func (q *Queue) Provisioned() bool {
	return q.secrets.Provisioned()
}

// EnqueueItem queues a non-payment record for the ledger
func (q *Queue) EnqueueItem(ctx context.Context, kind string, payload []byte) (*SyncItem, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return nil, ErrInvalidKind
	}

	item := &SyncItem{
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: q.now().UTC().Truncate(time.Millisecond),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.repo.InsertItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to enqueue sync item: %w", err)
	}
	q.logger.Info("sync item queued", "item_id", item.ID, "kind", kind)
	return item, nil
}

// ListItems returns queued sync items oldest first
func (q *Queue) ListItems(ctx context.Context) ([]*SyncItem, error) {
	items, err := q.repo.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync items: %w", err)
	}
	return items, nil
}

// MarkItemSynced removes a delivered sync item
func (q *Queue) MarkItemSynced(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.repo.DeleteItem(ctx, id)
}

// DiscardItem drops a sync item that can never be delivered
func (q *Queue) DiscardItem(ctx context.Context, id uuid.UUID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.repo.DeleteItem(ctx, id); err != nil {
		return err
	}
	q.logger.Error("sync item discarded", "item_id", id, "reason", reason)
	return nil
}

// RecordItemFailure bumps a sync item's retry state
func (q *Queue) RecordItemFailure(ctx context.Context, item *SyncItem, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	state := RetryState{
		RetryCount:  item.RetryCount + 1,
		LastRetryAt: q.now().UTC(),
		Error:       errorText(cause),
		Kind:        string(errorKind(cause)),
	}
	if err := q.repo.UpdateItemRetry(ctx, item.ID, state); err != nil {
		return fmt.Errorf("failed to record sync item failure: %w", err)
	}
	return nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func errorKind(err error) txn.ErrorKind {
	if errors.Is(err, txn.ErrSubmissionRejected) {
		return txn.ErrorKindRejected
	}
	return txn.ErrorKindTransport
}
