// Package sync drains the local queue against the remote ledger.
//
// Transactions of one wallet are submitted one at a time in creation
// order; different wallets drain concurrently. A failing item never aborts
// the drain: its failure is recorded on the item and in the drain result.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/festpay/internal/platform/queue"
	"github.com/kislikjeka/festpay/internal/platform/txn"
	"github.com/kislikjeka/festpay/pkg/logger"
)

// Engine is the sync engine. Drains are serialised.
type Engine struct {
	config *Config
	queue  Queue
	ledger Ledger
	retry  RetryPolicy
	logger *logger.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	running     bool
	cancelling  bool
	cancel      context.CancelFunc
	done        chan struct{}
	last        *Result
	reachable   Reachability
	provisioner Provisioner

	trigger chan struct{}
}

// Option configures an Engine
type Option func(*Engine)

// WithRetryPolicy replaces the fixed MinRetryDelay window
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a sync engine
func NewEngine(config *Config, q Queue, ledger Ledger, log *logger.Logger, opts ...Option) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	_ = config.Validate()

	e := &Engine{
		config:  config,
		queue:   q,
		ledger:  ledger,
		retry:   FixedDelay(config.MinRetryDelay),
		logger:  log.Component("sync"),
		now:     time.Now,
		state:   StateIdle,
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetReachability gates drains on r. Without it the engine always tries.
func (e *Engine) SetReachability(r Reachability) {
	e.mu.Lock()
	e.reachable = r
	e.mu.Unlock()
}

// SetProvisioner lets a drain fetch the signing secret first while the device
// has none. Without it provisional transactions wait for an explicit provisioning.
func (e *Engine) SetProvisioner(p Provisioner) {
	e.mu.Lock()
	e.provisioner = p
	e.mu.Unlock()
}

// Status returns the current state and the last drain result
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{State: e.state, LastResult: e.last}
}

// Trigger asks Run to drain. Requests made while a drain is pending coalesce.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Cancel stops the running drain after the current submission.
// The state returns to idle at once; unprocessed items are left for the next
// drain. A Drain called before the in-flight submission returns waits for it.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.cancel == nil || e.cancelling {
		return false
	}
	e.cancel()
	e.cancelling = true
	e.state = StateIdle
	e.logger.Info("sync cancelled")
	return true
}

// Run drains whenever Trigger is called and every PollInterval, until ctx is done
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("starting sync engine",
		"poll_interval", e.config.PollInterval,
		"concurrent_wallets", e.config.ConcurrentWallets,
		"max_retries", e.config.MaxRetries)

	var tick <-chan time.Time
	if e.config.PollInterval > 0 {
		ticker := time.NewTicker(e.config.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync engine stopping")
			return
		case <-e.trigger:
		case <-tick:
		}

		result, err := e.Drain(ctx)
		switch {
		case errors.Is(err, ErrSyncInProgress), errors.Is(err, ErrOffline):
			e.logger.Debug("drain skipped", "reason", err)
		case err != nil:
			e.logger.Error("drain failed", "error", err)
		case result.Err() != nil:
			e.logger.Warn("drain finished with failures", "error", result.Err())
		}
	}
}

// Drain runs one pass over the queue. It returns ErrSyncInProgress if a drain
// is already running and ErrOffline if the ledger is known to be unreachable;
// expired transactions are purged either way. Item failures are reported in
// the Result, not as an error.
func (e *Engine) Drain(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	for e.running {
		if !e.cancelling {
			e.mu.Unlock()
			return nil, ErrSyncInProgress
		}
		done := e.done
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		e.mu.Lock()
	}
	if e.reachable != nil && !e.reachable.Online() {
		e.mu.Unlock()
		e.purgeOffline(ctx)
		return nil, ErrOffline
	}
	dctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.running = true
	e.cancelling = false
	e.state = StateSyncing
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	result := &Result{StartedAt: e.now(), Errors: []ItemError{}}
	err := e.drain(dctx, result)
	result.finish(dctx.Err() != nil, e.now())
	cancel()

	e.mu.Lock()
	e.running = false
	e.cancelling = false
	e.state = StateIdle
	e.cancel = nil
	e.done = nil
	if err == nil {
		e.last = result
	}
	e.mu.Unlock()
	close(done)

	if err != nil {
		return nil, err
	}

	e.logger.Info("drain finished",
		"outcome", result.Outcome,
		"synced", result.Synced,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"held", result.Held,
		"expired", result.Expired,
		"duration", result.FinishedAt.Sub(result.StartedAt))
	return result, nil
}

func (e *Engine) drain(ctx context.Context, result *Result) error {
	expired, err := e.queue.PurgeExpired(ctx, e.config.MaxAge)
	if err != nil {
		return fmt.Errorf("failed to purge expired transactions: %w", err)
	}
	for _, f := range expired {
		result.Expired++
		result.Failed++
		result.Errors = append(result.Errors, ItemError{
			ID:       f.Transaction.ID,
			WalletID: f.Transaction.WalletID,
			Kind:     "transaction",
			Error:    txn.ErrTransactionExpired.Error(),
			Terminal: true,
			Reason:   txn.ReasonExpired,
		})
	}

	e.provision(ctx)

	pending, err := e.queue.ListPending(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to list pending transactions: %w", err)
	}

	e.drainTransactions(ctx, groupByWallet(pending), result)

	if ctx.Err() != nil {
		return nil
	}
	return e.drainItems(ctx, result)
}

// purgeOffline expires old transactions while the ledger is unreachable so
// they stop counting in the effective balance
func (e *Engine) purgeOffline(ctx context.Context) {
	expired, err := e.queue.PurgeExpired(ctx, e.config.MaxAge)
	if err != nil {
		e.logger.Error("failed to purge expired transactions", "error", err)
		return
	}
	if len(expired) > 0 {
		e.logger.Warn("expired transactions moved to failed while offline", "count", len(expired))
	}
}

// provision fetches a signing secret while the device has none, so
// provisional transactions are signed before this drain reaches them
func (e *Engine) provision(ctx context.Context) {
	e.mu.Lock()
	p := e.provisioner
	e.mu.Unlock()
	if p == nil || p.Provisioned() {
		return
	}

	pctx, cancel := context.WithTimeout(ctx, e.config.SubmitTimeout)
	defer cancel()
	resigned, err := p.Provision(pctx)
	if err != nil {
		e.logger.Warn("provisioning failed, unsigned transactions stay held", "error", err)
		return
	}
	e.logger.Info("device provisioned before drain", "resigned", resigned)
}

// groupByWallet splits pending transactions per wallet. Both the wallets and
// the transactions inside each keep the oldest-first order of pending.
func groupByWallet(pending []*txn.PendingTransaction) [][]*txn.PendingTransaction {
	index := make(map[uuid.UUID]int)
	var groups [][]*txn.PendingTransaction
	for _, tx := range pending {
		i, ok := index[tx.WalletID]
		if !ok {
			i = len(groups)
			index[tx.WalletID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], tx)
	}
	return groups
}

func (e *Engine) drainTransactions(ctx context.Context, groups [][]*txn.PendingTransaction, result *Result) {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, e.config.ConcurrentWallets)
	)

	for _, group := range groups {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(group []*txn.PendingTransaction) {
			defer wg.Done()
			defer func() { <-sem }()

			for _, tx := range group {
				if ctx.Err() != nil {
					return
				}
				outcome := e.processTransaction(ctx, tx)
				mu.Lock()
				outcome.apply(result)
				mu.Unlock()
			}
		}(group)
	}
	wg.Wait()
}

type txOutcome struct {
	synced, failed, skipped, held bool
	itemErr                       *ItemError
}

func (o txOutcome) apply(r *Result) {
	switch {
	case o.synced:
		r.Synced++
	case o.failed:
		r.Failed++
	case o.skipped:
		r.Skipped++
	case o.held:
		r.Held++
	}
	if o.itemErr != nil {
		r.Errors = append(r.Errors, *o.itemErr)
	}
}

func (e *Engine) processTransaction(ctx context.Context, tx *txn.PendingTransaction) txOutcome {
	log := e.logger.With("tx_id", tx.ID, "wallet_id", tx.WalletID)

	if tx.Provisional {
		log.Debug("holding unsigned transaction until a secret is provisioned")
		return txOutcome{held: true}
	}

	if !ready(e.retry, tx.RetryCount, tx.LastRetryAt, e.now()) {
		return txOutcome{skipped: true}
	}

	if tx.RetryCount >= e.config.MaxRetries {
		detail := fmt.Sprintf("gave up after %d attempts", tx.RetryCount)
		if tx.Error != nil {
			detail += ": " + *tx.Error
		}
		return e.fail(ctx, tx, txn.ReasonMaxRetries, detail)
	}

	// The submission is not cancellable once sent; only its own timeout ends it.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.SubmitTimeout)
	ack, err := e.ledger.SubmitTransaction(sctx, tx)
	cancel()

	switch {
	case err == nil:
		if mErr := e.queue.MarkSynced(context.WithoutCancel(ctx), tx.ID, ack.Balance); mErr != nil {
			log.Error("failed to mark transaction synced", "error", mErr)
			return txOutcome{failed: true, itemErr: &ItemError{
				ID: tx.ID, WalletID: tx.WalletID, Kind: "transaction", Error: mErr.Error(),
			}}
		}
		if ack.Status == AckDuplicate {
			log.Info("ledger already had transaction")
		}
		return txOutcome{synced: true}

	case errors.Is(err, txn.ErrSubmissionRejected):
		return e.fail(ctx, tx, txn.ReasonRejected, err.Error())

	default:
		cause := fmt.Errorf("%w: %v", txn.ErrSubmissionFailed, err)
		if rErr := e.queue.RecordFailure(context.WithoutCancel(ctx), tx.ID, cause); rErr != nil {
			log.Error("failed to record sync failure", "error", rErr)
		}
		return txOutcome{failed: true, itemErr: &ItemError{
			ID: tx.ID, WalletID: tx.WalletID, Kind: "transaction", Error: cause.Error(),
		}}
	}
}

func (e *Engine) fail(ctx context.Context, tx *txn.PendingTransaction, reason txn.FailureReason, detail string) txOutcome {
	if _, err := e.queue.MarkFailed(context.WithoutCancel(ctx), tx.ID, reason, detail); err != nil {
		e.logger.Error("failed to mark transaction failed", "tx_id", tx.ID, "error", err)
	}
	return txOutcome{failed: true, itemErr: &ItemError{
		ID:       tx.ID,
		WalletID: tx.WalletID,
		Kind:     "transaction",
		Error:    fmt.Sprintf("%v: %s", reason.Err(), detail),
		Terminal: true,
		Reason:   reason,
	}}
}

func (e *Engine) drainItems(ctx context.Context, result *Result) error {
	items, err := e.queue.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sync items: %w", err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return nil
		}
		e.processItem(ctx, item, result)
	}
	return nil
}

func (e *Engine) processItem(ctx context.Context, item *queue.SyncItem, result *Result) {
	if !ready(e.retry, item.RetryCount, item.LastRetryAt, e.now()) {
		result.Skipped++
		return
	}

	bg := context.WithoutCancel(ctx)
	if item.RetryCount >= e.config.MaxRetries {
		_ = e.queue.DiscardItem(bg, item.ID, txn.ErrMaxRetriesExceeded.Error())
		result.ItemsFailed++
		result.Errors = append(result.Errors, ItemError{
			ID:       item.ID,
			Kind:     item.Kind,
			Error:    txn.ErrMaxRetriesExceeded.Error(),
			Terminal: true,
			Reason:   txn.ReasonMaxRetries,
		})
		return
	}

	sctx, cancel := context.WithTimeout(bg, e.config.SubmitTimeout)
	err := e.ledger.SubmitItem(sctx, item)
	cancel()

	switch {
	case err == nil:
		if err := e.queue.MarkItemSynced(bg, item.ID); err != nil {
			e.logger.Error("failed to mark sync item synced", "item_id", item.ID, "error", err)
		}
		result.ItemsSynced++
	case errors.Is(err, txn.ErrSubmissionRejected):
		_ = e.queue.DiscardItem(bg, item.ID, err.Error())
		result.ItemsFailed++
		result.Errors = append(result.Errors, ItemError{
			ID: item.ID, Kind: item.Kind, Error: err.Error(), Terminal: true, Reason: txn.ReasonRejected,
		})
	default:
		cause := fmt.Errorf("%w: %v", txn.ErrSubmissionFailed, err)
		if rErr := e.queue.RecordItemFailure(bg, item, cause); rErr != nil {
			e.logger.Error("failed to record sync item failure", "item_id", item.ID, "error", rErr)
		}
		result.ItemsFailed++
		result.Errors = append(result.Errors, ItemError{ID: item.ID, Kind: item.Kind, Error: cause.Error()})
	}
}
