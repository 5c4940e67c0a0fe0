// Package pos is the command surface the point-of-sale UI talks to. The UI
// never sees signatures, idempotency keys or retry counters.
package pos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/festpay/internal/platform/balance"
	"github.com/kislikjeka/festpay/internal/platform/catalog"
	"github.com/kislikjeka/festpay/internal/platform/netmon"
	"github.com/kislikjeka/festpay/internal/platform/queue"
	pkgsync "github.com/kislikjeka/festpay/internal/platform/sync"
	"github.com/kislikjeka/festpay/internal/platform/txn"
	"github.com/kislikjeka/festpay/pkg/logger"
)

var (
	ErrNetworkUnavailable = errors.New("network monitor not configured")
	ErrInvalidWalletID    = errors.New("invalid wallet ID")
)

var _ pkgsync.Provisioner = (*Service)(nil)

// Service wires the queue, factory, engine and monitor into UI operations
type Service struct {
	queue   Queue
	factory Factory
	syncer  Syncer
	ledger  Ledger
	catalog Catalog
	network Network
	links   LinkReporter
	limit   decimal.Decimal
	logger  *logger.Logger
	now     func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithNetwork exposes reachability and accepts link reports from the host
func WithNetwork(n Network, links LinkReporter) Option {
	return func(s *Service) {
		s.network = n
		s.links = links
	}
}

// WithQRSpendLimit caps what a scanned wallet may spend offline
func WithQRSpendLimit(limit decimal.Decimal) Option {
	return func(s *Service) { s.limit = limit }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the point-of-sale service
func NewService(q Queue, f Factory, syncer Syncer, ledger Ledger, cat Catalog, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		queue:   q,
		factory: f,
		syncer:  syncer,
		ledger:  ledger,
		catalog: cat,
		limit:   decimal.Zero,
		logger:  log.Component("pos"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EffectiveBalance returns the balance to show for a wallet
func (s *Service) EffectiveBalance(ctx context.Context, walletID uuid.UUID) (balance.EffectiveBalance, error) {
	if walletID == uuid.Nil {
		return balance.EffectiveBalance{}, ErrInvalidWalletID
	}
	return s.queue.EffectiveBalance(ctx, walletID)
}

// PendingCount returns how many transactions are waiting for the ledger
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	return s.queue.PendingCount(ctx)
}

// Payment is the outcome of a queued payment
type Payment struct {
	Transaction *txn.PendingTransaction  `json:"transaction"`
	Balance     balance.EffectiveBalance `json:"balance"`
}

// EnqueuePayment validates, signs and queues a payment, then asks the engine
// to drain. Creation errors such as txn.ErrInsufficientFunds are returned as is
// and nothing is queued.
func (s *Service) EnqueuePayment(ctx context.Context, in txn.Input) (*Payment, error) {
	tx, eff, err := s.queue.Submit(ctx, in.WalletID, func(current decimal.Decimal) (*txn.PendingTransaction, error) {
		return s.factory.Create(ctx, in, current)
	})
	if err != nil {
		return nil, err
	}

	s.syncer.Trigger()
	return &Payment{Transaction: tx, Balance: eff}, nil
}

// TriggerSync drains the queue now and returns the batch result
func (s *Service) TriggerSync(ctx context.Context) (*pkgsync.Result, error) {
	return s.syncer.Drain(ctx)
}

// RequestSync asks the engine to drain in the background
func (s *Service) RequestSync() {
	s.syncer.Trigger()
}

// CancelSync stops a running drain after the current submission
func (s *Service) CancelSync() bool {
	return s.syncer.Cancel()
}

// SyncStatus returns the engine state and last drain result
func (s *Service) SyncStatus() pkgsync.Status {
	return s.syncer.Status()
}

// ListPending lists queued transactions, optionally for one wallet
func (s *Service) ListPending(ctx context.Context, walletID *uuid.UUID) ([]*txn.PendingTransaction, error) {
	return s.queue.ListPending(ctx, walletID)
}

// ListFailed lists transactions that need attention
func (s *Service) ListFailed(ctx context.Context) ([]txn.FailedTransaction, error) {
	return s.queue.ListFailed(ctx)
}

// DismissFailed acknowledges a failed transaction and removes it
func (s *Service) DismissFailed(ctx context.Context, id uuid.UUID) error {
	return s.queue.DismissFailed(ctx, id)
}

// ValidateQR checks a scanned wallet code against local state only
func (s *Service) ValidateQR(ctx context.Context, payload string) (balance.QRValidationResult, error) {
	p, err := balance.ParseQR(payload)
	if err != nil {
		return balance.QRValidationResult{Reason: balance.QRReasonMalformed, MaxSpend: decimal.Zero}, nil
	}

	wallet := balance.CachedWallet{ID: p.WalletID, Balance: decimal.Zero}
	cached, ok, err := s.queue.Wallet(ctx, p.WalletID)
	if err != nil {
		return balance.QRValidationResult{}, err
	}
	if ok {
		wallet = *cached
	}

	pending, err := s.queue.ListPending(ctx, &p.WalletID)
	if err != nil {
		return balance.QRValidationResult{}, err
	}

	result := balance.ValidateQR(payload, wallet, balance.DeltasOf(pending), s.limit, s.now())
	if !result.Valid {
		s.logger.Info("wallet code refused", "wallet_id", p.WalletID, "reason", result.Reason)
	}
	return result, nil
}

// Provision fetches a signing secret from the ledger and installs it,
// re-signing every queued transaction. It returns how many were re-signed.
func (s *Service) Provision(ctx context.Context) (int, error) {
	secret, err := s.ledger.Provision(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to provision signing secret: %w", err)
	}

	resigned, err := s.queue.InstallSecret(ctx, secret, true)
	if err != nil {
		return 0, err
	}

	if resigned > 0 {
		s.syncer.Trigger()
	}
	return resigned, nil
}

// Provisioned reports whether the device holds a ledger-issued secret
func (s *Service) Provisioned() bool {
	return s.queue.Provisioned()
}

// RefreshWallet replaces the cached wallet with the ledger's current state
func (s *Service) RefreshWallet(ctx context.Context, walletID uuid.UUID) (balance.EffectiveBalance, error) {
	if walletID == uuid.Nil {
		return balance.EffectiveBalance{}, ErrInvalidWalletID
	}

	w, err := s.ledger.FetchWallet(ctx, walletID)
	if err != nil {
		return balance.EffectiveBalance{}, fmt.Errorf("failed to fetch wallet: %w", err)
	}
	if err := s.queue.RefreshWallet(ctx, *w); err != nil {
		return balance.EffectiveBalance{}, err
	}
	return s.queue.EffectiveBalance(ctx, walletID)
}

// Catalog returns the cached catalog, nil before the first load
func (s *Service) Catalog() *catalog.Snapshot {
	return s.catalog.Snapshot()
}

// RefreshCatalog pulls the catalog from the ledger and reports whether it changed
func (s *Service) RefreshCatalog(ctx context.Context) (bool, error) {
	return s.catalog.Refresh(ctx, s.ledger)
}

// QueueItem queues a non-payment record for the ledger
func (s *Service) QueueItem(ctx context.Context, kind string, payload []byte) (*queue.SyncItem, error) {
	item, err := s.queue.EnqueueItem(ctx, kind, payload)
	if err != nil {
		return nil, err
	}
	s.syncer.Trigger()
	return item, nil
}

// NetworkStatus returns the monitor's last observation
func (s *Service) NetworkStatus() (netmon.Status, error) {
	if s.network == nil {
		return netmon.Status{}, ErrNetworkUnavailable
	}
	return s.network.Status(), nil
}

// CheckNetwork probes the ledger now
func (s *Service) CheckNetwork(ctx context.Context) (netmon.Status, error) {
	if s.network == nil {
		return netmon.Status{}, ErrNetworkUnavailable
	}
	s.network.ForceCheck(ctx)
	return s.network.Status(), nil
}

// ReportLink records a connectivity change reported by the host
func (s *Service) ReportLink(c netmon.Connectivity) error {
	if s.links == nil {
		return ErrNetworkUnavailable
	}
	s.logger.Info("link reported", "connected", c.Connected, "link", c.Link)
	s.links.Set(c)
	return nil
}
