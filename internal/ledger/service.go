package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/festpay/internal/platform/signing"
	"github.com/kislikjeka/festpay/pkg/logger"
)

// Service applies device submissions to wallets
type Service struct {
	repo    Repository
	cache   AckCache
	secrets *SecretDeriver
	logger  *logger.Logger
	now     func() time.Time
}

// Option configures the service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new ledger service. cache may be nil.
func NewService(repo Repository, cache AckCache, secrets *SecretDeriver, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		cache:   cache,
		secrets: secrets,
		logger:  log.Component("ledger"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProvisionSecret returns the signing secret for a device
func (s *Service) ProvisionSecret(deviceID string) ([]byte, error) {
	return s.secrets.ProvisionSecret(deviceID)
}

// Submit applies a signed transaction exactly once per idempotency key.
//
// Steps:
// 1. Validate the submission shape
// 2. Verify the signature with the device's derived secret
// 3. Answer from the ack cache if the key was seen
// 4. Apply under a wallet row lock, refusing negative balances
// 5. Cache the acknowledgment
func (s *Service) Submit(ctx context.Context, sub *Submission) (*Ack, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	secret, err := s.secrets.ProvisionSecret(sub.DeviceID)
	if err != nil {
		return nil, err
	}
	if !signing.VerifyWith(secret, sub.Fields(), sub.Signature) {
		s.logger.Warn("signature mismatch",
			"device_id", sub.DeviceID,
			"transaction_id", sub.ID,
			"idempotency_key", sub.IdempotencyKey)
		return nil, ErrSignatureMismatch
	}

	if ack, ok := s.cachedAck(ctx, sub); ok {
		if ack.ClientID != sub.ID {
			return nil, ErrIdempotencyConflict
		}
		return s.duplicate(ctx, ack), nil
	}

	ack, err := s.apply(ctx, sub)
	if err != nil {
		return nil, err
	}

	s.storeAck(ctx, sub.IdempotencyKey, ack)
	return ack, nil
}

func (s *Service) apply(ctx context.Context, sub *Submission) (*Ack, error) {
	txCtx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer s.repo.RollbackTx(txCtx)

	existing, err := s.repo.GetTransactionByKey(txCtx, sub.IdempotencyKey)
	switch {
	case err == nil:
		return s.existingAck(txCtx, existing, sub)
	case !errors.Is(err, ErrTransactionNotFound):
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	wallet, err := s.repo.GetWalletForUpdate(txCtx, sub.WalletID)
	if err != nil {
		return nil, err
	}
	if wallet.UserID != sub.UserID {
		return nil, ErrWalletUserMismatch
	}

	newBalance := wallet.Balance.Add(sub.Amount)
	if newBalance.IsNegative() {
		return nil, ErrInsufficientFunds
	}

	now := s.now().UTC()
	record := &Transaction{
		ID:             uuid.New(),
		ClientID:       sub.ID,
		Type:           sub.Type,
		Amount:         sub.Amount,
		WalletID:       sub.WalletID,
		UserID:         sub.UserID,
		StandID:        sub.StandID,
		Description:    sub.Description,
		Items:          sub.Items,
		IdempotencyKey: sub.IdempotencyKey,
		DeviceID:       sub.DeviceID,
		Signature:      sub.Signature,
		CreatedAt:      sub.CreatedAt,
		RecordedAt:     now,
		BalanceAfter:   newBalance,
	}

	if err := s.repo.InsertTransaction(txCtx, record); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Lost a race with a concurrent submission of the same key
			s.repo.RollbackTx(txCtx)
			return s.raceWinnerAck(ctx, sub)
		}
		return nil, err
	}
	if err := s.repo.UpdateWalletBalance(txCtx, wallet.ID, newBalance, now); err != nil {
		return nil, err
	}
	if err := s.repo.CommitTx(txCtx); err != nil {
		return nil, err
	}

	s.logger.Info("transaction applied",
		"transaction_id", record.ID,
		"client_id", sub.ID,
		"wallet_id", sub.WalletID,
		"type", sub.Type,
		"amount", sub.Amount.String(),
		"balance", newBalance.String())

	return &Ack{
		Status:        AckAccepted,
		TransactionID: record.ID,
		ClientID:      sub.ID,
		WalletID:      sub.WalletID,
		Balance:       newBalance,
	}, nil
}

// existingAck answers a submission whose key is already applied
func (s *Service) existingAck(ctx context.Context, existing *Transaction, sub *Submission) (*Ack, error) {
	if existing.ClientID != sub.ID {
		return nil, ErrIdempotencyConflict
	}

	ack := &Ack{
		Status:        AckDuplicate,
		TransactionID: existing.ID,
		ClientID:      existing.ClientID,
		WalletID:      existing.WalletID,
		Balance:       existing.BalanceAfter,
	}
	if w, err := s.repo.GetWallet(ctx, existing.WalletID); err == nil {
		ack.Balance = w.Balance
	}

	s.logger.Info("duplicate submission", "client_id", sub.ID, "idempotency_key", sub.IdempotencyKey)
	return ack, nil
}

func (s *Service) raceWinnerAck(ctx context.Context, sub *Submission) (*Ack, error) {
	existing, err := s.repo.GetTransactionByKey(ctx, sub.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load concurrent submission: %w", err)
	}
	return s.existingAck(ctx, existing, sub)
}

// duplicate turns a cached ack into a duplicate answer carrying the current balance
func (s *Service) duplicate(ctx context.Context, cached *Ack) *Ack {
	ack := *cached
	ack.Status = AckDuplicate
	if w, err := s.repo.GetWallet(ctx, cached.WalletID); err == nil {
		ack.Balance = w.Balance
	}
	return &ack
}

func (s *Service) cachedAck(ctx context.Context, sub *Submission) (*Ack, bool) {
	if s.cache == nil {
		return nil, false
	}
	ack, ok, err := s.cache.GetAck(ctx, sub.IdempotencyKey)
	if err != nil {
		s.logger.Warn("ack cache lookup failed", "idempotency_key", sub.IdempotencyKey, "error", err)
		return nil, false
	}
	return ack, ok
}

func (s *Service) storeAck(ctx context.Context, key string, ack *Ack) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetAck(ctx, key, ack); err != nil {
		s.logger.Warn("failed to cache ack", "idempotency_key", key, "error", err)
	}
}

// OpenWallet creates a wallet with an initial balance
func (s *Service) OpenWallet(ctx context.Context, userID uuid.UUID, initial decimal.Decimal) (*Wallet, error) {
	if userID == uuid.Nil {
		return nil, ErrInvalidSubmission
	}
	if initial.IsNegative() {
		return nil, ErrNegativeBalance
	}

	now := s.now().UTC()
	w := &Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Balance:   initial,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	s.logger.Info("wallet opened", "wallet_id", w.ID, "user_id", userID, "balance", initial.String())
	return w, nil
}

// GetWallet returns a wallet's authoritative state
func (s *Service) GetWallet(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	return s.repo.GetWallet(ctx, id)
}

// RecordItem stores a generic sync item. It reports false when the item was already recorded.
func (s *Service) RecordItem(ctx context.Context, item *Item) (bool, error) {
	if item.ID == uuid.Nil || item.Kind == "" || item.DeviceID == "" {
		return false, ErrInvalidSubmission
	}
	item.RecordedAt = s.now().UTC()

	if err := s.repo.InsertItem(ctx, item); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record item: %w", err)
	}
	return true, nil
}
