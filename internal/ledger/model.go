// Package ledger is the reference implementation of the remote ledger that
// devices reconcile against. It accepts signed offline transactions exactly
// once per idempotency key and keeps wallet balances non-negative.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/festpay/internal/platform/signing"
	"github.com/kislikjeka/festpay/internal/platform/txn"
)

// Wallet is the authoritative state of a festival wallet
type Wallet struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Submission is a signed transaction as sent by a device
type Submission struct {
	ID             uuid.UUID
	Type           txn.Type
	Amount         decimal.Decimal
	WalletID       uuid.UUID
	UserID         uuid.UUID
	StandID        *string
	Description    *string
	Items          []txn.Item
	IdempotencyKey string
	Signature      string
	DeviceID       string
	CreatedAt      time.Time
}

// Fields returns the signed fields of the submission
func (s *Submission) Fields() signing.Fields {
	return signing.Fields{
		ID:             s.ID.String(),
		Type:           string(s.Type),
		Amount:         s.Amount,
		WalletID:       s.WalletID.String(),
		UserID:         s.UserID.String(),
		IdempotencyKey: s.IdempotencyKey,
		CreatedAt:      s.CreatedAt,
		DeviceID:       s.DeviceID,
	}
}

// Validate checks the submission's shape. Signature and balance checks happen in the service.
func (s *Submission) Validate() error {
	if !s.Type.IsValid() {
		return ErrInvalidSubmission
	}
	if s.Amount.IsZero() {
		return ErrInvalidSubmission
	}
	if s.Type.IsDebit() != s.Amount.IsNegative() {
		return ErrInvalidSubmission
	}
	if s.ID == uuid.Nil || s.WalletID == uuid.Nil || s.UserID == uuid.Nil {
		return ErrInvalidSubmission
	}
	if s.IdempotencyKey == "" || s.Signature == "" || s.DeviceID == "" {
		return ErrInvalidSubmission
	}
	return nil
}

// Transaction is an applied submission
type Transaction struct {
	ID             uuid.UUID // ledger-assigned
	ClientID       uuid.UUID // the device's transaction ID
	Type           txn.Type
	Amount         decimal.Decimal
	WalletID       uuid.UUID
	UserID         uuid.UUID
	StandID        *string
	Description    *string
	Items          []txn.Item
	IdempotencyKey string
	DeviceID       string
	Signature      string
	CreatedAt      time.Time
	RecordedAt     time.Time
	BalanceAfter   decimal.Decimal
}

// AckStatus tells a device whether its submission was applied now or earlier
type AckStatus string

const (
	AckAccepted  AckStatus = "accepted"
	AckDuplicate AckStatus = "duplicate"
)

// Ack is the ledger's answer to a successful submission
type Ack struct {
	Status        AckStatus       `json:"status"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	ClientID      uuid.UUID       `json:"client_id"`
	WalletID      uuid.UUID       `json:"wallet_id"`
	Balance       decimal.Decimal `json:"balance"`
}

// Item is a generic record forwarded by a device
type Item struct {
	ID         uuid.UUID
	Kind       string
	Payload    []byte
	DeviceID   string
	CreatedAt  time.Time
	RecordedAt time.Time
}
