package txn

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/festpay/internal/platform/signing"
)

// Type is the kind of an offline transaction
type Type string

const (
	TypePurchase Type = "PURCHASE"
	TypePayment  Type = "PAYMENT"
	TypeRefund   Type = "REFUND"
	TypeCancel   Type = "CANCEL"
)

// IsValid checks if the transaction type is one of the allowed kinds
func (t Type) IsValid() bool {
	switch t {
	case TypePurchase, TypePayment, TypeRefund, TypeCancel:
		return true
	}
	return false
}

// IsDebit reports whether the type takes money out of the wallet (negative amount)
func (t Type) IsDebit() bool {
	return t == TypePurchase || t == TypePayment
}

// Item is a purchase line item. Never mutated after creation.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Total returns quantity * unit price
func (i Item) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ErrorKind distinguishes transport failures from ledger rejections
type ErrorKind string

const (
	ErrorKindNone      ErrorKind = ""
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindRejected  ErrorKind = "rejected"
)

// PendingTransaction is an offline payment waiting to reach the ledger.
// Sync-state fields (RetryCount, LastRetryAt, Error, ErrorKind) are only
// changed by the sync engine through the queue.
type PendingTransaction struct {
	ID             uuid.UUID       `json:"id"`
	Type           Type            `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	WalletID       uuid.UUID       `json:"wallet_id"`
	UserID         uuid.UUID       `json:"user_id"`
	StandID        *string         `json:"stand_id,omitempty"`
	StandName      *string         `json:"stand_name,omitempty"`
	Description    *string         `json:"description,omitempty"`
	Items          []Item          `json:"items,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Signature      string          `json:"signature"`
	Provisional    bool            `json:"provisional"` // queued unsigned, waiting for a provisioned secret
	DeviceID       string          `json:"device_id"`
	CreatedAt      time.Time       `json:"created_at"`

	RetryCount  int        `json:"retry_count"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`
}

// Fields returns the signed fields of the transaction
func (t *PendingTransaction) Fields() signing.Fields {
	return signing.Fields{
		ID:             t.ID.String(),
		Type:           string(t.Type),
		Amount:         t.Amount,
		WalletID:       t.WalletID.String(),
		UserID:         t.UserID.String(),
		IdempotencyKey: t.IdempotencyKey,
		CreatedAt:      t.CreatedAt,
		DeviceID:       t.DeviceID,
	}
}

// Clone returns a deep copy
func (t *PendingTransaction) Clone() *PendingTransaction {
	cp := *t
	if t.Items != nil {
		cp.Items = make([]Item, len(t.Items))
		copy(cp.Items, t.Items)
	}
	cp.StandID = cloneString(t.StandID)
	cp.StandName = cloneString(t.StandName)
	cp.Description = cloneString(t.Description)
	cp.Error = cloneString(t.Error)
	if t.LastRetryAt != nil {
		at := *t.LastRetryAt
		cp.LastRetryAt = &at
	}
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// FailureReason is the terminal classification of a transaction that will not sync
type FailureReason string

const (
	ReasonExpired    FailureReason = "TransactionExpired"
	ReasonMaxRetries FailureReason = "MaxRetriesExceeded"
	ReasonRejected   FailureReason = "SubmissionRejected"
)

// Err maps the reason to its sentinel error
func (r FailureReason) Err() error {
	switch r {
	case ReasonExpired:
		return ErrTransactionExpired
	case ReasonMaxRetries:
		return ErrMaxRetriesExceeded
	case ReasonRejected:
		return ErrSubmissionRejected
	}
	return ErrSubmissionFailed
}

// FailedTransaction is a transaction that reached a terminal failure.
// It stays visible as "needs attention" until the user dismisses it.
type FailedTransaction struct {
	Transaction PendingTransaction `json:"transaction"`
	Reason      FailureReason      `json:"reason"`
	Detail      string             `json:"detail"`
	FailedAt    time.Time          `json:"failed_at"`
}
