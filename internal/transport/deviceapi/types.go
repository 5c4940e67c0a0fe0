package deviceapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/festpay/internal/platform/balance"
	"github.com/kislikjeka/festpay/internal/platform/pos"
	"github.com/kislikjeka/festpay/internal/platform/txn"
	"github.com/kislikjeka/festpay/pkg/money"
)

// Rejection reasons returned to the UI
const (
	ReasonInsufficientFunds    = "insufficient_funds"
	ReasonInvalidPayment       = "invalid_payment"
	ReasonSignatureUnavailable = "signature_unavailable"
	ReasonSyncInProgress       = "sync_in_progress"
	ReasonOffline              = "offline"
)

// PaymentRequest is a payment entered at the till
type PaymentRequest struct {
	Type        string       `json:"type"`
	Amount      money.Amount `json:"amount"`
	WalletID    string       `json:"wallet_id"`
	UserID      string       `json:"user_id"`
	StandID     *string      `json:"stand_id,omitempty"`
	Description *string      `json:"description,omitempty"`
	Items       []txn.Item   `json:"items,omitempty"`
}

// TransactionView is a queued transaction as the till shows it. Signing and
// retry bookkeeping stay on the device.
type TransactionView struct {
	ID          uuid.UUID       `json:"id"`
	Type        txn.Type        `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	WalletID    uuid.UUID       `json:"wallet_id"`
	UserID      uuid.UUID       `json:"user_id"`
	StandID     *string         `json:"stand_id,omitempty"`
	StandName   *string         `json:"stand_name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Items       []txn.Item      `json:"items,omitempty"`
	Provisional bool            `json:"provisional"`
	CreatedAt   time.Time       `json:"created_at"`
}

// FailedView is a transaction the ledger refused or that expired
type FailedView struct {
	Transaction TransactionView   `json:"transaction"`
	Reason      txn.FailureReason `json:"reason"`
	Detail      string            `json:"detail"`
	FailedAt    time.Time         `json:"failed_at"`
}

// PaymentResponse is returned for a queued payment
type PaymentResponse struct {
	Transaction TransactionView          `json:"transaction"`
	Balance     balance.EffectiveBalance `json:"balance"`
}

func newTransactionView(tx *txn.PendingTransaction) TransactionView {
	return TransactionView{
		ID:          tx.ID,
		Type:        tx.Type,
		Amount:      tx.Amount,
		WalletID:    tx.WalletID,
		UserID:      tx.UserID,
		StandID:     tx.StandID,
		StandName:   tx.StandName,
		Description: tx.Description,
		Items:       tx.Items,
		Provisional: tx.Provisional,
		CreatedAt:   tx.CreatedAt,
	}
}

func newPendingViews(pending []*txn.PendingTransaction) []TransactionView {
	views := make([]TransactionView, 0, len(pending))
	for _, tx := range pending {
		views = append(views, newTransactionView(tx))
	}
	return views
}

func newFailedViews(failed []txn.FailedTransaction) []FailedView {
	views := make([]FailedView, 0, len(failed))
	for i := range failed {
		views = append(views, FailedView{
			Transaction: newTransactionView(&failed[i].Transaction),
			Reason:      failed[i].Reason,
			Detail:      failed[i].Detail,
			FailedAt:    failed[i].FailedAt,
		})
	}
	return views
}

func newPaymentResponse(p *pos.Payment) PaymentResponse {
	return PaymentResponse{
		Transaction: newTransactionView(p.Transaction),
		Balance:     p.Balance,
	}
}

// CountResponse carries the pending count
type CountResponse struct {
	Count int `json:"count"`
}

// QRRequest carries a scanned wallet code
type QRRequest struct {
	Payload string `json:"payload"`
}

// ItemRequest queues a non-payment record
type ItemRequest struct {
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"`
}

// LinkRequest reports a connectivity change from the host
type LinkRequest struct {
	Connected bool   `json:"connected"`
	Link      string `json:"link"`
}

// ProvisionResponse reports how many queued transactions were re-signed
type ProvisionResponse struct {
	Resigned int `json:"resigned"`
}

// CatalogRefreshResponse reports whether the cached catalog changed
type CatalogRefreshResponse struct {
	Changed bool `json:"changed"`
}
