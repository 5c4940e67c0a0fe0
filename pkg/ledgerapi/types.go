// Package ledgerapi holds the JSON wire types shared by the ledger's HTTP
// API and the device's ledger client.
package ledgerapi

import (
	"time"

	"github.com/shopspring/decimal"
)

// Paths
const (
	PathDeviceAuth       = "/api/v1/auth/device"
	PathProvision        = "/api/v1/devices/provision"
	PathSyncTransactions = "/api/v1/sync/transactions"
	PathSyncItems        = "/api/v1/sync/items"
	PathWallets          = "/api/v1/wallets"
	PathCatalog          = "/api/v1/catalog"
	PathHealth           = "/health"
)

// Submission statuses
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
)

// Rejection reasons sent with 422 responses
const (
	ReasonSignatureMismatch   = "signature_mismatch"
	ReasonInsufficientFunds   = "insufficient_funds"
	ReasonUnknownWallet       = "unknown_wallet"
	ReasonInvalidRequest      = "invalid_request"
	ReasonIdempotencyConflict = "idempotency_conflict"
	ReasonNotProvisioned      = "device_not_provisioned"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// DeviceAuthRequest exchanges an enrollment key for a device token
type DeviceAuthRequest struct {
	DeviceID      string `json:"device_id"`
	EnrollmentKey string `json:"enrollment_key"`
}

// DeviceAuthResponse carries the device token
type DeviceAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ProvisionResponse carries the device's signing secret, base64 encoded
type ProvisionResponse struct {
	DeviceID string `json:"device_id"`
	Secret   string `json:"secret"`
}

// Item is a purchase line item
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// TransactionRequest submits one offline transaction
type TransactionRequest struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	WalletID       string          `json:"wallet_id"`
	UserID         string          `json:"user_id"`
	StandID        *string         `json:"stand_id,omitempty"`
	Description    *string         `json:"description,omitempty"`
	Items          []Item          `json:"items,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Signature      string          `json:"signature"`
	DeviceID       string          `json:"device_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TransactionResponse acknowledges a submission. Balance, when present, is
// the wallet's authoritative balance after the transaction.
type TransactionResponse struct {
	Status        string           `json:"status"`
	TransactionID string           `json:"transaction_id"`
	WalletID      string           `json:"wallet_id,omitempty"`
	Balance       *decimal.Decimal `json:"balance,omitempty"`
}

// ItemRequest submits one generic sync item
type ItemRequest struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Payload   []byte    `json:"payload"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemResponse acknowledges a sync item
type ItemResponse struct {
	Status string `json:"status"`
}

// OpenWalletRequest creates a wallet with an initial top-up
type OpenWalletRequest struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// WalletResponse is the ledger's view of a wallet
type WalletResponse struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Stand is a catalog stand
type Stand struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Product is a catalog product
type Product struct {
	ID      string          `json:"id"`
	StandID string          `json:"stand_id"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
}

// CatalogResponse is the current product catalog
type CatalogResponse struct {
	Stands   []Stand   `json:"stands"`
	Products []Product `json:"products"`
	Digest   string    `json:"digest"`
}

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status string `json:"status"`
}
