// Package deviceapi is the loopback HTTP surface the till UI uses on the device
package deviceapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kislikjeka/festpay/internal/infra/gateway/ledgerclient"
	"github.com/kislikjeka/festpay/internal/platform/balance"
	"github.com/kislikjeka/festpay/internal/platform/catalog"
	"github.com/kislikjeka/festpay/internal/platform/netmon"
	"github.com/kislikjeka/festpay/internal/platform/pos"
	"github.com/kislikjeka/festpay/internal/platform/queue"
	"github.com/kislikjeka/festpay/internal/platform/signing"
	pkgsync "github.com/kislikjeka/festpay/internal/platform/sync"
	"github.com/kislikjeka/festpay/internal/platform/txn"
	"github.com/kislikjeka/festpay/pkg/ledgerapi"
	"github.com/kislikjeka/festpay/pkg/logger"
)

// Service defines the point-of-sale operations needed by Handler
type Service interface {
	EffectiveBalance(ctx context.Context, walletID uuid.UUID) (balance.EffectiveBalance, error)
	RefreshWallet(ctx context.Context, walletID uuid.UUID) (balance.EffectiveBalance, error)
	PendingCount(ctx context.Context) (int, error)
	ListPending(ctx context.Context, walletID *uuid.UUID) ([]*txn.PendingTransaction, error)
	ListFailed(ctx context.Context) ([]txn.FailedTransaction, error)
	DismissFailed(ctx context.Context, id uuid.UUID) error
	EnqueuePayment(ctx context.Context, in txn.Input) (*pos.Payment, error)
	TriggerSync(ctx context.Context) (*pkgsync.Result, error)
	CancelSync() bool
	SyncStatus() pkgsync.Status
	ValidateQR(ctx context.Context, payload string) (balance.QRValidationResult, error)
	Provision(ctx context.Context) (int, error)
	Catalog() *catalog.Snapshot
	RefreshCatalog(ctx context.Context) (bool, error)
	QueueItem(ctx context.Context, kind string, payload []byte) (*queue.SyncItem, error)
	NetworkStatus() (netmon.Status, error)
	CheckNetwork(ctx context.Context) (netmon.Status, error)
	ReportLink(c netmon.Connectivity) error
}

// Handler serves the till UI
type Handler struct {
	svc    Service
	logger *logger.Logger
}

// NewHandler creates a device API handler
func NewHandler(svc Service, log *logger.Logger) *Handler {
	return &Handler{svc: svc, logger: log.Component("device_api")}
}

// GetBalance handles GET /wallets/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	walletID, ok := parseID(w, r)
	if !ok {
		return
	}

	eff, err := h.svc.EffectiveBalance(r.Context(), walletID)
	if err != nil {
		h.internal(w, r, "failed to resolve balance", err)
		return
	}
	respondJSON(w, eff, http.StatusOK)
}

// RefreshWallet handles POST /wallets/{id}/refresh
func (h *Handler) RefreshWallet(w http.ResponseWriter, r *http.Request) {
	walletID, ok := parseID(w, r)
	if !ok {
		return
	}

	eff, err := h.svc.RefreshWallet(r.Context(), walletID)
	if err != nil {
		if errors.Is(err, ledgerclient.ErrNotFound) {
			respondError(w, "wallet not found", http.StatusNotFound)
			return
		}
		h.logger.WithContext(r.Context()).Warn("wallet refresh failed", "wallet_id", walletID, "error", err)
		respondRejected(w, "ledger unavailable", ReasonOffline, http.StatusBadGateway)
		return
	}
	respondJSON(w, eff, http.StatusOK)
}

// ListPending handles GET /pending?wallet_id=
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	var walletID *uuid.UUID
	if raw := r.URL.Query().Get("wallet_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, "invalid wallet_id", http.StatusBadRequest)
			return
		}
		walletID = &id
	}

	pending, err := h.svc.ListPending(r.Context(), walletID)
	if err != nil {
		h.internal(w, r, "failed to list pending transactions", err)
		return
	}
	respondJSON(w, newPendingViews(pending), http.StatusOK)
}

// PendingCount handles GET /pending/count
func (h *Handler) PendingCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.PendingCount(r.Context())
	if err != nil {
		h.internal(w, r, "failed to count pending transactions", err)
		return
	}
	respondJSON(w, CountResponse{Count: n}, http.StatusOK)
}

// ListFailed handles GET /failed
func (h *Handler) ListFailed(w http.ResponseWriter, r *http.Request) {
	failed, err := h.svc.ListFailed(r.Context())
	if err != nil {
		h.internal(w, r, "failed to list failed transactions", err)
		return
	}
	respondJSON(w, newFailedViews(failed), http.StatusOK)
}

// DismissFailed handles DELETE /failed/{id}
func (h *Handler) DismissFailed(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DismissFailed(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrFailedNotFound) {
			respondError(w, "failed transaction not found", http.StatusNotFound)
			return
		}
		h.internal(w, r, "failed to dismiss transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreatePayment handles POST /payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	walletID, err := uuid.Parse(req.WalletID)
	if err != nil {
		respondRejected(w, "invalid wallet_id", ReasonInvalidPayment, http.StatusUnprocessableEntity)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondRejected(w, "invalid user_id", ReasonInvalidPayment, http.StatusUnprocessableEntity)
		return
	}

	payment, err := h.svc.EnqueuePayment(r.Context(), txn.Input{
		Type:        txn.Type(req.Type),
		Amount:      req.Amount.Decimal,
		WalletID:    walletID,
		UserID:      userID,
		StandID:     req.StandID,
		Description: req.Description,
		Items:       req.Items,
	})
	if err != nil {
		switch {
		case errors.Is(err, txn.ErrInsufficientFunds):
			respondRejected(w, err.Error(), ReasonInsufficientFunds, http.StatusUnprocessableEntity)
		case errors.Is(err, signing.ErrSignatureUnavailable):
			respondRejected(w, err.Error(), ReasonSignatureUnavailable, http.StatusConflict)
		case isValidationError(err):
			respondRejected(w, err.Error(), ReasonInvalidPayment, http.StatusUnprocessableEntity)
		default:
			h.internal(w, r, "failed to queue payment", err)
		}
		return
	}

	respondJSON(w, newPaymentResponse(payment), http.StatusCreated)
}

// TriggerSync handles POST /sync
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.TriggerSync(r.Context())
	switch {
	case errors.Is(err, pkgsync.ErrSyncInProgress):
		respondRejected(w, err.Error(), ReasonSyncInProgress, http.StatusConflict)
	case errors.Is(err, pkgsync.ErrOffline):
		respondRejected(w, err.Error(), ReasonOffline, http.StatusServiceUnavailable)
	case err != nil:
		h.internal(w, r, "sync failed", err)
	default:
		respondJSON(w, result, http.StatusOK)
	}
}

// CancelSync handles DELETE /sync
func (h *Handler) CancelSync(w http.ResponseWriter, r *http.Request) {
	if !h.svc.CancelSync() {
		respondError(w, "no sync running", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncStatus handles GET /sync/status
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.svc.SyncStatus(), http.StatusOK)
}

// ValidateQR handles POST /qr/validate
func (h *Handler) ValidateQR(w http.ResponseWriter, r *http.Request) {
	var req QRRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.svc.ValidateQR(r.Context(), req.Payload)
	if err != nil {
		h.internal(w, r, "failed to validate wallet code", err)
		return
	}
	respondJSON(w, result, http.StatusOK)
}

// Provision handles POST /provision
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	resigned, err := h.svc.Provision(r.Context())
	if err != nil {
		h.logger.WithContext(r.Context()).Error("provisioning failed", "error", err)
		respondRejected(w, "provisioning failed", ReasonOffline, http.StatusBadGateway)
		return
	}
	respondJSON(w, ProvisionResponse{Resigned: resigned}, http.StatusOK)
}

// GetCatalog handles GET /catalog
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	snap := h.svc.Catalog()
	if snap == nil {
		respondError(w, "catalog not loaded", http.StatusNotFound)
		return
	}
	respondJSON(w, snap, http.StatusOK)
}

// RefreshCatalog handles POST /catalog/refresh
func (h *Handler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	changed, err := h.svc.RefreshCatalog(r.Context())
	if err != nil {
		h.logger.WithContext(r.Context()).Warn("catalog refresh failed", "error", err)
		respondRejected(w, "ledger unavailable", ReasonOffline, http.StatusBadGateway)
		return
	}
	respondJSON(w, CatalogRefreshResponse{Changed: changed}, http.StatusOK)
}

// QueueItem handles POST /items
func (h *Handler) QueueItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	item, err := h.svc.QueueItem(r.Context(), req.Kind, req.Payload)
	if err != nil {
		if errors.Is(err, queue.ErrInvalidKind) {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.internal(w, r, "failed to queue item", err)
		return
	}
	respondJSON(w, item, http.StatusCreated)
}

// GetNetwork handles GET /network; ?check=1 probes the ledger first
func (h *Handler) GetNetwork(w http.ResponseWriter, r *http.Request) {
	var (
		status netmon.Status
		err    error
	)
	if r.URL.Query().Get("check") != "" {
		status, err = h.svc.CheckNetwork(r.Context())
	} else {
		status, err = h.svc.NetworkStatus()
	}
	if err != nil {
		respondError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, status, http.StatusOK)
}

// ReportLink handles POST /network/link
func (h *Handler) ReportLink(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.svc.ReportLink(netmon.Connectivity{Connected: req.Connected, Link: netmon.ParseLinkType(req.Link)})
	if err != nil {
		respondError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) internal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.WithContext(r.Context()).Error(msg, "error", err)
	respondError(w, msg, http.StatusInternalServerError)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func isValidationError(err error) bool {
	for _, target := range []error{
		txn.ErrInvalidType,
		txn.ErrInvalidAmount,
		txn.ErrAmountSign,
		txn.ErrInvalidWalletID,
		txn.ErrInvalidUserID,
		txn.ErrInvalidItems,
		txn.ErrItemsTotalMismatch,
		queue.ErrWalletMismatch,
		pos.ErrInvalidWalletID,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, ledgerapi.ErrorResponse{Error: message}, statusCode)
}

func respondRejected(w http.ResponseWriter, message, reason string, statusCode int) {
	respondJSON(w, ledgerapi.ErrorResponse{Error: message, Reason: reason}, statusCode)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
