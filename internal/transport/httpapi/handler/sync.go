package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/kislikjeka/festpay/internal/ledger"
	"github.com/kislikjeka/festpay/internal/platform/txn"
	"github.com/kislikjeka/festpay/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/festpay/pkg/ledgerapi"
	"github.com/kislikjeka/festpay/pkg/logger"
)

// SyncService defines the ledger operations needed by SyncHandler
type SyncService interface {
	Submit(ctx context.Context, sub *ledger.Submission) (*ledger.Ack, error)
	RecordItem(ctx context.Context, item *ledger.Item) (bool, error)
}

// SyncHandler receives queued records from devices
type SyncHandler struct {
	svc    SyncService
	logger *logger.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(svc SyncService, log *logger.Logger) *SyncHandler {
	return &SyncHandler{svc: svc, logger: log.Component("sync_handler")}
}

// SubmitTransaction handles POST /api/v1/sync/transactions
//
// 200 accepted, 409 already applied (same body shape), 422 rejected with a reason.
func (h *SyncHandler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := middleware.GetDeviceIDFromContext(r.Context())
	if !ok {
		respondError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req ledgerapi.TransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondRejected(w, "invalid request body", ledgerapi.ReasonInvalidRequest, http.StatusBadRequest)
		return
	}

	if req.DeviceID != deviceID {
		respondRejected(w, "device_id does not match token", ledgerapi.ReasonInvalidRequest, http.StatusForbidden)
		return
	}

	sub, err := toSubmission(req)
	if err != nil {
		respondRejected(w, err.Error(), ledgerapi.ReasonInvalidRequest, http.StatusUnprocessableEntity)
		return
	}

	ack, err := h.svc.Submit(r.Context(), sub)
	if err != nil {
		h.handleSubmitError(w, r, sub, err)
		return
	}

	status := http.StatusOK
	bal := ack.Balance
	body := ledgerapi.TransactionResponse{
		Status:        ledgerapi.StatusAccepted,
		TransactionID: ack.TransactionID.String(),
		WalletID:      ack.WalletID.String(),
		Balance:       &bal,
	}
	if ack.Status == ledger.AckDuplicate {
		status = http.StatusConflict
		body.Status = ledgerapi.StatusDuplicate
	}
	respondJSON(w, body, status)
}

func (h *SyncHandler) handleSubmitError(w http.ResponseWriter, r *http.Request, sub *ledger.Submission, err error) {
	reason := ""
	switch {
	case errors.Is(err, ledger.ErrSignatureMismatch):
		reason = ledgerapi.ReasonSignatureMismatch
	case errors.Is(err, ledger.ErrInsufficientFunds):
		reason = ledgerapi.ReasonInsufficientFunds
	case errors.Is(err, ledger.ErrWalletNotFound):
		reason = ledgerapi.ReasonUnknownWallet
	case errors.Is(err, ledger.ErrIdempotencyConflict):
		reason = ledgerapi.ReasonIdempotencyConflict
	case errors.Is(err, ledger.ErrInvalidSubmission), errors.Is(err, ledger.ErrWalletUserMismatch):
		reason = ledgerapi.ReasonInvalidRequest
	}

	if reason == "" {
		h.logger.WithContext(r.Context()).Error("failed to apply submission",
			"client_id", sub.ID,
			"idempotency_key", sub.IdempotencyKey,
			"error", err)
		respondError(w, "failed to apply transaction", http.StatusInternalServerError)
		return
	}

	respondRejected(w, err.Error(), reason, http.StatusUnprocessableEntity)
}

// SubmitItem handles POST /api/v1/sync/items
func (h *SyncHandler) SubmitItem(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := middleware.GetDeviceIDFromContext(r.Context())
	if !ok {
		respondError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req ledgerapi.ItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondRejected(w, "invalid request body", ledgerapi.ReasonInvalidRequest, http.StatusBadRequest)
		return
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		respondRejected(w, "invalid item id", ledgerapi.ReasonInvalidRequest, http.StatusUnprocessableEntity)
		return
	}

	created, err := h.svc.RecordItem(r.Context(), &ledger.Item{
		ID:        id,
		Kind:      req.Kind,
		Payload:   req.Payload,
		DeviceID:  deviceID,
		CreatedAt: req.CreatedAt,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidSubmission) {
			respondRejected(w, err.Error(), ledgerapi.ReasonInvalidRequest, http.StatusUnprocessableEntity)
			return
		}
		h.logger.WithContext(r.Context()).Error("failed to record item", "item_id", id, "error", err)
		respondError(w, "failed to record item", http.StatusInternalServerError)
		return
	}

	if !created {
		respondJSON(w, ledgerapi.ItemResponse{Status: ledgerapi.StatusDuplicate}, http.StatusConflict)
		return
	}
	respondJSON(w, ledgerapi.ItemResponse{Status: ledgerapi.StatusAccepted}, http.StatusOK)
}

func toSubmission(req ledgerapi.TransactionRequest) (*ledger.Submission, error) {
	id, err := uuid.Parse(req.ID)
	if err != nil {
		return nil, errors.New("invalid transaction id")
	}
	walletID, err := uuid.Parse(req.WalletID)
	if err != nil {
		return nil, errors.New("invalid wallet id")
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, errors.New("invalid user id")
	}

	sub := &ledger.Submission{
		ID:             id,
		Type:           txn.Type(req.Type),
		Amount:         req.Amount,
		WalletID:       walletID,
		UserID:         userID,
		StandID:        req.StandID,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		Signature:      req.Signature,
		DeviceID:       req.DeviceID,
		CreatedAt:      req.CreatedAt,
	}
	for _, it := range req.Items {
		sub.Items = append(sub.Items, txn.Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return sub, nil
}
