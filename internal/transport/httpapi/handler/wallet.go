package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/festpay/internal/ledger"
	"github.com/kislikjeka/festpay/pkg/ledgerapi"
	"github.com/kislikjeka/festpay/pkg/logger"
)

// WalletService defines the wallet operations needed by WalletHandler
type WalletService interface {
	OpenWallet(ctx context.Context, userID uuid.UUID, initial decimal.Decimal) (*ledger.Wallet, error)
	GetWallet(ctx context.Context, id uuid.UUID) (*ledger.Wallet, error)
}

// WalletHandler handles wallet-related HTTP requests
type WalletHandler struct {
	svc    WalletService
	logger *logger.Logger
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(svc WalletService, log *logger.Logger) *WalletHandler {
	return &WalletHandler{svc: svc, logger: log.Component("wallet_handler")}
}

// OpenWallet handles POST /api/v1/wallets
func (h *WalletHandler) OpenWallet(w http.ResponseWriter, r *http.Request) {
	var req ledgerapi.OpenWalletRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondError(w, "invalid user_id", http.StatusBadRequest)
		return
	}

	wallet, err := h.svc.OpenWallet(r.Context(), userID, req.Balance)
	if err != nil {
		if errors.Is(err, ledger.ErrNegativeBalance) || errors.Is(err, ledger.ErrInvalidSubmission) {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.WithContext(r.Context()).Error("failed to open wallet", "user_id", userID, "error", err)
		respondError(w, "failed to open wallet", http.StatusInternalServerError)
		return
	}

	respondJSON(w, toWalletResponse(wallet), http.StatusCreated)
}

// GetWallet handles GET /api/v1/wallets/{id}
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, "invalid wallet ID", http.StatusBadRequest)
		return
	}

	wallet, err := h.svc.GetWallet(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			respondRejected(w, "wallet not found", ledgerapi.ReasonUnknownWallet, http.StatusNotFound)
			return
		}
		h.logger.WithContext(r.Context()).Error("failed to get wallet", "wallet_id", id, "error", err)
		respondError(w, "failed to get wallet", http.StatusInternalServerError)
		return
	}

	respondJSON(w, toWalletResponse(wallet), http.StatusOK)
}

func toWalletResponse(w *ledger.Wallet) ledgerapi.WalletResponse {
	return ledgerapi.WalletResponse{
		ID:        w.ID.String(),
		UserID:    w.UserID.String(),
		Balance:   w.Balance,
		UpdatedAt: w.UpdatedAt,
	}
}
