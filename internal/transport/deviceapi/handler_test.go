package deviceapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/festpay/internal/infra/gateway/ledgerclient"
	"github.com/kislikjeka/festpay/internal/platform/balance"
	"github.com/kislikjeka/festpay/internal/platform/catalog"
	"github.com/kislikjeka/festpay/internal/platform/netmon"
	"github.com/kislikjeka/festpay/internal/platform/pos"
	"github.com/kislikjeka/festpay/internal/platform/queue"
	"github.com/kislikjeka/festpay/internal/platform/signing"
	pkgsync "github.com/kislikjeka/festpay/internal/platform/sync"
	"github.com/kislikjeka/festpay/internal/platform/txn"
	"github.com/kislikjeka/festpay/internal/transport/deviceapi"
	"github.com/kislikjeka/festpay/pkg/ledgerapi"
	"github.com/kislikjeka/festpay/pkg/logger"
	"github.com/kislikjeka/festpay/pkg/money"
)

// MockService is a mock implementation of deviceapi.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) EffectiveBalance(ctx context.Context, walletID uuid.UUID) (balance.EffectiveBalance, error) {
	args := m.Called(ctx, walletID)
	return args.Get(0).(balance.EffectiveBalance), args.Error(1)
}

func (m *MockService) RefreshWallet(ctx context.Context, walletID uuid.UUID) (balance.EffectiveBalance, error) {
	args := m.Called(ctx, walletID)
	return args.Get(0).(balance.EffectiveBalance), args.Error(1)
}

func (m *MockService) PendingCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockService) ListPending(ctx context.Context, walletID *uuid.UUID) ([]*txn.PendingTransaction, error) {
	args := m.Called(ctx, walletID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*txn.PendingTransaction), args.Error(1)
}

func (m *MockService) ListFailed(ctx context.Context) ([]txn.FailedTransaction, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]txn.FailedTransaction), args.Error(1)
}

func (m *MockService) DismissFailed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockService) EnqueuePayment(ctx context.Context, in txn.Input) (*pos.Payment, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pos.Payment), args.Error(1)
}

func (m *MockService) TriggerSync(ctx context.Context) (*pkgsync.Result, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pkgsync.Result), args.Error(1)
}

func (m *MockService) CancelSync() bool { return m.Called().Bool(0) }

func (m *MockService) SyncStatus() pkgsync.Status { return m.Called().Get(0).(pkgsync.Status) }

func (m *MockService) ValidateQR(ctx context.Context, payload string) (balance.QRValidationResult, error) {
	args := m.Called(ctx, payload)
	return args.Get(0).(balance.QRValidationResult), args.Error(1)
}

func (m *MockService) Provision(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockService) Catalog() *catalog.Snapshot {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*catalog.Snapshot)
}

func (m *MockService) RefreshCatalog(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockService) QueueItem(ctx context.Context, kind string, payload []byte) (*queue.SyncItem, error) {
	args := m.Called(ctx, kind, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.SyncItem), args.Error(1)
}

func (m *MockService) NetworkStatus() (netmon.Status, error) {
	args := m.Called()
	return args.Get(0).(netmon.Status), args.Error(1)
}

func (m *MockService) CheckNetwork(ctx context.Context) (netmon.Status, error) {
	args := m.Called(ctx)
	return args.Get(0).(netmon.Status), args.Error(1)
}

func (m *MockService) ReportLink(c netmon.Connectivity) error {
	return m.Called(c).Error(0)
}

func newServer(svc *MockService) http.Handler {
	return deviceapi.NewRouter(deviceapi.NewHandler(svc, logger.Nop()), logger.Nop(), nil)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ledgerapi.ErrorResponse {
	t.Helper()
	var resp ledgerapi.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

// internalKeys are queue bookkeeping fields the till must never receive
var internalKeys = []string{"signature", "idempotency_key", "retry_count", "last_retry_at", "error_kind", "device_id"}

func assertNoInternalKeys(t *testing.T, tx map[string]any) {
	t.Helper()
	for _, key := range internalKeys {
		assert.NotContains(t, tx, key)
	}
}

func queuedTransaction(walletID uuid.UUID) txn.PendingTransaction {
	lastRetry := time.Date(2026, 7, 4, 18, 0, 0, 0, time.UTC)
	detail := "ledger unavailable"
	return txn.PendingTransaction{
		ID:             uuid.New(),
		Type:           txn.TypePurchase,
		Amount:         decimal.NewFromInt(-15),
		WalletID:       walletID,
		UserID:         uuid.New(),
		IdempotencyKey: "offline_lk3m2x_a1b2c3d4e",
		Signature:      "c2lnbmF0dXJl",
		DeviceID:       "device-1",
		CreatedAt:      lastRetry.Add(-time.Minute),
		RetryCount:     2,
		LastRetryAt:    &lastRetry,
		Error:          &detail,
		ErrorKind:      txn.ErrorKindTransport,
	}
}

func TestGetBalance(t *testing.T) {
	svc := new(MockService)
	walletID := uuid.New()
	svc.On("EffectiveBalance", mock.Anything, walletID).Return(balance.EffectiveBalance{
		WalletID:     walletID,
		Confirmed:    decimal.NewFromInt(100),
		PendingDelta: decimal.NewFromInt(-35),
		Effective:    decimal.NewFromInt(65),
		PendingCount: 2,
	}, nil)

	rr := do(t, newServer(svc), http.MethodGet, "/wallets/"+walletID.String()+"/balance", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var eff balance.EffectiveBalance
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&eff))
	assert.True(t, eff.Effective.Equal(decimal.NewFromInt(65)))
	assert.Equal(t, 2, eff.PendingCount)
}

func TestGetBalance_InvalidID(t *testing.T) {
	rr := do(t, newServer(new(MockService)), http.MethodGet, "/wallets/nope/balance", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRefreshWallet(t *testing.T) {
	walletID := uuid.New()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"refreshed", nil, http.StatusOK},
		{"unknown to ledger", fmt.Errorf("failed to fetch wallet: %w", ledgerclient.ErrNotFound), http.StatusNotFound},
		{"ledger down", errors.New("connection refused"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			svc.On("RefreshWallet", mock.Anything, walletID).Return(balance.EffectiveBalance{WalletID: walletID}, tt.err)

			rr := do(t, newServer(svc), http.MethodPost, "/wallets/"+walletID.String()+"/refresh", nil)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func TestCreatePayment(t *testing.T) {
	walletID, userID := uuid.New(), uuid.New()
	req := deviceapi.PaymentRequest{
		Type:     "PURCHASE",
		Amount:   money.NewAmount(decimal.NewFromInt(-15)),
		WalletID: walletID.String(),
		UserID:   userID.String(),
	}

	tests := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"queued", nil, http.StatusCreated, ""},
		{"overdraft", fmt.Errorf("%w: effective balance 10.00", txn.ErrInsufficientFunds), http.StatusUnprocessableEntity, deviceapi.ReasonInsufficientFunds},
		{"not provisioned", signing.ErrSignatureUnavailable, http.StatusConflict, deviceapi.ReasonSignatureUnavailable},
		{"bad sign", txn.ErrAmountSign, http.StatusUnprocessableEntity, deviceapi.ReasonInvalidPayment},
		{"store failure", errors.New("disk full"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			matcher := mock.MatchedBy(func(in txn.Input) bool {
				return in.Type == txn.TypePurchase && in.WalletID == walletID && in.UserID == userID && in.Amount.Equal(decimal.NewFromInt(-15))
			})
			if tt.err == nil {
				queued := queuedTransaction(walletID)
				svc.On("EnqueuePayment", mock.Anything, matcher).Return(&pos.Payment{
					Transaction: &queued,
					Balance:     balance.EffectiveBalance{WalletID: walletID, Effective: decimal.NewFromInt(5)},
				}, nil)
			} else {
				svc.On("EnqueuePayment", mock.Anything, matcher).Return(nil, tt.err)
			}

			rr := do(t, newServer(svc), http.MethodPost, "/payments", req)
			require.Equal(t, tt.status, rr.Code)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, decodeError(t, rr).Reason)
			}
			if tt.err == nil {
				var body struct {
					Transaction map[string]any `json:"transaction"`
					Balance     map[string]any `json:"balance"`
				}
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
				assert.Equal(t, walletID.String(), body.Transaction["wallet_id"])
				assert.Equal(t, "-15", body.Transaction["amount"])
				assert.NotEmpty(t, body.Balance)
				assertNoInternalKeys(t, body.Transaction)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestCreatePayment_BadInput(t *testing.T) {
	svc := new(MockService)
	h := newServer(svc)

	rr := do(t, h, http.MethodPost, "/payments", map[string]string{"bogus": "field"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/payments", map[string]string{"type": "PURCHASE", "amount": "-1.005"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/payments", deviceapi.PaymentRequest{Type: "PURCHASE", WalletID: "x", UserID: uuid.NewString()})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	svc.AssertNotCalled(t, "EnqueuePayment", mock.Anything, mock.Anything)
}

func TestTriggerSync(t *testing.T) {
	tests := []struct {
		name   string
		result *pkgsync.Result
		err    error
		status int
	}{
		{"drained", &pkgsync.Result{Outcome: pkgsync.OutcomePartialFailure, Synced: 1, Failed: 1}, nil, http.StatusOK},
		{"already running", nil, pkgsync.ErrSyncInProgress, http.StatusConflict},
		{"offline", nil, pkgsync.ErrOffline, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			svc.On("TriggerSync", mock.Anything).Return(tt.result, tt.err)

			rr := do(t, newServer(svc), http.MethodPost, "/sync", nil)
			require.Equal(t, tt.status, rr.Code)
			if tt.result != nil {
				var got pkgsync.Result
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
				assert.Equal(t, pkgsync.OutcomePartialFailure, got.Outcome)
				assert.Equal(t, 1, got.Failed)
			}
		})
	}
}

func TestSyncStatusAndCancel(t *testing.T) {
	svc := new(MockService)
	svc.On("SyncStatus").Return(pkgsync.Status{State: pkgsync.StateIdle})
	svc.On("CancelSync").Return(false)
	h := newServer(svc)

	rr := do(t, h, http.MethodGet, "/sync/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"state":"idle"`)

	rr = do(t, h, http.MethodDelete, "/sync", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestPending(t *testing.T) {
	svc := new(MockService)
	walletID := uuid.New()
	svc.On("PendingCount", mock.Anything).Return(3, nil)
	svc.On("ListPending", mock.Anything, &walletID).Return(nil, nil)
	h := newServer(svc)

	rr := do(t, h, http.MethodGet, "/pending/count", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"count":3}`, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/pending?wallet_id="+walletID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/pending?wallet_id=bad", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPending_HidesQueueBookkeeping(t *testing.T) {
	svc := new(MockService)
	queued := queuedTransaction(uuid.New())
	svc.On("ListPending", mock.Anything, (*uuid.UUID)(nil)).Return([]*txn.PendingTransaction{&queued}, nil)

	rr := do(t, newServer(svc), http.MethodGet, "/pending", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var got []map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, queued.ID.String(), got[0]["id"])
	assert.Equal(t, "PURCHASE", got[0]["type"])
	assert.Equal(t, false, got[0]["provisional"])
	assertNoInternalKeys(t, got[0])
}

func TestFailed(t *testing.T) {
	svc := new(MockService)
	id := uuid.New()
	queued := queuedTransaction(uuid.New())
	queued.ID = id
	svc.On("ListFailed", mock.Anything).Return([]txn.FailedTransaction{{
		Transaction: queued,
		Reason:      txn.ReasonExpired,
		Detail:      "queued longer than 168h0m0s",
	}}, nil)
	svc.On("DismissFailed", mock.Anything, id).Return(nil).Once()
	svc.On("DismissFailed", mock.Anything, id).Return(queue.ErrFailedNotFound)
	h := newServer(svc)

	rr := do(t, h, http.MethodGet, "/failed", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var failed []struct {
		Transaction map[string]any `json:"transaction"`
		Reason      string         `json:"reason"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&failed))
	require.Len(t, failed, 1)
	assert.Equal(t, string(txn.ReasonExpired), failed[0].Reason)
	assert.Equal(t, id.String(), failed[0].Transaction["id"])
	assertNoInternalKeys(t, failed[0].Transaction)

	rr = do(t, h, http.MethodDelete, "/failed/"+id.String(), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodDelete, "/failed/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestValidateQR(t *testing.T) {
	svc := new(MockService)
	svc.On("ValidateQR", mock.Anything, "festpay://wallet/x").Return(balance.QRValidationResult{
		Reason:   balance.QRReasonMalformed,
		MaxSpend: decimal.Zero,
	}, nil)

	rr := do(t, newServer(svc), http.MethodPost, "/qr/validate", deviceapi.QRRequest{Payload: "festpay://wallet/x"})
	require.Equal(t, http.StatusOK, rr.Code)

	var result balance.QRValidationResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	assert.False(t, result.Valid)
	assert.Equal(t, balance.QRReasonMalformed, result.Reason)
}

func TestProvision(t *testing.T) {
	svc := new(MockService)
	svc.On("Provision", mock.Anything).Return(4, nil).Once()
	svc.On("Provision", mock.Anything).Return(0, errors.New("ledger unreachable"))
	h := newServer(svc)

	rr := do(t, h, http.MethodPost, "/provision", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"resigned":4}`, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/provision", nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestCatalog(t *testing.T) {
	svc := new(MockService)
	svc.On("Catalog").Return(nil).Once()
	snap, err := catalog.NewSnapshot([]catalog.Stand{{ID: "bar", Name: "Main Bar"}}, nil, time.Date(2026, 7, 18, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	svc.On("Catalog").Return(snap)
	svc.On("RefreshCatalog", mock.Anything).Return(true, nil)
	h := newServer(svc)

	rr := do(t, h, http.MethodGet, "/catalog", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/catalog", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Main Bar")

	rr = do(t, h, http.MethodPost, "/catalog/refresh", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"changed":true}`, rr.Body.String())
}

func TestQueueItem(t *testing.T) {
	svc := new(MockService)
	payload := []byte(`{"stand":"bar"}`)
	svc.On("QueueItem", mock.Anything, "check_in", payload).Return(&queue.SyncItem{ID: uuid.New(), Kind: "check_in"}, nil)
	svc.On("QueueItem", mock.Anything, "", mock.Anything).Return(nil, queue.ErrInvalidKind)
	h := newServer(svc)

	rr := do(t, h, http.MethodPost, "/items", deviceapi.ItemRequest{Kind: "check_in", Payload: payload})
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, h, http.MethodPost, "/items", deviceapi.ItemRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNetwork(t *testing.T) {
	svc := new(MockService)
	status := netmon.Status{Quality: netmon.QualityPoor, Link: netmon.LinkCellular, Connected: true}
	svc.On("NetworkStatus").Return(status, nil)
	svc.On("CheckNetwork", mock.Anything).Return(netmon.Status{Quality: netmon.QualityGood}, nil)
	svc.On("ReportLink", netmon.Connectivity{Connected: true, Link: netmon.LinkEthernet}).Return(nil)
	h := newServer(svc)

	rr := do(t, h, http.MethodGet, "/network", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"quality":"poor"`)

	rr = do(t, h, http.MethodGet, "/network?check=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"quality":"good"`)

	rr = do(t, h, http.MethodPost, "/network/link", deviceapi.LinkRequest{Connected: true, Link: "ethernet"})
	assert.Equal(t, http.StatusAccepted, rr.Code)
	svc.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	rr := do(t, newServer(new(MockService)), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
