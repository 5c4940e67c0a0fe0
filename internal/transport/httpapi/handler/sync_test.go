package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/festpay/internal/ledger"
	"github.com/kislikjeka/festpay/internal/transport/httpapi/handler"
	"github.com/kislikjeka/festpay/pkg/ledgerapi"
	"github.com/kislikjeka/festpay/pkg/logger"
)

// MockSyncService is a mock implementation of handler.SyncService
type MockSyncService struct {
	mock.Mock
}

func (m *MockSyncService) Submit(ctx context.Context, sub *ledger.Submission) (*ledger.Ack, error) {
	args := m.Called(ctx, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Ack), args.Error(1)
}

func (m *MockSyncService) RecordItem(ctx context.Context, item *ledger.Item) (bool, error) {
	args := m.Called(ctx, item)
	return args.Bool(0), args.Error(1)
}

// withDevice puts an authenticated device into the request context
func withDevice(r *http.Request, deviceID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), logger.DeviceIDKey, deviceID))
}

func transactionRequest() ledgerapi.TransactionRequest {
	return ledgerapi.TransactionRequest{
		ID:             uuid.NewString(),
		Type:           "PURCHASE",
		Amount:         decimal.NewFromInt(-15),
		WalletID:       uuid.NewString(),
		UserID:         uuid.NewString(),
		IdempotencyKey: "offline_abc_123456789",
		Signature:      "sig",
		DeviceID:       "device-1",
		CreatedAt:      time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, body interface{}, deviceID string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	if deviceID != "" {
		req = withDevice(req, deviceID)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestSubmitTransaction_Accepted(t *testing.T) {
	svc := new(MockSyncService)
	h := handler.NewSyncHandler(svc, logger.Nop())
	req := transactionRequest()
	walletID := uuid.MustParse(req.WalletID)

	svc.On("Submit", mock.Anything, mock.MatchedBy(func(s *ledger.Submission) bool {
		return s.ID.String() == req.ID && s.Amount.Equal(decimal.NewFromInt(-15)) && s.DeviceID == "device-1"
	})).Return(&ledger.Ack{
		Status:        ledger.AckAccepted,
		TransactionID: uuid.New(),
		WalletID:      walletID,
		Balance:       decimal.NewFromInt(85),
	}, nil)

	rec := postJSON(t, h.SubmitTransaction, req, "device-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body ledgerapi.TransactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ledgerapi.StatusAccepted, body.Status)
	require.NotNil(t, body.Balance)
	assert.True(t, body.Balance.Equal(decimal.NewFromInt(85)))
	svc.AssertExpectations(t)
}

func TestSubmitTransaction_DuplicateIsConflict(t *testing.T) {
	svc := new(MockSyncService)
	h := handler.NewSyncHandler(svc, logger.Nop())

	svc.On("Submit", mock.Anything, mock.Anything).Return(&ledger.Ack{Status: ledger.AckDuplicate, Balance: decimal.NewFromInt(85)}, nil)

	rec := postJSON(t, h.SubmitTransaction, transactionRequest(), "device-1")
	require.Equal(t, http.StatusConflict, rec.Code)

	var body ledgerapi.TransactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ledgerapi.StatusDuplicate, body.Status)
}

func TestSubmitTransaction_Rejections(t *testing.T) {
	tests := []struct {
		err    error
		reason string
	}{
		{ledger.ErrSignatureMismatch, ledgerapi.ReasonSignatureMismatch},
		{ledger.ErrInsufficientFunds, ledgerapi.ReasonInsufficientFunds},
		{ledger.ErrWalletNotFound, ledgerapi.ReasonUnknownWallet},
		{ledger.ErrIdempotencyConflict, ledgerapi.ReasonIdempotencyConflict},
		{ledger.ErrInvalidSubmission, ledgerapi.ReasonInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			svc := new(MockSyncService)
			h := handler.NewSyncHandler(svc, logger.Nop())
			svc.On("Submit", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := postJSON(t, h.SubmitTransaction, transactionRequest(), "device-1")
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

			var body ledgerapi.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.reason, body.Reason)
		})
	}
}

func TestSubmitTransaction_InternalError(t *testing.T) {
	svc := new(MockSyncService)
	h := handler.NewSyncHandler(svc, logger.Nop())
	svc.On("Submit", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	rec := postJSON(t, h.SubmitTransaction, transactionRequest(), "device-1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubmitTransaction_DeviceMismatch(t *testing.T) {
	svc := new(MockSyncService)
	h := handler.NewSyncHandler(svc, logger.Nop())

	rec := postJSON(t, h.SubmitTransaction, transactionRequest(), "device-2")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	svc.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestSubmitTransaction_BadIDs(t *testing.T) {
	svc := new(MockSyncService)
	h := handler.NewSyncHandler(svc, logger.Nop())
	req := transactionRequest()
	req.WalletID = "not-a-uuid"

	rec := postJSON(t, h.SubmitTransaction, req, "device-1")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmitTransaction_Unauthenticated(t *testing.T) {
	h := handler.NewSyncHandler(new(MockSyncService), logger.Nop())
	rec := postJSON(t, h.SubmitTransaction, transactionRequest(), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitItem(t *testing.T) {
	svc := new(MockSyncService)
	h := handler.NewSyncHandler(svc, logger.Nop())
	req := ledgerapi.ItemRequest{ID: uuid.NewString(), Kind: "checkin", Payload: []byte("{}"), DeviceID: "device-1"}

	svc.On("RecordItem", mock.Anything, mock.MatchedBy(func(it *ledger.Item) bool {
		return it.ID.String() == req.ID && it.DeviceID == "device-1"
	})).Return(true, nil).Once()
	svc.On("RecordItem", mock.Anything, mock.Anything).Return(false, nil).Once()

	assert.Equal(t, http.StatusOK, postJSON(t, h.SubmitItem, req, "device-1").Code)
	assert.Equal(t, http.StatusConflict, postJSON(t, h.SubmitItem, req, "device-1").Code)
}
