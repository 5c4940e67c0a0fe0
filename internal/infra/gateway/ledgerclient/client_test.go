package ledgerclient_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/festpay/internal/infra/gateway/ledgerclient"
	"github.com/kislikjeka/festpay/internal/platform/queue"
	"github.com/kislikjeka/festpay/internal/platform/sync"
	"github.com/kislikjeka/festpay/internal/platform/txn"
	"github.com/kislikjeka/festpay/pkg/ledgerapi"
	"github.com/kislikjeka/festpay/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New("development", io.Discard)
}

// ledgerStub serves the auth endpoint and delegates everything else
func ledgerStub(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var logins int32
	mux := http.NewServeMux()
	mux.HandleFunc(ledgerapi.PathDeviceAuth, func(w http.ResponseWriter, r *http.Request) {
		var req ledgerapi.DeviceAuthRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.EnrollmentKey != "enroll" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(ledgerapi.ErrorResponse{Error: "bad enrollment key"})
			return
		}
		n := atomic.AddInt32(&logins, 1)
		json.NewEncoder(w).Encode(ledgerapi.DeviceAuthResponse{Token: "token-" + string(rune('0'+n))})
	})
	mux.HandleFunc("/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &logins
}

func newAdapter(srv *httptest.Server, key string) *ledgerclient.Adapter {
	return ledgerclient.NewAdapter(ledgerclient.NewClient(srv.URL, "device-1", key, testLogger()))
}

func decimalPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func pendingTx() *txn.PendingTransaction {
	standID := "stand-1"
	return &txn.PendingTransaction{
		ID:             uuid.New(),
		Type:           txn.TypePurchase,
		Amount:         decimal.RequireFromString("-15"),
		WalletID:       uuid.New(),
		UserID:         uuid.New(),
		StandID:        &standID,
		Items:          []txn.Item{{ProductID: "beer", Name: "Beer", Quantity: 3, UnitPrice: decimal.NewFromInt(5)}},
		IdempotencyKey: "offline_abc_123456789",
		Signature:      "sig",
		DeviceID:       "device-1",
		CreatedAt:      time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSubmitTransaction_Accepted(t *testing.T) {
	tx := pendingTx()
	var got ledgerapi.TransactionRequest
	var auth string
	srv, _ := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ledgerapi.PathSyncTransactions, r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(ledgerapi.TransactionResponse{
			Status:        ledgerapi.StatusAccepted,
			TransactionID: "ledger-1",
			WalletID:      tx.WalletID.String(),
			Balance:       decimalPtr(85),
		})
	})

	ack, err := newAdapter(srv, "enroll").SubmitTransaction(context.Background(), tx)
	require.NoError(t, err)

	assert.Equal(t, "Bearer token-1", auth)
	assert.Equal(t, sync.AckAccepted, ack.Status)
	assert.Equal(t, "ledger-1", ack.LedgerID)
	require.NotNil(t, ack.Balance)
	assert.True(t, ack.Balance.Equal(decimal.NewFromInt(85)))

	assert.Equal(t, tx.IdempotencyKey, got.IdempotencyKey)
	assert.Equal(t, "PURCHASE", got.Type)
	assert.True(t, got.Amount.Equal(tx.Amount))
	require.Len(t, got.Items, 1)
	assert.Equal(t, 3, got.Items[0].Quantity)
	assert.True(t, got.CreatedAt.Equal(tx.CreatedAt))
}

func TestSubmitTransaction_ConflictIsDuplicate(t *testing.T) {
	tx := pendingTx()
	srv, _ := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(ledgerapi.TransactionResponse{
			TransactionID: "ledger-1",
			WalletID:      tx.WalletID.String(),
			Balance:       decimalPtr(85),
		})
	})

	ack, err := newAdapter(srv, "enroll").SubmitTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, sync.AckDuplicate, ack.Status)
	require.NotNil(t, ack.Balance)
}

func TestSubmitTransaction_AckWithoutBalance(t *testing.T) {
	srv, _ := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"accepted","transaction_id":"abc"}`))
	})

	ack, err := newAdapter(srv, "enroll").SubmitTransaction(context.Background(), pendingTx())
	require.NoError(t, err)
	assert.Equal(t, sync.AckAccepted, ack.Status)
	assert.Equal(t, "abc", ack.LedgerID)
	assert.Nil(t, ack.Balance, "an ack without a balance must not become an authoritative balance")
}

func TestSubmitTransaction_BalanceForAnotherWalletIgnored(t *testing.T) {
	srv, _ := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ledgerapi.TransactionResponse{
			Status:   ledgerapi.StatusAccepted,
			WalletID: uuid.NewString(),
			Balance:  decimalPtr(10),
		})
	})

	ack, err := newAdapter(srv, "enroll").SubmitTransaction(context.Background(), pendingTx())
	require.NoError(t, err)
	assert.Nil(t, ack.Balance)
}

func TestSubmitTransaction_ConflictWithUnreadableBody(t *testing.T) {
	for name, body := range map[string]string{"html": "<html>conflict</html>", "empty": ""} {
		t.Run(name, func(t *testing.T) {
			srv, _ := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(body))
			})

			ack, err := newAdapter(srv, "enroll").SubmitTransaction(context.Background(), pendingTx())
			require.NoError(t, err)
			assert.Equal(t, sync.AckDuplicate, ack.Status)
			assert.Nil(t, ack.Balance)
		})
	}
}

func TestSubmitTransaction_Rejected(t *testing.T) {
	srv, _ := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(ledgerapi.ErrorResponse{Error: "signature does not match", Reason: ledgerapi.ReasonSignatureMismatch})
	})

	_, err := newAdapter(srv, "enroll").SubmitTransaction(context.Background(), pendingTx())
	require.Error(t, err)
	assert.ErrorIs(t, err, txn.ErrSubmissionRejected)
	assert.True(t, ledgerclient.IsRejected(err))

	var rejected *ledgerclient.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, ledgerapi.ReasonSignatureMismatch, rejected.Reason)
	assert.Equal(t, http.StatusUnprocessableEntity, rejected.StatusCode)
}

func TestSubmitTransaction_ServerErrorIsTransport(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusTooManyRequests} {
		srv, _ := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		_, err := newAdapter(srv, "enroll").SubmitTransaction(context.Background(), pendingTx())
		require.Error(t, err)
		assert.NotErrorIs(t, err, txn.ErrSubmissionRejected)

		var transport *ledgerclient.TransportError
		require.True(t, errors.As(err, &transport), "status %d", status)
		assert.Equal(t, status, transport.StatusCode)
	}
}

func TestSubmitTransaction_Unreachable(t *testing.T) {
	srv, _ := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {})
	adapter := newAdapter(srv, "enroll")
	srv.Close()

	_, err := adapter.SubmitTransaction(context.Background(), pendingTx())
	require.Error(t, err)

	var transport *ledgerclient.TransportError
	require.True(t, errors.As(err, &transport))
	assert.Zero(t, transport.StatusCode)
}

func TestClient_ReauthenticatesOnUnauthorized(t *testing.T) {
	var calls int32
	srv, logins := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(ledgerapi.TransactionResponse{Status: ledgerapi.StatusAccepted})
	})

	_, err := newAdapter(srv, "enroll").SubmitTransaction(context.Background(), pendingTx())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(logins))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_BadEnrollmentKey(t *testing.T) {
	srv, _ := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("should not reach the ledger without a token")
	})

	_, err := newAdapter(srv, "wrong").SubmitTransaction(context.Background(), pendingTx())
	require.Error(t, err)
	assert.ErrorIs(t, err, ledgerclient.ErrUnauthorized)
}

func TestProvision(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	srv, _ := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ledgerapi.PathProvision, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(ledgerapi.ProvisionResponse{
			DeviceID: "device-1",
			Secret:   base64.StdEncoding.EncodeToString(secret),
		})
	})

	got, err := newAdapter(srv, "enroll").Provision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestSubmitItem(t *testing.T) {
	var got ledgerapi.ItemRequest
	srv, _ := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ledgerapi.PathSyncItems, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(ledgerapi.ItemResponse{Status: ledgerapi.StatusAccepted})
	})

	item := &queue.SyncItem{ID: uuid.New(), Kind: "checkin", Payload: []byte(`{"stand":"s1"}`), CreatedAt: time.Now().UTC()}
	require.NoError(t, newAdapter(srv, "enroll").SubmitItem(context.Background(), item))
	assert.Equal(t, item.ID.String(), got.ID)
	assert.Equal(t, "checkin", got.Kind)
	assert.Equal(t, item.Payload, got.Payload)
	assert.Equal(t, "device-1", got.DeviceID)
}

func TestFetchWallet(t *testing.T) {
	walletID, userID := uuid.New(), uuid.New()
	srv, _ := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ledgerapi.PathWallets+"/"+walletID.String() {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(ledgerapi.ErrorResponse{Error: "wallet not found", Reason: ledgerapi.ReasonUnknownWallet})
			return
		}
		json.NewEncoder(w).Encode(ledgerapi.WalletResponse{
			ID:      walletID.String(),
			UserID:  userID.String(),
			Balance: decimal.NewFromInt(100),
		})
	})
	adapter := newAdapter(srv, "enroll")

	w, err := adapter.FetchWallet(context.Background(), walletID)
	require.NoError(t, err)
	assert.Equal(t, userID, w.UserID)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(100)))

	_, err = adapter.FetchWallet(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ledgerclient.ErrNotFound)
}

func TestFetchCatalog(t *testing.T) {
	srv, _ := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ledgerapi.CatalogResponse{
			Stands:   []ledgerapi.Stand{{ID: "s2", Name: "Bar"}, {ID: "s1", Name: "Food"}},
			Products: []ledgerapi.Product{{ID: "p1", StandID: "s2", Name: "Beer", Price: decimal.NewFromInt(5)}},
		})
	})

	snap, err := newAdapter(srv, "enroll").FetchCatalog(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Stands, 2)
	assert.Equal(t, "s1", snap.Stands[0].ID)
	assert.NotEmpty(t, snap.Digest)

	stand, ok := snap.Stand("s2")
	require.True(t, ok)
	assert.Equal(t, "Bar", stand.Name)
}

func TestProbe(t *testing.T) {
	srv, logins := ledgerStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ledgerapi.PathHealth, r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(ledgerapi.HealthResponse{Status: "ok"})
	})

	rtt, err := newAdapter(srv, "enroll").Probe(context.Background())
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
	assert.Zero(t, atomic.LoadInt32(logins))
}
