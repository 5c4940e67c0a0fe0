package balance_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/festpay/internal/platform/balance"
	"github.com/kislikjeka/festpay/internal/platform/txn"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestResolve(t *testing.T) {
	walletID := uuid.New()
	other := uuid.New()
	wallet := balance.CachedWallet{ID: walletID, Balance: dec("100")}

	eff := balance.Resolve(wallet, []balance.Delta{
		{WalletID: walletID, Amount: dec("-15")},
		{WalletID: other, Amount: dec("-50")},
		{WalletID: walletID, Amount: dec("-20")},
		{WalletID: walletID, Amount: dec("5.50")},
	})

	assert.True(t, eff.Confirmed.Equal(dec("100")))
	assert.True(t, eff.PendingDelta.Equal(dec("-29.50")))
	assert.True(t, eff.Effective.Equal(dec("70.50")))
	assert.Equal(t, 3, eff.PendingCount)
}

func TestResolve_NoPending(t *testing.T) {
	wallet := balance.CachedWallet{ID: uuid.New(), Balance: dec("42")}
	eff := balance.Resolve(wallet, nil)
	assert.True(t, eff.Effective.Equal(dec("42")))
	assert.Zero(t, eff.PendingCount)
}

func TestDeltasOf(t *testing.T) {
	walletID := uuid.New()
	deltas := balance.DeltasOf([]*txn.PendingTransaction{
		{WalletID: walletID, Amount: dec("-1")},
		{WalletID: walletID, Amount: dec("-2")},
	})
	require.Len(t, deltas, 2)
	assert.True(t, deltas[1].Amount.Equal(dec("-2")))
}

func TestValidateQR(t *testing.T) {
	now := time.Date(2026, 7, 18, 20, 0, 0, 0, time.UTC)
	walletID := uuid.New()
	userID := uuid.New()
	wallet := balance.CachedWallet{ID: walletID, UserID: userID, Balance: dec("100")}
	valid := balance.FormatQR(balance.QRPayload{WalletID: walletID, UserID: userID, ExpiresAt: now.Add(time.Minute)})

	tests := []struct {
		name       string
		payload    string
		wallet     balance.CachedWallet
		pending    []balance.Delta
		limit      decimal.Decimal
		wantValid  bool
		wantReason string
		wantMax    string
	}{
		{name: "capped by limit", payload: valid, wallet: wallet, limit: dec("50"), wantValid: true, wantMax: "50"},
		{
			name:      "capped by effective",
			payload:   valid,
			wallet:    wallet,
			limit:     dec("50"),
			pending:   []balance.Delta{{WalletID: walletID, Amount: dec("-70")}},
			wantValid: true,
			wantMax:   "30",
		},
		{name: "no limit", payload: valid, wallet: wallet, wantValid: true, wantMax: "100"},
		{name: "garbage", payload: "not a qr", wallet: wallet, wantReason: balance.QRReasonMalformed, wantMax: "0"},
		{
			name:       "expired",
			payload:    balance.FormatQR(balance.QRPayload{WalletID: walletID, UserID: userID, ExpiresAt: now}),
			wallet:     wallet,
			wantReason: balance.QRReasonExpired,
			wantMax:    "0",
		},
		{
			name:       "other wallet",
			payload:    balance.FormatQR(balance.QRPayload{WalletID: uuid.New(), UserID: userID, ExpiresAt: now.Add(time.Hour)}),
			wallet:     wallet,
			wantReason: balance.QRReasonWalletMismatch,
			wantMax:    "0",
		},
		{
			name:       "other user",
			payload:    balance.FormatQR(balance.QRPayload{WalletID: walletID, UserID: uuid.New(), ExpiresAt: now.Add(time.Hour)}),
			wallet:     wallet,
			wantReason: balance.QRReasonUserMismatch,
			wantMax:    "0",
		},
		{
			name:       "spent out",
			payload:    valid,
			wallet:     wallet,
			pending:    []balance.Delta{{WalletID: walletID, Amount: dec("-100")}},
			wantReason: balance.QRReasonNoFunds,
			wantMax:    "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := balance.ValidateQR(tt.payload, tt.wallet, tt.pending, tt.limit, now)
			assert.Equal(t, tt.wantValid, got.Valid)
			assert.Equal(t, tt.wantReason, got.Reason)
			assert.True(t, got.MaxSpend.Equal(dec(tt.wantMax)), "max spend %s", got.MaxSpend)
		})
	}
}

func TestParseQR_RoundTrip(t *testing.T) {
	p := balance.QRPayload{WalletID: uuid.New(), UserID: uuid.New(), ExpiresAt: time.Unix(1784404800, 0).UTC()}
	got, err := balance.ParseQR(balance.FormatQR(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)
}
