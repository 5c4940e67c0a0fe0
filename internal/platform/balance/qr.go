package balance

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	qrScheme = "festpay"
	qrHost   = "wallet"
)

// Reasons a scanned wallet QR code is refused
const (
	QRReasonMalformed      = "malformed"
	QRReasonExpired        = "expired"
	QRReasonWalletMismatch = "wallet_mismatch"
	QRReasonUserMismatch   = "user_mismatch"
	QRReasonNoFunds        = "insufficient_funds"
)

// QRPayload is a decoded wallet QR code
type QRPayload struct {
	WalletID  uuid.UUID
	UserID    uuid.UUID
	ExpiresAt time.Time
}

// QRValidationResult is the offline verdict on a scanned wallet code. Never persisted.
type QRValidationResult struct {
	Valid            bool            `json:"valid"`
	Reason           string          `json:"reason,omitempty"`
	WalletID         uuid.UUID       `json:"wallet_id"`
	UserID           uuid.UUID       `json:"user_id"`
	EffectiveBalance decimal.Decimal `json:"effective_balance"`
	MaxSpend         decimal.Decimal `json:"max_spend"`
}

// ParseQR decodes festpay://wallet/<walletID>?user=<userID>&exp=<unix seconds>
func ParseQR(payload string) (QRPayload, error) {
	u, err := url.Parse(strings.TrimSpace(payload))
	if err != nil {
		return QRPayload{}, fmt.Errorf("failed to parse qr payload: %w", err)
	}
	if u.Scheme != qrScheme || u.Host != qrHost {
		return QRPayload{}, fmt.Errorf("unexpected qr target %s://%s", u.Scheme, u.Host)
	}

	walletID, err := uuid.Parse(strings.Trim(u.Path, "/"))
	if err != nil {
		return QRPayload{}, fmt.Errorf("invalid wallet id: %w", err)
	}
	q := u.Query()
	userID, err := uuid.Parse(q.Get("user"))
	if err != nil {
		return QRPayload{}, fmt.Errorf("invalid user id: %w", err)
	}
	exp, err := strconv.ParseInt(q.Get("exp"), 10, 64)
	if err != nil {
		return QRPayload{}, fmt.Errorf("invalid expiry: %w", err)
	}

	return QRPayload{WalletID: walletID, UserID: userID, ExpiresAt: time.Unix(exp, 0).UTC()}, nil
}

// FormatQR encodes a wallet QR payload
func FormatQR(p QRPayload) string {
	return fmt.Sprintf("%s://%s/%s?user=%s&exp=%d", qrScheme, qrHost, p.WalletID, p.UserID, p.ExpiresAt.Unix())
}

// ValidateQR checks a scanned payload against the cached wallet and its pending
// deltas, without network access. MaxSpend is capped by limit when limit is positive.
func ValidateQR(payload string, wallet CachedWallet, pending []Delta, limit decimal.Decimal, now time.Time) QRValidationResult {
	p, err := ParseQR(payload)
	if err != nil {
		return QRValidationResult{Reason: QRReasonMalformed, MaxSpend: decimal.Zero}
	}

	eff := Resolve(wallet, pending)
	result := QRValidationResult{
		WalletID:         p.WalletID,
		UserID:           p.UserID,
		EffectiveBalance: eff.Effective,
		MaxSpend:         decimal.Zero,
	}

	switch {
	case !now.Before(p.ExpiresAt):
		result.Reason = QRReasonExpired
	case p.WalletID != wallet.ID:
		result.Reason = QRReasonWalletMismatch
	case wallet.UserID != uuid.Nil && p.UserID != wallet.UserID:
		result.Reason = QRReasonUserMismatch
	case !eff.Effective.IsPositive():
		result.Reason = QRReasonNoFunds
	default:
		result.Valid = true
		result.MaxSpend = eff.Effective
		if limit.IsPositive() && limit.LessThan(eff.Effective) {
			result.MaxSpend = limit
		}
	}
	return result
}
