// Package signing stamps offline transactions with a tamper-evident digest.
//
// The canonical message is the transaction's signed fields joined by "|"
// in a fixed order. The digest is hex(sha256(message + secret)). The same
// functions are used by the ledger to verify submissions.
package signing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Delimiter separates canonical fields
const Delimiter = "|"

// TimeLayout is the canonical createdAt representation (ISO-8601, UTC, milliseconds)
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrSignatureUnavailable is returned when no signing secret has been provisioned
var ErrSignatureUnavailable = errors.New("signing secret not provisioned")

// Fields are the signed fields of an offline transaction
type Fields struct {
	ID             string
	Type           string
	Amount         decimal.Decimal
	WalletID       string
	UserID         string
	IdempotencyKey string
	CreatedAt      time.Time
	DeviceID       string
}

// FormatTime renders t the way it appears in the canonical message
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Canonical builds the message that gets digested
func Canonical(f Fields) string {
	return strings.Join([]string{
		f.ID,
		f.Type,
		f.Amount.String(),
		f.WalletID,
		f.UserID,
		f.IdempotencyKey,
		FormatTime(f.CreatedAt),
		f.DeviceID,
	}, Delimiter)
}

// Digest computes the signature of f under secret
func Digest(secret []byte, f Fields) string {
	h := sha256.New()
	h.Write([]byte(Canonical(f)))
	h.Write(secret)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyWith checks sig against the digest of f under secret in constant time
func VerifyWith(secret []byte, f Fields, sig string) bool {
	if len(secret) == 0 || sig == "" {
		return false
	}
	expected := Digest(secret, f)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(sig))) == 1
}

// SecretProvider supplies the current signing secret
type SecretProvider interface {
	Secret() ([]byte, bool)
}

// Engine signs and verifies with the device's current secret
type Engine struct {
	secrets SecretProvider
}

// NewEngine creates a signature engine over a secret provider (normally *identity.Identity)
func NewEngine(secrets SecretProvider) *Engine {
	return &Engine{secrets: secrets}
}

// Available reports whether signing is possible right now
func (e *Engine) Available() bool {
	_, ok := e.secrets.Secret()
	return ok
}

// Sign returns the signature for f
func (e *Engine) Sign(f Fields) (string, error) {
	secret, ok := e.secrets.Secret()
	if !ok {
		return "", ErrSignatureUnavailable
	}
	return Digest(secret, f), nil
}

// Verify reports whether sig is a valid signature of f under the current secret
func (e *Engine) Verify(f Fields, sig string) bool {
	secret, ok := e.secrets.Secret()
	if !ok {
		return false
	}
	return VerifyWith(secret, f, sig)
}
