package ledger

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	secretLen      = 32
	secretInfoBase = "festpay/device-signing/v1:"
)

// SecretDeriver derives per-device signing secrets from one master secret,
// so the ledger never stores device secrets
type SecretDeriver struct {
	master []byte
}

// NewSecretDeriver creates a deriver
func NewSecretDeriver(master []byte) (*SecretDeriver, error) {
	if len(master) < secretLen {
		return nil, ErrMasterSecretSize
	}
	return &SecretDeriver{master: append([]byte(nil), master...)}, nil
}

// ProvisionSecret returns HKDF-SHA256(master, deviceID)
func (d *SecretDeriver) ProvisionSecret(deviceID string) ([]byte, error) {
	if deviceID == "" {
		return nil, ErrInvalidDeviceID
	}

	r := hkdf.New(sha256.New, d.master, nil, []byte(secretInfoBase+deviceID))
	secret := make([]byte, secretLen)
	if _, err := io.ReadFull(r, secret); err != nil {
		return nil, fmt.Errorf("failed to derive device secret: %w", err)
	}
	return secret, nil
}
