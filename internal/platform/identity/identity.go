// Package identity owns the per-installation device identity: a stable
// device ID and the secret used to sign offline transactions.
//
// The device ID is created once and persisted; it is never regenerated.
// The signing secret is normally provisioned by the ledger during the
// first authenticated session. A locally generated secret is only
// available in development, since the ledger cannot verify signatures
// made with a secret it never issued.
package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Storage keys
const (
	KeyDeviceID     = "device_id"
	KeySecret       = "signing_secret"
	KeySecretOrigin = "signing_secret_origin"
)

// MinSecretLen is the minimum signing secret length in bytes (256 bits)
const MinSecretLen = 32

// SecretSource selects where the signing secret comes from
type SecretSource string

const (
	SecretFromServer SecretSource = "server"
	SecretLocal      SecretSource = "local"
)

const (
	originServer = "server"
	originLocal  = "local"
)

var (
	ErrSecretTooShort = errors.New("signing secret must be at least 32 bytes")
	ErrInvalidSource  = errors.New("invalid secret source")
)

// KeyValue is the durable keyed storage the identity persists into
type KeyValue interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Identity is the device identity injected into the factory and signer
type Identity struct {
	deviceID string

	mu          sync.RWMutex
	secret      []byte
	provisioned bool
}

// Load reads the device identity from kv, creating the device ID on first
// use. With SecretLocal a random secret is generated once if none exists.
func Load(ctx context.Context, kv KeyValue, source SecretSource) (*Identity, error) {
	if source != SecretFromServer && source != SecretLocal {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}

	deviceID, err := loadOrCreateDeviceID(ctx, kv)
	if err != nil {
		return nil, err
	}

	id := &Identity{deviceID: deviceID}

	secret, ok, err := kv.Get(ctx, KeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing secret: %w", err)
	}
	if ok {
		origin, _, err := kv.Get(ctx, KeySecretOrigin)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing secret origin: %w", err)
		}
		id.secret = secret
		id.provisioned = string(origin) == originServer
		return id, nil
	}

	if source == SecretLocal {
		secret, err := NewSecret()
		if err != nil {
			return nil, err
		}
		if err := kv.Set(ctx, KeySecret, secret); err != nil {
			return nil, fmt.Errorf("failed to persist signing secret: %w", err)
		}
		if err := kv.Set(ctx, KeySecretOrigin, []byte(originLocal)); err != nil {
			return nil, fmt.Errorf("failed to persist signing secret origin: %w", err)
		}
		id.secret = secret
	}

	return id, nil
}

func loadOrCreateDeviceID(ctx context.Context, kv KeyValue) (string, error) {
	raw, ok, err := kv.Get(ctx, KeyDeviceID)
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	if ok && len(raw) > 0 {
		return string(raw), nil
	}

	deviceID := uuid.NewString()
	if err := kv.Set(ctx, KeyDeviceID, []byte(deviceID)); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return deviceID, nil
}

// NewSecret returns 32 cryptographically random bytes
func NewSecret() ([]byte, error) {
	secret := make([]byte, MinSecretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	return secret, nil
}

// ValidateSecret checks a candidate signing secret
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// OriginValue is the persisted origin marker for a secret
func OriginValue(provisioned bool) []byte {
	if provisioned {
		return []byte(originServer)
	}
	return []byte(originLocal)
}

// DeviceID returns the stable per-installation identifier
func (i *Identity) DeviceID() string {
	return i.deviceID
}

// Secret returns a copy of the signing secret and whether one is present
func (i *Identity) Secret() ([]byte, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.secret) == 0 {
		return nil, false
	}
	out := make([]byte, len(i.secret))
	copy(out, i.secret)
	return out, true
}

// Provisioned reports whether the secret was issued by the ledger
func (i *Identity) Provisioned() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.provisioned
}

// Adopt swaps the in-memory secret after it has been persisted.
// Callers persist (and re-sign pending items) first; see queue.InstallSecret.
func (i *Identity) Adopt(secret []byte, provisioned bool) error {
	if err := ValidateSecret(secret); err != nil {
		return err
	}

	cp := make([]byte, len(secret))
	copy(cp, secret)

	i.mu.Lock()
	i.secret = cp
	i.provisioned = provisioned
	i.mu.Unlock()
	return nil
}
