package txn

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/festpay/internal/platform/signing"
	"github.com/kislikjeka/festpay/pkg/money"
)

// SigningPolicy decides what happens when a transaction is created before
// the device has a signing secret
type SigningPolicy string

const (
	// PolicyRefuse fails creation with signing.ErrSignatureUnavailable
	PolicyRefuse SigningPolicy = "refuse"
	// PolicyProvisional queues the transaction unsigned; it is signed once a
	// secret is installed and is not submitted before that
	PolicyProvisional SigningPolicy = "provisional"
)

// IsValid checks the policy value
func (p SigningPolicy) IsValid() bool {
	return p == PolicyRefuse || p == PolicyProvisional
}

const (
	idempotencyPrefix    = "offline_"
	idempotencyRandChars = 9
)

var idempotencyRandMax = new(big.Int).Exp(big.NewInt(36), big.NewInt(idempotencyRandChars), nil)

// DeviceIdentity exposes the device ID bound into every transaction
type DeviceIdentity interface {
	DeviceID() string
}

// Signer signs transaction fields
type Signer interface {
	Sign(f signing.Fields) (string, error)
}

// StandLookup resolves a stand name from the cached catalog
type StandLookup interface {
	StandName(ctx context.Context, standID string) (string, bool, error)
}

// Input describes a transaction the user wants to make
type Input struct {
	Type        Type
	Amount      decimal.Decimal
	WalletID    uuid.UUID
	UserID      uuid.UUID
	StandID     *string
	Description *string
	Items       []Item
}

// Factory builds validated, signed pending transactions. It does not persist.
type Factory struct {
	identity DeviceIdentity
	signer   Signer
	policy   SigningPolicy
	stands   StandLookup
	strict   bool
	now      func() time.Time
	random   io.Reader
}

// Option configures a Factory
type Option func(*Factory)

// WithStandLookup resolves stand names from the catalog
func WithStandLookup(l StandLookup) Option {
	return func(f *Factory) { f.stands = l }
}

// WithStrictItemTotals rejects itemised transactions whose line totals do not
// add up to the amount. Without it discounts and surcharges are allowed.
func WithStrictItemTotals() Option {
	return func(f *Factory) { f.strict = true }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(f *Factory) { f.now = now }
}

// WithRandom overrides the randomness source for idempotency keys
func WithRandom(r io.Reader) Option {
	return func(f *Factory) { f.random = r }
}

// NewFactory creates a transaction factory
func NewFactory(identity DeviceIdentity, signer Signer, policy SigningPolicy, opts ...Option) *Factory {
	if !policy.IsValid() {
		policy = PolicyRefuse
	}
	f := &Factory{
		identity: identity,
		signer:   signer,
		policy:   policy,
		now:      time.Now,
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Policy returns the signing policy in effect
func (f *Factory) Policy() SigningPolicy {
	return f.policy
}

// Create validates in against currentEffective (the wallet's effective balance
// at this moment) and returns a new pending transaction.
func (f *Factory) Create(ctx context.Context, in Input, currentEffective decimal.Decimal) (*PendingTransaction, error) {
	if err := validate(in, f.strict); err != nil {
		return nil, err
	}

	if in.Type.IsDebit() && currentEffective.Add(in.Amount).IsNegative() {
		return nil, fmt.Errorf("%w: effective balance %s, amount %s",
			ErrInsufficientFunds, money.Format(currentEffective), money.Format(in.Amount))
	}

	key, err := f.idempotencyKey()
	if err != nil {
		return nil, err
	}

	tx := &PendingTransaction{
		ID:             uuid.New(),
		Type:           in.Type,
		Amount:         in.Amount,
		WalletID:       in.WalletID,
		UserID:         in.UserID,
		StandID:        cloneString(in.StandID),
		Description:    cloneString(in.Description),
		IdempotencyKey: key,
		DeviceID:       f.identity.DeviceID(),
		CreatedAt:      f.now().UTC().Truncate(time.Millisecond),
	}
	if len(in.Items) > 0 {
		tx.Items = make([]Item, len(in.Items))
		copy(tx.Items, in.Items)
	}

	if in.StandID != nil && f.stands != nil {
		name, ok, err := f.stands.StandName(ctx, *in.StandID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve stand name: %w", err)
		}
		if ok {
			tx.StandName = &name
		}
	}

	sig, err := f.signer.Sign(tx.Fields())
	switch {
	case err == nil:
		tx.Signature = sig
	case errors.Is(err, signing.ErrSignatureUnavailable) && f.policy == PolicyProvisional:
		tx.Provisional = true
	default:
		return nil, err
	}

	return tx, nil
}

func validate(in Input, strictTotals bool) error {
	if !in.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
	if in.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if in.Type.IsDebit() != in.Amount.IsNegative() {
		return fmt.Errorf("%w: %s %s", ErrAmountSign, in.Type, in.Amount.String())
	}
	if in.WalletID == uuid.Nil {
		return ErrInvalidWalletID
	}
	if in.UserID == uuid.Nil {
		return ErrInvalidUserID
	}
	if len(in.Items) == 0 {
		return nil
	}

	lines := make([]decimal.Decimal, 0, len(in.Items))
	for i, item := range in.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: item %d has no product", ErrInvalidItems, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidItems, i)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: item %d price is negative", ErrInvalidItems, i)
		}
		lines = append(lines, item.Total())
	}
	if !strictTotals {
		return nil
	}
	if total := money.Sum(lines...); !total.Equal(in.Amount.Abs()) {
		return fmt.Errorf("%w: items total %s, amount %s", ErrItemsTotalMismatch, total.String(), in.Amount.Abs().String())
	}
	return nil
}

// idempotencyKey returns offline_<base36 unix ms>_<9 random base36 chars>
func (f *Factory) idempotencyKey() (string, error) {
	n, err := rand.Int(f.random, idempotencyRandMax)
	if err != nil {
		return "", fmt.Errorf("failed to generate idempotency key: %w", err)
	}
	suffix := n.Text(36)
	if len(suffix) < idempotencyRandChars {
		suffix = strings.Repeat("0", idempotencyRandChars-len(suffix)) + suffix
	}
	return idempotencyPrefix + strconv.FormatInt(f.now().UnixMilli(), 36) + "_" + suffix, nil
}
