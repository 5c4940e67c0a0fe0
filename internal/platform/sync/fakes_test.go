package sync_test

import (
	"context"
	"fmt"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/festpay/internal/infra/localdb"
	"github.com/kislikjeka/festpay/internal/platform/balance"
	"github.com/kislikjeka/festpay/internal/platform/identity"
	"github.com/kislikjeka/festpay/internal/platform/queue"
	"github.com/kislikjeka/festpay/internal/platform/signing"
	pkgsync "github.com/kislikjeka/festpay/internal/platform/sync"
	"github.com/kislikjeka/festpay/internal/platform/txn"
	"github.com/kislikjeka/festpay/pkg/logger"
)

// =============================================================================
// Fake ledger: deduplicates on idempotency key, scripted failures per transaction
// =============================================================================

type fakeLedger struct {
	mu        gosync.Mutex
	secret    []byte
	balances  map[uuid.UUID]decimal.Decimal
	seen      map[string]bool
	order     []uuid.UUID
	failures  map[uuid.UUID][]error
	items     []uuid.UUID
	itemFail  map[uuid.UUID]error
	debits    map[uuid.UUID]int
	lostAck   map[uuid.UUID]bool
	onSubmit  func(tx *txn.PendingTransaction)
	noBalance bool
}

func newFakeLedger(secret []byte) *fakeLedger {
	return &fakeLedger{
		secret:   secret,
		balances: make(map[uuid.UUID]decimal.Decimal),
		seen:     make(map[string]bool),
		failures: make(map[uuid.UUID][]error),
		itemFail: make(map[uuid.UUID]error),
		debits:   make(map[uuid.UUID]int),
		lostAck:  make(map[uuid.UUID]bool),
	}
}

func (l *fakeLedger) failWith(id uuid.UUID, errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[id] = append(l.failures[id], errs...)
}

func (l *fakeLedger) SubmitTransaction(ctx context.Context, tx *txn.PendingTransaction) (*pkgsync.Ack, error) {
	if l.onSubmit != nil {
		l.onSubmit(tx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.order = append(l.order, tx.ID)

	if errs := l.failures[tx.ID]; len(errs) > 0 {
		l.failures[tx.ID] = errs[1:]
		return nil, errs[0]
	}

	if !signing.VerifyWith(l.secret, tx.Fields(), tx.Signature) {
		return nil, fmt.Errorf("%w: signature_mismatch", txn.ErrSubmissionRejected)
	}

	bal := l.balances[tx.WalletID]
	if l.seen[tx.IdempotencyKey] {
		return &pkgsync.Ack{Status: pkgsync.AckDuplicate, Balance: l.balance(bal)}, nil
	}

	l.seen[tx.IdempotencyKey] = true
	bal = bal.Add(tx.Amount)
	l.balances[tx.WalletID] = bal
	l.debits[tx.WalletID]++
	if l.lostAck[tx.ID] {
		delete(l.lostAck, tx.ID)
		return nil, context.DeadlineExceeded
	}
	return &pkgsync.Ack{Status: pkgsync.AckAccepted, LedgerID: uuid.NewString(), Balance: l.balance(bal)}, nil
}

func (l *fakeLedger) balance(b decimal.Decimal) *decimal.Decimal {
	if l.noBalance {
		return nil
	}
	return &b
}

func (l *fakeLedger) SubmitItem(ctx context.Context, item *queue.SyncItem) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.itemFail[item.ID]; ok {
		return err
	}
	l.items = append(l.items, item.ID)
	return nil
}

func (l *fakeLedger) submitted() []uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uuid.UUID(nil), l.order...)
}

// =============================================================================
// Device fixture: real queue over a temporary local database
// =============================================================================

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type device struct {
	ctx     context.Context
	id      *identity.Identity
	queue   *queue.Queue
	factory *txn.Factory
	ledger  *fakeLedger
	engine  *pkgsync.Engine
	now     time.Time
	mu      gosync.Mutex
}

func newDevice(t *testing.T, opts ...pkgsync.Option) *device {
	t.Helper()
	return buildDevice(t, true, opts...)
}

// newUnprovisionedDevice has no signing secret yet, so payments queue provisional
func newUnprovisionedDevice(t *testing.T, opts ...pkgsync.Option) *device {
	t.Helper()
	return buildDevice(t, false, opts...)
}

func buildDevice(t *testing.T, provisioned bool, opts ...pkgsync.Option) *device {
	t.Helper()
	ctx := context.Background()

	pool, err := localdb.OpenPool(localdb.Config{Path: filepath.Join(t.TempDir(), "device.db")}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	store := localdb.NewStore(pool)

	id, err := identity.Load(ctx, store, identity.SecretFromServer)
	require.NoError(t, err)
	if provisioned {
		require.NoError(t, id.Adopt(testSecret, true))
	}

	d := &device{ctx: ctx, id: id, ledger: newFakeLedger(testSecret), now: time.Date(2026, 7, 18, 18, 0, 0, 0, time.UTC)}
	clock := d.clock
	d.queue = queue.New(store, id, logger.Nop(), queue.WithClock(clock))
	d.factory = txn.NewFactory(id, signing.NewEngine(id), txn.PolicyProvisional, txn.WithClock(clock))

	cfg := pkgsync.DefaultConfig()
	cfg.PollInterval = 0
	opts = append([]pkgsync.Option{pkgsync.WithClock(clock)}, opts...)
	d.engine = pkgsync.NewEngine(cfg, d.queue, d.ledger, logger.Nop(), opts...)
	return d
}

func (d *device) clock() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

func (d *device) advance(by time.Duration) {
	d.mu.Lock()
	d.now = d.now.Add(by)
	d.mu.Unlock()
}

func (d *device) wallet(t *testing.T, amount int64) uuid.UUID {
	t.Helper()
	walletID := uuid.New()
	require.NoError(t, d.queue.RefreshWallet(d.ctx, balance.CachedWallet{ID: walletID, Balance: decimal.NewFromInt(amount)}))
	d.ledger.mu.Lock()
	d.ledger.balances[walletID] = decimal.NewFromInt(amount)
	d.ledger.mu.Unlock()
	return walletID
}

func (d *device) pay(t *testing.T, walletID uuid.UUID, typ txn.Type, amount string) *txn.PendingTransaction {
	t.Helper()
	tx, _, err := d.queue.Submit(d.ctx, walletID, func(current decimal.Decimal) (*txn.PendingTransaction, error) {
		return d.factory.Create(d.ctx, txn.Input{
			Type:     typ,
			Amount:   decimal.RequireFromString(amount),
			WalletID: walletID,
			UserID:   uuid.New(),
		}, current)
	})
	require.NoError(t, err)
	d.advance(time.Millisecond)
	return tx
}

func (d *device) effective(t *testing.T, walletID uuid.UUID) decimal.Decimal {
	t.Helper()
	eff, err := d.queue.EffectiveBalance(d.ctx, walletID)
	require.NoError(t, err)
	return eff.Effective
}

func (d *device) pending(t *testing.T) []*txn.PendingTransaction {
	t.Helper()
	p, err := d.queue.ListPending(d.ctx, nil)
	require.NoError(t, err)
	return p
}

// =============================================================================
// Provisioner: installs the fake ledger's secret through the real queue
// =============================================================================

type ledgerProvisioner struct {
	d     *device
	calls int
	err   error
}

func (p *ledgerProvisioner) Provisioned() bool {
	return p.d.id.Provisioned()
}

func (p *ledgerProvisioner) Provision(ctx context.Context) (int, error) {
	p.calls++
	if p.err != nil {
		return 0, p.err
	}
	return p.d.queue.InstallSecret(ctx, p.d.ledger.secret, true)
}
