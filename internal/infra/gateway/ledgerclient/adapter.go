package ledgerclient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/festpay/internal/platform/balance"
	"github.com/kislikjeka/festpay/internal/platform/catalog"
	"github.com/kislikjeka/festpay/internal/platform/netmon"
	"github.com/kislikjeka/festpay/internal/platform/queue"
	"github.com/kislikjeka/festpay/internal/platform/sync"
	"github.com/kislikjeka/festpay/internal/platform/txn"
	"github.com/kislikjeka/festpay/pkg/ledgerapi"
)

// Adapter maps the ledger client onto the device's domain ports
type Adapter struct {
	client *Client
	now    func() time.Time
}

var (
	_ sync.Ledger    = (*Adapter)(nil)
	_ catalog.Source = (*Adapter)(nil)
	_ netmon.Prober  = (*Adapter)(nil)
)

// NewAdapter creates a ledger adapter
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client, now: time.Now}
}

// SubmitTransaction sends a pending transaction and maps the acknowledgment
func (a *Adapter) SubmitTransaction(ctx context.Context, tx *txn.PendingTransaction) (*sync.Ack, error) {
	resp, err := a.client.SubmitTransaction(ctx, toTransactionRequest(tx))
	if err != nil {
		return nil, err
	}

	ack := &sync.Ack{Status: sync.AckAccepted, LedgerID: resp.TransactionID}
	if resp.Status == ledgerapi.StatusDuplicate {
		ack.Status = sync.AckDuplicate
	}
	if resp.Balance != nil && (resp.WalletID == "" || resp.WalletID == tx.WalletID.String()) {
		ack.Balance = resp.Balance
	}
	return ack, nil
}

// SubmitItem forwards a generic sync item
func (a *Adapter) SubmitItem(ctx context.Context, item *queue.SyncItem) error {
	return a.client.SubmitItem(ctx, ledgerapi.ItemRequest{
		ID:        item.ID.String(),
		Kind:      item.Kind,
		Payload:   item.Payload,
		DeviceID:  a.client.deviceID,
		CreatedAt: item.CreatedAt,
	})
}

// FetchCatalog downloads the catalog as a snapshot
func (a *Adapter) FetchCatalog(ctx context.Context) (*catalog.Snapshot, error) {
	resp, err := a.client.GetCatalog(ctx)
	if err != nil {
		return nil, err
	}

	stands := make([]catalog.Stand, 0, len(resp.Stands))
	for _, s := range resp.Stands {
		stands = append(stands, catalog.Stand{ID: s.ID, Name: s.Name})
	}
	products := make([]catalog.Product, 0, len(resp.Products))
	for _, p := range resp.Products {
		products = append(products, catalog.Product{ID: p.ID, StandID: p.StandID, Name: p.Name, Price: p.Price})
	}
	return catalog.NewSnapshot(stands, products, a.now())
}

// FetchWallet downloads a wallet's confirmed balance
func (a *Adapter) FetchWallet(ctx context.Context, walletID uuid.UUID) (*balance.CachedWallet, error) {
	resp, err := a.client.GetWallet(ctx, walletID.String())
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(resp.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id from ledger: %w", err)
	}
	return &balance.CachedWallet{
		ID:        walletID,
		UserID:    userID,
		Balance:   resp.Balance,
		UpdatedAt: resp.UpdatedAt,
	}, nil
}

// Provision fetches the device's signing secret
func (a *Adapter) Provision(ctx context.Context) ([]byte, error) {
	return a.client.Provision(ctx)
}

// Probe measures the round trip to the ledger
func (a *Adapter) Probe(ctx context.Context) (time.Duration, error) {
	return a.client.Probe(ctx)
}

func toTransactionRequest(tx *txn.PendingTransaction) ledgerapi.TransactionRequest {
	req := ledgerapi.TransactionRequest{
		ID:             tx.ID.String(),
		Type:           string(tx.Type),
		Amount:         tx.Amount,
		WalletID:       tx.WalletID.String(),
		UserID:         tx.UserID.String(),
		StandID:        tx.StandID,
		Description:    tx.Description,
		IdempotencyKey: tx.IdempotencyKey,
		Signature:      tx.Signature,
		DeviceID:       tx.DeviceID,
		CreatedAt:      tx.CreatedAt,
	}
	for _, it := range tx.Items {
		req.Items = append(req.Items, ledgerapi.Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return req
}
