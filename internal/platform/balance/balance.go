// Package balance resolves what the UI shows as a wallet's balance:
// the server-confirmed cached balance plus every unsynced local delta.
// Nothing here is stored; values are recomputed on every read.
package balance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/festpay/internal/platform/txn"
)

// CachedWallet is the last server-confirmed state of a wallet
type CachedWallet struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Delta is one unsynced change to a wallet
type Delta struct {
	WalletID uuid.UUID
	Amount   decimal.Decimal
}

// EffectiveBalance is the derived balance shown to the user
type EffectiveBalance struct {
	WalletID     uuid.UUID       `json:"wallet_id"`
	Confirmed    decimal.Decimal `json:"confirmed"`
	PendingDelta decimal.Decimal `json:"pending_delta"`
	Effective    decimal.Decimal `json:"effective"`
	PendingCount int             `json:"pending_count"`
}

// DeltasOf extracts the balance deltas of pending transactions
func DeltasOf(pending []*txn.PendingTransaction) []Delta {
	deltas := make([]Delta, 0, len(pending))
	for _, tx := range pending {
		deltas = append(deltas, Delta{WalletID: tx.WalletID, Amount: tx.Amount})
	}
	return deltas
}

// Resolve merges the cached balance with the deltas that belong to the wallet
func Resolve(wallet CachedWallet, deltas []Delta) EffectiveBalance {
	result := EffectiveBalance{
		WalletID:     wallet.ID,
		Confirmed:    wallet.Balance,
		PendingDelta: decimal.Zero,
	}
	for _, d := range deltas {
		if d.WalletID != wallet.ID {
			continue
		}
		result.PendingDelta = result.PendingDelta.Add(d.Amount)
		result.PendingCount++
	}
	result.Effective = result.Confirmed.Add(result.PendingDelta)
	return result
}
