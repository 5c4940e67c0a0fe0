package queue

import (
	"time"

	"github.com/google/uuid"
)

// SyncItem is a non-payment record waiting to be forwarded to the ledger,
// such as a refund request or a stand check-in
type SyncItem struct {
	ID          uuid.UUID  `json:"id"`
	Kind        string     `json:"kind"`
	Payload     []byte     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	RetryCount  int        `json:"retry_count"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// RetryState is the sync-state of a queued record after a failed attempt
type RetryState struct {
	RetryCount  int
	LastRetryAt time.Time
	Error       string
	Kind        string
}
