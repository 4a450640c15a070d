package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/brindlepay/subscription-service/internal/domain"
)

// ProcessOrderMessage asks a worker to run the charge pipeline for one
// order. Attempts counts queue-level redeliveries for upstream failures,
// not dunning attempts. Claimed is set when the enqueuer already moved the
// order to processing, so the worker skips its own claim.
type ProcessOrderMessage struct {
	EnqueuedAt time.Time          `json:"enqueued_at"`
	Provider   domain.ProviderTag `json:"provider"`
	OrderID    int64              `json:"order_id"`
	Attempts   int                `json:"attempts"`
	Claimed    bool               `json:"claimed,omitempty"`
}

// WebhookDeliveryMessage is one signed payload awaiting delivery. Payload is
// the exact byte sequence the signature covers; it must not be re-encoded.
type WebhookDeliveryMessage struct {
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id"`
	URL       string          `json:"url"`
	Signature string          `json:"signature"`
	Payload   json.RawMessage `json:"payload"`
	AccountID int64           `json:"account_id"`
	Attempts  int             `json:"attempts"`
}

// OrderQueue feeds the order processing workers.
type OrderQueue interface {
	EnqueueProcessOrder(ctx context.Context, msg ProcessOrderMessage) error
}

// WebhookQueue feeds the webhook delivery workers.
type WebhookQueue interface {
	EnqueueDelivery(ctx context.Context, msg WebhookDeliveryMessage) error
}
