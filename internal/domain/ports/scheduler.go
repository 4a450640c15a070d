package ports

import (
	"context"
	"time"

	"github.com/brindlepay/subscription-service/internal/domain"
)

// TimerParams arms one durable per-order timer.
type TimerParams struct {
	DueAt    time.Time
	Provider domain.ProviderTag
	OrderID  int64
}

// OrderScheduler is a durable per-order timer. Each orderId owns exactly one
// schedule; arming again replaces the previous dueAt atomically. Firings
// survive restarts and are delivered at least once; a single orderId never
// has two firings in flight.
type OrderScheduler interface {
	// Set arms the timer, replacing any prior schedule for the order.
	Set(ctx context.Context, params TimerParams) error
	// Update re-arms an already scheduled order.
	Update(ctx context.Context, params TimerParams) error
	// Delete cancels the timer. Idempotent.
	Delete(ctx context.Context, orderID int64) error
}
