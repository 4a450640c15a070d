package order

import (
	"context"
	"fmt"

	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

// HandleMessage adapts the pipeline to the order queue consumer. A returned
// error requests a delayed redelivery; the handler reserves that for faults
// a later delivery can fix. Everything else is logged and acknowledged so a
// poisoned message cannot wedge the queue.
func (p *Processor) HandleMessage(ctx context.Context, msg *ports.ProcessOrderMessage) error {
	ctx, cancel := p.timeouts.ProcessOrderContext(ctx)
	defer cancel()

	result, err := p.ProcessOrder(ctx, ProcessOrderParams{
		OrderID: msg.OrderID,
		Claimed: msg.Claimed,
	})
	if err != nil {
		if ports.IsTransient(err) {
			return fmt.Errorf("process order %d: %w", msg.OrderID, err)
		}
		// A redelivery would hit the same fault. The stalled-order sweep
		// returns to the order once the fault is cleared.
		p.logger.Error("Order processing failed",
			ports.Int64("order_id", msg.OrderID),
			ports.Int("delivery_attempts", msg.Attempts),
			ports.Err(err),
		)
		return nil
	}

	if result.IsUpstreamError {
		// This run owned the claim; the redelivery inherits it.
		msg.Claimed = true
		return fmt.Errorf("process order %d deferred: %s", msg.OrderID, result.FailureReason)
	}
	return nil
}
