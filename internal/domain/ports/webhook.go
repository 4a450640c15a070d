package ports

import (
	"context"

	"github.com/brindlepay/subscription-service/internal/domain"
)

// WebhookEmitter publishes subscription.updated events at lifecycle edges.
// Emission is fire-and-forget: implementations log failures and never
// return them, so a dead webhook endpoint cannot fail a payment.
//
// Order and transaction arguments may be nil when the edge carries none.
// The subscription's Status field must already hold the post-transition
// state the event announces.
type WebhookEmitter interface {
	EmitSubscriptionCreated(ctx context.Context, sub *domain.Subscription, order *domain.Order)
	EmitSubscriptionActivated(ctx context.Context, sub *domain.Subscription, order *domain.Order, tx *domain.Transaction)
	EmitPaymentProcessed(ctx context.Context, sub *domain.Subscription, order *domain.Order, tx *domain.Transaction)
	// EmitPaymentFailed includes the order's NextRetryAt when dunning
	// scheduled another attempt.
	EmitPaymentFailed(ctx context.Context, sub *domain.Subscription, order *domain.Order, failure error)
	EmitActivationFailed(ctx context.Context, sub *domain.Subscription, order *domain.Order, failure error)
	EmitSubscriptionCanceled(ctx context.Context, sub *domain.Subscription, lastOrder *domain.Order)
}
