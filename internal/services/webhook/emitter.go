package webhook

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/pkg/timeutil"
)

var (
	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_emitted_total",
		Help: "Webhook events built and enqueued for delivery, by trigger",
	}, []string{"trigger"})

	eventsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_events_skipped_total",
		Help: "Emissions dropped because the account has no usable webhook",
	})

	emitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_emit_failures_total",
		Help: "Emissions that could not be enqueued",
	})
)

const (
	triggerCreated          = "subscription_created"
	triggerActivated        = "subscription_activated"
	triggerPaymentProcessed = "payment_processed"
	triggerPaymentFailed    = "payment_failed"
	triggerActivationFailed = "activation_failed"
	triggerCanceled         = "subscription_canceled"
)

// Emitter builds and signs subscription.updated events at lifecycle edges
// and hands them to the delivery queue. Every entry point is fire-and-forget:
// a dead webhook endpoint or a down queue is logged, never surfaced, so
// payment processing cannot fail on notification plumbing.
type Emitter struct {
	accounts ports.AccountStore
	queue    ports.WebhookQueue
	logger   ports.Logger
}

func NewEmitter(accounts ports.AccountStore, queue ports.WebhookQueue, logger ports.Logger) *Emitter {
	return &Emitter{
		accounts: accounts,
		queue:    queue,
		logger:   logger,
	}
}

func (e *Emitter) EmitSubscriptionCreated(ctx context.Context, sub *domain.Subscription, order *domain.Order) {
	e.emit(ctx, triggerCreated, sub, newEvent(sub, order, nil, nil))
}

func (e *Emitter) EmitSubscriptionActivated(ctx context.Context, sub *domain.Subscription, order *domain.Order, tx *domain.Transaction) {
	e.emit(ctx, triggerActivated, sub, newEvent(sub, order, tx, nil))
}

func (e *Emitter) EmitPaymentProcessed(ctx context.Context, sub *domain.Subscription, order *domain.Order, tx *domain.Transaction) {
	e.emit(ctx, triggerPaymentProcessed, sub, newEvent(sub, order, tx, nil))
}

func (e *Emitter) EmitPaymentFailed(ctx context.Context, sub *domain.Subscription, order *domain.Order, failure error) {
	e.emit(ctx, triggerPaymentFailed, sub, newEvent(sub, order, nil, failure))
}

func (e *Emitter) EmitActivationFailed(ctx context.Context, sub *domain.Subscription, order *domain.Order, failure error) {
	e.emit(ctx, triggerActivationFailed, sub, newEvent(sub, order, nil, failure))
}

func (e *Emitter) EmitSubscriptionCanceled(ctx context.Context, sub *domain.Subscription, lastOrder *domain.Order) {
	e.emit(ctx, triggerCanceled, sub, newEvent(sub, lastOrder, nil, nil))
}

func (e *Emitter) emit(ctx context.Context, trigger string, sub *domain.Subscription, event Event) {
	hook, err := e.accounts.GetWebhook(ctx, sub.AccountID)
	if err != nil {
		if ports.IsNotFound(err) {
			eventsSkipped.Inc()
			return
		}
		emitFailures.Inc()
		e.logger.Error("Failed to load webhook endpoint",
			ports.Int64("account_id", sub.AccountID),
			ports.String("trigger", trigger),
			ports.Err(err),
		)
		return
	}
	if !hook.Usable() {
		eventsSkipped.Inc()
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		emitFailures.Inc()
		e.logger.Error("Failed to serialize webhook event",
			ports.String("subscription_id", sub.ID.Hex()),
			ports.String("trigger", trigger),
			ports.Err(err),
		)
		return
	}

	msg := ports.WebhookDeliveryMessage{
		ID:        uuid.NewString(),
		URL:       hook.URL,
		Signature: Sign(payload, hook.Secret),
		Payload:   payload,
		AccountID: sub.AccountID,
		Timestamp: timeutil.Now(),
	}
	if err := e.queue.EnqueueDelivery(ctx, msg); err != nil {
		emitFailures.Inc()
		e.logger.Error("Failed to enqueue webhook delivery",
			ports.String("subscription_id", sub.ID.Hex()),
			ports.String("trigger", trigger),
			ports.String("delivery_id", msg.ID),
			ports.Err(err),
		)
		return
	}

	eventsEmitted.WithLabelValues(trigger).Inc()
	e.logger.Info("Webhook event enqueued",
		ports.String("subscription_id", sub.ID.Hex()),
		ports.String("trigger", trigger),
		ports.String("status", string(sub.Status)),
		ports.String("delivery_id", msg.ID),
	)
}

var _ ports.WebhookEmitter = (*Emitter)(nil)
