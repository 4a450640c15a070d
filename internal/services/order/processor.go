// Package order runs the charge pipeline for due subscription orders: claim,
// pre-check, charge, settle, advance to the next billing cycle. Failures are
// classified and handed to the dunning policy.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/internal/dunning"
	"github.com/brindlepay/subscription-service/pkg/resilience"
	"github.com/brindlepay/subscription-service/pkg/timeutil"
)

var (
	ordersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_processed_total",
		Help: "Order pipeline runs by outcome",
	}, []string{"outcome"})

	chargeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_charge_duration_seconds",
		Help:    "Wall time of provider charge calls",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)

const (
	outcomePaid         = "paid"
	outcomeNotActive    = "not_active"
	outcomeCanceled     = "canceled"
	outcomeRetry        = "retry_scheduled"
	outcomeExhausted    = "retries_exhausted"
	outcomeDeferred     = "upstream_deferred"
	outcomeUserOpFailed = "user_operation_failed"
	outcomeNextCycle    = "failed_next_cycle"
	outcomeIncomplete   = "activation_incomplete"
	outcomeSkipped      = "skipped"
)

// Processor charges one order at a time. Every entry funnels through a
// claim CAS, so an order never has two in-flight runs.
type Processor struct {
	store     ports.Store
	scheduler ports.OrderScheduler
	emitter   ports.WebhookEmitter
	logger    ports.Logger
	timeouts  *resilience.TimeoutConfig
	providers map[domain.ProviderTag]ports.SubscriptionProvider
}

func NewProcessor(
	store ports.Store,
	scheduler ports.OrderScheduler,
	emitter ports.WebhookEmitter,
	logger ports.Logger,
	providers ...ports.SubscriptionProvider,
) *Processor {
	byTag := make(map[domain.ProviderTag]ports.SubscriptionProvider, len(providers))
	for _, p := range providers {
		byTag[p.Tag()] = p
	}
	return &Processor{
		store:     store,
		scheduler: scheduler,
		emitter:   emitter,
		logger:    logger,
		timeouts:  resilience.DefaultTimeoutConfig(),
		providers: byTag,
	}
}

// ProcessOrderParams identifies the order to run. Claimed is set when the
// caller already holds the processing claim, so the pipeline skips its own.
type ProcessOrderParams struct {
	OrderID int64
	Claimed bool
}

// ProcessOrderResult reports what the pipeline run did. IsUpstreamError asks
// the caller to redeliver the message; Skipped means another run owns or
// already finished the order.
type ProcessOrderResult struct {
	TransactionHash    *common.Hash
	NextRetryAt        *time.Time
	FailureReason      domain.ErrorCode
	SubscriptionStatus domain.SubscriptionStatus
	OrderNumber        int32
	Success            bool
	Skipped            bool
	NextOrderCreated   bool
	IsUpstreamError    bool
}

// ProcessOrder runs the charge pipeline for one due order.
//
// The success path checkpoints the settlement before any other write, so a
// redelivered message reuses the recorded transaction instead of charging
// again. The failure path records the failed attempt and acts on the dunning
// decision. Upstream failures leave the order claimable and report
// IsUpstreamError so the queue redelivers the message untouched by dunning.
func (p *Processor) ProcessOrder(ctx context.Context, params ProcessOrderParams) (*ProcessOrderResult, error) {
	details, skip, err := p.claim(ctx, params)
	if err != nil {
		return nil, err
	}
	if skip != nil {
		ordersProcessed.WithLabelValues(outcomeSkipped).Inc()
		return skip, nil
	}

	order := &details.Order

	// Only active and past_due subscriptions cycle, with one exception: the
	// initial order of a subscription still in processing is an interrupted
	// activation the stalled-order sweep sent back, and finishes here.
	resume := activationResume(details)
	if !resume && !chargeable(details.SubscriptionStatus) {
		return p.failNotActive(ctx, details)
	}

	provider, err := p.providerFor(details.Provider)
	if err != nil {
		return nil, err
	}

	var (
		txHash  common.Hash
		gasUsed *int64
		fresh   bool
	)
	settled, err := p.store.GetSuccessfulTransaction(ctx, order.SubscriptionID, order.ID)
	switch {
	case err == nil:
		// A previous run charged this order and died before finishing the
		// bookkeeping. Reuse the settlement and skip the provider.
		txHash = settled.Hash
		gasUsed = settled.GasUsed
		p.logger.Info("Order already settled, reusing recorded transaction",
			ports.Int64("order_id", order.ID),
			ports.String("tx_hash", txHash.Hex()),
		)
	case ports.IsNotFound(err):
		start := timeutil.Now()
		res, chargeErr := provider.Charge(ctx, ports.ChargeParams{
			Amount:         order.Amount,
			SubscriptionID: order.SubscriptionID,
			Recipient:      details.Beneficiary,
			Testnet:        details.Testnet,
		})
		chargeDuration.Observe(time.Since(start).Seconds())
		if chargeErr != nil {
			return p.settleFailure(ctx, provider, details, chargeErr)
		}
		txHash = res.TransactionHash
		gasUsed = res.GasUsed
		fresh = true
	default:
		return nil, err
	}

	if fresh {
		// Checkpoint before anything else can fail; replays key off this row.
		if recErr := p.store.RecordTransaction(ctx, ports.RecordTransactionParams{
			Transaction: ports.NewTransaction{
				GasUsed: gasUsed,
				Amount:  order.Amount,
				Status:  domain.TransactionStatusConfirmed,
				Hash:    txHash,
			},
			SubscriptionID: order.SubscriptionID,
			OrderID:        order.ID,
		}); recErr != nil {
			p.logger.Error("Failed to checkpoint settled charge, continuing to activation",
				ports.Int64("order_id", order.ID),
				ports.String("tx_hash", txHash.Hex()),
				ports.Err(recErr),
			)
		}
	}

	next, statusErr := p.nextOrder(ctx, provider, details)
	if statusErr != nil {
		// The settlement is durable but the next cycle is unknown. Leave the
		// order in processing and let the redelivery finish the bookkeeping.
		return p.deferCompletion(details, statusErr), nil
	}

	nextOrderID, err := p.store.ExecuteSubscriptionActivation(ctx, ports.ActivationParams{
		NextOrder: next,
		Transaction: ports.NewTransaction{
			GasUsed: gasUsed,
			Amount:  order.Amount,
			Status:  domain.TransactionStatusConfirmed,
			Hash:    txHash,
		},
		SubscriptionID: order.SubscriptionID,
		OrderID:        order.ID,
	})
	if err != nil {
		p.logger.Error("Failed to finish settled order",
			ports.Int64("order_id", order.ID),
			ports.String("tx_hash", txHash.Hex()),
			ports.Err(err),
		)
		return nil, err
	}

	if next != nil && nextOrderID > 0 {
		if err := p.scheduler.Set(ctx, ports.TimerParams{
			DueAt:    next.DueAt,
			Provider: details.Provider,
			OrderID:  nextOrderID,
		}); err != nil {
			// The reconciler claims due orders straight from the database, so
			// a lost timer delays the next charge instead of dropping it.
			p.logger.Warn("Failed to arm timer for next order",
				ports.Int64("order_id", nextOrderID),
				ports.Err(err),
			)
		}
	}

	p.logger.Info("Order paid",
		ports.Int64("order_id", order.ID),
		ports.String("subscription_id", order.SubscriptionID.Hex()),
		ports.String("tx_hash", txHash.Hex()),
		ports.Bool("next_order_created", next != nil),
	)
	ordersProcessed.WithLabelValues(outcomePaid).Inc()

	order.Status = domain.OrderStatusPaid
	tx := &domain.Transaction{
		CreatedAt:      timeutil.Now(),
		GasUsed:        gasUsed,
		Amount:         order.Amount,
		Status:         domain.TransactionStatusConfirmed,
		Hash:           txHash,
		SubscriptionID: order.SubscriptionID,
		OrderID:        order.ID,
	}
	sub := subscriptionView(details, domain.SubscriptionStatusActive)
	if resume {
		// Finishing an interrupted activation announces the activation, not
		// a renewal.
		p.emitter.EmitSubscriptionActivated(ctx, sub, order, tx)
	} else {
		p.emitter.EmitPaymentProcessed(ctx, sub, order, tx)
	}

	return &ProcessOrderResult{
		TransactionHash:    &txHash,
		SubscriptionStatus: domain.SubscriptionStatusActive,
		OrderNumber:        order.OrderNumber,
		Success:            true,
		NextOrderCreated:   next != nil && nextOrderID > 0,
	}, nil
}

// claim acquires the processing claim for the order, or explains why not.
// A non-nil skip result means the run should stop without error: the order
// is gone, finished, or owned by another worker.
func (p *Processor) claim(ctx context.Context, params ProcessOrderParams) (*ports.OrderDetails, *ProcessOrderResult, error) {
	if params.Claimed {
		details, err := p.store.GetOrderDetails(ctx, params.OrderID)
		if err != nil {
			if ports.IsNotFound(err) {
				return nil, p.dropMissing(ctx, params.OrderID), nil
			}
			return nil, nil, err
		}
		if details.Order.Status == domain.OrderStatusPaid {
			return nil, alreadySettled(details), nil
		}
		return details, nil, nil
	}

	details, err := p.store.ClaimOrder(ctx, params.OrderID)
	if err == nil {
		return details, nil, nil
	}
	if !ports.IsNotFound(err) {
		return nil, nil, err
	}

	details, err = p.store.GetOrderDetails(ctx, params.OrderID)
	if err != nil {
		if ports.IsNotFound(err) {
			return nil, p.dropMissing(ctx, params.OrderID), nil
		}
		return nil, nil, err
	}

	switch details.Order.Status {
	case domain.OrderStatusPaid:
		return nil, alreadySettled(details), nil
	default:
		// Another worker holds the claim. If that worker died, the stalled
		// order sweep re-enqueues the work later.
		p.logger.Info("Order already in flight, skipping",
			ports.Int64("order_id", params.OrderID),
			ports.String("status", string(details.Order.Status)),
		)
		return nil, &ProcessOrderResult{
			SubscriptionStatus: details.SubscriptionStatus,
			OrderNumber:        details.Order.OrderNumber,
			Skipped:            true,
		}, nil
	}
}

func (p *Processor) dropMissing(ctx context.Context, orderID int64) *ProcessOrderResult {
	p.logger.Error("Order to process does not exist, disarming timer",
		ports.Int64("order_id", orderID),
	)
	p.deleteTimer(ctx, orderID)
	return &ProcessOrderResult{Skipped: true}
}

func alreadySettled(details *ports.OrderDetails) *ProcessOrderResult {
	return &ProcessOrderResult{
		SubscriptionStatus: details.SubscriptionStatus,
		OrderNumber:        details.Order.OrderNumber,
		Success:            true,
		Skipped:            true,
	}
}

// failNotActive records the pre-check refusal. No charge was attempted, so
// no payment_failed webhook goes out; the merchant already saw the status
// change that closed the subscription.
func (p *Processor) failNotActive(ctx context.Context, details *ports.OrderDetails) (*ProcessOrderResult, error) {
	order := &details.Order
	code := domain.ErrorCodeSubscriptionNotActive

	p.logger.Warn("Refusing to charge inactive subscription",
		ports.Int64("order_id", order.ID),
		ports.String("subscription_id", order.SubscriptionID.Hex()),
		ports.String("subscription_status", string(details.SubscriptionStatus)),
	)

	if _, err := p.store.UpdateOrder(ctx, ports.UpdateOrderParams{
		FailureReason: &code,
		Status:        domain.OrderStatusFailed,
		OrderID:       order.ID,
	}); err != nil {
		return nil, err
	}
	p.deleteTimer(ctx, order.ID)
	ordersProcessed.WithLabelValues(outcomeNotActive).Inc()

	return &ProcessOrderResult{
		FailureReason:      code,
		SubscriptionStatus: details.SubscriptionStatus,
		OrderNumber:        order.OrderNumber,
	}, nil
}

// settleFailure records the failed attempt and acts on the dunning decision.
func (p *Processor) settleFailure(ctx context.Context, provider ports.SubscriptionProvider, details *ports.OrderDetails, chargeErr error) (*ProcessOrderResult, error) {
	order := &details.Order
	code := domain.CodeOf(chargeErr)
	raw := domain.RawErrorOf(chargeErr)

	p.logger.Warn("Charge failed",
		ports.Int64("order_id", order.ID),
		ports.String("subscription_id", order.SubscriptionID.Hex()),
		ports.String("code", string(code)),
		ports.Err(chargeErr),
	)

	// A failed activation charge gets no dunning ladder. The subscription
	// parks in incomplete; the user re-subscribes under a fresh permission.
	// Upstream outages still defer as usual so the redelivery can retry.
	if activationResume(details) && !domain.IsUpstreamServiceError(chargeErr) {
		return p.failActivation(ctx, details, chargeErr, code, raw)
	}

	// The failed row is the durable record of the attempt; every dunning
	// branch starts from it.
	if _, err := p.store.UpdateOrder(ctx, ports.UpdateOrderParams{
		FailureReason: &code,
		RawError:      &raw,
		Status:        domain.OrderStatusFailed,
		OrderID:       order.ID,
	}); err != nil {
		return nil, err
	}
	order.Status = domain.OrderStatusFailed
	order.FailureReason = &code
	order.RawError = &raw

	action := dunning.Decide(dunning.Input{
		FailureDate:     timeutil.Now(),
		Err:             chargeErr,
		CurrentAttempts: order.Attempts,
	})

	result := &ProcessOrderResult{
		FailureReason:      code,
		SubscriptionStatus: action.Status,
		OrderNumber:        order.OrderNumber,
	}

	switch action.Type {
	case dunning.ActionTerminal:
		if err := p.store.UpdateSubscription(ctx, order.SubscriptionID, domain.SubscriptionStatusCanceled); err != nil {
			return nil, err
		}
		p.deleteTimer(ctx, order.ID)
		p.logger.Info("Subscription canceled on terminal permission error",
			ports.String("subscription_id", order.SubscriptionID.Hex()),
			ports.String("code", string(code)),
		)
		ordersProcessed.WithLabelValues(outcomeCanceled).Inc()

	case dunning.ActionRetry:
		if err := p.store.ScheduleRetry(ctx, ports.ScheduleRetryParams{
			NextRetryAt:    *action.NextRetryAt,
			RawError:       raw,
			FailureReason:  code,
			SubscriptionID: order.SubscriptionID,
			OrderID:        order.ID,
		}); err != nil {
			return nil, err
		}
		if err := p.store.UpdateSubscription(ctx, order.SubscriptionID, domain.SubscriptionStatusPastDue); err != nil {
			return nil, err
		}
		if err := p.scheduler.Update(ctx, ports.TimerParams{
			DueAt:    *action.NextRetryAt,
			Provider: details.Provider,
			OrderID:  order.ID,
		}); err != nil {
			// Due retries are also claimed straight from the database.
			p.logger.Warn("Failed to arm retry timer",
				ports.Int64("order_id", order.ID),
				ports.Err(err),
			)
		}
		p.logger.Info("Retry scheduled",
			ports.Int64("order_id", order.ID),
			ports.String("attempt", action.AttemptLabel),
			ports.Time("next_retry_at", *action.NextRetryAt),
		)
		order.Status = domain.OrderStatusPendingRetry
		order.Attempts = action.AttemptNumber
		order.NextRetryAt = action.NextRetryAt
		result.NextRetryAt = action.NextRetryAt
		ordersProcessed.WithLabelValues(outcomeRetry).Inc()

	case dunning.ActionMaxRetriesExhausted:
		if err := p.store.UpdateSubscription(ctx, order.SubscriptionID, domain.SubscriptionStatusUnpaid); err != nil {
			return nil, err
		}
		p.deleteTimer(ctx, order.ID)
		p.logger.Warn("Retries exhausted, subscription unpaid",
			ports.String("subscription_id", order.SubscriptionID.Hex()),
			ports.Int("attempts", int(order.Attempts)),
		)
		ordersProcessed.WithLabelValues(outcomeExhausted).Inc()

	case dunning.ActionUpstreamError:
		// No dunning bookkeeping: the failed row stays claimable and the
		// message requeues for the same charge.
		result.IsUpstreamError = true
		ordersProcessed.WithLabelValues(outcomeDeferred).Inc()
		return result, nil

	case dunning.ActionUserOperationFailed:
		// The charge likely raced a parallel attempt that already settled.
		// Abandon this order; the subscription stays active.
		p.deleteTimer(ctx, order.ID)
		ordersProcessed.WithLabelValues(outcomeUserOpFailed).Inc()

	case dunning.ActionOtherError:
		p.deleteTimer(ctx, order.ID)
		result.NextOrderCreated = p.advanceCycle(ctx, provider, details)
		ordersProcessed.WithLabelValues(outcomeNextCycle).Inc()
	}

	p.emitter.EmitPaymentFailed(ctx, subscriptionView(details, action.Status), order, chargeErr)
	return result, nil
}

// failActivation parks the subscription in incomplete after a resumed
// activation charge fails.
func (p *Processor) failActivation(ctx context.Context, details *ports.OrderDetails, chargeErr error, code domain.ErrorCode, raw string) (*ProcessOrderResult, error) {
	order := &details.Order
	if err := p.store.MarkSubscriptionIncomplete(ctx, ports.MarkIncompleteParams{
		RawError:       raw,
		Reason:         code,
		SubscriptionID: order.SubscriptionID,
		OrderID:        order.ID,
	}); err != nil {
		return nil, err
	}
	p.deleteTimer(ctx, order.ID)
	p.logger.Warn("Resumed activation failed, subscription incomplete",
		ports.String("subscription_id", order.SubscriptionID.Hex()),
		ports.String("code", string(code)),
	)
	ordersProcessed.WithLabelValues(outcomeIncomplete).Inc()

	order.Status = domain.OrderStatusFailed
	order.FailureReason = &code
	order.RawError = &raw
	p.emitter.EmitActivationFailed(ctx, subscriptionView(details, domain.SubscriptionStatusIncomplete), order, chargeErr)

	return &ProcessOrderResult{
		FailureReason:      code,
		SubscriptionStatus: domain.SubscriptionStatusIncomplete,
		OrderNumber:        order.OrderNumber,
	}, nil
}

// advanceCycle opens the next cycle's order after a non-retryable failure
// that leaves the subscription alive. Best effort: a missed cycle surfaces
// as an active subscription with no open order.
func (p *Processor) advanceCycle(ctx context.Context, provider ports.SubscriptionProvider, details *ports.OrderDetails) bool {
	status, err := provider.GetStatus(ctx, details.Order.SubscriptionID, details.Testnet)
	if err != nil {
		p.logger.Warn("Could not fetch permission status for next cycle",
			ports.String("subscription_id", details.Order.SubscriptionID.Hex()),
			ports.Err(err),
		)
		return false
	}
	if !status.IsSubscribed || status.NextPeriodStart == nil || status.PeriodInSeconds <= 0 {
		return false
	}

	next, err := p.store.CreateNextOrder(ctx, ports.CreateNextOrderParams{
		Order: ports.NewOrder{
			DueAt:           *status.NextPeriodStart,
			Amount:          status.RecurringCharge,
			Type:            domain.OrderTypeRecurring,
			Status:          domain.OrderStatusPending,
			PeriodInSeconds: status.PeriodInSeconds,
		},
		SubscriptionID: details.Order.SubscriptionID,
	})
	if err != nil {
		if ports.IsConstraint(err) {
			p.logger.Info("Next order already open, skipping",
				ports.String("subscription_id", details.Order.SubscriptionID.Hex()),
			)
		} else {
			p.logger.Error("Failed to create next order",
				ports.String("subscription_id", details.Order.SubscriptionID.Hex()),
				ports.Err(err),
			)
		}
		return false
	}

	if err := p.scheduler.Set(ctx, ports.TimerParams{
		DueAt:    next.DueAt,
		Provider: details.Provider,
		OrderID:  next.ID,
	}); err != nil {
		p.logger.Warn("Failed to arm timer for next order",
			ports.Int64("order_id", next.ID),
			ports.Err(err),
		)
	}
	return true
}

// nextOrder asks the chain for the next billing cycle. A nil order with nil
// error means the permission has no further cycle to bill.
func (p *Processor) nextOrder(ctx context.Context, provider ports.SubscriptionProvider, details *ports.OrderDetails) (*ports.NewOrder, error) {
	status, err := provider.GetStatus(ctx, details.Order.SubscriptionID, details.Testnet)
	if err != nil {
		return nil, err
	}
	if !status.IsSubscribed || status.NextPeriodStart == nil || status.PeriodInSeconds <= 0 {
		return nil, nil
	}
	return &ports.NewOrder{
		DueAt:           *status.NextPeriodStart,
		Amount:          status.RecurringCharge,
		Type:            domain.OrderTypeRecurring,
		Status:          domain.OrderStatusPending,
		PeriodInSeconds: status.PeriodInSeconds,
	}, nil
}

func (p *Processor) deferCompletion(details *ports.OrderDetails, cause error) *ProcessOrderResult {
	p.logger.Warn("Deferring order completion",
		ports.Int64("order_id", details.Order.ID),
		ports.Err(cause),
	)
	ordersProcessed.WithLabelValues(outcomeDeferred).Inc()
	return &ProcessOrderResult{
		FailureReason:      domain.ErrorCodeUpstreamServiceError,
		SubscriptionStatus: details.SubscriptionStatus,
		OrderNumber:        details.Order.OrderNumber,
		IsUpstreamError:    true,
	}
}

func (p *Processor) providerFor(tag domain.ProviderTag) (ports.SubscriptionProvider, error) {
	provider, ok := p.providers[tag]
	if !ok {
		return nil, domain.NewPaymentError(domain.ErrorCodeInternalError,
			fmt.Sprintf("no provider registered for %q", tag))
	}
	return provider, nil
}

func (p *Processor) deleteTimer(ctx context.Context, orderID int64) {
	if err := p.scheduler.Delete(ctx, orderID); err != nil {
		p.logger.Warn("Failed to delete order timer",
			ports.Int64("order_id", orderID),
			ports.Err(err),
		)
	}
}

func chargeable(status domain.SubscriptionStatus) bool {
	return status == domain.SubscriptionStatusActive || status == domain.SubscriptionStatusPastDue
}

// activationResume reports whether this run is finishing an interrupted
// activation. The stalled-order sweep funnels those back through the
// pipeline, which replays the checkpointed charge or makes a fresh one.
func activationResume(details *ports.OrderDetails) bool {
	return details.Order.Type == domain.OrderTypeInitial &&
		details.SubscriptionStatus == domain.SubscriptionStatusProcessing
}

// subscriptionView rebuilds the subscription from order details for webhook
// payloads. Status carries the post-transition state.
func subscriptionView(details *ports.OrderDetails, status domain.SubscriptionStatus) *domain.Subscription {
	return &domain.Subscription{
		Status:      status,
		Provider:    details.Provider,
		ID:          details.Order.SubscriptionID,
		Beneficiary: details.Beneficiary,
		AccountID:   details.AccountID,
		Testnet:     details.Testnet,
	}
}
