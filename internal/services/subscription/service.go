// Package subscription orchestrates the merchant-facing lifecycle: create
// with background activation, revoke, and reads. The order charge pipeline
// lives in services/order; this package only handles the edges around it.
package subscription

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/pkg/resilience"
	"github.com/brindlepay/subscription-service/pkg/resourcemgmt"
	"github.com/brindlepay/subscription-service/pkg/timeutil"
)

var (
	subscriptionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_created_total",
		Help: "Subscriptions accepted for activation",
	})

	activationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_activations_total",
		Help: "Background activation runs by outcome",
	}, []string{"outcome"})

	revocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_revoked_total",
		Help: "Subscriptions revoked by merchants",
	})
)

const (
	activationOutcomeActivated = "activated"
	activationOutcomeFailed    = "failed"
	activationOutcomeDeferred  = "deferred"
)

// Service implements the merchant-facing subscription operations.
type Service struct {
	store     ports.Store
	accounts  ports.AccountStore
	scheduler ports.OrderScheduler
	emitter   ports.WebhookEmitter
	tracker   *resourcemgmt.GoroutineTracker
	logger    ports.Logger
	timeouts  *resilience.TimeoutConfig
	providers map[domain.ProviderTag]ports.SubscriptionProvider
}

func NewService(
	store ports.Store,
	accounts ports.AccountStore,
	scheduler ports.OrderScheduler,
	emitter ports.WebhookEmitter,
	tracker *resourcemgmt.GoroutineTracker,
	logger ports.Logger,
	providers ...ports.SubscriptionProvider,
) *Service {
	byTag := make(map[domain.ProviderTag]ports.SubscriptionProvider, len(providers))
	for _, p := range providers {
		byTag[p.Tag()] = p
	}
	return &Service{
		store:     store,
		accounts:  accounts,
		scheduler: scheduler,
		emitter:   emitter,
		tracker:   tracker,
		logger:    logger,
		timeouts:  resilience.DefaultTimeoutConfig(),
		providers: byTag,
	}
}

// CreateParams identifies the permission to take under management.
// SubscriptionID arrives as the raw string from the API and is validated
// against the provider's format before use.
type CreateParams struct {
	SubscriptionID string
	Provider       domain.ProviderTag
	AccountID      int64
	Testnet        bool
}

// CreateResult reports the accepted subscription and its initial order.
// Activation has not happened yet; the caller hands the pair to
// ActivateInBackground.
type CreateResult struct {
	Subscription *domain.Subscription
	Order        *domain.Order
}

// Create validates the permission on chain and records the subscription in
// processing state with its initial order. The charge itself runs in the
// background activation so the API answers fast.
func (s *Service) Create(ctx context.Context, params CreateParams) (*CreateResult, error) {
	provider, err := s.providerFor(params.Provider)
	if err != nil {
		return nil, err
	}
	if !provider.ValidateID(params.SubscriptionID) {
		return nil, domain.NewPaymentError(domain.ErrorCodeInvalidFormat,
			"subscriptionId must be a 32-byte hex hash")
	}
	subID := common.HexToHash(params.SubscriptionID)

	exists, err := s.store.SubscriptionExists(ctx, subID)
	if err != nil {
		return nil, fmt.Errorf("check subscription exists: %w", err)
	}
	if exists {
		return nil, domain.NewPaymentError(domain.ErrorCodeSubscriptionExists,
			"A subscription with this id already exists")
	}

	status, err := provider.GetStatus(ctx, subID, params.Testnet)
	if err != nil {
		return nil, err
	}
	if !status.PermissionExists {
		return nil, domain.NewPaymentError(domain.ErrorCodePermissionNotFound,
			"No spend permission found for this id")
	}
	if !status.IsSubscribed {
		return nil, domain.NewPaymentError(domain.ErrorCodeForbidden,
			"The spend permission is not active")
	}

	account, err := s.accounts.GetAccountByID(ctx, params.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	s.recordOwner(ctx, account, status.SubscriptionOwner)

	now := timeutil.Now()
	result, err := s.store.CreateSubscriptionWithOrder(ctx, ports.CreateSubscriptionParams{
		Order: ports.NewOrder{
			DueAt:  now,
			Amount: status.RemainingChargeInPeriod,
			Type:   domain.OrderTypeInitial,
			// The activation goroutine owns the initial order from birth, so
			// it is never claimable by the dispatch paths.
			Status:          domain.OrderStatusProcessing,
			PeriodInSeconds: status.PeriodInSeconds,
		},
		Provider:       params.Provider,
		SubscriptionID: subID,
		Beneficiary:    account.Address,
		AccountID:      params.AccountID,
		Testnet:        params.Testnet,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	if !result.Created {
		// Lost a race with a concurrent create for the same permission.
		return nil, domain.NewPaymentError(domain.ErrorCodeSubscriptionExists,
			"A subscription with this id already exists")
	}

	s.logger.Info("Subscription created",
		ports.String("subscription_id", subID.Hex()),
		ports.Int64("account_id", params.AccountID),
		ports.Int64("order_id", result.OrderID),
		ports.Bool("testnet", params.Testnet),
	)
	subscriptionsCreated.Inc()

	return &CreateResult{
		Subscription: &domain.Subscription{
			CreatedAt:   now,
			ModifiedAt:  now,
			Status:      domain.SubscriptionStatusProcessing,
			Provider:    params.Provider,
			ID:          subID,
			Beneficiary: account.Address,
			AccountID:   params.AccountID,
			Testnet:     params.Testnet,
		},
		Order: &domain.Order{
			CreatedAt:       now,
			DueAt:           now,
			Amount:          status.RemainingChargeInPeriod,
			Status:          domain.OrderStatusProcessing,
			Type:            domain.OrderTypeInitial,
			SubscriptionID:  subID,
			ID:              result.OrderID,
			OrderNumber:     result.OrderNumber,
			PeriodInSeconds: status.PeriodInSeconds,
		},
	}, nil
}

// recordOwner stores the permission's owner wallet on first sight. The
// owner is advisory: a mismatch is logged for support, never enforced.
func (s *Service) recordOwner(ctx context.Context, account *domain.Account, owner *common.Address) {
	if owner == nil {
		return
	}
	if account.SubscriptionOwner == nil {
		if err := s.accounts.SetSubscriptionOwner(ctx, account.ID, *owner); err != nil {
			s.logger.Warn("Failed to record subscription owner",
				ports.Int64("account_id", account.ID),
				ports.Err(err),
			)
		}
		return
	}
	if *account.SubscriptionOwner != *owner {
		s.logger.Warn("Permission owner differs from the account's recorded owner",
			ports.Int64("account_id", account.ID),
			ports.String("recorded_owner", account.SubscriptionOwner.Hex()),
			ports.String("permission_owner", owner.Hex()),
		)
	}
}

// ActivateInBackground runs the activation charge detached from the request
// that created the subscription. Every terminal path converges on either an
// active subscription or an incomplete one with an activation_failed event.
func (s *Service) ActivateInBackground(sub *domain.Subscription, order *domain.Order) {
	s.tracker.Go("activation", func(ctx context.Context) {
		ctx, cancel := s.timeouts.ActivationContext(ctx)
		defer cancel()
		s.runActivation(ctx, sub, order)
	})
}

// runActivation drives one activation attempt and settles its outcome.
// Definitive failures park the subscription in incomplete; outages and
// transient store failures leave the processing rows for the stalled-order
// sweep, which feeds the order back through the charge pipeline.
func (s *Service) runActivation(ctx context.Context, sub *domain.Subscription, order *domain.Order) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Activation panicked",
				ports.String("subscription_id", sub.ID.Hex()),
				ports.Any("panic", r),
			)
			s.failActivation(ctx, sub, order, domain.NewPaymentError(
				domain.ErrorCodeInternalError, "An internal error occurred").
				WithRaw(fmt.Sprint(r)))
		}
	}()

	err := s.activate(ctx, sub, order)
	if err == nil {
		return
	}
	if domain.IsUpstreamServiceError(err) || ports.IsTransient(err) {
		s.logger.Warn("Activation deferred, reconciler will resume it",
			ports.String("subscription_id", sub.ID.Hex()),
			ports.Err(err),
		)
		activationRuns.WithLabelValues(activationOutcomeDeferred).Inc()
		return
	}
	s.failActivation(ctx, sub, order, err)
}

// activate performs the activation charge and bookkeeping. The returned
// error is nil once the outcome is settled, including the case where the
// settlement is checkpointed and the sweep finishes the rest.
func (s *Service) activate(ctx context.Context, sub *domain.Subscription, order *domain.Order) error {
	s.emitter.EmitSubscriptionCreated(ctx, sub, order)

	provider, err := s.providerFor(sub.Provider)
	if err != nil {
		return err
	}

	// Re-query for the authoritative charge amount; the permission may have
	// changed since the create request validated it.
	status, err := provider.GetStatus(ctx, sub.ID, sub.Testnet)
	if err != nil {
		return err
	}
	if !status.PermissionExists {
		return domain.NewPaymentError(domain.ErrorCodePermissionNotFound,
			"The spend permission no longer exists")
	}
	if !status.IsSubscribed {
		return domain.NewPaymentError(domain.ErrorCodePermissionRevoked,
			"The spend permission was revoked before activation")
	}

	var (
		txHash  common.Hash
		gasUsed *int64
		amount  string
		fresh   bool
	)
	settled, err := s.store.GetSuccessfulTransaction(ctx, sub.ID, order.ID)
	switch {
	case err == nil:
		// A previous attempt charged and died before finishing. Reuse it.
		txHash = settled.Hash
		gasUsed = settled.GasUsed
		amount = settled.Amount
		s.logger.Info("Activation charge already settled, reusing recorded transaction",
			ports.String("subscription_id", sub.ID.Hex()),
			ports.String("tx_hash", txHash.Hex()),
		)
	case ports.IsNotFound(err):
		amount = status.RemainingChargeInPeriod
		res, chargeErr := provider.Charge(ctx, ports.ChargeParams{
			Amount:         amount,
			SubscriptionID: sub.ID,
			Recipient:      sub.Beneficiary,
			Testnet:        sub.Testnet,
		})
		if chargeErr != nil {
			return chargeErr
		}
		txHash = res.TransactionHash
		gasUsed = res.GasUsed
		fresh = true
	default:
		return err
	}

	if fresh {
		// Checkpoint before anything else can fail; replays key off this row.
		if recErr := s.store.RecordTransaction(ctx, ports.RecordTransactionParams{
			Transaction: ports.NewTransaction{
				GasUsed: gasUsed,
				Amount:  amount,
				Status:  domain.TransactionStatusConfirmed,
				Hash:    txHash,
			},
			SubscriptionID: sub.ID,
			OrderID:        order.ID,
		}); recErr != nil {
			s.logger.Error("Failed to checkpoint activation charge, continuing",
				ports.String("subscription_id", sub.ID.Hex()),
				ports.String("tx_hash", txHash.Hex()),
				ports.Err(recErr),
			)
		}
	}

	next := nextOrderFrom(status)
	nextOrderID, err := s.store.ExecuteSubscriptionActivation(ctx, ports.ActivationParams{
		NextOrder: next,
		Transaction: ports.NewTransaction{
			GasUsed: gasUsed,
			Amount:  amount,
			Status:  domain.TransactionStatusConfirmed,
			Hash:    txHash,
		},
		SubscriptionID: sub.ID,
		OrderID:        order.ID,
	})
	if err != nil {
		// The charge is durable; burying it behind incomplete would orphan
		// the settlement. The order stays processing and the sweep resumes.
		s.logger.Error("Failed to finish activation bookkeeping, leaving for the reconciler",
			ports.String("subscription_id", sub.ID.Hex()),
			ports.String("tx_hash", txHash.Hex()),
			ports.Err(err),
		)
		activationRuns.WithLabelValues(activationOutcomeDeferred).Inc()
		return nil
	}

	if next != nil && nextOrderID > 0 {
		if err := s.scheduler.Set(ctx, ports.TimerParams{
			DueAt:    next.DueAt,
			Provider: sub.Provider,
			OrderID:  nextOrderID,
		}); err != nil {
			// The reconciler claims due orders straight from the database.
			s.logger.Warn("Failed to arm timer for first recurring order",
				ports.Int64("order_id", nextOrderID),
				ports.Err(err),
			)
		}
	}

	s.logger.Info("Subscription activated",
		ports.String("subscription_id", sub.ID.Hex()),
		ports.String("tx_hash", txHash.Hex()),
		ports.Bool("next_order_created", next != nil),
	)
	activationRuns.WithLabelValues(activationOutcomeActivated).Inc()

	active := *sub
	active.Status = domain.SubscriptionStatusActive
	paid := *order
	paid.Status = domain.OrderStatusPaid
	s.emitter.EmitSubscriptionActivated(ctx, &active, &paid, &domain.Transaction{
		CreatedAt:      timeutil.Now(),
		GasUsed:        gasUsed,
		Amount:         amount,
		Status:         domain.TransactionStatusConfirmed,
		Hash:           txHash,
		SubscriptionID: sub.ID,
		OrderID:        order.ID,
	})
	return nil
}

// failActivation parks the subscription in incomplete and tells the
// merchant. If even the parking write fails the rows stay processing and
// the sweep retries the whole activation later, so nothing is emitted yet.
func (s *Service) failActivation(ctx context.Context, sub *domain.Subscription, order *domain.Order, cause error) {
	code := domain.CodeOf(cause)
	raw := domain.RawErrorOf(cause)

	s.logger.Warn("Activation failed",
		ports.String("subscription_id", sub.ID.Hex()),
		ports.String("code", string(code)),
		ports.Err(cause),
	)

	if err := s.store.MarkSubscriptionIncomplete(ctx, ports.MarkIncompleteParams{
		RawError:       raw,
		Reason:         code,
		SubscriptionID: sub.ID,
		OrderID:        order.ID,
	}); err != nil {
		s.logger.Error("Failed to park incomplete activation",
			ports.String("subscription_id", sub.ID.Hex()),
			ports.Err(err),
		)
		return
	}
	activationRuns.WithLabelValues(activationOutcomeFailed).Inc()

	incomplete := *sub
	incomplete.Status = domain.SubscriptionStatusIncomplete
	failed := *order
	failed.Status = domain.OrderStatusFailed
	failed.FailureReason = &code
	if raw != "" {
		failed.RawError = &raw
	}
	s.emitter.EmitActivationFailed(ctx, &incomplete, &failed, cause)
}

// RevokeParams identifies the subscription to revoke on behalf of the
// authenticated account.
type RevokeParams struct {
	SubscriptionID string
	AccountID      int64
}

// Revoke revokes the permission on chain and cancels the subscription with
// all its open orders. Revoking an already canceled subscription succeeds
// without doing anything.
func (s *Service) Revoke(ctx context.Context, params RevokeParams) error {
	subID := common.HexToHash(params.SubscriptionID)

	sub, err := s.store.GetSubscription(ctx, subID)
	if err != nil {
		if ports.IsNotFound(err) {
			return domain.NewPaymentError(domain.ErrorCodeNotFound, "Subscription not found")
		}
		return fmt.Errorf("load subscription: %w", err)
	}
	if sub.AccountID != params.AccountID {
		return domain.NewPaymentError(domain.ErrorCodeForbidden,
			"Subscription belongs to another account")
	}
	if sub.Status == domain.SubscriptionStatusCanceled {
		return nil
	}
	if !sub.IsRevocable() {
		return domain.NewPaymentError(domain.ErrorCodeInvalidRequest,
			"Subscription cannot be revoked in its current state")
	}

	provider, err := s.providerFor(sub.Provider)
	if err != nil {
		return err
	}
	status, err := provider.GetStatus(ctx, subID, sub.Testnet)
	if err != nil {
		return err
	}
	if !status.PermissionExists {
		return domain.NewPaymentError(domain.ErrorCodePermissionNotFound,
			"No spend permission found for this id")
	}
	if status.IsSubscribed {
		if _, err := provider.Revoke(ctx, subID, sub.Testnet); err != nil {
			return err
		}
	} else {
		s.logger.Info("Permission already revoked on chain, skipping revoke call",
			ports.String("subscription_id", subID.Hex()),
		)
	}

	orderIDs, err := s.store.CancelPendingOrders(ctx, subID)
	if err != nil {
		return fmt.Errorf("cancel pending orders: %w", err)
	}
	for _, orderID := range orderIDs {
		if err := s.scheduler.Delete(ctx, orderID); err != nil {
			s.logger.Warn("Failed to delete timer for canceled order",
				ports.Int64("order_id", orderID),
				ports.Err(err),
			)
		}
	}

	if err := s.store.CancelSubscription(ctx, subID); err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}

	s.logger.Info("Subscription revoked",
		ports.String("subscription_id", subID.Hex()),
		ports.Int64("account_id", params.AccountID),
		ports.Int("canceled_orders", len(orderIDs)),
	)
	revocations.Inc()

	canceled := *sub
	canceled.Status = domain.SubscriptionStatusCanceled
	s.emitter.EmitSubscriptionCanceled(ctx, &canceled, s.latestOrder(ctx, subID))
	return nil
}

// latestOrder fetches the newest order for the canceled event; best effort.
func (s *Service) latestOrder(ctx context.Context, subID common.Hash) *domain.Order {
	orders, err := s.store.GetSubscriptionOrders(ctx, subID)
	if err != nil {
		s.logger.Warn("Could not load orders for canceled event",
			ports.String("subscription_id", subID.Hex()),
			ports.Err(err),
		)
		return nil
	}
	if len(orders) == 0 {
		return nil
	}
	return &orders[len(orders)-1]
}

// SubscriptionDetails is one subscription with its full order history.
type SubscriptionDetails struct {
	Subscription *domain.Subscription
	Orders       []domain.Order
}

// Get returns the subscription and its orders, refusing foreign accounts.
func (s *Service) Get(ctx context.Context, subscriptionID string, accountID int64) (*SubscriptionDetails, error) {
	subID := common.HexToHash(subscriptionID)

	sub, err := s.store.GetSubscription(ctx, subID)
	if err != nil {
		if ports.IsNotFound(err) {
			return nil, domain.NewPaymentError(domain.ErrorCodeNotFound, "Subscription not found")
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if sub.AccountID != accountID {
		return nil, domain.NewPaymentError(domain.ErrorCodeForbidden,
			"Subscription belongs to another account")
	}

	orders, err := s.store.GetSubscriptionOrders(ctx, subID)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	return &SubscriptionDetails{Subscription: sub, Orders: orders}, nil
}

// List returns the account's subscriptions, optionally filtered by network.
func (s *Service) List(ctx context.Context, accountID int64, testnet *bool) ([]domain.Subscription, error) {
	subs, err := s.store.ListSubscriptions(ctx, accountID, testnet)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Service) providerFor(tag domain.ProviderTag) (ports.SubscriptionProvider, error) {
	provider, ok := s.providers[tag]
	if !ok {
		return nil, domain.NewPaymentError(domain.ErrorCodeInvalidRequest,
			fmt.Sprintf("unsupported provider %q", tag))
	}
	return provider, nil
}

func nextOrderFrom(status *ports.PermissionStatus) *ports.NewOrder {
	if !status.IsSubscribed || status.NextPeriodStart == nil || status.PeriodInSeconds <= 0 {
		return nil
	}
	return &ports.NewOrder{
		DueAt:           *status.NextPeriodStart,
		Amount:          status.RecurringCharge,
		Type:            domain.OrderTypeRecurring,
		Status:          domain.OrderStatusPending,
		PeriodInSeconds: status.PeriodInSeconds,
	}
}
