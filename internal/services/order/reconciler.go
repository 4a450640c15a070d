package order

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/pkg/resilience"
	"github.com/brindlepay/subscription-service/pkg/timeutil"
)

var (
	reconciledOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciled_orders_total",
		Help: "Orders the reconciler recovered, by reason",
	}, []string{"reason"})
)

// ReconcilerConfig tunes the sweep. Zero values take defaults.
type ReconcilerConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// StallAfter is how long a processing order may go without a write
	// before it counts as abandoned.
	StallAfter time.Duration
	// ClaimLimit caps due orders claimed per sweep.
	ClaimLimit int32
	// StallLimit caps stalled orders re-enqueued per sweep.
	StallLimit int32
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.StallAfter <= 0 {
		c.StallAfter = 15 * time.Minute
	}
	if c.ClaimLimit <= 0 {
		c.ClaimLimit = 100
	}
	if c.StallLimit <= 0 {
		c.StallLimit = 100
	}
	return c
}

// Reconciler makes the database authoritative over the timer fabric. Each
// sweep claims due orders whose timers were lost and re-enqueues orders
// whose worker died mid-run. Everything it enqueues is already claimed, so
// workers skip their own claim.
type Reconciler struct {
	store    ports.Store
	queue    ports.OrderQueue
	logger   ports.Logger
	timeouts *resilience.TimeoutConfig
	cfg      ReconcilerConfig
}

func NewReconciler(store ports.Store, queue ports.OrderQueue, logger ports.Logger, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		store:    store,
		queue:    queue,
		logger:   logger,
		timeouts: resilience.DefaultTimeoutConfig(),
		cfg:      cfg.withDefaults(),
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("order reconciler started",
		ports.Any("interval", r.cfg.Interval),
		ports.Any("stall_after", r.cfg.StallAfter),
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("order reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("reconcile sweep failed", ports.Err(err))
			}
		}
	}
}

// SweepResult reports one reconciliation round.
type SweepResult struct {
	Claimed  int `json:"claimed"`
	Stalled  int `json:"stalled"`
	Enqueued int `json:"enqueued"`
}

// Sweep claims every due order the timers missed and re-enqueues stalled
// processing orders. Also serves the operator reconcile endpoint.
func (r *Reconciler) Sweep(ctx context.Context) (*SweepResult, error) {
	ctx, cancel := r.timeouts.ReconcileContext(ctx)
	defer cancel()

	var res SweepResult

	claimed, err := r.store.ClaimDueOrders(ctx, r.cfg.ClaimLimit)
	if err != nil {
		return nil, fmt.Errorf("claim due orders: %w", err)
	}
	res.Claimed = len(claimed)
	for i := range claimed {
		if r.enqueue(ctx, &claimed[i]) {
			res.Enqueued++
			reconciledOrders.WithLabelValues("due").Inc()
		}
	}

	stalled, err := r.store.StalledProcessingOrders(ctx, timeutil.Now().Add(-r.cfg.StallAfter), r.cfg.StallLimit)
	if err != nil {
		return nil, fmt.Errorf("list stalled orders: %w", err)
	}
	res.Stalled = len(stalled)
	for i := range stalled {
		if r.enqueue(ctx, &stalled[i]) {
			res.Enqueued++
			reconciledOrders.WithLabelValues("stalled").Inc()
		}
	}

	if res.Claimed > 0 || res.Stalled > 0 {
		r.logger.Info("reconcile sweep recovered orders",
			ports.Int("claimed", res.Claimed),
			ports.Int("stalled", res.Stalled),
			ports.Int("enqueued", res.Enqueued),
		)
	}
	return &res, nil
}

func (r *Reconciler) enqueue(ctx context.Context, details *ports.OrderDetails) bool {
	err := r.queue.EnqueueProcessOrder(ctx, ports.ProcessOrderMessage{
		EnqueuedAt: timeutil.Now(),
		Provider:   details.Provider,
		OrderID:    details.Order.ID,
		Claimed:    true,
	})
	if err != nil {
		// The order stays in processing; the stalled sweep returns to it.
		r.logger.Error("Failed to enqueue reconciled order",
			ports.Int64("order_id", details.Order.ID),
			ports.Err(err),
		)
		return false
	}
	return true
}
