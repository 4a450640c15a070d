package resilience

import (
	"context"
	"time"
)

// TimeoutConfig carries the deadlines of the background workers. Worker
// deadlines nest above the HTTP client timeouts of the adapters they call:
//
//	Reconcile sweep (5m) / Activation (2m) / Process-order run (50s)
//	  ↓
//	Provider HTTP call (30s, httpx client)
//	  ↓
//	Database query (pool limits)
//
// Each layer completes before its parent times out, preventing cascading
// timeout failures.
type TimeoutConfig struct {
	// Reconcile bounds one reconcile sweep, claims and enqueues included.
	Reconcile time.Duration

	// ProcessOrder bounds one charge pipeline run.
	ProcessOrder time.Duration

	// Activation bounds one background activation: a status read, a charge
	// and the settlement writes.
	Activation time.Duration

	// WebhookDelivery bounds a single delivery POST.
	WebhookDelivery time.Duration
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Reconcile:       5 * time.Minute,
		ProcessOrder:    50 * time.Second,
		Activation:      2 * time.Minute,
		WebhookDelivery: 10 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Reconcile:       5 * time.Second,
		ProcessOrder:    2 * time.Second,
		Activation:      2 * time.Second,
		WebhookDelivery: 500 * time.Millisecond,
	}
}

// ReconcileContext creates a context with timeout for one reconcile sweep
func (tc *TimeoutConfig) ReconcileContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Reconcile)
}

// ProcessOrderContext creates a context for one charge pipeline run
func (tc *TimeoutConfig) ProcessOrderContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.ProcessOrder)
}

// ActivationContext creates a context for the background activation flow
func (tc *TimeoutConfig) ActivationContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Activation)
}
