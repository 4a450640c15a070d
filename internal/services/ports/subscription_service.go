// Package ports declares the service interfaces the HTTP layer drives.
// The concrete services in the sibling packages implement them; handlers
// depend only on these so tests can swap the services out.
package ports

import (
	"context"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/services/subscription"
)

// SubscriptionService manages the subscription lifecycle for the
// authenticated merchant account.
type SubscriptionService interface {
	// Create validates the spend permission and records the subscription
	// with its initial order in processing state.
	Create(ctx context.Context, params subscription.CreateParams) (*subscription.CreateResult, error)

	// ActivateInBackground runs the initial charge and activation in a
	// tracked goroutine. Returns immediately.
	ActivateInBackground(sub *domain.Subscription, order *domain.Order)

	// Revoke revokes the permission on chain and cancels the subscription.
	// Idempotent when the subscription is already canceled.
	Revoke(ctx context.Context, params subscription.RevokeParams) error

	// Get returns one subscription with its order history.
	Get(ctx context.Context, subscriptionID string, accountID int64) (*subscription.SubscriptionDetails, error)

	// List returns the account's subscriptions, optionally filtered by
	// network.
	List(ctx context.Context, accountID int64, testnet *bool) ([]domain.Subscription, error)
}

var _ SubscriptionService = (*subscription.Service)(nil)
