// Package mocks provides shared mock implementations of the domain ports
// for testing.
package mocks

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

// MockStore is a testify mock of ports.Store. Helpers that return pointers
// or slices tolerate a nil expectation value so error cases read naturally.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateSubscriptionWithOrder(ctx context.Context, params ports.CreateSubscriptionParams) (*ports.CreateSubscriptionResult, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.CreateSubscriptionResult), args.Error(1)
}

func (m *MockStore) ExecuteSubscriptionActivation(ctx context.Context, params ports.ActivationParams) (int64, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) MarkSubscriptionIncomplete(ctx context.Context, params ports.MarkIncompleteParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *MockStore) ClaimDueOrders(ctx context.Context, limit int32) ([]ports.OrderDetails, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ports.OrderDetails), args.Error(1)
}

func (m *MockStore) ClaimOrder(ctx context.Context, orderID int64) (*ports.OrderDetails, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.OrderDetails), args.Error(1)
}

func (m *MockStore) RecordTransaction(ctx context.Context, params ports.RecordTransactionParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *MockStore) UpdateOrder(ctx context.Context, params ports.UpdateOrderParams) (int32, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(int32), args.Error(1)
}

func (m *MockStore) UpdateSubscription(ctx context.Context, subscriptionID common.Hash, status domain.SubscriptionStatus) error {
	args := m.Called(ctx, subscriptionID, status)
	return args.Error(0)
}

func (m *MockStore) ScheduleRetry(ctx context.Context, params ports.ScheduleRetryParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *MockStore) ReactivateSubscription(ctx context.Context, orderID int64, subscriptionID common.Hash) error {
	args := m.Called(ctx, orderID, subscriptionID)
	return args.Error(0)
}

func (m *MockStore) CreateNextOrder(ctx context.Context, params ports.CreateNextOrderParams) (*domain.Order, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockStore) CancelPendingOrders(ctx context.Context, subscriptionID common.Hash) ([]int64, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockStore) CancelSubscription(ctx context.Context, subscriptionID common.Hash) error {
	args := m.Called(ctx, subscriptionID)
	return args.Error(0)
}

func (m *MockStore) SubscriptionExists(ctx context.Context, subscriptionID common.Hash) (bool, error) {
	args := m.Called(ctx, subscriptionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) GetSubscription(ctx context.Context, subscriptionID common.Hash) (*domain.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Subscription), args.Error(1)
}

func (m *MockStore) GetSubscriptionOrders(ctx context.Context, subscriptionID common.Hash) ([]domain.Order, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Order), args.Error(1)
}

func (m *MockStore) ListSubscriptions(ctx context.Context, accountID int64, testnet *bool) ([]domain.Subscription, error) {
	args := m.Called(ctx, accountID, testnet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Subscription), args.Error(1)
}

func (m *MockStore) GetOrderDetails(ctx context.Context, orderID int64) (*ports.OrderDetails, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.OrderDetails), args.Error(1)
}

func (m *MockStore) GetOrderByID(ctx context.Context, orderID int64) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockStore) GetSuccessfulTransaction(ctx context.Context, subscriptionID common.Hash, orderID int64) (*domain.Transaction, error) {
	args := m.Called(ctx, subscriptionID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockStore) StalledProcessingOrders(ctx context.Context, olderThan time.Time, limit int32) ([]ports.OrderDetails, error) {
	args := m.Called(ctx, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ports.OrderDetails), args.Error(1)
}

var _ ports.Store = (*MockStore)(nil)

// MockAccountStore is a testify mock of ports.AccountStore.
type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) UpsertAccount(ctx context.Context, params ports.UpsertAccountParams) (*domain.Account, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *MockAccountStore) GetAccountByAddress(ctx context.Context, address common.Address) (*domain.Account, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *MockAccountStore) GetAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *MockAccountStore) SetSubscriptionOwner(ctx context.Context, accountID int64, owner common.Address) error {
	args := m.Called(ctx, accountID, owner)
	return args.Error(0)
}

func (m *MockAccountStore) InsertAPIKey(ctx context.Context, key *domain.APIKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockAccountStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	args := m.Called(ctx, keyHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

func (m *MockAccountStore) ListAPIKeys(ctx context.Context, accountID int64) ([]domain.APIKey, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.APIKey), args.Error(1)
}

func (m *MockAccountStore) UpdateAPIKey(ctx context.Context, params ports.UpdateAPIKeyParams) (*domain.APIKey, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

func (m *MockAccountStore) DeleteAPIKey(ctx context.Context, accountID int64, keyID uuid.UUID) error {
	args := m.Called(ctx, accountID, keyID)
	return args.Error(0)
}

func (m *MockAccountStore) TouchAPIKey(ctx context.Context, keyID uuid.UUID) error {
	args := m.Called(ctx, keyID)
	return args.Error(0)
}

func (m *MockAccountStore) PutWebhook(ctx context.Context, webhook *domain.Webhook) error {
	args := m.Called(ctx, webhook)
	return args.Error(0)
}

func (m *MockAccountStore) GetWebhook(ctx context.Context, accountID int64) (*domain.Webhook, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Webhook), args.Error(1)
}

func (m *MockAccountStore) UpdateWebhookURL(ctx context.Context, accountID int64, url string) error {
	args := m.Called(ctx, accountID, url)
	return args.Error(0)
}

func (m *MockAccountStore) RotateWebhookSecret(ctx context.Context, accountID int64, secret string) error {
	args := m.Called(ctx, accountID, secret)
	return args.Error(0)
}

func (m *MockAccountStore) DeleteWebhook(ctx context.Context, accountID int64) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

func (m *MockAccountStore) TouchWebhook(ctx context.Context, accountID int64) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

var _ ports.AccountStore = (*MockAccountStore)(nil)
