package mocks

import (
	"context"
	"sync"

	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

// MockOrderQueue records enqueued process-order messages.
type MockOrderQueue struct {
	mu           sync.Mutex
	enqueueError error

	Enqueued []ports.ProcessOrderMessage
}

func NewMockOrderQueue() *MockOrderQueue {
	return &MockOrderQueue{}
}

// SetEnqueueError makes every enqueue fail with err.
func (m *MockOrderQueue) SetEnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueError = err
}

func (m *MockOrderQueue) EnqueueProcessOrder(ctx context.Context, msg ports.ProcessOrderMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueError != nil {
		return m.enqueueError
	}
	m.Enqueued = append(m.Enqueued, msg)
	return nil
}

var _ ports.OrderQueue = (*MockOrderQueue)(nil)

// MockWebhookQueue records enqueued webhook deliveries.
type MockWebhookQueue struct {
	mu           sync.Mutex
	enqueueError error

	Enqueued []ports.WebhookDeliveryMessage
}

func NewMockWebhookQueue() *MockWebhookQueue {
	return &MockWebhookQueue{}
}

// SetEnqueueError makes every enqueue fail with err.
func (m *MockWebhookQueue) SetEnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueError = err
}

func (m *MockWebhookQueue) EnqueueDelivery(ctx context.Context, msg ports.WebhookDeliveryMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueError != nil {
		return m.enqueueError
	}
	m.Enqueued = append(m.Enqueued, msg)
	return nil
}

var _ ports.WebhookQueue = (*MockWebhookQueue)(nil)
