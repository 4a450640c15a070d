package mocks

import (
	"context"
	"sync"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

// EmittedEvent is one recorded webhook emission.
type EmittedEvent struct {
	Subscription *domain.Subscription
	Order        *domain.Order
	Transaction  *domain.Transaction
	Failure      error
	Kind         string
}

// MockEmitter records webhook emissions for assertions.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

func NewMockEmitter() *MockEmitter {
	return &MockEmitter{}
}

func (m *MockEmitter) record(e EmittedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, e)
}

// Kinds returns the emission kinds in order.
func (m *MockEmitter) Kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]string, len(m.Events))
	for i, e := range m.Events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Last returns the most recent emission, or nil.
func (m *MockEmitter) Last() *EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Events) == 0 {
		return nil
	}
	e := m.Events[len(m.Events)-1]
	return &e
}

func (m *MockEmitter) EmitSubscriptionCreated(ctx context.Context, sub *domain.Subscription, order *domain.Order) {
	m.record(EmittedEvent{Kind: "subscription_created", Subscription: sub, Order: order})
}

func (m *MockEmitter) EmitSubscriptionActivated(ctx context.Context, sub *domain.Subscription, order *domain.Order, tx *domain.Transaction) {
	m.record(EmittedEvent{Kind: "subscription_activated", Subscription: sub, Order: order, Transaction: tx})
}

func (m *MockEmitter) EmitPaymentProcessed(ctx context.Context, sub *domain.Subscription, order *domain.Order, tx *domain.Transaction) {
	m.record(EmittedEvent{Kind: "payment_processed", Subscription: sub, Order: order, Transaction: tx})
}

func (m *MockEmitter) EmitPaymentFailed(ctx context.Context, sub *domain.Subscription, order *domain.Order, failure error) {
	m.record(EmittedEvent{Kind: "payment_failed", Subscription: sub, Order: order, Failure: failure})
}

func (m *MockEmitter) EmitActivationFailed(ctx context.Context, sub *domain.Subscription, order *domain.Order, failure error) {
	m.record(EmittedEvent{Kind: "activation_failed", Subscription: sub, Order: order, Failure: failure})
}

func (m *MockEmitter) EmitSubscriptionCanceled(ctx context.Context, sub *domain.Subscription, lastOrder *domain.Order) {
	m.record(EmittedEvent{Kind: "subscription_canceled", Subscription: sub, Order: lastOrder})
}

var _ ports.WebhookEmitter = (*MockEmitter)(nil)
