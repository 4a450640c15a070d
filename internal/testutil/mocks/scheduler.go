package mocks

import (
	"context"
	"sync"

	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

// MockScheduler records timer operations for assertions.
type MockScheduler struct {
	mu sync.Mutex

	setError    error
	updateError error
	deleteError error

	SetCalls    []ports.TimerParams
	UpdateCalls []ports.TimerParams
	DeleteCalls []int64
}

func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// SetErrors configures the error each operation returns.
func (m *MockScheduler) SetErrors(set, update, del error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setError = set
	m.updateError = update
	m.deleteError = del
}

func (m *MockScheduler) Set(ctx context.Context, params ports.TimerParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCalls = append(m.SetCalls, params)
	return m.setError
}

func (m *MockScheduler) Update(ctx context.Context, params ports.TimerParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls = append(m.UpdateCalls, params)
	return m.updateError
}

func (m *MockScheduler) Delete(ctx context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, orderID)
	return m.deleteError
}

var _ ports.OrderScheduler = (*MockScheduler)(nil)
