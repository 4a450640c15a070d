package mocks

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

// MockProvider is a configurable ports.SubscriptionProvider for testing.
type MockProvider struct {
	mu sync.Mutex

	tag            domain.ProviderTag
	validIDs       bool
	statusResponse *ports.PermissionStatus
	statusError    error
	chargeResponse *ports.ChargeResult
	chargeError    error
	revokeResponse *ports.RevokeResult
	revokeError    error

	// Call tracking
	StatusCalls int
	ChargeCalls int
	RevokeCalls int

	// Last request received
	LastStatusID  common.Hash
	LastChargeReq ports.ChargeParams
	LastRevokeID  common.Hash
}

// NewMockProvider creates a mock provider that accepts every id format.
func NewMockProvider(tag domain.ProviderTag) *MockProvider {
	return &MockProvider{tag: tag, validIDs: true}
}

// SetValidateResult controls what ValidateID answers.
func (m *MockProvider) SetValidateResult(valid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validIDs = valid
}

// SetStatusResponse sets the response to return from GetStatus.
func (m *MockProvider) SetStatusResponse(status *ports.PermissionStatus, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusResponse = status
	m.statusError = err
}

// SetChargeResponse sets the response to return from Charge.
func (m *MockProvider) SetChargeResponse(result *ports.ChargeResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chargeResponse = result
	m.chargeError = err
}

// SetRevokeResponse sets the response to return from Revoke.
func (m *MockProvider) SetRevokeResponse(result *ports.RevokeResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeResponse = result
	m.revokeError = err
}

func (m *MockProvider) Tag() domain.ProviderTag {
	return m.tag
}

func (m *MockProvider) ValidateID(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validIDs
}

func (m *MockProvider) GetStatus(ctx context.Context, subscriptionID common.Hash, testnet bool) (*ports.PermissionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCalls++
	m.LastStatusID = subscriptionID
	return m.statusResponse, m.statusError
}

func (m *MockProvider) Charge(ctx context.Context, params ports.ChargeParams) (*ports.ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChargeCalls++
	m.LastChargeReq = params
	return m.chargeResponse, m.chargeError
}

func (m *MockProvider) Revoke(ctx context.Context, subscriptionID common.Hash, testnet bool) (*ports.RevokeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RevokeCalls++
	m.LastRevokeID = subscriptionID
	return m.revokeResponse, m.revokeError
}

var _ ports.SubscriptionProvider = (*MockProvider)(nil)
