package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/internal/testutil/mocks"
	"github.com/brindlepay/subscription-service/pkg/observability"
	"github.com/brindlepay/subscription-service/pkg/resourcemgmt"
)

var (
	testSubIDStr    = "0x7f3b9c2d8a1e4f56c7d8e9f0a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0"
	testSubID       = common.HexToHash(testSubIDStr)
	testAccountAddr = common.HexToAddress("0x52908400098527886E0F7030069857D2E4169EE7")
	testOwnerAddr   = common.HexToAddress("0x8617E340B3D01FA5F11F306F4090FD50E238070D")
	testTxHash      = common.HexToHash("0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b")
)

func notFoundErr(op string) error {
	return ports.NewStorageError(ports.StorageNotFound, op, errors.New("no rows in result set"))
}

func transientErr(op string) error {
	return ports.NewStorageError(ports.StorageTransient, op, errors.New("connection reset"))
}

func testAccount() *domain.Account {
	return &domain.Account{ID: 7, Address: testAccountAddr}
}

// subscribedStatus is a healthy permission with the first charge still owed.
func subscribedStatus(nextStart time.Time) *ports.PermissionStatus {
	return &ports.PermissionStatus{
		NextPeriodStart:         &nextStart,
		RemainingChargeInPeriod: "25000000",
		RecurringCharge:         "25000000",
		PeriodInSeconds:         2592000,
		PermissionExists:        true,
		IsSubscribed:            true,
	}
}

func createParams() CreateParams {
	return CreateParams{
		SubscriptionID: testSubIDStr,
		Provider:       domain.ProviderBase,
		AccountID:      7,
	}
}

func processingPair() (*domain.Subscription, *domain.Order) {
	now := time.Now().UTC()
	sub := &domain.Subscription{
		CreatedAt:   now,
		Status:      domain.SubscriptionStatusProcessing,
		Provider:    domain.ProviderBase,
		ID:          testSubID,
		Beneficiary: testAccountAddr,
		AccountID:   7,
	}
	order := &domain.Order{
		CreatedAt:       now,
		DueAt:           now,
		Amount:          "25000000",
		Status:          domain.OrderStatusProcessing,
		Type:            domain.OrderTypeInitial,
		SubscriptionID:  testSubID,
		ID:              41,
		OrderNumber:     1,
		PeriodInSeconds: 2592000,
	}
	return sub, order
}

func activeSub() *domain.Subscription {
	return &domain.Subscription{
		Status:      domain.SubscriptionStatusActive,
		Provider:    domain.ProviderBase,
		ID:          testSubID,
		Beneficiary: testAccountAddr,
		AccountID:   7,
	}
}

func newTestService(store *mocks.MockStore, accounts *mocks.MockAccountStore, provider *mocks.MockProvider) (*Service, *mocks.MockScheduler, *mocks.MockEmitter) {
	logger := observability.NewNopLogger()
	scheduler := mocks.NewMockScheduler()
	emitter := mocks.NewMockEmitter()
	tracker := resourcemgmt.NewGoroutineTracker(logger, nil)
	svc := NewService(store, accounts, scheduler, emitter, tracker, logger, provider)
	return svc, scheduler, emitter
}

func TestService_Create_HappyPath(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, emitter := newTestService(store, accounts, provider)

	nextStart := time.Now().Add(30 * 24 * time.Hour)
	provider.SetStatusResponse(subscribedStatus(nextStart), nil)
	store.On("SubscriptionExists", mock.Anything, testSubID).Return(false, nil)
	accounts.On("GetAccountByID", mock.Anything, int64(7)).Return(testAccount(), nil)
	store.On("CreateSubscriptionWithOrder", mock.Anything, mock.MatchedBy(func(p ports.CreateSubscriptionParams) bool {
		return p.SubscriptionID == testSubID &&
			p.Beneficiary == testAccountAddr &&
			p.Order.Type == domain.OrderTypeInitial &&
			p.Order.Status == domain.OrderStatusProcessing &&
			p.Order.Amount == "25000000" &&
			p.Order.PeriodInSeconds == 2592000
	})).Return(&ports.CreateSubscriptionResult{OrderID: 41, OrderNumber: 1, Created: true}, nil)

	result, err := svc.Create(context.Background(), createParams())
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusProcessing, result.Subscription.Status)
	assert.Equal(t, testSubID, result.Subscription.ID)
	assert.Equal(t, testAccountAddr, result.Subscription.Beneficiary)
	assert.Equal(t, int64(41), result.Order.ID)
	assert.Equal(t, int32(1), result.Order.OrderNumber)
	assert.Equal(t, "25000000", result.Order.Amount)

	// The created event belongs to the activation run, not the request path
	assert.Empty(t, emitter.Kinds())
	store.AssertExpectations(t)
	accounts.AssertExpectations(t)
}

func TestService_Create_RejectsMalformedID(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	provider.SetValidateResult(false)
	svc, _, _ := newTestService(store, accounts, provider)

	params := createParams()
	params.SubscriptionID = "not-a-hash"
	_, err := svc.Create(context.Background(), params)

	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeInvalidFormat))
	store.AssertNotCalled(t, "SubscriptionExists", mock.Anything, mock.Anything)
}

func TestService_Create_UnknownProvider(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, _ := newTestService(store, accounts, provider)

	params := createParams()
	params.Provider = domain.ProviderTag("visa")
	_, err := svc.Create(context.Background(), params)

	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeInvalidRequest))
}

func TestService_Create_RejectsDuplicate(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, _ := newTestService(store, accounts, provider)

	store.On("SubscriptionExists", mock.Anything, testSubID).Return(true, nil)

	_, err := svc.Create(context.Background(), createParams())
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeSubscriptionExists))
	assert.Equal(t, 0, provider.StatusCalls, "no chain call for a known duplicate")
}

func TestService_Create_PermissionMissing(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, _ := newTestService(store, accounts, provider)

	store.On("SubscriptionExists", mock.Anything, testSubID).Return(false, nil)
	provider.SetStatusResponse(&ports.PermissionStatus{PermissionExists: false}, nil)

	_, err := svc.Create(context.Background(), createParams())
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodePermissionNotFound))
	store.AssertNotCalled(t, "CreateSubscriptionWithOrder", mock.Anything, mock.Anything)
}

func TestService_Create_PermissionNotSubscribed(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, _ := newTestService(store, accounts, provider)

	store.On("SubscriptionExists", mock.Anything, testSubID).Return(false, nil)
	provider.SetStatusResponse(&ports.PermissionStatus{PermissionExists: true, IsSubscribed: false}, nil)

	_, err := svc.Create(context.Background(), createParams())
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeForbidden))
}

func TestService_Create_UpstreamStatusErrorPropagates(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, _ := newTestService(store, accounts, provider)

	store.On("SubscriptionExists", mock.Anything, testSubID).Return(false, nil)
	provider.SetStatusResponse(nil, domain.WrapPaymentError(domain.ErrorCodeUpstreamServiceError,
		"Upstream service unavailable", errors.New("503 service unavailable")))

	_, err := svc.Create(context.Background(), createParams())
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeUpstreamServiceError))
}

func TestService_Create_LostCreateRace(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, _ := newTestService(store, accounts, provider)

	provider.SetStatusResponse(subscribedStatus(time.Now().Add(time.Hour)), nil)
	store.On("SubscriptionExists", mock.Anything, testSubID).Return(false, nil)
	accounts.On("GetAccountByID", mock.Anything, int64(7)).Return(testAccount(), nil)
	store.On("CreateSubscriptionWithOrder", mock.Anything, mock.Anything).
		Return(&ports.CreateSubscriptionResult{Created: false}, nil)

	_, err := svc.Create(context.Background(), createParams())
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeSubscriptionExists))
}

func TestService_Create_RecordsOwnerOnFirstSight(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, _ := newTestService(store, accounts, provider)

	status := subscribedStatus(time.Now().Add(time.Hour))
	status.SubscriptionOwner = &testOwnerAddr
	provider.SetStatusResponse(status, nil)
	store.On("SubscriptionExists", mock.Anything, testSubID).Return(false, nil)
	accounts.On("GetAccountByID", mock.Anything, int64(7)).Return(testAccount(), nil)
	accounts.On("SetSubscriptionOwner", mock.Anything, int64(7), testOwnerAddr).Return(nil)
	store.On("CreateSubscriptionWithOrder", mock.Anything, mock.Anything).
		Return(&ports.CreateSubscriptionResult{OrderID: 41, OrderNumber: 1, Created: true}, nil)

	_, err := svc.Create(context.Background(), createParams())
	require.NoError(t, err)
	accounts.AssertExpectations(t)
}

func TestService_Create_OwnerMismatchIsAdvisoryOnly(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, _ := newTestService(store, accounts, provider)

	status := subscribedStatus(time.Now().Add(time.Hour))
	status.SubscriptionOwner = &testOwnerAddr
	provider.SetStatusResponse(status, nil)

	other := common.HexToAddress("0xde709f2102306220921060314715629080e2fb77")
	account := testAccount()
	account.SubscriptionOwner = &other

	store.On("SubscriptionExists", mock.Anything, testSubID).Return(false, nil)
	accounts.On("GetAccountByID", mock.Anything, int64(7)).Return(account, nil)
	store.On("CreateSubscriptionWithOrder", mock.Anything, mock.Anything).
		Return(&ports.CreateSubscriptionResult{OrderID: 41, OrderNumber: 1, Created: true}, nil)

	_, err := svc.Create(context.Background(), createParams())
	require.NoError(t, err)
	accounts.AssertNotCalled(t, "SetSubscriptionOwner", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_RunActivation_HappyPath(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, scheduler, emitter := newTestService(store, accounts, provider)

	sub, order := processingPair()
	nextStart := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	gas := int64(52000)

	provider.SetStatusResponse(subscribedStatus(nextStart), nil)
	store.On("GetSuccessfulTransaction", mock.Anything, testSubID, int64(41)).
		Return(nil, notFoundErr("getSuccessfulTransaction"))
	provider.SetChargeResponse(&ports.ChargeResult{TransactionHash: testTxHash, GasUsed: &gas}, nil)
	store.On("RecordTransaction", mock.Anything, mock.MatchedBy(func(p ports.RecordTransactionParams) bool {
		return p.OrderID == 41 && p.Transaction.Hash == testTxHash
	})).Return(nil)
	store.On("ExecuteSubscriptionActivation", mock.Anything, mock.MatchedBy(func(p ports.ActivationParams) bool {
		return p.OrderID == 41 &&
			p.Transaction.Hash == testTxHash &&
			p.NextOrder != nil &&
			p.NextOrder.DueAt.Equal(nextStart)
	})).Return(int64(42), nil)

	svc.runActivation(context.Background(), sub, order)

	assert.Equal(t, []string{"subscription_created", "subscription_activated"}, emitter.Kinds())
	assert.Equal(t, testAccountAddr, provider.LastChargeReq.Recipient)
	assert.Equal(t, "25000000", provider.LastChargeReq.Amount)

	require.Len(t, scheduler.SetCalls, 1)
	assert.Equal(t, int64(42), scheduler.SetCalls[0].OrderID)

	activated := emitter.Last()
	assert.Equal(t, domain.SubscriptionStatusActive, activated.Subscription.Status)
	assert.Equal(t, domain.OrderStatusPaid, activated.Order.Status)
	require.NotNil(t, activated.Transaction)
	assert.Equal(t, testTxHash, activated.Transaction.Hash)
	store.AssertExpectations(t)
}

func TestService_RunActivation_IdempotentReplay(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, emitter := newTestService(store, accounts, provider)

	sub, order := processingPair()
	gas := int64(52000)

	provider.SetStatusResponse(subscribedStatus(time.Now().Add(time.Hour)), nil)
	store.On("GetSuccessfulTransaction", mock.Anything, testSubID, int64(41)).
		Return(&domain.Transaction{
			Hash:           testTxHash,
			GasUsed:        &gas,
			Amount:         "25000000",
			Status:         domain.TransactionStatusConfirmed,
			SubscriptionID: testSubID,
			OrderID:        41,
		}, nil)
	store.On("ExecuteSubscriptionActivation", mock.Anything, mock.MatchedBy(func(p ports.ActivationParams) bool {
		return p.Transaction.Hash == testTxHash
	})).Return(int64(42), nil)

	svc.runActivation(context.Background(), sub, order)

	assert.Equal(t, 0, provider.ChargeCalls, "the settled charge must not repeat")
	store.AssertNotCalled(t, "RecordTransaction", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"subscription_created", "subscription_activated"}, emitter.Kinds())
	store.AssertExpectations(t)
}

func TestService_RunActivation_RevokedBeforeCharge(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, emitter := newTestService(store, accounts, provider)

	sub, order := processingPair()
	provider.SetStatusResponse(&ports.PermissionStatus{PermissionExists: true, IsSubscribed: false}, nil)
	store.On("MarkSubscriptionIncomplete", mock.Anything, mock.MatchedBy(func(p ports.MarkIncompleteParams) bool {
		return p.OrderID == 41 && p.Reason == domain.ErrorCodePermissionRevoked
	})).Return(nil)

	svc.runActivation(context.Background(), sub, order)

	assert.Equal(t, 0, provider.ChargeCalls)
	assert.Equal(t, []string{"subscription_created", "activation_failed"}, emitter.Kinds())
	assert.Equal(t, domain.SubscriptionStatusIncomplete, emitter.Last().Subscription.Status)
	store.AssertExpectations(t)
}

func TestService_RunActivation_ChargeFailureParksIncomplete(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, emitter := newTestService(store, accounts, provider)

	sub, order := processingPair()
	provider.SetStatusResponse(subscribedStatus(time.Now().Add(time.Hour)), nil)
	store.On("GetSuccessfulTransaction", mock.Anything, testSubID, int64(41)).
		Return(nil, notFoundErr("getSuccessfulTransaction"))
	provider.SetChargeResponse(nil, domain.NewPaymentError(domain.ErrorCodeInsufficientBalance,
		"Insufficient USDC balance to complete the payment"))
	store.On("MarkSubscriptionIncomplete", mock.Anything, mock.MatchedBy(func(p ports.MarkIncompleteParams) bool {
		return p.Reason == domain.ErrorCodeInsufficientBalance
	})).Return(nil)

	svc.runActivation(context.Background(), sub, order)

	assert.Equal(t, []string{"subscription_created", "activation_failed"}, emitter.Kinds())
	failed := emitter.Last()
	assert.Equal(t, domain.OrderStatusFailed, failed.Order.Status)
	require.NotNil(t, failed.Order.FailureReason)
	assert.Equal(t, domain.ErrorCodeInsufficientBalance, *failed.Order.FailureReason)
	store.AssertNotCalled(t, "ExecuteSubscriptionActivation", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestService_RunActivation_OutageLeavesProcessing(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, emitter := newTestService(store, accounts, provider)

	sub, order := processingPair()
	provider.SetStatusResponse(subscribedStatus(time.Now().Add(time.Hour)), nil)
	store.On("GetSuccessfulTransaction", mock.Anything, testSubID, int64(41)).
		Return(nil, notFoundErr("getSuccessfulTransaction"))
	provider.SetChargeResponse(nil, domain.WrapPaymentError(domain.ErrorCodeUpstreamServiceError,
		"Upstream service unavailable", errors.New("503 service unavailable")))

	svc.runActivation(context.Background(), sub, order)

	// The stalled-order sweep resumes the activation once the outage passes
	store.AssertNotCalled(t, "MarkSubscriptionIncomplete", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"subscription_created"}, emitter.Kinds())
}

func TestService_RunActivation_BookkeepingFailureLeavesProcessing(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, scheduler, emitter := newTestService(store, accounts, provider)

	sub, order := processingPair()
	gas := int64(52000)
	provider.SetStatusResponse(subscribedStatus(time.Now().Add(time.Hour)), nil)
	store.On("GetSuccessfulTransaction", mock.Anything, testSubID, int64(41)).
		Return(nil, notFoundErr("getSuccessfulTransaction"))
	provider.SetChargeResponse(&ports.ChargeResult{TransactionHash: testTxHash, GasUsed: &gas}, nil)
	store.On("RecordTransaction", mock.Anything, mock.Anything).Return(nil)
	store.On("ExecuteSubscriptionActivation", mock.Anything, mock.Anything).
		Return(int64(0), transientErr("executeSubscriptionActivation"))

	svc.runActivation(context.Background(), sub, order)

	// The charge is checkpointed; parking incomplete here would orphan it
	store.AssertNotCalled(t, "MarkSubscriptionIncomplete", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"subscription_created"}, emitter.Kinds())
	assert.Empty(t, scheduler.SetCalls)
	store.AssertExpectations(t)
}

func TestService_RunActivation_PanicConverges(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, emitter := newTestService(store, accounts, provider)

	sub, order := processingPair()
	// A nil status with a nil error violates the provider contract and
	// panics inside the run; the recover path must still settle the outcome.
	provider.SetStatusResponse(nil, nil)
	store.On("MarkSubscriptionIncomplete", mock.Anything, mock.MatchedBy(func(p ports.MarkIncompleteParams) bool {
		return p.Reason == domain.ErrorCodeInternalError
	})).Return(nil)

	svc.runActivation(context.Background(), sub, order)

	assert.Equal(t, []string{"subscription_created", "activation_failed"}, emitter.Kinds())
	store.AssertExpectations(t)
}

func TestService_ActivateInBackground_Completes(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, scheduler, emitter := newTestService(store, accounts, provider)

	sub, order := processingPair()
	gas := int64(52000)
	provider.SetStatusResponse(subscribedStatus(time.Now().Add(time.Hour)), nil)
	store.On("GetSuccessfulTransaction", mock.Anything, testSubID, int64(41)).
		Return(nil, notFoundErr("getSuccessfulTransaction"))
	provider.SetChargeResponse(&ports.ChargeResult{TransactionHash: testTxHash, GasUsed: &gas}, nil)
	store.On("RecordTransaction", mock.Anything, mock.Anything).Return(nil)
	store.On("ExecuteSubscriptionActivation", mock.Anything, mock.Anything).Return(int64(42), nil)

	svc.ActivateInBackground(sub, order)

	require.Eventually(t, func() bool {
		return len(emitter.Kinds()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"subscription_created", "subscription_activated"}, emitter.Kinds())
	require.Len(t, scheduler.SetCalls, 1)

	assert.Eventually(t, func() bool {
		return svc.tracker.GetStats().TrackedCount == 0
	}, 2*time.Second, 10*time.Millisecond, "the activation goroutine must untrack itself")
}

func TestService_Revoke_HappyPath(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, scheduler, emitter := newTestService(store, accounts, provider)

	store.On("GetSubscription", mock.Anything, testSubID).Return(activeSub(), nil)
	provider.SetStatusResponse(subscribedStatus(time.Now().Add(time.Hour)), nil)
	provider.SetRevokeResponse(&ports.RevokeResult{TransactionHash: testTxHash}, nil)
	store.On("CancelPendingOrders", mock.Anything, testSubID).Return([]int64{44}, nil)
	store.On("CancelSubscription", mock.Anything, testSubID).Return(nil)
	store.On("GetSubscriptionOrders", mock.Anything, testSubID).Return([]domain.Order{
		{ID: 41, OrderNumber: 1, Status: domain.OrderStatusPaid},
		{ID: 44, OrderNumber: 2, Status: domain.OrderStatusFailed},
	}, nil)

	err := svc.Revoke(context.Background(), RevokeParams{SubscriptionID: testSubIDStr, AccountID: 7})
	require.NoError(t, err)

	assert.Equal(t, 1, provider.RevokeCalls)
	assert.Equal(t, []int64{44}, scheduler.DeleteCalls)
	assert.Equal(t, []string{"subscription_canceled"}, emitter.Kinds())

	event := emitter.Last()
	assert.Equal(t, domain.SubscriptionStatusCanceled, event.Subscription.Status)
	require.NotNil(t, event.Order)
	assert.Equal(t, int64(44), event.Order.ID, "the canceled event carries the latest order")
	store.AssertExpectations(t)
}

func TestService_Revoke_SkipsChainCallWhenAlreadyRevoked(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, emitter := newTestService(store, accounts, provider)

	store.On("GetSubscription", mock.Anything, testSubID).Return(activeSub(), nil)
	provider.SetStatusResponse(&ports.PermissionStatus{PermissionExists: true, IsSubscribed: false}, nil)
	store.On("CancelPendingOrders", mock.Anything, testSubID).Return(nil, nil)
	store.On("CancelSubscription", mock.Anything, testSubID).Return(nil)
	store.On("GetSubscriptionOrders", mock.Anything, testSubID).Return(nil, nil)

	err := svc.Revoke(context.Background(), RevokeParams{SubscriptionID: testSubIDStr, AccountID: 7})
	require.NoError(t, err)

	assert.Equal(t, 0, provider.RevokeCalls, "nothing left to revoke on chain")
	assert.Equal(t, []string{"subscription_canceled"}, emitter.Kinds())
	assert.Nil(t, emitter.Last().Order)
	store.AssertExpectations(t)
}

func TestService_Revoke_IdempotentOnCanceled(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, emitter := newTestService(store, accounts, provider)

	sub := activeSub()
	sub.Status = domain.SubscriptionStatusCanceled
	store.On("GetSubscription", mock.Anything, testSubID).Return(sub, nil)

	err := svc.Revoke(context.Background(), RevokeParams{SubscriptionID: testSubIDStr, AccountID: 7})
	require.NoError(t, err)

	assert.Equal(t, 0, provider.StatusCalls)
	assert.Empty(t, emitter.Kinds())
	store.AssertNotCalled(t, "CancelSubscription", mock.Anything, mock.Anything)
}

func TestService_Revoke_NotFound(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, _ := newTestService(store, accounts, provider)

	store.On("GetSubscription", mock.Anything, testSubID).
		Return(nil, notFoundErr("getSubscription"))

	err := svc.Revoke(context.Background(), RevokeParams{SubscriptionID: testSubIDStr, AccountID: 7})
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeNotFound))
}

func TestService_Revoke_ForeignAccount(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, _ := newTestService(store, accounts, provider)

	store.On("GetSubscription", mock.Anything, testSubID).Return(activeSub(), nil)

	err := svc.Revoke(context.Background(), RevokeParams{SubscriptionID: testSubIDStr, AccountID: 99})
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeForbidden))
	assert.Equal(t, 0, provider.StatusCalls)
}

func TestService_Revoke_UnpaidIsNotRevocable(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, _ := newTestService(store, accounts, provider)

	sub := activeSub()
	sub.Status = domain.SubscriptionStatusUnpaid
	store.On("GetSubscription", mock.Anything, testSubID).Return(sub, nil)

	err := svc.Revoke(context.Background(), RevokeParams{SubscriptionID: testSubIDStr, AccountID: 7})
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeInvalidRequest))
}

func TestService_Revoke_PermissionGoneKeepsSubscription(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, emitter := newTestService(store, accounts, provider)

	store.On("GetSubscription", mock.Anything, testSubID).Return(activeSub(), nil)
	provider.SetStatusResponse(&ports.PermissionStatus{PermissionExists: false}, nil)

	err := svc.Revoke(context.Background(), RevokeParams{SubscriptionID: testSubIDStr, AccountID: 7})
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodePermissionNotFound))
	assert.Empty(t, emitter.Kinds())
	store.AssertNotCalled(t, "CancelPendingOrders", mock.Anything, mock.Anything)
}

func TestService_Get(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, _ := newTestService(store, accounts, provider)

	store.On("GetSubscription", mock.Anything, testSubID).Return(activeSub(), nil)
	store.On("GetSubscriptionOrders", mock.Anything, testSubID).Return([]domain.Order{
		{ID: 41, OrderNumber: 1, Status: domain.OrderStatusPaid},
		{ID: 42, OrderNumber: 2, Status: domain.OrderStatusPending},
	}, nil)

	details, err := svc.Get(context.Background(), testSubIDStr, 7)
	require.NoError(t, err)
	assert.Equal(t, testSubID, details.Subscription.ID)
	require.Len(t, details.Orders, 2)
	assert.Equal(t, int32(1), details.Orders[0].OrderNumber)
}

func TestService_Get_ForeignAccount(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, _ := newTestService(store, accounts, provider)

	store.On("GetSubscription", mock.Anything, testSubID).Return(activeSub(), nil)

	_, err := svc.Get(context.Background(), testSubIDStr, 99)
	assert.True(t, domain.IsPaymentError(err, domain.ErrorCodeForbidden))
	store.AssertNotCalled(t, "GetSubscriptionOrders", mock.Anything, mock.Anything)
}

func TestService_List_PassesNetworkFilter(t *testing.T) {
	store := new(mocks.MockStore)
	accounts := new(mocks.MockAccountStore)
	provider := mocks.NewMockProvider(domain.ProviderBase)
	svc, _, _ := newTestService(store, accounts, provider)

	testnet := true
	store.On("ListSubscriptions", mock.Anything, int64(7), &testnet).
		Return([]domain.Subscription{*activeSub()}, nil)

	subs, err := svc.List(context.Background(), 7, &testnet)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, testSubID, subs[0].ID)
	store.AssertExpectations(t)
}
