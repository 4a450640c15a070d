package ports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/brindlepay/subscription-service/internal/domain"
)

// StorageErrorKind classifies Store failures for callers.
type StorageErrorKind string

const (
	// StorageConflict is a semantic uniqueness conflict ("already exists")
	StorageConflict StorageErrorKind = "conflict"
	// StorageNotFound means the addressed row does not exist
	StorageNotFound StorageErrorKind = "not_found"
	// StorageConstraint is a CHECK or FK violation; indicates a caller bug
	StorageConstraint StorageErrorKind = "constraint"
	// StorageTransient is retryable: serialization failure, lost connection
	StorageTransient StorageErrorKind = "transient"
)

// StorageError wraps a database failure with its classification and the
// named operation that produced it.
type StorageError struct {
	Err  error
	Op   string
	Kind StorageErrorKind
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("store %s: %s", e.Op, e.Kind)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError builds a classified store error.
func NewStorageError(kind StorageErrorKind, op string, err error) *StorageError {
	return &StorageError{Kind: kind, Op: op, Err: err}
}

func storageKindOf(err error) (StorageErrorKind, bool) {
	var serr *StorageError
	if errors.As(err, &serr) {
		return serr.Kind, true
	}
	return "", false
}

// IsConflict reports a semantic uniqueness conflict.
func IsConflict(err error) bool {
	kind, ok := storageKindOf(err)
	return ok && kind == StorageConflict
}

// IsNotFound reports that the addressed row does not exist.
func IsNotFound(err error) bool {
	kind, ok := storageKindOf(err)
	return ok && kind == StorageNotFound
}

// IsConstraint reports an invariant violation rejected by the schema.
func IsConstraint(err error) bool {
	kind, ok := storageKindOf(err)
	return ok && kind == StorageConstraint
}

// IsTransient reports a retryable storage failure.
func IsTransient(err error) bool {
	kind, ok := storageKindOf(err)
	return ok && kind == StorageTransient
}

// NewOrder carries the fields of an order row to be inserted. OrderNumber is
// always assigned by the Store (max+1 within the subscription).
type NewOrder struct {
	DueAt           time.Time
	ParentOrderID   *int64
	Amount          string
	Type            domain.OrderType
	Status          domain.OrderStatus
	PeriodInSeconds int64
}

// NewTransaction carries the fields of a settlement record to be inserted.
type NewTransaction struct {
	GasUsed *int64
	Amount  string
	Status  domain.TransactionStatus
	Hash    common.Hash
}

// CreateSubscriptionParams creates a subscription in processing state
// together with its first order.
type CreateSubscriptionParams struct {
	Order          NewOrder
	Provider       domain.ProviderTag
	SubscriptionID common.Hash
	Beneficiary    common.Address
	AccountID      int64
	Testnet        bool
}

// CreateSubscriptionResult reports whether the row was created and the
// identifiers of the first order. Created=false means the subscription
// already existed and nothing was written.
type CreateSubscriptionResult struct {
	OrderID     int64
	OrderNumber int32
	Created     bool
}

// ActivationParams is the single-transaction success path: confirm the
// settlement, mark the order paid, insert the next order (when non-nil),
// and flip the subscription active.
type ActivationParams struct {
	NextOrder      *NewOrder
	Transaction    NewTransaction
	SubscriptionID common.Hash
	OrderID        int64
}

// MarkIncompleteParams fails an activation order and parks the subscription
// in incomplete.
type MarkIncompleteParams struct {
	RawError       string
	Reason         domain.ErrorCode
	SubscriptionID common.Hash
	OrderID        int64
}

// OrderDetails joins an order with the subscription-level fields the
// processor needs to charge it.
type OrderDetails struct {
	Order              domain.Order
	SubscriptionStatus domain.SubscriptionStatus
	Provider           domain.ProviderTag
	Beneficiary        common.Address
	AccountID          int64
	Testnet            bool
}

// RecordTransactionParams inserts or upserts a settlement record outside the
// activation path.
type RecordTransactionParams struct {
	Transaction    NewTransaction
	SubscriptionID common.Hash
	OrderID        int64
}

// UpdateOrderParams moves an order to a new status, optionally recording the
// failure classification and raw provider text.
type UpdateOrderParams struct {
	FailureReason *domain.ErrorCode
	RawError      *string
	Status        domain.OrderStatus
	OrderID       int64
}

// ScheduleRetryParams parks a failed order for a dunning retry: status
// pending_retry, attempts+1, next_retry_at set.
type ScheduleRetryParams struct {
	NextRetryAt    time.Time
	RawError       string
	FailureReason  domain.ErrorCode
	SubscriptionID common.Hash
	OrderID        int64
}

// CreateNextOrderParams inserts the next cycle's order outside the
// activation path.
type CreateNextOrderParams struct {
	Order          NewOrder
	SubscriptionID common.Hash
}

// Store is the transactional persistence port for the subscription engine.
// All mutations go through these named operations; each is atomic.
type Store interface {
	CreateSubscriptionWithOrder(ctx context.Context, params CreateSubscriptionParams) (*CreateSubscriptionResult, error)
	ExecuteSubscriptionActivation(ctx context.Context, params ActivationParams) (nextOrderID int64, err error)
	MarkSubscriptionIncomplete(ctx context.Context, params MarkIncompleteParams) error

	// ClaimDueOrders atomically transitions up to limit due pending orders of
	// active subscriptions, plus due retry orders of past_due subscriptions,
	// to processing and returns them. A row is never returned to two
	// concurrent claimers.
	ClaimDueOrders(ctx context.Context, limit int32) ([]OrderDetails, error)

	// ClaimOrder atomically transitions one claimable order to processing and
	// returns its details. Not-found covers both a missing order and an order
	// already owned by another worker; callers disambiguate with
	// GetOrderDetails when it matters.
	ClaimOrder(ctx context.Context, orderID int64) (*OrderDetails, error)

	RecordTransaction(ctx context.Context, params RecordTransactionParams) error
	UpdateOrder(ctx context.Context, params UpdateOrderParams) (orderNumber int32, err error)
	UpdateSubscription(ctx context.Context, subscriptionID common.Hash, status domain.SubscriptionStatus) error
	ScheduleRetry(ctx context.Context, params ScheduleRetryParams) error
	ReactivateSubscription(ctx context.Context, orderID int64, subscriptionID common.Hash) error
	CreateNextOrder(ctx context.Context, params CreateNextOrderParams) (*domain.Order, error)

	// CancelPendingOrders fails every non-terminal order of the subscription
	// and returns the affected order ids so the caller can delete timers.
	CancelPendingOrders(ctx context.Context, subscriptionID common.Hash) ([]int64, error)
	CancelSubscription(ctx context.Context, subscriptionID common.Hash) error

	SubscriptionExists(ctx context.Context, subscriptionID common.Hash) (bool, error)
	GetSubscription(ctx context.Context, subscriptionID common.Hash) (*domain.Subscription, error)
	GetSubscriptionOrders(ctx context.Context, subscriptionID common.Hash) ([]domain.Order, error)
	ListSubscriptions(ctx context.Context, accountID int64, testnet *bool) ([]domain.Subscription, error)
	GetOrderDetails(ctx context.Context, orderID int64) (*OrderDetails, error)
	GetOrderByID(ctx context.Context, orderID int64) (*domain.Order, error)
	GetSuccessfulTransaction(ctx context.Context, subscriptionID common.Hash, orderID int64) (*domain.Transaction, error)

	// StalledProcessingOrders claims orders stuck in processing since before
	// olderThan, for the reconciler. Each claim restamps the row's activity
	// clock so the order is not handed out again within the same window.
	StalledProcessingOrders(ctx context.Context, olderThan time.Time, limit int32) ([]OrderDetails, error)
}

// UpsertAccountParams links a CDP identity to a merchant account, creating
// the account on first authentication.
type UpsertAccountParams struct {
	CDPUserID string
	Address   common.Address
}

// UpdateAPIKeyParams renames or toggles a key owned by the account.
type UpdateAPIKeyParams struct {
	Name      *string
	Enabled   *bool
	KeyID     uuid.UUID
	AccountID int64
}

// AccountStore is the persistence port for merchant accounts, API keys and
// webhook endpoints.
type AccountStore interface {
	UpsertAccount(ctx context.Context, params UpsertAccountParams) (*domain.Account, error)
	GetAccountByAddress(ctx context.Context, address common.Address) (*domain.Account, error)
	GetAccountByID(ctx context.Context, id int64) (*domain.Account, error)
	// SetSubscriptionOwner records the owner wallet; set-once, conflicts if
	// a different owner is already recorded.
	SetSubscriptionOwner(ctx context.Context, accountID int64, owner common.Address) error

	InsertAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context, accountID int64) ([]domain.APIKey, error)
	UpdateAPIKey(ctx context.Context, params UpdateAPIKeyParams) (*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, accountID int64, keyID uuid.UUID) error
	TouchAPIKey(ctx context.Context, keyID uuid.UUID) error

	PutWebhook(ctx context.Context, webhook *domain.Webhook) error
	GetWebhook(ctx context.Context, accountID int64) (*domain.Webhook, error)
	UpdateWebhookURL(ctx context.Context, accountID int64, url string) error
	RotateWebhookSecret(ctx context.Context, accountID int64, secret string) error
	DeleteWebhook(ctx context.Context, accountID int64) error
	TouchWebhook(ctx context.Context, accountID int64) error
}
