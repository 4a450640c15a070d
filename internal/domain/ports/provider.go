package ports

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/brindlepay/subscription-service/internal/domain"
)

// PermissionStatus is the provider's view of one spend permission. When
// PermissionExists is false only RecurringCharge may be populated; every
// other field is meaningful only for known permissions. PeriodInSeconds is
// already converted from the vendor's day granularity.
type PermissionStatus struct {
	CurrentPeriodStart      *time.Time
	NextPeriodStart         *time.Time
	SubscriptionOwner       *common.Address
	RemainingChargeInPeriod string
	RecurringCharge         string
	PeriodInSeconds         int64
	PermissionExists        bool
	IsSubscribed            bool
}

// ChargeParams describes one charge execution. Recipient is the
// subscription's beneficiary; callers must never substitute another wallet.
type ChargeParams struct {
	Amount         string
	SubscriptionID common.Hash
	Recipient      common.Address
	Testnet        bool
}

// ChargeResult is the settlement reference of a successful charge.
type ChargeResult struct {
	GasUsed         *int64
	TransactionHash common.Hash
}

// RevokeResult is the settlement reference of an on-chain revocation.
type RevokeResult struct {
	TransactionHash common.Hash
}

// SubscriptionProvider is the only component allowed to talk to the
// on-chain vendor. Implementations translate every vendor failure into the
// domain error taxonomy; no raw error escapes.
type SubscriptionProvider interface {
	// Tag names the provider for routing and persistence.
	Tag() domain.ProviderTag

	// ValidateID is a pure format check, no network.
	ValidateID(id string) bool

	GetStatus(ctx context.Context, subscriptionID common.Hash, testnet bool) (*PermissionStatus, error)
	Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error)
	// Revoke revokes on chain. Callers detect already-revoked permissions via
	// GetStatus.IsSubscribed and skip the call.
	Revoke(ctx context.Context, subscriptionID common.Hash, testnet bool) (*RevokeResult, error)
}
