package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SubscriptionStatus represents the subscription lifecycle state
type SubscriptionStatus string

const (
	SubscriptionStatusProcessing SubscriptionStatus = "processing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
)

// ProviderTag identifies which on-chain provider settles a subscription
type ProviderTag string

const (
	ProviderBase ProviderTag = "base"
)

// Subscription represents one on-chain spend permission under management.
// The ID is the 32-byte permission hash; Beneficiary is always the merchant
// account's own address and is the forced recipient of every charge.
type Subscription struct {
	CreatedAt   time.Time          `json:"created_at"`
	ModifiedAt  time.Time          `json:"modified_at"`
	Status      SubscriptionStatus `json:"status"`
	Provider    ProviderTag        `json:"provider"`
	ID          common.Hash        `json:"id"`
	Beneficiary common.Address     `json:"beneficiary"`
	AccountID   int64              `json:"account_id"`
	Testnet     bool               `json:"testnet"`
}

// IsActive returns true if the subscription is currently active
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// IsChargeable returns true if orders of this subscription may be charged.
// Only active and past_due subscriptions cycle; every other state fails the
// processor pre-check.
func (s *Subscription) IsChargeable() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusPastDue
}

// IsTerminal returns true if the subscription can never be charged again
func (s *Subscription) IsTerminal() bool {
	switch s.Status {
	case SubscriptionStatusCanceled, SubscriptionStatusUnpaid, SubscriptionStatusIncomplete:
		return true
	}
	return false
}

// IsRevocable returns true if revokeSubscription may be applied in the
// current state. Already-canceled subscriptions answer an idempotent success
// at the service layer instead.
func (s *Subscription) IsRevocable() bool {
	switch s.Status {
	case SubscriptionStatusProcessing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusIncomplete:
		return true
	}
	return false
}

// ValidSubscriptionStatus reports whether a stored string is a known status.
func ValidSubscriptionStatus(s string) bool {
	switch SubscriptionStatus(s) {
	case SubscriptionStatusProcessing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusUnpaid,
		SubscriptionStatusCanceled,
		SubscriptionStatusIncomplete:
		return true
	}
	return false
}
