package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscription_IsActive(t *testing.T) {
	tests := []struct {
		name     string
		status   SubscriptionStatus
		expected bool
	}{
		{"active status returns true", SubscriptionStatusActive, true},
		{"processing status returns false", SubscriptionStatusProcessing, false},
		{"past_due status returns false", SubscriptionStatusPastDue, false},
		{"unpaid status returns false", SubscriptionStatusUnpaid, false},
		{"canceled status returns false", SubscriptionStatusCanceled, false},
		{"incomplete status returns false", SubscriptionStatusIncomplete, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{Status: tt.status}
			assert.Equal(t, tt.expected, sub.IsActive())
		})
	}
}

// TestSubscription_IsChargeable tests the processor pre-check: only active
// and past_due subscriptions may have orders charged.
func TestSubscription_IsChargeable(t *testing.T) {
	tests := []struct {
		name     string
		status   SubscriptionStatus
		expected bool
	}{
		{"active subscription is chargeable", SubscriptionStatusActive, true},
		{"past_due subscription keeps retrying", SubscriptionStatusPastDue, true},
		{"processing waits for activation", SubscriptionStatusProcessing, false},
		{"unpaid has exhausted its retries", SubscriptionStatusUnpaid, false},
		{"canceled is never charged", SubscriptionStatusCanceled, false},
		{"incomplete is never charged", SubscriptionStatusIncomplete, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{Status: tt.status}
			assert.Equal(t, tt.expected, sub.IsChargeable())
		})
	}
}

func TestSubscription_IsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		status   SubscriptionStatus
		expected bool
	}{
		{"canceled is terminal", SubscriptionStatusCanceled, true},
		{"unpaid is terminal", SubscriptionStatusUnpaid, true},
		{"incomplete is terminal", SubscriptionStatusIncomplete, true},
		{"processing is not terminal", SubscriptionStatusProcessing, false},
		{"active is not terminal", SubscriptionStatusActive, false},
		{"past_due is not terminal", SubscriptionStatusPastDue, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{Status: tt.status}
			assert.Equal(t, tt.expected, sub.IsTerminal())
		})
	}
}

// TestSubscription_IsRevocable tests which states still allow an on-chain
// revoke. Canceled subscriptions are excluded; the service layer answers
// those with an idempotent success instead.
func TestSubscription_IsRevocable(t *testing.T) {
	tests := []struct {
		name     string
		status   SubscriptionStatus
		expected bool
	}{
		{"processing can be revoked before activation", SubscriptionStatusProcessing, true},
		{"active can be revoked", SubscriptionStatusActive, true},
		{"past_due can be revoked", SubscriptionStatusPastDue, true},
		{"incomplete can still be revoked on-chain", SubscriptionStatusIncomplete, true},
		{"canceled is already revoked", SubscriptionStatusCanceled, false},
		{"unpaid has nothing left to revoke", SubscriptionStatusUnpaid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{Status: tt.status}
			assert.Equal(t, tt.expected, sub.IsRevocable())
		})
	}
}

// TestSubscription_ChargeableTerminalDisjoint verifies no status is both
// chargeable and terminal. The processor relies on this to never pick up
// work for a subscription that can no longer settle.
func TestSubscription_ChargeableTerminalDisjoint(t *testing.T) {
	statuses := []SubscriptionStatus{
		SubscriptionStatusProcessing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusUnpaid,
		SubscriptionStatusCanceled,
		SubscriptionStatusIncomplete,
	}

	for _, status := range statuses {
		sub := &Subscription{Status: status}
		if sub.IsChargeable() {
			assert.False(t, sub.IsTerminal(), "status %s is both chargeable and terminal", status)
		}
	}
}

func TestValidSubscriptionStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		expected bool
	}{
		{"processing is valid", "processing", true},
		{"active is valid", "active", true},
		{"past_due is valid", "past_due", true},
		{"unpaid is valid", "unpaid", true},
		{"canceled is valid", "canceled", true},
		{"incomplete is valid", "incomplete", true},
		{"empty string is invalid", "", false},
		{"unknown status is invalid", "suspended", false},
		{"check is case sensitive", "Active", false},
		{"british spelling is invalid", "cancelled", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidSubscriptionStatus(tt.status))
		})
	}
}
