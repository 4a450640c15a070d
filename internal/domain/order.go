package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus represents the order lifecycle state
type OrderStatus string

const (
	OrderStatusPending      OrderStatus = "pending"
	OrderStatusProcessing   OrderStatus = "processing"
	OrderStatusPaid         OrderStatus = "paid"
	OrderStatusFailed       OrderStatus = "failed"
	OrderStatusPendingRetry OrderStatus = "pending_retry"
)

// OrderType distinguishes the activation charge from scheduled cycles.
// Retries stay on the same row; Attempts is the progress counter.
type OrderType string

const (
	OrderTypeInitial   OrderType = "initial"
	OrderTypeRecurring OrderType = "recurring"
	OrderTypeRetry     OrderType = "retry"
)

// Order represents a single charge attempt for one subscription cycle.
// Amount is a stringified integer in USDC base units (6 decimals).
type Order struct {
	CreatedAt       time.Time   `json:"created_at"`
	DueAt           time.Time   `json:"due_at"`
	NextRetryAt     *time.Time  `json:"next_retry_at,omitempty"`
	ParentOrderID   *int64      `json:"parent_order_id,omitempty"`
	FailureReason   *ErrorCode  `json:"failure_reason,omitempty"`
	RawError        *string     `json:"raw_error,omitempty"`
	Amount          string      `json:"amount"`
	Status          OrderStatus `json:"status"`
	Type            OrderType   `json:"type"`
	SubscriptionID  common.Hash `json:"subscription_id"`
	ID              int64       `json:"id"`
	OrderNumber     int32       `json:"order_number"`
	Attempts        int32       `json:"attempts"`
	PeriodInSeconds int64       `json:"period_in_seconds"`
}

// IsTerminal returns true once the order can no longer be charged
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusPaid || o.Status == OrderStatusFailed
}

// IsOpen returns true while the order still occupies the subscription's
// single non-terminal slot.
func (o *Order) IsOpen() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusPendingRetry:
		return true
	}
	return false
}

// PeriodStart returns the cycle start this order charges for
func (o *Order) PeriodStart() time.Time {
	return o.DueAt
}

// PeriodEnd returns the cycle end derived from the period length
func (o *Order) PeriodEnd() time.Time {
	return o.DueAt.Add(time.Duration(o.PeriodInSeconds) * time.Second)
}

// ValidOrderStatus reports whether a stored string is a known status.
func ValidOrderStatus(s string) bool {
	switch OrderStatus(s) {
	case OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusPaid,
		OrderStatusFailed,
		OrderStatusPendingRetry:
		return true
	}
	return false
}
