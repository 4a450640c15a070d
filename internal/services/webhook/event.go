// Package webhook builds, signs and delivers subscription.updated events.
// The emitter side runs inline with payment processing and never fails the
// caller; the delivery side runs as a queue consumer with its own retry
// schedule.
package webhook

import (
	"errors"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/pkg/timeutil"
)

// EventTypeSubscriptionUpdated is the only event type this service emits.
// Merchants discriminate on data.subscription.status and the presence of
// order/transaction/error sub-objects.
const EventTypeSubscriptionUpdated = "subscription.updated"

// Sanitized error object for faults merchants must not see verbatim.
const (
	internalErrorCode    = "internal_error"
	internalErrorMessage = "An internal error occurred"
)

// Event is the wire shape of one webhook delivery. The marshalled bytes are
// signed as-is; any change to the field set or ordering is a contract change
// for every merchant verifying signatures.
type Event struct {
	Type      string    `json:"type"`
	CreatedAt int64     `json:"created_at"`
	Data      EventData `json:"data"`
}

// EventData always carries the subscription; the other sub-objects appear
// only on the lifecycle edges that produce them.
type EventData struct {
	Subscription SubscriptionData `json:"subscription"`
	Order        *OrderData       `json:"order,omitempty"`
	Transaction  *TransactionData `json:"transaction,omitempty"`
	Error        *ErrorData       `json:"error,omitempty"`
}

// SubscriptionData reports the post-transition state the event announces.
// Amount and period describe the current billing cycle, taken from the
// event's order.
type SubscriptionData struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	Amount          string `json:"amount"`
	PeriodInSeconds int64  `json:"period_in_seconds"`
	Testnet         bool   `json:"testnet,omitempty"`
}

type OrderData struct {
	Number             int32  `json:"number"`
	Type               string `json:"type"`
	Status             string `json:"status"`
	Amount             string `json:"amount"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	NextRetryAt        *int64 `json:"next_retry_at,omitempty"`
}

type TransactionData struct {
	Hash    string `json:"hash"`
	GasUsed *int64 `json:"gas_used,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// newEvent assembles the envelope. Order, tx and failure may be nil.
func newEvent(sub *domain.Subscription, order *domain.Order, tx *domain.Transaction, failure error) Event {
	data := EventData{
		Subscription: SubscriptionData{
			ID:      sub.ID.Hex(),
			Status:  string(sub.Status),
			Testnet: sub.Testnet,
		},
	}

	if order != nil {
		data.Subscription.Amount = order.Amount
		data.Subscription.PeriodInSeconds = order.PeriodInSeconds
		data.Order = orderData(order)
	}
	if tx != nil {
		data.Transaction = &TransactionData{
			Hash:    tx.Hash.Hex(),
			GasUsed: tx.GasUsed,
		}
	}
	if failure != nil {
		data.Error = errorData(failure)
	}

	return Event{
		Type:      EventTypeSubscriptionUpdated,
		CreatedAt: timeutil.Now().Unix(),
		Data:      data,
	}
}

func orderData(order *domain.Order) *OrderData {
	periodStart := order.DueAt.Unix()
	return &OrderData{
		Number:             order.OrderNumber,
		Type:               string(order.Type),
		Status:             string(order.Status),
		Amount:             order.Amount,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodStart + order.PeriodInSeconds,
		NextRetryAt:        timeutil.UnixPtr(order.NextRetryAt),
	}
}

// errorData exposes payment-class codes verbatim with their user message.
// Everything else, including errors that never went through the provider's
// translation, collapses to the generic internal error so infrastructure
// details never reach merchants.
func errorData(failure error) *ErrorData {
	var perr *domain.PaymentError
	if !errors.As(failure, &perr) || !domain.IsExposableToMerchant(perr.Code) {
		return &ErrorData{Code: internalErrorCode, Message: internalErrorMessage}
	}
	msg := perr.Message
	if msg == "" {
		msg = "The payment could not be completed"
	}
	return &ErrorData{Code: string(perr.Code), Message: msg}
}
