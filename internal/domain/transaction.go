package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TransactionStatus represents the settlement state of an on-chain charge
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction represents the on-chain settlement record of an order. Keyed
// by OrderID: an order settles at most once. Hash may be shared across
// transactions when the provider batches charges into one user operation.
type Transaction struct {
	CreatedAt      time.Time         `json:"created_at"`
	GasUsed        *int64            `json:"gas_used,omitempty"`
	Amount         string            `json:"amount"`
	Status         TransactionStatus `json:"status"`
	Hash           common.Hash       `json:"transaction_hash"`
	SubscriptionID common.Hash       `json:"subscription_id"`
	OrderID        int64             `json:"order_id"`
}

// IsConfirmed returns true if the charge settled on chain
func (t *Transaction) IsConfirmed() bool {
	return t.Status == TransactionStatusConfirmed
}
