package postgres

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

// RecordTransaction writes the on-chain receipt for a charged order. One
// transaction per order; a replay of the same order overwrites the row, so
// the stored hash always reflects the charge that actually settled.
func (s *Store) RecordTransaction(ctx context.Context, params ports.RecordTransactionParams) error {
	amount, err := numericFromBaseUnits(params.Transaction.Amount)
	if err != nil {
		return wrapStoreErr("recordTransaction", err)
	}

	_, err = s.db.GetDB().Exec(ctx, `
		INSERT INTO transactions (order_id, transaction_hash, subscription_id, amount, status, gas_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (order_id) DO UPDATE
		SET transaction_hash = EXCLUDED.transaction_hash,
		    status           = EXCLUDED.status,
		    gas_used         = EXCLUDED.gas_used`,
		params.OrderID,
		params.Transaction.Hash.Hex(),
		params.SubscriptionID.Hex(),
		amount,
		string(params.Transaction.Status),
		params.Transaction.GasUsed,
	)
	if err != nil {
		return wrapStoreErr("recordTransaction", err)
	}
	return nil
}

// GetSuccessfulTransaction returns the confirmed transaction for an order, or
// a not-found error when the order has never been charged. Used as the
// idempotency check before charging.
func (s *Store) GetSuccessfulTransaction(ctx context.Context, subscriptionID common.Hash, orderID int64) (*domain.Transaction, error) {
	txn, err := scanTransaction(s.db.GetDB().QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE subscription_id = $1 AND order_id = $2 AND status = $3`,
		subscriptionID.Hex(),
		orderID,
		string(domain.TransactionStatusConfirmed),
	))
	if err != nil {
		return nil, wrapStoreErr("getSuccessfulTransaction", err)
	}
	return txn, nil
}
