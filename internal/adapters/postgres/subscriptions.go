package postgres

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

// insertOrderSQL assigns order_number = max+1 within the subscription. The
// UNIQUE (subscription_id, order_number) constraint turns concurrent
// assignment races into conflicts that abort the enclosing transaction.
const insertOrderSQL = `
	INSERT INTO orders (subscription_id, order_number, type, due_at, amount, status, attempts, parent_order_id, period_length_in_seconds, created_at)
	VALUES (
		$1,
		(SELECT COALESCE(MAX(order_number), 0) + 1 FROM orders WHERE subscription_id = $1),
		$2, $3, $4, $5, 0, $6, $7, now()
	)
	RETURNING id, order_number`

func insertOrderTx(ctx context.Context, tx pgx.Tx, subscriptionID common.Hash, order ports.NewOrder) (int64, int32, error) {
	amount, err := numericFromBaseUnits(order.Amount)
	if err != nil {
		return 0, 0, err
	}

	var (
		id     int64
		number int32
	)
	err = tx.QueryRow(ctx, insertOrderSQL,
		subscriptionID.Hex(),
		string(order.Type),
		order.DueAt,
		amount,
		string(order.Status),
		order.ParentOrderID,
		order.PeriodInSeconds,
	).Scan(&id, &number)
	return id, number, err
}

// insertOrderIfNoneOpenSQL makes the activation replay-safe: a re-executed
// success path finds the next order it already inserted and skips the
// insert instead of growing a second open order.
const insertOrderIfNoneOpenSQL = `
	INSERT INTO orders (subscription_id, order_number, type, due_at, amount, status, attempts, parent_order_id, period_length_in_seconds, created_at)
	SELECT
		$1,
		(SELECT COALESCE(MAX(order_number), 0) + 1 FROM orders WHERE subscription_id = $1),
		$2, $3, $4, $5, 0, $6, $7, now()
	WHERE NOT EXISTS (
		SELECT 1 FROM orders
		WHERE subscription_id = $1 AND status IN ('pending', 'processing', 'pending_retry')
	)
	RETURNING id`

func insertOrderIfNoneOpenTx(ctx context.Context, tx pgx.Tx, subscriptionID common.Hash, order ports.NewOrder) (int64, error) {
	amount, err := numericFromBaseUnits(order.Amount)
	if err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx, insertOrderIfNoneOpenSQL,
		subscriptionID.Hex(),
		string(order.Type),
		order.DueAt,
		amount,
		string(order.Status),
		order.ParentOrderID,
		order.PeriodInSeconds,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	// Skipped: report the open order that is already in place
	err = tx.QueryRow(ctx, `
		SELECT id FROM orders
		WHERE subscription_id = $1 AND status IN ('pending', 'processing', 'pending_retry')
		ORDER BY order_number DESC
		LIMIT 1`,
		subscriptionID.Hex(),
	).Scan(&id)
	return id, err
}

// CreateSubscriptionWithOrder inserts the subscription in processing state
// together with its first order. If the subscription row already exists the
// call reports Created=false and writes nothing.
func (s *Store) CreateSubscriptionWithOrder(ctx context.Context, params ports.CreateSubscriptionParams) (*ports.CreateSubscriptionResult, error) {
	result := &ports.CreateSubscriptionResult{}

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO subscriptions (subscription_id, status, account_id, beneficiary, provider, testnet, created_at, modified_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			ON CONFLICT (subscription_id) DO NOTHING`,
			params.SubscriptionID.Hex(),
			string(domain.SubscriptionStatusProcessing),
			params.AccountID,
			params.Beneficiary.Hex(),
			string(params.Provider),
			params.Testnet,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			// Already exists: no side effects
			result.Created = false
			return nil
		}

		result.Created = true
		result.OrderID, result.OrderNumber, err = insertOrderTx(ctx, tx, params.SubscriptionID, params.Order)
		return err
	})
	if err != nil {
		return nil, wrapStoreErr("createSubscriptionWithOrder", err)
	}
	return result, nil
}

// ExecuteSubscriptionActivation is the single-transaction success path:
// confirm the settlement, mark the order paid, insert the next order when
// requested, and flip the subscription active. Any invariant violation
// aborts the whole transaction.
func (s *Store) ExecuteSubscriptionActivation(ctx context.Context, params ports.ActivationParams) (int64, error) {
	var nextOrderID int64

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		amount, err := numericFromBaseUnits(params.Transaction.Amount)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
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
			string(domain.TransactionStatusConfirmed),
			params.Transaction.GasUsed,
		)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE orders SET status = $3, modified_at = now()
			WHERE id = $1 AND subscription_id = $2`,
			params.OrderID,
			params.SubscriptionID.Hex(),
			string(domain.OrderStatusPaid),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}

		if params.NextOrder != nil {
			nextOrderID, err = insertOrderIfNoneOpenTx(ctx, tx, params.SubscriptionID, *params.NextOrder)
			if err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE subscriptions SET status = $2, modified_at = now()
			WHERE subscription_id = $1`,
			params.SubscriptionID.Hex(),
			string(domain.SubscriptionStatusActive),
		)
		return err
	})
	if err != nil {
		return 0, wrapStoreErr("executeSubscriptionActivation", err)
	}
	return nextOrderID, nil
}

// MarkSubscriptionIncomplete parks a failed activation: subscription
// incomplete, order failed with the recorded reason.
func (s *Store) MarkSubscriptionIncomplete(ctx context.Context, params ports.MarkIncompleteParams) error {
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE subscriptions SET status = $2, modified_at = now()
			WHERE subscription_id = $1`,
			params.SubscriptionID.Hex(),
			string(domain.SubscriptionStatusIncomplete),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}

		_, err = tx.Exec(ctx, `
			UPDATE orders SET status = $2, failure_reason = $3, raw_error = $4, modified_at = now()
			WHERE id = $1`,
			params.OrderID,
			string(domain.OrderStatusFailed),
			string(params.Reason),
			nilIfEmpty(params.RawError),
		)
		return err
	})
	return wrapStoreErr("markSubscriptionIncomplete", err)
}

// UpdateSubscription moves the subscription to the given status.
func (s *Store) UpdateSubscription(ctx context.Context, subscriptionID common.Hash, status domain.SubscriptionStatus) error {
	tag, err := s.db.GetDB().Exec(ctx, `
		UPDATE subscriptions SET status = $2, modified_at = now()
		WHERE subscription_id = $1`,
		subscriptionID.Hex(),
		string(status),
	)
	if err != nil {
		return wrapStoreErr("updateSubscription", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreErr("updateSubscription", pgx.ErrNoRows)
	}
	return nil
}

// ReactivateSubscription flips the subscription back to active after a
// successful retry charge.
func (s *Store) ReactivateSubscription(ctx context.Context, orderID int64, subscriptionID common.Hash) error {
	tag, err := s.db.GetDB().Exec(ctx, `
		UPDATE subscriptions SET status = $2, modified_at = now()
		WHERE subscription_id = $1`,
		subscriptionID.Hex(),
		string(domain.SubscriptionStatusActive),
	)
	if err != nil {
		return wrapStoreErr("reactivateSubscription", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreErr("reactivateSubscription", pgx.ErrNoRows)
	}
	s.logger.Info("subscription reactivated",
		ports.String("subscription_id", subscriptionID.Hex()),
		ports.Int64("order_id", orderID),
	)
	return nil
}

// CancelSubscription moves the subscription to canceled.
func (s *Store) CancelSubscription(ctx context.Context, subscriptionID common.Hash) error {
	tag, err := s.db.GetDB().Exec(ctx, `
		UPDATE subscriptions SET status = $2, modified_at = now()
		WHERE subscription_id = $1`,
		subscriptionID.Hex(),
		string(domain.SubscriptionStatusCanceled),
	)
	if err != nil {
		return wrapStoreErr("cancelSubscription", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreErr("cancelSubscription", pgx.ErrNoRows)
	}
	return nil
}

// SubscriptionExists reports whether the subscription row exists.
func (s *Store) SubscriptionExists(ctx context.Context, subscriptionID common.Hash) (bool, error) {
	var exists bool
	err := s.db.GetDB().QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM subscriptions WHERE subscription_id = $1)`,
		subscriptionID.Hex(),
	).Scan(&exists)
	if err != nil {
		return false, wrapStoreErr("subscriptionExists", err)
	}
	return exists, nil
}

// GetSubscription loads one subscription.
func (s *Store) GetSubscription(ctx context.Context, subscriptionID common.Hash) (*domain.Subscription, error) {
	row := s.db.GetDB().QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscription_id = $1`,
		subscriptionID.Hex(),
	)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, wrapStoreErr("getSubscription", err)
	}
	return sub, nil
}

// ListSubscriptions returns the account's subscriptions, optionally filtered
// by the testnet flag, newest first.
func (s *Store) ListSubscriptions(ctx context.Context, accountID int64, testnet *bool) ([]domain.Subscription, error) {
	rows, err := s.db.GetDB().Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE account_id = $1 AND ($2::boolean IS NULL OR testnet = $2)
		ORDER BY created_at DESC`,
		accountID,
		testnet,
	)
	if err != nil {
		return nil, wrapStoreErr("listSubscriptions", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, wrapStoreErr("listSubscriptions", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("listSubscriptions", err)
	}
	return subs, nil
}
