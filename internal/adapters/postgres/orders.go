package postgres

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

const orderDetailsColumns = `
	o.id, o.subscription_id, o.order_number, o.type, o.due_at, o.amount, o.status,
	o.attempts, o.parent_order_id, o.next_retry_at, o.failure_reason, o.raw_error,
	o.period_length_in_seconds, o.created_at,
	s.status, s.account_id, s.beneficiary, s.provider, s.testnet`

func scanOrderDetails(row rowScanner) (*ports.OrderDetails, error) {
	var (
		d           ports.OrderDetails
		subID       string
		orderType   string
		amount      pgtype.Numeric
		orderStatus string
		reason      *string
		subStatus   string
		beneficiary string
		provider    string
	)
	if err := row.Scan(
		&d.Order.ID, &subID, &d.Order.OrderNumber, &orderType, &d.Order.DueAt,
		&amount, &orderStatus, &d.Order.Attempts, &d.Order.ParentOrderID,
		&d.Order.NextRetryAt, &reason, &d.Order.RawError, &d.Order.PeriodInSeconds,
		&d.Order.CreatedAt,
		&subStatus, &d.AccountID, &beneficiary, &provider, &d.Testnet,
	); err != nil {
		return nil, err
	}
	d.Order.SubscriptionID = common.HexToHash(subID)
	d.Order.Type = domain.OrderType(orderType)
	d.Order.Status = domain.OrderStatus(orderStatus)
	if reason != nil {
		code := domain.ErrorCode(*reason)
		d.Order.FailureReason = &code
	}
	d.SubscriptionStatus = domain.SubscriptionStatus(subStatus)
	d.Beneficiary = common.HexToAddress(beneficiary)
	d.Provider = domain.ProviderTag(provider)
	var err error
	if d.Order.Amount, err = baseUnitsFromNumeric(amount); err != nil {
		return nil, err
	}
	return &d, nil
}

// ClaimDueOrders transitions up to limit due orders to processing and returns
// them with their subscription fields. Due means a pending order of an active
// subscription whose due_at has passed, or a pending_retry order of a past_due
// subscription whose next_retry_at has passed. SKIP LOCKED keeps concurrent
// claimers disjoint: a row is never handed to two callers.
func (s *Store) ClaimDueOrders(ctx context.Context, limit int32) ([]ports.OrderDetails, error) {
	rows, err := s.db.GetDB().Query(ctx, `
		WITH due AS (
			SELECT o.id
			FROM orders o
			JOIN subscriptions sub ON sub.subscription_id = o.subscription_id
			WHERE (o.status = $2 AND o.due_at <= now() AND sub.status = $3)
			   OR (o.status = $4 AND o.next_retry_at <= now() AND sub.status = $5)
			ORDER BY o.due_at
			LIMIT $1
			FOR UPDATE OF o SKIP LOCKED
		)
		UPDATE orders o SET status = $6, modified_at = now()
		FROM due, subscriptions s
		WHERE o.id = due.id AND s.subscription_id = o.subscription_id
		RETURNING `+orderDetailsColumns,
		limit,
		string(domain.OrderStatusPending),
		string(domain.SubscriptionStatusActive),
		string(domain.OrderStatusPendingRetry),
		string(domain.SubscriptionStatusPastDue),
		string(domain.OrderStatusProcessing),
	)
	if err != nil {
		return nil, wrapStoreErr("claimDueOrders", err)
	}
	defer rows.Close()

	var claimed []ports.OrderDetails
	for rows.Next() {
		details, err := scanOrderDetails(rows)
		if err != nil {
			return nil, wrapStoreErr("claimDueOrders", err)
		}
		claimed = append(claimed, *details)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("claimDueOrders", err)
	}
	return claimed, nil
}

// ClaimOrder transitions a single order to processing if it is in a claimable
// state. Timer firings and queue redeliveries both funnel through this CAS, so
// at most one worker owns an order at a time; a second delivery loses the race
// and gets a not-found error. Failed orders are claimable because an upstream
// outage leaves the order failed while its message requeues.
func (s *Store) ClaimOrder(ctx context.Context, orderID int64) (*ports.OrderDetails, error) {
	row := s.db.GetDB().QueryRow(ctx, `
		UPDATE orders o
		SET status = $2, modified_at = now()
		FROM subscriptions s
		WHERE o.id = $1
		  AND s.subscription_id = o.subscription_id
		  AND o.status IN ($3, $4, $5)
		RETURNING `+orderDetailsColumns,
		orderID,
		string(domain.OrderStatusProcessing),
		string(domain.OrderStatusPending),
		string(domain.OrderStatusPendingRetry),
		string(domain.OrderStatusFailed),
	)
	details, err := scanOrderDetails(row)
	if err != nil {
		return nil, wrapStoreErr("claimOrder", err)
	}
	return details, nil
}

// UpdateOrder moves the order to a new status. Optional failure fields are
// written only when provided; existing values are kept otherwise.
func (s *Store) UpdateOrder(ctx context.Context, params ports.UpdateOrderParams) (int32, error) {
	var orderNumber int32
	err := s.db.GetDB().QueryRow(ctx, `
		UPDATE orders
		SET status         = $2,
		    failure_reason = COALESCE($3, failure_reason),
		    raw_error      = COALESCE($4, raw_error),
		    modified_at    = now()
		WHERE id = $1
		RETURNING order_number`,
		params.OrderID,
		string(params.Status),
		errorCodePtr(params.FailureReason),
		params.RawError,
	).Scan(&orderNumber)
	if err != nil {
		return 0, wrapStoreErr("updateOrder", err)
	}
	return orderNumber, nil
}

// ScheduleRetry parks a failed order for its next dunning attempt: status
// pending_retry, attempts bumped, next_retry_at set. The row stays in place.
func (s *Store) ScheduleRetry(ctx context.Context, params ports.ScheduleRetryParams) error {
	tag, err := s.db.GetDB().Exec(ctx, `
		UPDATE orders
		SET status         = $3,
		    attempts       = attempts + 1,
		    next_retry_at  = $4,
		    failure_reason = $5,
		    raw_error      = $6,
		    modified_at    = now()
		WHERE id = $1 AND subscription_id = $2`,
		params.OrderID,
		params.SubscriptionID.Hex(),
		string(domain.OrderStatusPendingRetry),
		params.NextRetryAt,
		string(params.FailureReason),
		nilIfEmpty(params.RawError),
	)
	if err != nil {
		return wrapStoreErr("scheduleRetry", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreErr("scheduleRetry", pgx.ErrNoRows)
	}
	return nil
}

// CreateNextOrder inserts the next cycle's order and returns the full row.
func (s *Store) CreateNextOrder(ctx context.Context, params ports.CreateNextOrderParams) (*domain.Order, error) {
	var order *domain.Order
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		id, _, err := insertOrderTx(ctx, tx, params.SubscriptionID, params.Order)
		if err != nil {
			return err
		}
		order, err = scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return nil, wrapStoreErr("createNextOrder", err)
	}
	return order, nil
}

// CancelPendingOrders fails every non-terminal order of the subscription and
// returns the affected ids so the caller can delete their timers.
func (s *Store) CancelPendingOrders(ctx context.Context, subscriptionID common.Hash) ([]int64, error) {
	rows, err := s.db.GetDB().Query(ctx, `
		UPDATE orders
		SET status = $2, failure_reason = $3, modified_at = now()
		WHERE subscription_id = $1 AND status IN ($4, $5, $6)
		RETURNING id`,
		subscriptionID.Hex(),
		string(domain.OrderStatusFailed),
		string(domain.ErrorCodeSubscriptionNotActive),
		string(domain.OrderStatusPending),
		string(domain.OrderStatusProcessing),
		string(domain.OrderStatusPendingRetry),
	)
	if err != nil {
		return nil, wrapStoreErr("cancelPendingOrders", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapStoreErr("cancelPendingOrders", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("cancelPendingOrders", err)
	}
	return ids, nil
}

// GetOrderDetails loads one order joined with its subscription fields.
func (s *Store) GetOrderDetails(ctx context.Context, orderID int64) (*ports.OrderDetails, error) {
	row := s.db.GetDB().QueryRow(ctx, `
		SELECT `+orderDetailsColumns+`
		FROM orders o
		JOIN subscriptions s ON s.subscription_id = o.subscription_id
		WHERE o.id = $1`,
		orderID,
	)
	details, err := scanOrderDetails(row)
	if err != nil {
		return nil, wrapStoreErr("getOrderDetails", err)
	}
	return details, nil
}

// GetOrderByID loads one order row.
func (s *Store) GetOrderByID(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := scanOrder(s.db.GetDB().QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1`,
		orderID,
	))
	if err != nil {
		return nil, wrapStoreErr("getOrderByID", err)
	}
	return order, nil
}

// GetSubscriptionOrders returns all orders of a subscription in order_number
// order.
func (s *Store) GetSubscriptionOrders(ctx context.Context, subscriptionID common.Hash) ([]domain.Order, error) {
	rows, err := s.db.GetDB().Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE subscription_id = $1
		ORDER BY order_number`,
		subscriptionID.Hex(),
	)
	if err != nil {
		return nil, wrapStoreErr("getSubscriptionOrders", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, wrapStoreErr("getSubscriptionOrders", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("getSubscriptionOrders", err)
	}
	return orders, nil
}

// StalledProcessingOrders claims orders stuck in processing with no write
// since olderThan. Processing normally lasts seconds; a row untouched that
// long lost its worker and needs the reconciler. Claiming restamps
// modified_at, so a row is handed out once per stall window even when
// several sweepers run or a redelivery sits in the queue for a while.
func (s *Store) StalledProcessingOrders(ctx context.Context, olderThan time.Time, limit int32) ([]ports.OrderDetails, error) {
	rows, err := s.db.GetDB().Query(ctx, `
		WITH stalled AS (
			SELECT id FROM orders
			WHERE status = $1 AND modified_at <= $2
			ORDER BY modified_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE orders o
		SET modified_at = now()
		FROM stalled st, subscriptions s
		WHERE o.id = st.id AND s.subscription_id = o.subscription_id
		RETURNING `+orderDetailsColumns,
		string(domain.OrderStatusProcessing),
		olderThan,
		limit,
	)
	if err != nil {
		return nil, wrapStoreErr("stalledProcessingOrders", err)
	}
	defer rows.Close()

	var stalled []ports.OrderDetails
	for rows.Next() {
		details, err := scanOrderDetails(rows)
		if err != nil {
			return nil, wrapStoreErr("stalledProcessingOrders", err)
		}
		stalled = append(stalled, *details)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("stalledProcessingOrders", err)
	}
	return stalled, nil
}
