package postgres

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

// Store implements ports.Store and ports.AccountStore with raw SQL over pgx.
// Every mutation is one of the named atomic operations; multi-statement ops
// run inside WithTransaction.
type Store struct {
	db     ports.DBPort
	logger ports.Logger
}

// NewStore creates a Store backed by the given database port
func NewStore(db ports.DBPort, logger ports.Logger) *Store {
	return &Store{db: db, logger: logger}
}

var (
	_ ports.Store        = (*Store)(nil)
	_ ports.AccountStore = (*Store)(nil)
)

// wrapStoreErr classifies a database failure into a StorageError carrying
// the named operation. Nil passes through.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return ports.NewStorageError(classifyError(err), op, err)
}

// classifyError maps pgx and connection failures onto the four storage
// error kinds. Unique violations are semantic conflicts; other integrity
// and syntax classes indicate caller bugs; connection-level classes are
// retryable.
func classifyError(err error) ports.StorageErrorKind {
	if errors.Is(err, pgx.ErrNoRows) {
		return ports.StorageNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ports.StorageTransient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" { // unique_violation
			return ports.StorageConflict
		}
		if len(pgErr.Code) >= 2 {
			switch pgErr.Code[:2] {
			case "22", "23", "42": // data, integrity, syntax/access
				return ports.StorageConstraint
			case "08", "40", "53", "57": // connection, tx rollback, resources, intervention
				return ports.StorageTransient
			}
		}
		return ports.StorageConstraint
	}

	// Network failures and closed pools surface as plain errors
	return ports.StorageTransient
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const subscriptionColumns = `subscription_id, status, account_id, beneficiary, provider, testnet, created_at, modified_at`

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var (
		sub         domain.Subscription
		id          string
		status      string
		beneficiary string
		provider    string
	)
	if err := row.Scan(&id, &status, &sub.AccountID, &beneficiary, &provider, &sub.Testnet, &sub.CreatedAt, &sub.ModifiedAt); err != nil {
		return nil, err
	}
	sub.ID = common.HexToHash(id)
	sub.Status = domain.SubscriptionStatus(status)
	sub.Beneficiary = common.HexToAddress(beneficiary)
	sub.Provider = domain.ProviderTag(provider)
	return &sub, nil
}

const orderColumns = `id, subscription_id, order_number, type, due_at, amount, status, attempts, parent_order_id, next_retry_at, failure_reason, raw_error, period_length_in_seconds, created_at`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o         domain.Order
		subID     string
		orderType string
		amount    pgtype.Numeric
		status    string
		reason    *string
	)
	if err := row.Scan(
		&o.ID, &subID, &o.OrderNumber, &orderType, &o.DueAt, &amount, &status,
		&o.Attempts, &o.ParentOrderID, &o.NextRetryAt, &reason, &o.RawError,
		&o.PeriodInSeconds, &o.CreatedAt,
	); err != nil {
		return nil, err
	}
	o.SubscriptionID = common.HexToHash(subID)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	if reason != nil {
		code := domain.ErrorCode(*reason)
		o.FailureReason = &code
	}
	var err error
	if o.Amount, err = baseUnitsFromNumeric(amount); err != nil {
		return nil, err
	}
	return &o, nil
}

const transactionColumns = `order_id, transaction_hash, subscription_id, amount, status, gas_used, created_at`

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		tx     domain.Transaction
		hash   string
		subID  string
		amount pgtype.Numeric
		status string
	)
	if err := row.Scan(&tx.OrderID, &hash, &subID, &amount, &status, &tx.GasUsed, &tx.CreatedAt); err != nil {
		return nil, err
	}
	tx.Hash = common.HexToHash(hash)
	tx.SubscriptionID = common.HexToHash(subID)
	tx.Status = domain.TransactionStatus(status)
	var err error
	if tx.Amount, err = baseUnitsFromNumeric(amount); err != nil {
		return nil, err
	}
	return &tx, nil
}

// errorCodePtr converts an optional domain code for text column binding
func errorCodePtr(code *domain.ErrorCode) *string {
	if code == nil {
		return nil
	}
	s := string(*code)
	return &s
}

// nilIfEmpty binds empty strings as NULL
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
