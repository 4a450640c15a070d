package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a machine-readable error code. Codes are stable: they
// are persisted in orders.failure_reason and surfaced in webhook error.code.
type ErrorCode string

const (
	// Client validation
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeInvalidFormat  ErrorCode = "INVALID_FORMAT"

	// Authentication & ownership
	ErrorCodeInvalidAPIKey      ErrorCode = "INVALID_API_KEY"
	ErrorCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrorCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrorCodePermissionNotFound ErrorCode = "PERMISSION_NOT_FOUND"

	// State conflicts
	ErrorCodeSubscriptionExists    ErrorCode = "SUBSCRIPTION_EXISTS"
	ErrorCodeAccountExists         ErrorCode = "ACCOUNT_EXISTS"
	ErrorCodeSubscriptionNotActive ErrorCode = "SUBSCRIPTION_NOT_ACTIVE"

	// Payment errors the dunning policy retries
	ErrorCodeInsufficientBalance           ErrorCode = "INSUFFICIENT_BALANCE"
	ErrorCodeInsufficientSpendingAllowance ErrorCode = "INSUFFICIENT_SPENDING_ALLOWANCE"

	// Payment errors that end the subscription
	ErrorCodePermissionRevoked ErrorCode = "PERMISSION_REVOKED"
	ErrorCodePermissionExpired ErrorCode = "PERMISSION_EXPIRED"

	// Payment errors with no actionable classification
	ErrorCodePaymentFailed          ErrorCode = "PAYMENT_FAILED"
	ErrorCodeGenericPermissionError ErrorCode = "GENERIC_PERMISSION_ERROR"
	ErrorCodeUnknownPaymentError    ErrorCode = "UNKNOWN_PAYMENT_ERROR"

	// Bundler rejected the user operation during simulation
	ErrorCodeUserOperationFailed ErrorCode = "USER_OPERATION_FAILED"

	// External infrastructure failure, retryable at the transport layer
	ErrorCodeUpstreamServiceError ErrorCode = "UPSTREAM_SERVICE_ERROR"

	// Internal faults, never exposed to merchants verbatim
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// statusForCode maps every error code to the HTTP status the API layer
// returns for it. Codes absent from the map answer 500.
var statusForCode = map[ErrorCode]int{
	ErrorCodeInvalidRequest: http.StatusBadRequest,
	ErrorCodeInvalidFormat:  http.StatusBadRequest,

	ErrorCodeInvalidAPIKey:      http.StatusUnauthorized,
	ErrorCodeForbidden:          http.StatusForbidden,
	ErrorCodeNotFound:           http.StatusNotFound,
	ErrorCodePermissionNotFound: http.StatusNotFound,

	ErrorCodeSubscriptionExists:    http.StatusConflict,
	ErrorCodeAccountExists:         http.StatusConflict,
	ErrorCodeSubscriptionNotActive: http.StatusBadRequest,

	ErrorCodeInsufficientBalance:           http.StatusPaymentRequired,
	ErrorCodeInsufficientSpendingAllowance: http.StatusPaymentRequired,
	ErrorCodePermissionRevoked:             http.StatusPaymentRequired,
	ErrorCodePermissionExpired:             http.StatusForbidden,
	ErrorCodePaymentFailed:                 http.StatusPaymentRequired,
	ErrorCodeGenericPermissionError:        http.StatusPaymentRequired,
	ErrorCodeUnknownPaymentError:           http.StatusPaymentRequired,

	ErrorCodeUserOperationFailed:  http.StatusConflict,
	ErrorCodeUpstreamServiceError: http.StatusServiceUnavailable,
	ErrorCodeInternalError:        http.StatusInternalServerError,
}

// StatusForCode returns the HTTP status for a code.
func StatusForCode(code ErrorCode) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// PaymentError represents a structured domain error with error code, HTTP
// status, and optional context. Raw carries the original provider message
// for debugging; it is persisted in orders.raw_error and never sent to
// merchants.
type PaymentError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
	Raw     string
	Status  int
}

// Error implements the error interface
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to the error
func (e *PaymentError) WithDetail(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRaw attaches the untranslated provider message
func (e *PaymentError) WithRaw(raw string) *PaymentError {
	e.Raw = raw
	return e
}

// NewPaymentError creates a new payment error; Status is derived from the code
func NewPaymentError(code ErrorCode, message string) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Status:  StatusForCode(code),
	}
}

// WrapPaymentError wraps an existing error with a domain error code
func WrapPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Status:  StatusForCode(code),
		Err:     err,
	}
}

// IsPaymentError checks if an error is a PaymentError with the given code
func IsPaymentError(err error, code ErrorCode) bool {
	var perr *PaymentError
	if errors.As(err, &perr) {
		return perr.Code == code
	}
	return false
}

// CodeOf extracts the error code from an error. Errors without a PaymentError
// in their chain classify as PAYMENT_FAILED, the opaque payment fallback.
func CodeOf(err error) ErrorCode {
	var perr *PaymentError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ErrorCodePaymentFailed
}

// HTTPStatusOf returns the HTTP status carried by the error, or 500.
func HTTPStatusOf(err error) int {
	var perr *PaymentError
	if errors.As(err, &perr) {
		if perr.Status != 0 {
			return perr.Status
		}
		return StatusForCode(perr.Code)
	}
	return http.StatusInternalServerError
}

// RawErrorOf returns the untranslated provider message, if any.
func RawErrorOf(err error) string {
	var perr *PaymentError
	if errors.As(err, &perr) {
		if perr.Raw != "" {
			return perr.Raw
		}
		if perr.Err != nil {
			return perr.Err.Error()
		}
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// IsRetryablePaymentError reports whether the code enters the dunning retry
// ladder (insufficient funds or allowance).
func IsRetryablePaymentError(code ErrorCode) bool {
	return code == ErrorCodeInsufficientBalance ||
		code == ErrorCodeInsufficientSpendingAllowance
}

// IsTerminalPermissionError reports whether the code cancels the subscription
// immediately (the on-chain permission is gone).
func IsTerminalPermissionError(code ErrorCode) bool {
	return code == ErrorCodePermissionRevoked ||
		code == ErrorCodePermissionExpired
}

// IsUpstreamServiceError reports whether the error is an infrastructure
// failure that the queue consumer retries with backoff.
func IsUpstreamServiceError(err error) bool {
	return CodeOf(err) == ErrorCodeUpstreamServiceError
}

// IsUserOperationError reports whether the bundler rejected the operation.
func IsUserOperationError(err error) bool {
	return CodeOf(err) == ErrorCodeUserOperationFailed
}

// IsExposableToMerchant reports whether the code may appear verbatim in a
// webhook error object. Only the payment class qualifies; everything else is
// replaced with a generic internal error before delivery.
func IsExposableToMerchant(code ErrorCode) bool {
	switch code {
	case ErrorCodeInsufficientBalance,
		ErrorCodeInsufficientSpendingAllowance,
		ErrorCodePermissionRevoked,
		ErrorCodePermissionExpired,
		ErrorCodePaymentFailed,
		ErrorCodeGenericPermissionError,
		ErrorCodeUnknownPaymentError:
		return true
	}
	return false
}

// Structured error instances
var (
	ErrInvalidRequest = NewPaymentError(ErrorCodeInvalidRequest, "invalid request")
	ErrInvalidFormat  = NewPaymentError(ErrorCodeInvalidFormat, "invalid format")

	ErrInvalidAPIKey      = NewPaymentError(ErrorCodeInvalidAPIKey, "invalid API key")
	ErrForbidden          = NewPaymentError(ErrorCodeForbidden, "access denied")
	ErrNotFound           = NewPaymentError(ErrorCodeNotFound, "resource not found")
	ErrPermissionNotFound = NewPaymentError(ErrorCodePermissionNotFound, "subscription permission not found")

	ErrSubscriptionExists    = NewPaymentError(ErrorCodeSubscriptionExists, "subscription already exists")
	ErrAccountExists         = NewPaymentError(ErrorCodeAccountExists, "account already exists")
	ErrSubscriptionNotActive = NewPaymentError(ErrorCodeSubscriptionNotActive, "subscription is not active")

	ErrInsufficientBalance           = NewPaymentError(ErrorCodeInsufficientBalance, "insufficient USDC balance for charge")
	ErrInsufficientSpendingAllowance = NewPaymentError(ErrorCodeInsufficientSpendingAllowance, "charge exceeds remaining spend permission allowance")
	ErrPermissionRevoked             = NewPaymentError(ErrorCodePermissionRevoked, "spend permission has been revoked")
	ErrPermissionExpired             = NewPaymentError(ErrorCodePermissionExpired, "spend permission has expired")
	ErrPaymentFailed                 = NewPaymentError(ErrorCodePaymentFailed, "payment failed")

	ErrUserOperationFailed = NewPaymentError(ErrorCodeUserOperationFailed, "user operation rejected during simulation")
	ErrUpstreamService     = NewPaymentError(ErrorCodeUpstreamServiceError, "upstream service unavailable")
	ErrInternal            = NewPaymentError(ErrorCodeInternalError, "internal server error")
)

// SanitizedInternalError is the replacement pair delivered to merchants when
// a non-exposable error would otherwise leak through a webhook.
const (
	SanitizedErrorCode    = "internal_error"
	SanitizedErrorMessage = "An internal error occurred"
)
