package base

import (
	"net/http"
	"strings"

	"github.com/brindlepay/subscription-service/internal/domain"
)

// errorPattern maps a fragment of a gateway error message to a domain code.
// Matching is case-insensitive substring; the table is ordered and the FIRST
// match wins, so more specific fragments must precede generic ones.
type errorPattern struct {
	fragment string
	code     domain.ErrorCode
}

// gatewayErrorPatterns is the single place where raw gateway text is
// classified. Everything downstream of the provider sees only domain codes;
// the untranslated message travels in PaymentError.Raw for debugging.
var gatewayErrorPatterns = []errorPattern{
	// Funds
	{"transfer amount exceeds balance", domain.ErrorCodeInsufficientBalance},
	{"insufficient balance", domain.ErrorCodeInsufficientBalance},
	{"insufficient funds", domain.ErrorCodeInsufficientBalance},

	// Spend permission allowance for the current period
	{"exceeds remaining spend", domain.ErrorCodeInsufficientSpendingAllowance},
	{"exceeds spend permission", domain.ErrorCodeInsufficientSpendingAllowance},
	{"insufficient allowance", domain.ErrorCodeInsufficientSpendingAllowance},

	// Terminal permission states
	{"permission has been revoked", domain.ErrorCodePermissionRevoked},
	{"permission revoked", domain.ErrorCodePermissionRevoked},
	{"spend permission is revoked", domain.ErrorCodePermissionRevoked},
	{"permission has expired", domain.ErrorCodePermissionExpired},
	{"permission expired", domain.ErrorCodePermissionExpired},
	{"after permission end", domain.ErrorCodePermissionExpired},
	{"before permission start", domain.ErrorCodePermissionExpired},

	// Bundler rejected the user operation during simulation
	{"user operation reverted", domain.ErrorCodeUserOperationFailed},
	{"useroperation reverted", domain.ErrorCodeUserOperationFailed},
	{"failed during simulation", domain.ErrorCodeUserOperationFailed},
	{"execution reverted", domain.ErrorCodeUserOperationFailed},
	{"bundler", domain.ErrorCodeUserOperationFailed},

	// Permission known to be broken but not attributable to funds or expiry
	{"permission not found", domain.ErrorCodeGenericPermissionError},
	{"unknown permission", domain.ErrorCodeGenericPermissionError},
	{"invalid permission", domain.ErrorCodeGenericPermissionError},

	// Infrastructure
	{"service unavailable", domain.ErrorCodeUpstreamServiceError},
	{"too many requests", domain.ErrorCodeUpstreamServiceError},
	{"rate limit", domain.ErrorCodeUpstreamServiceError},
	{"timed out", domain.ErrorCodeUpstreamServiceError},
	{"timeout", domain.ErrorCodeUpstreamServiceError},
	{"connection refused", domain.ErrorCodeUpstreamServiceError},
	{"bad gateway", domain.ErrorCodeUpstreamServiceError},
}

// messageForCode gives the merchant-facing message for each translated code.
// Raw gateway text never reaches a merchant.
var messageForCode = map[domain.ErrorCode]string{
	domain.ErrorCodeInsufficientBalance:           "The payer's balance does not cover this charge",
	domain.ErrorCodeInsufficientSpendingAllowance: "The charge exceeds the remaining spend allowed this period",
	domain.ErrorCodePermissionRevoked:             "The payer revoked the spend permission",
	domain.ErrorCodePermissionExpired:             "The spend permission has expired",
	domain.ErrorCodeUserOperationFailed:           "The charge operation was rejected before reaching the chain",
	domain.ErrorCodeGenericPermissionError:        "The spend permission could not be charged",
	domain.ErrorCodeUpstreamServiceError:          "The payment network is temporarily unavailable",
	domain.ErrorCodePaymentFailed:                 "The payment could not be completed",
}

// classifyMessage resolves raw gateway text to a domain code, falling back
// to the opaque PAYMENT_FAILED when nothing matches.
func classifyMessage(raw string) domain.ErrorCode {
	lowered := strings.ToLower(raw)
	for _, p := range gatewayErrorPatterns {
		if strings.Contains(lowered, p.fragment) {
			return p.code
		}
	}
	return domain.ErrorCodePaymentFailed
}

// translateGatewayError builds the PaymentError for a failed gateway call.
// HTTP 5xx and 429 short-circuit to UPSTREAM_SERVICE_ERROR regardless of
// body text; other statuses classify by message.
func translateGatewayError(httpStatus int, raw string) *domain.PaymentError {
	code := classifyMessage(raw)
	if httpStatus >= http.StatusInternalServerError || httpStatus == http.StatusTooManyRequests {
		code = domain.ErrorCodeUpstreamServiceError
	}
	return domain.NewPaymentError(code, messageForCode[code]).WithRaw(raw)
}

// translateTransportError covers failures where no HTTP response arrived at
// all: DNS, dial, TLS, deadline. All of them are upstream infrastructure.
func translateTransportError(err error) *domain.PaymentError {
	return domain.WrapPaymentError(
		domain.ErrorCodeUpstreamServiceError,
		messageForCode[domain.ErrorCodeUpstreamServiceError],
		err,
	).WithRaw(err.Error())
}
