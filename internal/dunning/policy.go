// Package dunning decides what happens after a failed charge. The decision
// is a pure function of the error, the attempt counter, and the failure
// time; it performs no I/O and reads no clock, so every caller observes the
// same behavior for the same input.
package dunning

import (
	"time"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/pkg/timeutil"
)

// MaxAttempts caps the retry ladder. Declared once; schema checks and the
// processor reuse it.
const MaxAttempts = 4

// RetryStep is one rung of the retry ladder.
type RetryStep struct {
	Label string
	Days  int
}

// RetrySchedule maps the attempt counter at failure time to the delay until
// the next retry. Index by attempts-so-far: a first failure (0 attempts)
// retries after 2 days.
var RetrySchedule = [MaxAttempts]RetryStep{
	{Days: 2, Label: "First retry"},
	{Days: 7, Label: "Second retry"},
	{Days: 14, Label: "Third retry"},
	{Days: 21, Label: "Final retry"},
}

// ActionType discriminates the decision.
type ActionType string

const (
	// ActionTerminal cancels the subscription; the permission is gone.
	ActionTerminal ActionType = "terminal"
	// ActionRetry parks the order for a later attempt; subscription past_due.
	ActionRetry ActionType = "retry"
	// ActionMaxRetriesExhausted gives up; subscription unpaid.
	ActionMaxRetriesExhausted ActionType = "max_retries_exhausted"
	// ActionUpstreamError defers entirely; the queue redelivers the message.
	ActionUpstreamError ActionType = "upstream_error"
	// ActionUserOperationFailed abandons this order without retry; the charge
	// likely raced a parallel attempt that already succeeded.
	ActionUserOperationFailed ActionType = "user_operation_failed"
	// ActionOtherError keeps the subscription alive and advances to the next
	// cycle's order.
	ActionOtherError ActionType = "other_error"
)

// Input carries everything the decision depends on. FailureDate is the
// moment the charge failed, supplied by the caller.
type Input struct {
	FailureDate     time.Time
	Err             error
	CurrentAttempts int32
}

// Action is the decision. NextRetryAt, AttemptNumber and AttemptLabel are
// populated only for ActionRetry.
type Action struct {
	NextRetryAt     *time.Time
	AttemptLabel    string
	Type            ActionType
	Status          domain.SubscriptionStatus
	AttemptNumber   int32
	ScheduleRetry   bool
	CreateNextOrder bool
}

// Decide classifies a charge failure. Checks run in order; first match wins:
// terminal permission errors, then retryable payment errors, then upstream
// infrastructure errors, then bundler rejections, then everything else.
func Decide(in Input) Action {
	code := domain.CodeOf(in.Err)

	if domain.IsTerminalPermissionError(code) {
		return Action{
			Type:   ActionTerminal,
			Status: domain.SubscriptionStatusCanceled,
		}
	}

	if domain.IsRetryablePaymentError(code) {
		if int(in.CurrentAttempts) < MaxAttempts {
			step := RetrySchedule[in.CurrentAttempts]
			next := timeutil.AddDays(in.FailureDate, step.Days)
			return Action{
				Type:          ActionRetry,
				Status:        domain.SubscriptionStatusPastDue,
				ScheduleRetry: true,
				NextRetryAt:   &next,
				AttemptNumber: in.CurrentAttempts + 1,
				AttemptLabel:  step.Label,
			}
		}
		return Action{
			Type:   ActionMaxRetriesExhausted,
			Status: domain.SubscriptionStatusUnpaid,
		}
	}

	if code == domain.ErrorCodeUpstreamServiceError {
		return Action{
			Type:   ActionUpstreamError,
			Status: domain.SubscriptionStatusActive,
		}
	}

	if code == domain.ErrorCodeUserOperationFailed {
		return Action{
			Type:   ActionUserOperationFailed,
			Status: domain.SubscriptionStatusActive,
		}
	}

	return Action{
		Type:            ActionOtherError,
		Status:          domain.SubscriptionStatusActive,
		CreateNextOrder: true,
	}
}
