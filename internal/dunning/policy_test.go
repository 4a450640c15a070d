package dunning

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlepay/subscription-service/internal/domain"
)

func TestDecide_TerminalErrors(t *testing.T) {
	failureDate := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		err  error
	}{
		{name: "permission revoked", err: domain.NewPaymentError(domain.ErrorCodePermissionRevoked, "revoked")},
		{name: "permission expired", err: domain.NewPaymentError(domain.ErrorCodePermissionExpired, "expired")},
		{name: "revoked wins over retry budget", err: domain.NewPaymentError(domain.ErrorCodePermissionRevoked, "revoked")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := Decide(Input{Err: tt.err, CurrentAttempts: 0, FailureDate: failureDate})

			assert.Equal(t, ActionTerminal, action.Type)
			assert.Equal(t, domain.SubscriptionStatusCanceled, action.Status)
			assert.False(t, action.ScheduleRetry)
			assert.False(t, action.CreateNextOrder)
			assert.Nil(t, action.NextRetryAt)
		})
	}
}

func TestDecide_RetrySchedule(t *testing.T) {
	failureDate := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	insufficientBalance := domain.NewPaymentError(domain.ErrorCodeInsufficientBalance, "insufficient balance")

	tests := []struct {
		name          string
		attempts      int32
		wantRetryAt   time.Time
		wantLabel     string
		wantAttemptNo int32
	}{
		{
			name:          "first failure retries after 2 days",
			attempts:      0,
			wantRetryAt:   time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC),
			wantLabel:     "First retry",
			wantAttemptNo: 1,
		},
		{
			name:          "second failure retries after 7 days",
			attempts:      1,
			wantRetryAt:   time.Date(2025, 1, 22, 0, 0, 0, 0, time.UTC),
			wantLabel:     "Second retry",
			wantAttemptNo: 2,
		},
		{
			name:          "third failure retries after 14 days",
			attempts:      2,
			wantRetryAt:   time.Date(2025, 1, 29, 0, 0, 0, 0, time.UTC),
			wantLabel:     "Third retry",
			wantAttemptNo: 3,
		},
		{
			name:          "fourth failure retries after 21 days",
			attempts:      3,
			wantRetryAt:   time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC),
			wantLabel:     "Final retry",
			wantAttemptNo: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := Decide(Input{Err: insufficientBalance, CurrentAttempts: tt.attempts, FailureDate: failureDate})

			assert.Equal(t, ActionRetry, action.Type)
			assert.Equal(t, domain.SubscriptionStatusPastDue, action.Status)
			assert.True(t, action.ScheduleRetry)
			assert.False(t, action.CreateNextOrder)
			require.NotNil(t, action.NextRetryAt)
			assert.Equal(t, tt.wantRetryAt, *action.NextRetryAt)
			assert.Equal(t, tt.wantLabel, action.AttemptLabel)
			assert.Equal(t, tt.wantAttemptNo, action.AttemptNumber)
		})
	}
}

func TestDecide_MaxRetriesExhausted(t *testing.T) {
	failureDate := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	allowance := domain.NewPaymentError(domain.ErrorCodeInsufficientSpendingAllowance, "allowance exceeded")

	for _, attempts := range []int32{4, 5} {
		action := Decide(Input{Err: allowance, CurrentAttempts: attempts, FailureDate: failureDate})

		assert.Equal(t, ActionMaxRetriesExhausted, action.Type)
		assert.Equal(t, domain.SubscriptionStatusUnpaid, action.Status)
		assert.False(t, action.ScheduleRetry)
		assert.False(t, action.CreateNextOrder)
		assert.Nil(t, action.NextRetryAt)
	}
}

func TestDecide_UpstreamError(t *testing.T) {
	action := Decide(Input{
		Err:             domain.NewPaymentError(domain.ErrorCodeUpstreamServiceError, "bundler unavailable"),
		CurrentAttempts: 0,
		FailureDate:     time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, ActionUpstreamError, action.Type)
	assert.Equal(t, domain.SubscriptionStatusActive, action.Status)
	assert.False(t, action.ScheduleRetry)
	assert.False(t, action.CreateNextOrder)
}

func TestDecide_UserOperationFailed(t *testing.T) {
	action := Decide(Input{
		Err:             domain.NewPaymentError(domain.ErrorCodeUserOperationFailed, "simulation reverted"),
		CurrentAttempts: 1,
		FailureDate:     time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, ActionUserOperationFailed, action.Type)
	assert.Equal(t, domain.SubscriptionStatusActive, action.Status)
	assert.False(t, action.CreateNextOrder)
	assert.False(t, action.ScheduleRetry)
}

func TestDecide_OtherErrorsAdvanceTheCycle(t *testing.T) {
	failureDate := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		err  error
	}{
		{name: "opaque payment failure", err: domain.NewPaymentError(domain.ErrorCodePaymentFailed, "payment failed")},
		{name: "generic permission error", err: domain.NewPaymentError(domain.ErrorCodeGenericPermissionError, "permission error")},
		{name: "unknown payment error", err: domain.NewPaymentError(domain.ErrorCodeUnknownPaymentError, "unknown")},
		{name: "untyped error", err: errors.New("something unexpected")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := Decide(Input{Err: tt.err, CurrentAttempts: 0, FailureDate: failureDate})

			assert.Equal(t, ActionOtherError, action.Type)
			assert.Equal(t, domain.SubscriptionStatusActive, action.Status)
			assert.True(t, action.CreateNextOrder)
			assert.False(t, action.ScheduleRetry)
		})
	}
}

func TestDecide_IsPure(t *testing.T) {
	in := Input{
		Err:             domain.NewPaymentError(domain.ErrorCodeInsufficientBalance, "insufficient balance"),
		CurrentAttempts: 2,
		FailureDate:     time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
	}

	first := Decide(in)
	second := Decide(in)

	require.Equal(t, first, second)
}

func TestRetrySchedule_CoversEveryAttempt(t *testing.T) {
	require.Len(t, RetrySchedule, MaxAttempts)

	previous := 0
	for _, step := range RetrySchedule {
		assert.Greater(t, step.Days, previous, "intervals must grow")
		assert.NotEmpty(t, step.Label)
		previous = step.Days
	}
}
