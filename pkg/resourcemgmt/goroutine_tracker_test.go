package resourcemgmt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlepay/subscription-service/pkg/observability"
)

func newTestTracker(t *testing.T) *GoroutineTracker {
	t.Helper()
	return NewGoroutineTracker(observability.NewNopLogger(), nil)
}

func TestTrackUntrack(t *testing.T) {
	gt := newTestTracker(t)

	tg := gt.Track("gr-test-1", "activation")
	stats := gt.GetStats()
	assert.Equal(t, 1, stats.TrackedCount)
	assert.Equal(t, 1, stats.ByType["activation"])

	gt.Untrack("gr-test-1")
	select {
	case <-tg.Done:
	default:
		t.Fatal("Done channel not closed on untrack")
	}
	assert.Equal(t, 0, gt.GetStats().TrackedCount)

	// Untracking an unknown id is a no-op.
	gt.Untrack("gr-test-1")
}

func TestGo_UntracksWhenFinished(t *testing.T) {
	gt := newTestTracker(t)

	started := make(chan struct{})
	release := make(chan struct{})
	gt.Go("activation", func(ctx context.Context) {
		close(started)
		<-release
	})

	<-started
	assert.Equal(t, 1, gt.GetStats().TrackedCount)

	close(release)
	drainCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, gt.Drain(drainCtx))
	assert.Equal(t, 0, gt.GetStats().TrackedCount)
}

func TestDrain_TimesOutOnStuckWork(t *testing.T) {
	gt := newTestTracker(t)

	release := make(chan struct{})
	defer close(release)
	gt.Go("webhook_delivery", func(ctx context.Context) {
		<-release
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := gt.Drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDrain_EmptyTrackerReturnsImmediately(t *testing.T) {
	gt := newTestTracker(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, gt.Drain(ctx))
}
