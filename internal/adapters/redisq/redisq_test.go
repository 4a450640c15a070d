package redisq_test

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlepay/subscription-service/internal/adapters/redisq"
	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/pkg/observability"
	"github.com/brindlepay/subscription-service/pkg/resilience"
)

// NOTE: These are integration tests that require a running Redis. To run
// them, set REDIS_ADDR (default localhost:6379); database 15 is flushed
// between tests.
// go test ./internal/adapters/redisq/...

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Could not ping test redis: %v", err)
		return nil, nil
	}

	require.NoError(t, client.FlushDB(ctx).Err())

	cleanup := func() {
		_ = client.FlushDB(ctx).Err()
		_ = client.Close()
	}
	return client, cleanup
}

func TestScheduler_TimerLifecycle(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	if client == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	logger := observability.NewNopLogger()
	scheduler := redisq.NewScheduler(client, logger, domain.ProviderBase)

	dueAt := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, scheduler.Set(ctx, ports.TimerParams{
		OrderID:  42,
		Provider: domain.ProviderBase,
		DueAt:    dueAt,
	}))

	counts, err := scheduler.PendingTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[string(domain.ProviderBase)])

	t.Run("update moves the due time", func(t *testing.T) {
		newDue := dueAt.Add(30 * time.Minute)
		require.NoError(t, scheduler.Update(ctx, ports.TimerParams{
			OrderID:  42,
			Provider: domain.ProviderBase,
			DueAt:    newDue,
		}))

		score, err := client.ZScore(ctx, "order_timers:base", "42").Result()
		require.NoError(t, err)
		assert.Equal(t, float64(newDue.Unix()), score)

		counts, err := scheduler.PendingTimers(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[string(domain.ProviderBase)], "update must not duplicate the timer")
	})

	t.Run("delete disarms and is idempotent", func(t *testing.T) {
		require.NoError(t, scheduler.Delete(ctx, 42))
		require.NoError(t, scheduler.Delete(ctx, 42))

		counts, err := scheduler.PendingTimers(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), counts[string(domain.ProviderBase)])
	})
}

func TestDispatcher_FiresDueTimersOnce(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	if client == nil {
		return
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := observability.NewNopLogger()
	scheduler := redisq.NewScheduler(client, logger, domain.ProviderBase)
	queue := redisq.NewOrderQueue(client, logger)

	require.NoError(t, scheduler.Set(ctx, ports.TimerParams{
		OrderID:  7,
		Provider: domain.ProviderBase,
		DueAt:    time.Now().Add(-time.Minute),
	}))
	require.NoError(t, scheduler.Set(ctx, ports.TimerParams{
		OrderID:  8,
		Provider: domain.ProviderBase,
		DueAt:    time.Now().Add(time.Hour),
	}))

	dispatcher := redisq.NewDispatcher(client, queue, logger, redisq.DispatcherConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
	}, domain.ProviderBase)
	go dispatcher.Run(ctx)

	var msg ports.ProcessOrderMessage
	require.Eventually(t, func() bool {
		res, err := client.RPop(ctx, "orders:process").Result()
		if err != nil {
			return false
		}
		return json.Unmarshal([]byte(res), &msg) == nil
	}, 2*time.Second, 10*time.Millisecond, "due timer must reach the order queue")

	assert.Equal(t, int64(7), msg.OrderID)
	assert.Equal(t, domain.ProviderBase, msg.Provider)
	assert.Equal(t, 0, msg.Attempts)

	// The future timer stays armed and the fired one is gone
	counts, err := scheduler.PendingTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[string(domain.ProviderBase)])

	_, err = client.ZScore(ctx, "order_timers:base", "7").Result()
	assert.ErrorIs(t, err, redis.Nil)
}

func TestOrderConsumer_RetriesThenSucceeds(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	if client == nil {
		return
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := observability.NewNopLogger()
	queue := redisq.NewOrderQueue(client, logger)

	var calls int32
	seen := make(chan ports.ProcessOrderMessage, 4)
	handler := func(ctx context.Context, msg *ports.ProcessOrderMessage) error {
		seen <- *msg
		if atomic.AddInt32(&calls, 1) == 1 {
			msg.Claimed = true
			return assert.AnError
		}
		return nil
	}

	consumer := redisq.NewOrderConsumer(client, queue, handler,
		&resilience.FixedBackoff{Delay: 0}, logger,
		redisq.ConsumerConfig{
			Workers:       1,
			BlockTimeout:  100 * time.Millisecond,
			MaxAttempts:   5,
			MoverInterval: 10 * time.Millisecond,
		},
	)
	go consumer.Run(ctx)

	require.NoError(t, queue.EnqueueProcessOrder(ctx, ports.ProcessOrderMessage{
		OrderID:    101,
		Provider:   domain.ProviderBase,
		EnqueuedAt: time.Now(),
	}))

	first := waitForMessage(t, seen)
	assert.Equal(t, 0, first.Attempts)

	second := waitForMessage(t, seen)
	assert.Equal(t, int64(101), second.OrderID)
	assert.Equal(t, 1, second.Attempts, "redelivery must carry the bumped attempt count")
	assert.True(t, second.Claimed, "handler mutations must survive the redelivery")
}

func TestOrderConsumer_DeadLettersAfterMaxAttempts(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	if client == nil {
		return
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := observability.NewNopLogger()
	queue := redisq.NewOrderQueue(client, logger)

	handler := func(ctx context.Context, msg *ports.ProcessOrderMessage) error {
		return assert.AnError
	}

	consumer := redisq.NewOrderConsumer(client, queue, handler,
		&resilience.FixedBackoff{Delay: 0}, logger,
		redisq.ConsumerConfig{
			Workers:       1,
			BlockTimeout:  100 * time.Millisecond,
			MaxAttempts:   2,
			MoverInterval: 10 * time.Millisecond,
		},
	)
	go consumer.Run(ctx)

	require.NoError(t, queue.EnqueueProcessOrder(ctx, ports.ProcessOrderMessage{
		OrderID:    202,
		Provider:   domain.ProviderBase,
		EnqueuedAt: time.Now(),
	}))

	require.Eventually(t, func() bool {
		n, err := client.LLen(ctx, "orders:process:dlq").Result()
		return err == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond, "message must be dead-lettered after the final delivery")

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DeadLetter)
	assert.Equal(t, int64(0), stats.Ready)
}

func TestWebhookQueue_DeliveryRoundTrip(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	if client == nil {
		return
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := observability.NewNopLogger()
	queue := redisq.NewWebhookQueue(client, logger)

	delivered := make(chan ports.WebhookDeliveryMessage, 1)
	handler := func(ctx context.Context, msg ports.WebhookDeliveryMessage) error {
		delivered <- msg
		return nil
	}

	consumer := redisq.NewWebhookConsumer(client, queue, handler,
		&resilience.FixedBackoff{Delay: 0}, logger,
		redisq.ConsumerConfig{
			Workers:       1,
			BlockTimeout:  100 * time.Millisecond,
			MaxAttempts:   3,
			MoverInterval: 10 * time.Millisecond,
		},
	)
	go consumer.Run(ctx)

	require.NoError(t, queue.EnqueueDelivery(ctx, ports.WebhookDeliveryMessage{
		ID:        "evt_test_1",
		URL:       "https://merchant.example.com/hooks",
		Payload:   []byte(`{"type":"subscription.updated"}`),
		Signature: "sha256=deadbeef",
		Timestamp: time.Now(),
	}))

	select {
	case msg := <-delivered:
		assert.Equal(t, "evt_test_1", msg.ID)
		assert.Equal(t, "https://merchant.example.com/hooks", msg.URL)
		assert.JSONEq(t, `{"type":"subscription.updated"}`, string(msg.Payload))
		assert.Equal(t, "sha256=deadbeef", msg.Signature)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook delivery never reached the handler")
	}
}

func waitForMessage(t *testing.T, ch <-chan ports.ProcessOrderMessage) ports.ProcessOrderMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return ports.ProcessOrderMessage{}
	}
}
