package redisq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/pkg/timeutil"
)

// ConsumerConfig tunes a queue consumer. MaxAttempts counts total deliveries
// of one message before it is dead-lettered.
type ConsumerConfig struct {
	Workers       int
	BlockTimeout  time.Duration
	MaxAttempts   int
	MoverInterval time.Duration
	MoverBatch    int
}

// DefaultConsumerConfig matches the upstream retry contract: up to 10
// deliveries per message.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:       4,
		BlockTimeout:  5 * time.Second,
		MaxAttempts:   10,
		MoverInterval: time.Second,
		MoverBatch:    100,
	}
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.MoverInterval <= 0 {
		c.MoverInterval = time.Second
	}
	if c.MoverBatch <= 0 {
		c.MoverBatch = 100
	}
	return c
}

// deadLetterRecord wraps an exhausted message with its final failure.
type deadLetterRecord struct {
	FailedAt time.Time       `json:"failed_at"`
	Message  json.RawMessage `json:"message"`
	Error    string          `json:"error"`
}

func pushDeadLetter(ctx context.Context, client *redis.Client, dlqKey string, message []byte, cause error) error {
	record, err := json.Marshal(deadLetterRecord{
		Message:  message,
		Error:    cause.Error(),
		FailedAt: timeutil.Now(),
	})
	if err != nil {
		return err
	}
	return client.LPush(ctx, dlqKey, record).Err()
}

// runDelayedMover promotes due delayed payloads back onto the live queue
// until the context is cancelled.
func runDelayedMover(ctx context.Context, client *redis.Client, logger ports.Logger, delayedKey, queueKey string, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := moveDueToQueueScript.Run(ctx, client,
				[]string{delayedKey, queueKey},
				timeutil.Now().Unix(), batch,
			).Int64()
			if err != nil && err != redis.Nil {
				logger.Error("promoting delayed messages failed",
					ports.String("queue", queueKey),
					ports.Err(err),
				)
				continue
			}
			if moved > 0 {
				logger.Debug("delayed messages promoted",
					ports.String("queue", queueKey),
					ports.Int64("count", moved),
				)
			}
		}
	}
}

// parkContext detaches a write from a cancelled consumer context so shutdown
// cannot drop an in-flight redelivery.
func parkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}
