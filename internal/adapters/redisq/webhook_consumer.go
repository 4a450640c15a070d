package redisq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/pkg/resilience"
)

var (
	webhookRedeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_queue_redeliveries_total",
		Help: "Webhook deliveries parked for a delayed retry",
	})

	webhookDeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_queue_dead_letters_total",
		Help: "Webhook deliveries dead-lettered after exhausting retries",
	})
)

// WebhookHandler attempts one delivery. A non-nil error asks for a delayed
// retry on the 5s-doubling schedule.
type WebhookHandler func(ctx context.Context, msg ports.WebhookDeliveryMessage) error

// WebhookConsumer drains the webhook delivery queue with blocking-pop
// workers and a delayed mover, retrying failed deliveries up to MaxAttempts
// before dead-lettering them.
type WebhookConsumer struct {
	client  *redis.Client
	queue   *WebhookQueue
	handler WebhookHandler
	backoff resilience.BackoffStrategy
	logger  ports.Logger
	cfg     ConsumerConfig
}

func NewWebhookConsumer(client *redis.Client, queue *WebhookQueue, handler WebhookHandler, backoff resilience.BackoffStrategy, logger ports.Logger, cfg ConsumerConfig) *WebhookConsumer {
	return &WebhookConsumer{
		client:  client,
		queue:   queue,
		handler: handler,
		backoff: backoff,
		logger:  logger,
		cfg:     cfg.withDefaults(),
	}
}

// Run blocks until the context is cancelled and all workers have drained.
func (c *WebhookConsumer) Run(ctx context.Context) {
	c.logger.Info("webhook consumer started", ports.Int("workers", c.cfg.Workers))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runDelayedMover(ctx, c.client, c.logger, webhookDelayedKey, webhookQueueKey, c.cfg.MoverInterval, c.cfg.MoverBatch)
	}()

	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.workerLoop(ctx)
		}()
	}

	wg.Wait()
	c.logger.Info("webhook consumer stopped")
}

func (c *WebhookConsumer) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := c.client.BRPop(ctx, c.cfg.BlockTimeout, webhookQueueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("popping webhook delivery failed", ports.Err(err))
			time.Sleep(time.Second)
			continue
		}

		payload := []byte(res[1])
		var msg ports.WebhookDeliveryMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.deadLetterRaw(ctx, payload, err)
			continue
		}

		if err := c.handler(ctx, msg); err != nil {
			c.redeliver(ctx, msg, err)
		}
	}
}

func (c *WebhookConsumer) redeliver(ctx context.Context, msg ports.WebhookDeliveryMessage, cause error) {
	parkCtx, cancel := parkContext(ctx)
	defer cancel()

	delivered := msg.Attempts + 1
	if delivered >= c.cfg.MaxAttempts {
		payload, _ := json.Marshal(msg)
		c.deadLetterRaw(parkCtx, payload, cause)
		return
	}

	msg.Attempts = delivered
	delay := c.backoff.NextDelay(delivered - 1)
	if err := c.queue.EnqueueDelayed(parkCtx, msg, time.Now().Add(delay)); err != nil {
		c.logger.Error("parking webhook delivery failed",
			ports.String("delivery_id", msg.ID),
			ports.Err(err),
		)
		return
	}

	webhookRedeliveries.Inc()
	c.logger.Warn("webhook delivery parked for retry",
		ports.String("delivery_id", msg.ID),
		ports.Int("attempts", msg.Attempts),
		ports.Any("delay", delay),
		ports.Err(cause),
	)
}

func (c *WebhookConsumer) deadLetterRaw(ctx context.Context, payload []byte, cause error) {
	if err := pushDeadLetter(ctx, c.client, webhookDLQKey, payload, cause); err != nil {
		c.logger.Error("dead-lettering webhook delivery failed", ports.Err(err))
		return
	}
	webhookDeadLetters.Inc()
	c.logger.Error("webhook delivery dead-lettered", ports.Err(cause))
}
