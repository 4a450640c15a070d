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
	orderRedeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_queue_redeliveries_total",
		Help: "Order messages parked for a delayed redelivery",
	})

	orderDeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_queue_dead_letters_total",
		Help: "Order messages dead-lettered after exhausting deliveries",
	})
)

// OrderHandler processes one order message. A non-nil error asks for a
// delayed redelivery; everything the handler resolved itself returns nil.
// The redelivered message carries any mutations the handler made, so a
// handler can mark the order as already claimed before deferring.
type OrderHandler func(ctx context.Context, msg *ports.ProcessOrderMessage) error

// OrderConsumer runs blocking-pop workers over the order queue plus a mover
// that promotes due delayed messages. Attempts count completed deliveries;
// the first delivery ships with 0.
type OrderConsumer struct {
	client  *redis.Client
	queue   *OrderQueue
	handler OrderHandler
	backoff resilience.BackoffStrategy
	logger  ports.Logger
	cfg     ConsumerConfig
}

func NewOrderConsumer(client *redis.Client, queue *OrderQueue, handler OrderHandler, backoff resilience.BackoffStrategy, logger ports.Logger, cfg ConsumerConfig) *OrderConsumer {
	return &OrderConsumer{
		client:  client,
		queue:   queue,
		handler: handler,
		backoff: backoff,
		logger:  logger,
		cfg:     cfg.withDefaults(),
	}
}

// Run blocks until the context is cancelled and all workers have drained.
func (c *OrderConsumer) Run(ctx context.Context) {
	c.logger.Info("order consumer started", ports.Int("workers", c.cfg.Workers))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runDelayedMover(ctx, c.client, c.logger, orderDelayedKey, orderQueueKey, c.cfg.MoverInterval, c.cfg.MoverBatch)
	}()

	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.workerLoop(ctx)
		}()
	}

	wg.Wait()
	c.logger.Info("order consumer stopped")
}

func (c *OrderConsumer) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := c.client.BRPop(ctx, c.cfg.BlockTimeout, orderQueueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("popping order message failed", ports.Err(err))
			time.Sleep(time.Second)
			continue
		}

		payload := []byte(res[1])
		var msg ports.ProcessOrderMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.deadLetterRaw(ctx, payload, err)
			continue
		}

		if err := c.handler(ctx, &msg); err != nil {
			c.redeliver(ctx, msg, err)
		}
	}
}

func (c *OrderConsumer) redeliver(ctx context.Context, msg ports.ProcessOrderMessage, cause error) {
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
		c.logger.Error("parking order message failed",
			ports.Int64("order_id", msg.OrderID),
			ports.Err(err),
		)
		return
	}

	orderRedeliveries.Inc()
	c.logger.Warn("order message parked for redelivery",
		ports.Int64("order_id", msg.OrderID),
		ports.Int("attempts", msg.Attempts),
		ports.Any("delay", delay),
		ports.Err(cause),
	)
}

func (c *OrderConsumer) deadLetterRaw(ctx context.Context, payload []byte, cause error) {
	if err := pushDeadLetter(ctx, c.client, orderDLQKey, payload, cause); err != nil {
		c.logger.Error("dead-lettering order message failed", ports.Err(err))
		return
	}
	orderDeadLetters.Inc()
	c.logger.Error("order message dead-lettered", ports.Err(cause))
}
