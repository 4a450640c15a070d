package redisq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

const (
	orderQueueKey     = "orders:process"
	orderDelayedKey   = "orders:process:delayed"
	orderDLQKey       = "orders:process:dlq"
	webhookQueueKey   = "webhooks:deliveries"
	webhookDelayedKey = "webhooks:deliveries:delayed"
	webhookDLQKey     = "webhooks:deliveries:dlq"
)

// moveDueToQueueScript promotes due delayed payloads onto the live queue in
// one atomic step, so a crash mid-move cannot lose a message.
var moveDueToQueueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for i = 1, #due do
	redis.call('ZREM', KEYS[1], due[i])
	redis.call('LPUSH', KEYS[2], due[i])
end
return #due`)

// QueueStats reports queue depths for the operator surface.
type QueueStats struct {
	Ready      int64 `json:"ready"`
	Delayed    int64 `json:"delayed"`
	DeadLetter int64 `json:"dead_letter"`
}

func queueStats(ctx context.Context, client *redis.Client, queueKey, delayedKey, dlqKey string) (QueueStats, error) {
	var stats QueueStats
	var err error
	if stats.Ready, err = client.LLen(ctx, queueKey).Result(); err != nil {
		return stats, err
	}
	if stats.Delayed, err = client.ZCard(ctx, delayedKey).Result(); err != nil {
		return stats, err
	}
	if stats.DeadLetter, err = client.LLen(ctx, dlqKey).Result(); err != nil {
		return stats, err
	}
	return stats, nil
}

// OrderQueue is the Redis-list transport between fired timers and the order
// processor workers.
type OrderQueue struct {
	client *redis.Client
	logger ports.Logger
}

var _ ports.OrderQueue = (*OrderQueue)(nil)

func NewOrderQueue(client *redis.Client, logger ports.Logger) *OrderQueue {
	return &OrderQueue{client: client, logger: logger}
}

func (q *OrderQueue) EnqueueProcessOrder(ctx context.Context, msg ports.ProcessOrderMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, orderQueueKey, payload).Err()
}

// EnqueueDelayed parks a message until at, from where the consumer's delayed
// mover promotes it back onto the live queue.
func (q *OrderQueue) EnqueueDelayed(ctx context.Context, msg ports.ProcessOrderMessage, at time.Time) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, orderDelayedKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: payload,
	}).Err()
}

func (q *OrderQueue) Stats(ctx context.Context) (QueueStats, error) {
	return queueStats(ctx, q.client, orderQueueKey, orderDelayedKey, orderDLQKey)
}

// WebhookQueue is the Redis-list transport for webhook deliveries.
type WebhookQueue struct {
	client *redis.Client
	logger ports.Logger
}

var _ ports.WebhookQueue = (*WebhookQueue)(nil)

func NewWebhookQueue(client *redis.Client, logger ports.Logger) *WebhookQueue {
	return &WebhookQueue{client: client, logger: logger}
}

func (q *WebhookQueue) EnqueueDelivery(ctx context.Context, msg ports.WebhookDeliveryMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, webhookQueueKey, payload).Err()
}

func (q *WebhookQueue) EnqueueDelayed(ctx context.Context, msg ports.WebhookDeliveryMessage, at time.Time) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, webhookDelayedKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: payload,
	}).Err()
}

func (q *WebhookQueue) Stats(ctx context.Context) (QueueStats, error) {
	return queueStats(ctx, q.client, webhookQueueKey, webhookDelayedKey, webhookDLQKey)
}
