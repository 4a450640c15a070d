package redisq

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

const timerKeyPrefix = "order_timers:"

func timerKey(provider domain.ProviderTag) string {
	return timerKeyPrefix + string(provider)
}

// Scheduler keeps one durable timer per order in a provider-keyed sorted set,
// scored by due time. ZADD overwrites the score, so Set and Update are the
// same write and timers survive restarts with Redis persistence.
type Scheduler struct {
	client    *redis.Client
	logger    ports.Logger
	providers []domain.ProviderTag
}

var _ ports.OrderScheduler = (*Scheduler)(nil)

// NewScheduler creates a Scheduler covering the given providers. Delete scans
// every provider's timer set because callers only know the order id.
func NewScheduler(client *redis.Client, logger ports.Logger, providers ...domain.ProviderTag) *Scheduler {
	if len(providers) == 0 {
		providers = []domain.ProviderTag{domain.ProviderBase}
	}
	return &Scheduler{client: client, logger: logger, providers: providers}
}

// Set arms the timer for an order at its due time.
func (s *Scheduler) Set(ctx context.Context, params ports.TimerParams) error {
	err := s.client.ZAdd(ctx, timerKey(params.Provider), redis.Z{
		Score:  float64(params.DueAt.Unix()),
		Member: strconv.FormatInt(params.OrderID, 10),
	}).Err()
	if err != nil {
		return err
	}

	s.logger.Debug("order timer set",
		ports.Int64("order_id", params.OrderID),
		ports.String("provider", string(params.Provider)),
		ports.Time("due_at", params.DueAt),
	)
	return nil
}

// Update moves an existing timer to a new due time. Works for absent timers
// too; the order id appears with the new score either way.
func (s *Scheduler) Update(ctx context.Context, params ports.TimerParams) error {
	return s.Set(ctx, params)
}

// Delete disarms the timer for an order. Deleting a timer that never existed
// or already fired is a no-op.
func (s *Scheduler) Delete(ctx context.Context, orderID int64) error {
	member := strconv.FormatInt(orderID, 10)
	for _, provider := range s.providers {
		removed, err := s.client.ZRem(ctx, timerKey(provider), member).Result()
		if err != nil {
			return err
		}
		if removed > 0 {
			s.logger.Debug("order timer deleted",
				ports.Int64("order_id", orderID),
				ports.String("provider", string(provider)),
			)
			return nil
		}
	}
	return nil
}

// PendingTimers reports the number of armed timers per provider.
func (s *Scheduler) PendingTimers(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(s.providers))
	for _, provider := range s.providers {
		n, err := s.client.ZCard(ctx, timerKey(provider)).Result()
		if err != nil {
			return nil, err
		}
		counts[string(provider)] = n
	}
	return counts, nil
}
