package redisq

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/brindlepay/subscription-service/internal/domain"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/pkg/timeutil"
)

var (
	timersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_timers_fired_total",
		Help: "Order timers claimed and dispatched to the processing queue",
	}, []string{"provider"})

	timerDispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_timer_dispatch_failures_total",
		Help: "Order timers that could not be dispatched and were restored",
	}, []string{"provider"})
)

// claimDueTimersScript pops due members with their scores in one round trip.
// Claiming and removing atomically means a timer fires on exactly one
// dispatcher even when several run.
var claimDueTimersScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for i = 1, #due, 2 do
	redis.call('ZREM', KEYS[1], due[i])
	out[#out + 1] = due[i]
	out[#out + 1] = due[i + 1]
end
return out`)

// DispatcherConfig tunes the timer polling loop.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultDispatcherConfig polls once a second, up to 100 timers per provider
// per tick.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval: time.Second,
		BatchSize:    100,
	}
}

// Dispatcher moves fired timers onto the order processing queue. A claimed
// timer that cannot be enqueued is restored with its original due time, so a
// Redis hiccup delays processing instead of dropping it.
type Dispatcher struct {
	client    *redis.Client
	queue     ports.OrderQueue
	logger    ports.Logger
	providers []domain.ProviderTag
	cfg       DispatcherConfig
}

func NewDispatcher(client *redis.Client, queue ports.OrderQueue, logger ports.Logger, cfg DispatcherConfig, providers ...domain.ProviderTag) *Dispatcher {
	if len(providers) == 0 {
		providers = []domain.ProviderTag{domain.ProviderBase}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Dispatcher{client: client, queue: queue, logger: logger, providers: providers, cfg: cfg}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("order timer dispatcher started",
		ports.Any("poll_interval", d.cfg.PollInterval),
		ports.Int("batch_size", d.cfg.BatchSize),
	)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("order timer dispatcher stopped")
			return
		case <-ticker.C:
			for _, provider := range d.providers {
				d.dispatchDue(ctx, provider)
			}
		}
	}
}

func (d *Dispatcher) dispatchDue(ctx context.Context, provider domain.ProviderTag) {
	key := timerKey(provider)
	now := timeutil.Now().Unix()

	raw, err := claimDueTimersScript.Run(ctx, d.client, []string{key},
		strconv.FormatInt(now, 10), d.cfg.BatchSize,
	).StringSlice()
	if err != nil && err != redis.Nil {
		d.logger.Error("claiming due timers failed",
			ports.String("provider", string(provider)),
			ports.Err(err),
		)
		return
	}

	for i := 0; i+1 < len(raw); i += 2 {
		orderID, err := strconv.ParseInt(raw[i], 10, 64)
		if err != nil {
			d.logger.Error("timer member is not an order id",
				ports.String("member", raw[i]),
				ports.String("provider", string(provider)),
			)
			continue
		}
		score, _ := strconv.ParseFloat(raw[i+1], 64)

		msg := ports.ProcessOrderMessage{
			OrderID:    orderID,
			Provider:   provider,
			EnqueuedAt: timeutil.Now(),
		}
		if err := d.queue.EnqueueProcessOrder(ctx, msg); err != nil {
			// Restore the timer with its original due time
			if rerr := d.client.ZAdd(ctx, key, redis.Z{Score: score, Member: raw[i]}).Err(); rerr != nil {
				d.logger.Error("restoring claimed timer failed",
					ports.Int64("order_id", orderID),
					ports.Err(rerr),
				)
			}
			timerDispatchFailures.WithLabelValues(string(provider)).Inc()
			d.logger.Error("dispatching order timer failed",
				ports.Int64("order_id", orderID),
				ports.Err(err),
			)
			continue
		}

		timersFired.WithLabelValues(string(provider)).Inc()
		d.logger.Debug("order timer fired",
			ports.Int64("order_id", orderID),
			ports.String("provider", string(provider)),
		)
	}
}
