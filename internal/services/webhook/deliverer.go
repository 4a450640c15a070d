package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/pkg/httpx"
	"github.com/brindlepay/subscription-service/pkg/resilience"
)

// SignatureHeader carries "sha256=<hex>" over the exact request body.
const SignatureHeader = "X-Webhook-Signature"

var (
	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome",
	}, []string{"outcome"})

	deliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_delivery_duration_seconds",
		Help:    "Round-trip time of webhook POSTs",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

const (
	outcomeDelivered = "delivered"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
)

// DelivererConfig bounds one delivery attempt. The queue consumer owns the
// retry schedule; the deliverer only decides pass or fail for a single POST.
type DelivererConfig struct {
	Timeout time.Duration
}

func (c DelivererConfig) withDefaults() DelivererConfig {
	if c.Timeout <= 0 {
		c.Timeout = resilience.DefaultTimeoutConfig().WebhookDelivery
	}
	return c
}

// Deliverer POSTs signed payloads to merchant endpoints. Success is any 2xx
// within the deadline; everything else returns an error so the consumer
// applies its backoff schedule.
type Deliverer struct {
	client   *http.Client
	accounts ports.AccountStore
	logger   ports.Logger
	cfg      DelivererConfig
}

func NewDeliverer(accounts ports.AccountStore, logger ports.Logger, cfg DelivererConfig) *Deliverer {
	cfg = cfg.withDefaults()
	return &Deliverer{
		client:   httpx.NewClient(httpx.WebhookClientConfig(), cfg.Timeout),
		accounts: accounts,
		logger:   logger,
		cfg:      cfg,
	}
}

// Deliver attempts one POST. The payload bytes go out exactly as signed.
func (d *Deliverer) Deliver(ctx context.Context, msg ports.WebhookDeliveryMessage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.URL, bytes.NewReader(msg.Payload))
	if err != nil {
		deliveries.WithLabelValues(outcomeFailed).Inc()
		return fmt.Errorf("build webhook request %s: %w", msg.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, SignaturePrefix+msg.Signature)

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		deliveries.WithLabelValues(outcomeFailed).Inc()
		return fmt.Errorf("deliver webhook %s: %w", msg.ID, err)
	}
	defer resp.Body.Close()
	// Drain so the connection returns to the pool
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	deliveryDuration.Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		deliveries.WithLabelValues(outcomeRejected).Inc()
		return fmt.Errorf("deliver webhook %s: endpoint answered %d", msg.ID, resp.StatusCode)
	}

	deliveries.WithLabelValues(outcomeDelivered).Inc()
	d.logger.Info("Webhook delivered",
		ports.String("delivery_id", msg.ID),
		ports.Int64("account_id", msg.AccountID),
		ports.Int("attempts", msg.Attempts),
	)

	if err := d.accounts.TouchWebhook(ctx, msg.AccountID); err != nil {
		d.logger.Warn("Failed to stamp webhook last_used_at",
			ports.Int64("account_id", msg.AccountID),
			ports.Err(err),
		)
	}
	return nil
}
