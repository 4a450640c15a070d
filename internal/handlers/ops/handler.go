// Package ops serves the operator surface: liveness, queue and goroutine
// statistics, and the manual reconcile sweep. Everything except /healthz
// requires the cron secret, so only the scheduler and operators reach it.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/brindlepay/subscription-service/internal/adapters/redisq"
	"github.com/brindlepay/subscription-service/internal/domain/ports"
	"github.com/brindlepay/subscription-service/internal/services/order"
	"github.com/brindlepay/subscription-service/pkg/observability"
	"github.com/brindlepay/subscription-service/pkg/resourcemgmt"
)

// sweeper runs one reconcile pass over due and stalled orders.
type sweeper interface {
	Sweep(ctx context.Context) (*order.SweepResult, error)
}

// queueInspector reports queue depths for the stats endpoint.
type queueInspector interface {
	Stats(ctx context.Context) (redisq.QueueStats, error)
}

type Handler struct {
	sweeper      sweeper
	orderQueue   queueInspector
	webhookQueue queueInspector
	tracker      *resourcemgmt.GoroutineTracker
	health       *observability.HealthChecker
	logger       ports.Logger
	cronSecret   string
}

func NewHandler(
	sw sweeper,
	orderQueue, webhookQueue queueInspector,
	tracker *resourcemgmt.GoroutineTracker,
	health *observability.HealthChecker,
	logger ports.Logger,
	cronSecret string,
) *Handler {
	return &Handler{
		sweeper:      sw,
		orderQueue:   orderQueue,
		webhookQueue: webhookQueue,
		tracker:      tracker,
		health:       health,
		logger:       logger,
		cronSecret:   cronSecret,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.health.HealthHandler())
	mux.HandleFunc("/ops/reconcile", h.handleReconcile)
	mux.HandleFunc("/ops/stats", h.handleStats)
}

// authorized checks the shared secret, from either the X-Cron-Secret
// header or a bearer token. An unset secret locks the surface entirely.
func (h *Handler) authorized(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}
	if r.Header.Get("X-Cron-Secret") == h.cronSecret {
		return true
	}
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(after) == h.cronSecret
	}
	return false
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.respondError(w, http.StatusMethodNotAllowed, "only POST is allowed")
		return
	}
	if !h.authorized(r) {
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.logger.Error("Manual reconcile sweep failed", ports.Err(err))
		h.respondError(w, http.StatusInternalServerError, "reconcile sweep failed")
		return
	}

	h.logger.Info("Manual reconcile sweep finished",
		ports.Int("claimed", result.Claimed),
		ports.Int("stalled", result.Stalled),
		ports.Int("enqueued", result.Enqueued),
	)
	h.respondJSON(w, http.StatusOK, result)
}

type statsResponse struct {
	Timestamp    time.Time          `json:"timestamp"`
	Goroutines   resourcemgmt.Stats `json:"goroutines"`
	OrderQueue   redisq.QueueStats  `json:"order_queue"`
	WebhookQueue redisq.QueueStats  `json:"webhook_queue"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		h.respondError(w, http.StatusMethodNotAllowed, "only GET is allowed")
		return
	}
	if !h.authorized(r) {
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orderStats, err := h.orderQueue.Stats(r.Context())
	if err != nil {
		h.logger.Error("Failed to read order queue stats", ports.Err(err))
		h.respondError(w, http.StatusServiceUnavailable, "queue stats unavailable")
		return
	}
	webhookStats, err := h.webhookQueue.Stats(r.Context())
	if err != nil {
		h.logger.Error("Failed to read webhook queue stats", ports.Err(err))
		h.respondError(w, http.StatusServiceUnavailable, "queue stats unavailable")
		return
	}

	h.respondJSON(w, http.StatusOK, statsResponse{
		Timestamp:    time.Now(),
		Goroutines:   h.tracker.GetStats(),
		OrderQueue:   orderStats,
		WebhookQueue: webhookStats,
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", ports.Err(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
