// Package resourcemgmt tracks background goroutines so detached work such
// as subscription activations stays visible: counts by type, leak alerts
// against a process baseline, and a dump of what is currently running.
package resourcemgmt

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

var (
	goroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goroutines_count",
		Help: "Current number of goroutines in the process",
	})

	goroutineLeakDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goroutine_leaks_detected_total",
		Help: "Potential goroutine leak detections",
	})

	trackedGoroutines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracked_goroutines",
		Help: "Tracked goroutines by type",
	}, []string{"type"})

	longRunningGoroutines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "long_running_goroutines",
		Help: "Goroutines running longer than the configured limit",
	}, []string{"type"})
)

// TrackedGoroutine is one registered unit of background work.
type TrackedGoroutine struct {
	StartTime time.Time
	Done      chan struct{}
	ID        string
	Type      string // "activation", "webhook_delivery", "dispatch", ...
}

// GoroutineTracker registers background goroutines and periodically checks
// the process for leaks against the count observed at startup.
type GoroutineTracker struct {
	tracked          map[string]*TrackedGoroutine
	logger           ports.Logger
	baselineCount    int
	checkInterval    time.Duration
	leakThreshold    int
	longRunningLimit time.Duration
	mu               sync.RWMutex
}

type Config struct {
	CheckInterval    time.Duration
	LeakThreshold    int
	LongRunningLimit time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		CheckInterval:    30 * time.Second,
		LeakThreshold:    100,
		LongRunningLimit: 10 * time.Minute,
	}
}

func NewGoroutineTracker(logger ports.Logger, cfg *Config) *GoroutineTracker {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	baseline := runtime.NumGoroutine()
	logger.Info("Goroutine tracker initialized",
		ports.Int("baseline_goroutines", baseline),
		ports.String("check_interval", cfg.CheckInterval.String()),
		ports.Int("leak_threshold", cfg.LeakThreshold),
	)

	return &GoroutineTracker{
		tracked:          make(map[string]*TrackedGoroutine),
		logger:           logger,
		baselineCount:    baseline,
		checkInterval:    cfg.CheckInterval,
		leakThreshold:    cfg.LeakThreshold,
		longRunningLimit: cfg.LongRunningLimit,
	}
}

// Track registers a goroutine. Pair with Untrack, typically via defer.
func (gt *GoroutineTracker) Track(id, goroutineType string) *TrackedGoroutine {
	tg := &TrackedGoroutine{
		ID:        id,
		Type:      goroutineType,
		StartTime: time.Now(),
		Done:      make(chan struct{}),
	}

	gt.mu.Lock()
	gt.tracked[id] = tg
	gt.mu.Unlock()

	trackedGoroutines.WithLabelValues(goroutineType).Inc()
	return tg
}

func (gt *GoroutineTracker) Untrack(id string) {
	gt.mu.Lock()
	defer gt.mu.Unlock()

	tg, ok := gt.tracked[id]
	if !ok {
		return
	}
	close(tg.Done)
	trackedGoroutines.WithLabelValues(tg.Type).Dec()
	delete(gt.tracked, id)
}

// StartMonitoring checks for leaks until the context is canceled.
func (gt *GoroutineTracker) StartMonitoring(ctx context.Context) {
	gt.logger.Info("Starting goroutine leak monitoring")

	ticker := time.NewTicker(gt.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			gt.logger.Info("Stopping goroutine leak monitoring")
			return
		case <-ticker.C:
			gt.checkForLeaks()
		}
	}
}

func (gt *GoroutineTracker) checkForLeaks() {
	currentCount := runtime.NumGoroutine()
	goroutineCount.Set(float64(currentCount))

	increase := currentCount - gt.baselineCount
	if increase > gt.leakThreshold {
		gt.logger.Warn("Potential goroutine leak detected",
			ports.Int("current_count", currentCount),
			ports.Int("baseline_count", gt.baselineCount),
			ports.Int("increase", increase),
			ports.Int("threshold", gt.leakThreshold),
		)
		goroutineLeakDetected.Inc()
	}

	gt.checkLongRunning()
}

func (gt *GoroutineTracker) checkLongRunning() {
	gt.mu.RLock()
	defer gt.mu.RUnlock()

	longRunningByType := make(map[string]int)
	for id, tg := range gt.tracked {
		age := time.Since(tg.StartTime)
		if age > gt.longRunningLimit {
			longRunningByType[tg.Type]++
			gt.logger.Warn("Long-running goroutine detected",
				ports.String("id", id),
				ports.String("type", tg.Type),
				ports.String("age", age.String()),
			)
		}
	}

	for goroutineType, count := range longRunningByType {
		longRunningGoroutines.WithLabelValues(goroutineType).Set(float64(count))
	}
}

// Go starts a tracked goroutine detached from any request context. The
// function receives a cancelable context derived from Background, so a
// canceled HTTP request cannot abort work that must finish. Panics are not
// recovered here; callers that must survive them install their own recover.
func (gt *GoroutineTracker) Go(goroutineType string, fn func(ctx context.Context)) {
	id := nextID()
	gt.Track(id, goroutineType)

	go func() {
		defer gt.Untrack(id)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		fn(ctx)
	}()
}

// GoWithContext starts a tracked goroutine bound to the caller's context.
func (gt *GoroutineTracker) GoWithContext(ctx context.Context, goroutineType string, fn func(ctx context.Context)) {
	id := nextID()
	gt.Track(id, goroutineType)

	go func() {
		defer gt.Untrack(id)
		fn(ctx)
	}()
}

// Drain blocks until every tracked goroutine has finished or the context
// expires. Callers stop producing new work before draining; anything still
// tracked when the context ends is logged and abandoned.
func (gt *GoroutineTracker) Drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		gt.mu.RLock()
		remaining := len(gt.tracked)
		gt.mu.RUnlock()

		if remaining == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			stats := gt.GetStats()
			gt.logger.Warn("Abandoning tracked goroutines at shutdown",
				ports.Int("remaining", remaining),
				ports.Any("by_type", stats.ByType),
			)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stats is a point-in-time view of goroutine accounting.
type Stats struct {
	ByType             map[string]int `json:"by_type"`
	TotalGoroutines    int            `json:"total_goroutines"`
	BaselineGoroutines int            `json:"baseline_goroutines"`
	Increase           int            `json:"increase"`
	TrackedCount       int            `json:"tracked_count"`
}

func (gt *GoroutineTracker) GetStats() Stats {
	gt.mu.RLock()
	defer gt.mu.RUnlock()

	currentCount := runtime.NumGoroutine()
	countByType := make(map[string]int)
	for _, tg := range gt.tracked {
		countByType[tg.Type]++
	}

	return Stats{
		ByType:             countByType,
		TotalGoroutines:    currentCount,
		BaselineGoroutines: gt.baselineCount,
		Increase:           currentCount - gt.baselineCount,
		TrackedCount:       len(gt.tracked),
	}
}

// Dump lists currently tracked goroutines, for the stats endpoint.
func (gt *GoroutineTracker) Dump() []TrackedGoroutine {
	gt.mu.RLock()
	defer gt.mu.RUnlock()

	result := make([]TrackedGoroutine, 0, len(gt.tracked))
	for _, tg := range gt.tracked {
		result = append(result, *tg)
	}
	return result
}

var idSeq atomic.Uint64

func nextID() string {
	return fmt.Sprintf("gr-%d", idSeq.Add(1))
}
