// Package shutdown coordinates process teardown. Components register in
// startup order and stop in reverse, one at a time, under a shared deadline,
// so producers are gone before the stores and queues they write to.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

var (
	shutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shutdown_duration_seconds",
		Help:    "Total time taken to shut down gracefully",
		Buckets: []float64{1, 5, 10, 15, 20, 25, 30},
	})

	componentShutdownDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "component_shutdown_duration_seconds",
		Help:    "Time taken to shut down individual components",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 20, 25, 30},
	}, []string{"component"})

	shutdownErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shutdown_errors_total",
		Help: "Shutdown errors by component",
	}, []string{"component"})
)

// Func shuts one component down. It returns once the component has released
// its resources or the context has expired.
type Func func(context.Context) error

type component struct {
	fn   Func
	name string
}

// Manager runs registered shutdown functions in reverse registration order.
type Manager struct {
	logger     ports.Logger
	components []component
	timeout    time.Duration
	mu         sync.Mutex
}

func NewManager(logger ports.Logger, timeout time.Duration) *Manager {
	return &Manager{logger: logger, timeout: timeout}
}

// Register appends a component. Later registrations shut down earlier.
func (m *Manager) Register(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component{name: name, fn: fn})
}

// RegisterCloser registers a component exposing Close() error.
func (m *Manager) RegisterCloser(name string, closer interface{ Close() error }) {
	m.Register(name, func(context.Context) error { return closer.Close() })
}

// RegisterNoErr registers a teardown that cannot fail.
func (m *Manager) RegisterNoErr(name string, fn func()) {
	m.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// Wait blocks until SIGINT or SIGTERM arrives, then runs Shutdown.
func (m *Manager) Wait() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	m.logger.Info("Received shutdown signal",
		ports.String("signal", sig.String()),
		ports.String("timeout", m.timeout.String()),
	)
	m.Shutdown()
}

// Shutdown stops every registered component in reverse order under one
// shared deadline. A component that fails or times out does not stop the
// rest from being attempted; whatever budget it consumed is gone for the
// components after it.
func (m *Manager) Shutdown() {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	components := make([]component, len(m.components))
	copy(components, m.components)
	m.mu.Unlock()

	m.logger.Info("Starting graceful shutdown", ports.Int("components", len(components)))

	failed := 0
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		componentStart := time.Now()

		err := c.fn(ctx)
		took := time.Since(componentStart)
		componentShutdownDuration.WithLabelValues(c.name).Observe(took.Seconds())

		if err != nil {
			failed++
			shutdownErrors.WithLabelValues(c.name).Inc()
			m.logger.Error("Component shutdown failed",
				ports.String("component", c.name),
				ports.String("elapsed", took.String()),
				ports.Err(err),
			)
			continue
		}
		m.logger.Info("Component stopped",
			ports.String("component", c.name),
			ports.String("elapsed", took.String()),
		)
	}

	total := time.Since(start)
	shutdownDuration.Observe(total.Seconds())
	if failed > 0 {
		m.logger.Error("Graceful shutdown completed with errors",
			ports.Int("failed", failed),
			ports.String("elapsed", total.String()),
		)
		return
	}
	m.logger.Info("Graceful shutdown complete", ports.String("elapsed", total.String()))
}
