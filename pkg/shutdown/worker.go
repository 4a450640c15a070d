package shutdown

import (
	"context"

	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

// Worker owns one long-lived loop, stopped by canceling its context.
type Worker struct {
	logger ports.Logger
	cancel context.CancelFunc
	done   chan struct{}
	name   string
}

// StartWorker launches run on its own goroutine. The loop must return when
// the context it receives is canceled; Shutdown waits for that return.
func StartWorker(name string, logger ports.Logger, run func(ctx context.Context)) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
		name:   name,
	}

	go func() {
		defer close(w.done)
		logger.Info("Worker started", ports.String("worker", name))
		run(ctx)
		logger.Info("Worker loop returned", ports.String("worker", name))
	}()

	return w
}

// Shutdown cancels the worker's context and waits for the loop to return.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.cancel()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("Worker did not stop before the deadline",
			ports.String("worker", w.name))
		return ctx.Err()
	}
}
