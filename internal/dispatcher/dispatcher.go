// Package dispatcher runs a pool of sub-task workers inside one container.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Runner is a long-lived consumer that returns once ctx is done.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	workers []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(workers []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: workers, logger: logger}
}

// Run starts all workers and blocks until every one has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("worker pool started", zap.Int("concurrency", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("worker pool stopped")
}
