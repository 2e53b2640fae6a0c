// Package finalize runs the post-batch pipeline once every sub-task of a
// batch has reported in.
package finalize

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
	"github.com/JakeFAU/crawler-fleet/internal/metrics"
)

// Step is one stage of the chain. Steps must tolerate being retried.
type Step interface {
	Name() string
	Run(ctx context.Context, batch fleet.Batch) error
}

// Chain runs steps in order. A failing step does not stop later steps.
type Chain struct {
	steps  []Step
	logger *zap.Logger
}

// NewChain builds a Chain.
func NewChain(logger *zap.Logger, steps ...Step) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{steps: steps, logger: logger}
}

// Steps returns the step names in run order.
func (c *Chain) Steps() []string {
	names := make([]string, 0, len(c.steps))
	for _, step := range c.steps {
		names = append(names, step.Name())
	}
	return names
}

// Run executes every step and returns the joined step errors.
func (c *Chain) Run(ctx context.Context, batch fleet.Batch) error {
	var errs []error
	for _, step := range c.steps {
		if err := step.Run(ctx, batch); err != nil {
			c.logger.Error("finalization step failed",
				zap.String("batch_id", batch.ID),
				zap.String("step", step.Name()),
				zap.Error(err),
			)
			metrics.ObserveFinalizeStepFailure(step.Name())
			errs = append(errs, fmt.Errorf("%s: %w", step.Name(), err))
			continue
		}
		c.logger.Info("finalization step done",
			zap.String("batch_id", batch.ID),
			zap.String("step", step.Name()),
		)
	}
	return errors.Join(errs...)
}
