package depth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
	"github.com/JakeFAU/crawler-fleet/internal/metrics"
)

// Lengther reports the job queue length.
type Lengther interface {
	Len(ctx context.Context) (int64, error)
}

// Sampler periodically observes the queue length and fans it out to sinks.
type Sampler struct {
	queue    Lengther
	sinks    []Sink
	clock    fleet.Clock
	interval time.Duration
	logger   *zap.Logger
}

// NewSampler constructs a Sampler.
func NewSampler(queue Lengther, clock fleet.Clock, interval time.Duration, logger *zap.Logger, sinks ...Sink) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{
		queue:    queue,
		sinks:    sinks,
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

// Sample takes one observation. Every sink is attempted even if an earlier one fails.
func (s *Sampler) Sample(ctx context.Context) (fleet.QueueDepthSample, error) {
	n, err := s.queue.Len(ctx)
	if err != nil {
		return fleet.QueueDepthSample{}, fmt.Errorf("read queue length: %w", err)
	}
	sample := fleet.QueueDepthSample{Value: n, ObservedAt: s.clock.Now()}
	metrics.SetQueueDepth(n)

	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, sample); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", sink.Name(), err))
		}
	}
	return sample, errors.Join(errs...)
}

// Run samples immediately and then every interval until the context finishes.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		sample, err := s.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("queue depth sample failed", zap.Error(err))
		} else {
			s.logger.Debug("queue depth sampled", zap.Int64("queue_length", sample.Value))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
