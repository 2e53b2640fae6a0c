package autoscale

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/metrics"
)

// DepthReader returns the latest queue depth and never fails.
type DepthReader interface {
	Read(ctx context.Context) int64
}

// Scaler counts and resizes the fleet.
type Scaler interface {
	Count(ctx context.Context) (int, error)
	ScaleTo(ctx context.Context, desired int) (int, error)
}

// Readiness gates scale-down and is reset once the fleet is back at its floor.
type Readiness interface {
	IsReadyToTerminate(ctx context.Context) (bool, error)
	Reset(ctx context.Context) error
}

// Loop runs the policy on a fixed cadence. Ticks never overlap.
type Loop struct {
	policy    Policy
	depth     DepthReader
	scaler    Scaler
	readiness Readiness
	interval  time.Duration
	logger    *zap.Logger

	mu   sync.RWMutex
	last Decision
}

// NewLoop constructs a Loop.
func NewLoop(policy Policy, depth DepthReader, scaler Scaler, readiness Readiness, interval time.Duration, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		policy:    policy,
		depth:     depth,
		scaler:    scaler,
		readiness: readiness,
		interval:  interval,
		logger:    logger,
	}
}

// Run ticks until ctx is done, waiting the interval after each tick finishes.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("autoscaler started",
		zap.Int("min_workers", l.policy.MinWorkers),
		zap.Int("max_workers", l.policy.MaxWorkers),
		zap.Duration("interval", l.interval),
	)
	for {
		l.Tick(ctx)
		select {
		case <-ctx.Done():
			l.logger.Info("autoscaler stopped")
			return nil
		case <-time.After(l.interval):
		}
	}
}

// Tick performs one read-decide-act cycle. Errors are logged; a failed worker
// count skips the tick entirely.
func (l *Loop) Tick(ctx context.Context) Decision {
	depth := l.depth.Read(ctx)

	current, err := l.scaler.Count(ctx)
	if err != nil {
		l.logger.Error("failed to count workers, skipping tick", zap.Error(err))
		return Decision{Action: ActionNone, Depth: depth, Reason: "worker count unavailable"}
	}
	metrics.SetWorkers(current)

	d := l.policy.Decide(depth, current, func() (bool, error) {
		return l.readiness.IsReadyToTerminate(ctx)
	})
	l.record(d)

	fields := []zap.Field{
		zap.String("action", string(d.Action)),
		zap.Int64("depth", d.Depth),
		zap.Int("current", d.Current),
		zap.Int("target", d.Target),
		zap.String("reason", d.Reason),
	}
	switch d.Action {
	case ActionUp, ActionDown:
		l.logger.Info("scaling", fields...)
	case ActionHold:
		l.logger.Info("scale-down held", fields...)
		return d
	default:
		l.logger.Debug("no scaling needed", fields...)
		return d
	}

	resulting, err := l.scaler.ScaleTo(ctx, d.Target)
	if err != nil {
		l.logger.Error("scale failed", append(fields, zap.Error(err))...)
		return d
	}
	metrics.SetWorkers(resulting)
	if d.Action == ActionUp {
		metrics.ObserveScaling(metrics.DirectionUp)
		return d
	}
	metrics.ObserveScaling(metrics.DirectionDown)

	if d.Drained && d.Target == l.policy.MinWorkers {
		if err := l.readiness.Reset(ctx); err != nil {
			l.logger.Error("failed to reset readiness at floor", zap.Error(err))
		}
	}
	return d
}

// Last returns the most recent decision.
func (l *Loop) Last() Decision {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}

func (l *Loop) record(d Decision) {
	l.mu.Lock()
	l.last = d
	l.mu.Unlock()
}
