// Package readiness exposes the cross-process flag that tells the autoscaler
// whether it may shrink the fleet back to its floor.
package readiness

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

const (
	valueTrue  = "true"
	valueFalse = "false"
)

// Coordinator reads and writes the readiness flag in the metrics store.
type Coordinator struct {
	store  fleet.MetricsStore
	logger *zap.Logger
}

// New constructs a Coordinator.
func New(store fleet.MetricsStore, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: store, logger: logger}
}

// IsReadyToTerminate fails open: an absent or unrecognized flag means ready.
// Only an explicit "false" blocks scale-down.
func (c *Coordinator) IsReadyToTerminate(ctx context.Context) (bool, error) {
	v, ok, err := c.store.Get(ctx, fleet.KeyReadyToTerminate)
	if err != nil {
		return false, fmt.Errorf("read readiness: %w", err)
	}
	if !ok {
		return true, nil
	}
	switch v {
	case valueFalse:
		return false, nil
	case valueTrue:
		return true, nil
	default:
		c.logger.Warn("unrecognized readiness value, treating as ready", zap.String("value", v))
		return true, nil
	}
}

// MarkNotReady blocks scale-down until Reset.
func (c *Coordinator) MarkNotReady(ctx context.Context) error {
	if err := c.store.Set(ctx, fleet.KeyReadyToTerminate, valueFalse); err != nil {
		return fmt.Errorf("mark not ready: %w", err)
	}
	return nil
}

// Reset allows scale-down again.
func (c *Coordinator) Reset(ctx context.Context) error {
	if err := c.store.Set(ctx, fleet.KeyReadyToTerminate, valueTrue); err != nil {
		return fmt.Errorf("reset readiness: %w", err)
	}
	return nil
}
