package depth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/metrics"
)

// ReaderConfig tunes retry behavior.
type ReaderConfig struct {
	Attempts int
	Delay    time.Duration
}

// Reader returns the current queue depth, degrading to the last known value.
type Reader struct {
	source Source
	cfg    ReaderConfig
	logger *zap.Logger

	mu   sync.Mutex
	last int64
}

// NewReader constructs a Reader. The last known value starts at 0.
func NewReader(source Source, cfg ReaderConfig, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	return &Reader{source: source, cfg: cfg, logger: logger}
}

// Read never fails: after cfg.Attempts bad reads it logs a warning and
// returns the last good value.
func (r *Reader) Read(ctx context.Context) int64 {
	var (
		value   int64
		attempt int
	)
	operation := func() error {
		attempt++
		v, err := r.source.ReadDepth(ctx)
		if err == nil && v < 0 {
			err = fmt.Errorf("negative queue depth %d", v)
		}
		if err != nil {
			r.logger.Debug("queue depth read failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		value = v
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.Delay), uint64(r.cfg.Attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		last := r.Last()
		r.logger.Warn("queue depth unavailable, using last known value",
			zap.Int64("last_known", last),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		metrics.ObserveDepthFallback()
		return last
	}

	r.mu.Lock()
	r.last = value
	r.mu.Unlock()
	return value
}

// Last returns the cached value without touching the source.
func (r *Reader) Last() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
