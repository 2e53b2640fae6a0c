// Package barrier detects, exactly once per batch, that every sub-task of a
// fan-out batch has reported completion, and then runs the finalization chain.
//
// All state lives in the shared metrics store so completions may arrive from
// any worker process in any order. The counter is only ever changed with an
// atomic increment; the trigger is gated by a set-if-absent key that Arm
// clears, and the post-chain reset is conditional on the batch id so that a
// late reset never wipes a batch armed in the meantime.
package barrier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
	"github.com/JakeFAU/crawler-fleet/internal/metrics"
	"github.com/JakeFAU/crawler-fleet/internal/store"
)

// ErrInvalidExpected is returned by Arm for a non-positive task count.
var ErrInvalidExpected = errors.New("expected task count must be > 0")

// Readiness is the subset of the readiness coordinator the barrier drives.
type Readiness interface {
	MarkNotReady(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Finalizer runs the post-batch pipeline.
type Finalizer interface {
	Run(ctx context.Context, batch fleet.Batch) error
}

// Barrier tracks completions for the current batch.
type Barrier struct {
	store     fleet.MetricsStore
	readiness Readiness
	finalizer Finalizer
	ledger    fleet.BatchLedger
	clock     fleet.Clock
	ids       fleet.IDGenerator
	logger    *zap.Logger
}

// New constructs a Barrier. The ledger is optional and may be set with WithLedger.
func New(
	s fleet.MetricsStore,
	readiness Readiness,
	finalizer Finalizer,
	clock fleet.Clock,
	ids fleet.IDGenerator,
	logger *zap.Logger,
) *Barrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Barrier{
		store:     s,
		readiness: readiness,
		finalizer: finalizer,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// WithLedger records armed and finalized batches in l.
func (b *Barrier) WithLedger(l fleet.BatchLedger) *Barrier {
	b.ledger = l
	return b
}

// Arm starts tracking a new batch of expected sub-tasks. It must be called
// before any of the batch's tasks are enqueued.
func (b *Barrier) Arm(ctx context.Context, expected int64) (fleet.Batch, error) {
	if expected <= 0 {
		return fleet.Batch{}, fmt.Errorf("arm %d: %w", expected, ErrInvalidExpected)
	}
	if err := b.readiness.MarkNotReady(ctx); err != nil {
		return fleet.Batch{}, fmt.Errorf("arm batch: %w", err)
	}

	id, err := b.ids.NewID()
	if err != nil {
		return fleet.Batch{}, fmt.Errorf("arm batch: %w", err)
	}
	batch := fleet.Batch{ID: id, Expected: expected, ArmedAt: b.clock.Now().UTC()}

	if err := b.store.MSet(ctx, map[string]string{
		fleet.KeyTotalExpectedTasks:  store.FormatInt(expected),
		fleet.KeyCompletedTasks:      "0",
		fleet.KeyCurrentBatchID:      batch.ID,
		fleet.KeyCurrentBatchArmedAt: batch.ArmedAt.Format(time.RFC3339Nano),
	}); err != nil {
		return fleet.Batch{}, fmt.Errorf("arm batch: %w", err)
	}
	if err := b.store.Del(ctx, fleet.KeyFinalizationFired); err != nil {
		return fleet.Batch{}, fmt.Errorf("clear finalization gate: %w", err)
	}

	if b.ledger != nil {
		if err := b.ledger.RecordArmed(ctx, batch); err != nil {
			b.logger.Warn("failed to record armed batch", zap.String("batch_id", batch.ID), zap.Error(err))
		}
	}

	b.logger.Info("barrier armed", zap.String("batch_id", batch.ID), zap.Int64("expected", expected))
	return batch, nil
}

// Complete records one finished sub-task. Success and failure both count.
// It reports whether this call fired the finalization chain.
func (b *Barrier) Complete(ctx context.Context, outcome fleet.Outcome) (bool, error) {
	completed, err := b.store.Incr(ctx, fleet.KeyCompletedTasks)
	if err != nil {
		return false, fmt.Errorf("count completion: %w", err)
	}
	metrics.ObserveCompletion(string(outcome))

	expected, _, err := store.GetInt(ctx, b.store, fleet.KeyTotalExpectedTasks)
	if err != nil {
		return false, fmt.Errorf("read expected: %w", err)
	}
	if expected <= 0 {
		b.logger.Warn("completion with no armed batch ignored", zap.Int64("completed", completed))
		return false, nil
	}
	if completed < expected {
		return false, nil
	}

	batchID, _, err := b.store.Get(ctx, fleet.KeyCurrentBatchID)
	if err != nil {
		return false, fmt.Errorf("read batch id: %w", err)
	}
	if completed > expected {
		b.logger.Warn("more completions than expected; duplicate delivery",
			zap.String("batch_id", batchID),
			zap.Int64("completed", completed),
			zap.Int64("expected", expected),
		)
	}

	return b.fire(ctx, batchID, expected, completed)
}

// Resize lowers the expected count of batchID to the number of tasks that
// were actually enqueued. Zero releases the batch without running the chain.
// It is a no-op when another batch has been armed since. If the completions
// already reached the new count, Resize fires the chain itself.
func (b *Barrier) Resize(ctx context.Context, batchID string, expected int64) (bool, error) {
	if expected <= 0 {
		reset, err := b.store.SetIfEqual(ctx, fleet.KeyCurrentBatchID, batchID, map[string]string{
			fleet.KeyCompletedTasks:     "0",
			fleet.KeyTotalExpectedTasks: "0",
		})
		if err != nil {
			return false, fmt.Errorf("release batch %s: %w", batchID, err)
		}
		if !reset {
			return false, nil
		}
		if err := b.readiness.Reset(ctx); err != nil {
			return false, fmt.Errorf("release batch %s: %w", batchID, err)
		}
		b.logger.Warn("batch released with no tasks enqueued", zap.String("batch_id", batchID))
		return false, nil
	}

	ok, err := b.store.SetIfEqual(ctx, fleet.KeyCurrentBatchID, batchID, map[string]string{
		fleet.KeyTotalExpectedTasks: store.FormatInt(expected),
	})
	if err != nil {
		return false, fmt.Errorf("resize batch %s: %w", batchID, err)
	}
	if !ok {
		return false, nil
	}
	b.logger.Warn("batch resized", zap.String("batch_id", batchID), zap.Int64("expected", expected))

	completed, _, err := store.GetInt(ctx, b.store, fleet.KeyCompletedTasks)
	if err != nil {
		return false, fmt.Errorf("read completed: %w", err)
	}
	if completed < expected {
		return false, nil
	}
	return b.fire(ctx, batchID, expected, completed)
}

func (b *Barrier) fire(ctx context.Context, batchID string, expected, completed int64) (bool, error) {
	won, err := b.store.SetNX(ctx, fleet.KeyFinalizationFired, batchID)
	if err != nil {
		return false, fmt.Errorf("claim finalization: %w", err)
	}
	if !won {
		return false, nil
	}

	batch := fleet.Batch{ID: batchID, Expected: expected, ArmedAt: b.armedAt(ctx)}
	b.finalize(ctx, batch, completed)
	return true, nil
}

func (b *Barrier) finalize(ctx context.Context, batch fleet.Batch, completed int64) {
	b.logger.Info("batch drained, running finalization",
		zap.String("batch_id", batch.ID),
		zap.Int64("completed", completed),
	)
	if err := b.finalizer.Run(ctx, batch); err != nil {
		b.logger.Error("finalization chain reported failures", zap.String("batch_id", batch.ID), zap.Error(err))
	}

	reset, err := b.store.SetIfEqual(ctx, fleet.KeyCurrentBatchID, batch.ID, map[string]string{
		fleet.KeyCompletedTasks:     "0",
		fleet.KeyTotalExpectedTasks: "0",
	})
	switch {
	case err != nil:
		b.logger.Error("failed to reset completion counters", zap.String("batch_id", batch.ID), zap.Error(err))
	case !reset:
		// The newer batch owns the counters and the readiness flag.
		b.logger.Warn("newer batch armed during finalization; counters left untouched", zap.String("batch_id", batch.ID))
	default:
		if err := b.readiness.Reset(ctx); err != nil {
			b.logger.Error("failed to reset readiness", zap.String("batch_id", batch.ID), zap.Error(err))
		}
	}

	if b.ledger != nil {
		if err := b.ledger.RecordFinalized(ctx, batch.ID, completed, b.clock.Now().UTC()); err != nil {
			b.logger.Warn("failed to record finalized batch", zap.String("batch_id", batch.ID), zap.Error(err))
		}
	}
	metrics.ObserveFinalization()
}

func (b *Barrier) armedAt(ctx context.Context) time.Time {
	raw, ok, err := b.store.Get(ctx, fleet.KeyCurrentBatchArmedAt)
	if err != nil || !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Snapshot returns the counters for the current batch.
func (b *Barrier) Snapshot(ctx context.Context) (fleet.CompletionCounters, error) {
	expected, _, err := store.GetInt(ctx, b.store, fleet.KeyTotalExpectedTasks)
	if err != nil {
		return fleet.CompletionCounters{}, err
	}
	completed, _, err := store.GetInt(ctx, b.store, fleet.KeyCompletedTasks)
	if err != nil {
		return fleet.CompletionCounters{}, err
	}
	batchID, _, err := b.store.Get(ctx, fleet.KeyCurrentBatchID)
	if err != nil {
		return fleet.CompletionCounters{}, fmt.Errorf("get %s: %w", fleet.KeyCurrentBatchID, err)
	}
	return fleet.CompletionCounters{BatchID: batchID, Expected: expected, Completed: completed}, nil
}
