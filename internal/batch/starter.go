package batch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

// ErrEmptyBatch is returned when a plan expands to no tasks.
var ErrEmptyBatch = errors.New("batch has no tasks")

// Armer starts tracking a batch of expected completions and shrinks it when
// fewer tasks than armed made it onto the queue.
type Armer interface {
	Arm(ctx context.Context, expected int64) (fleet.Batch, error)
	Resize(ctx context.Context, batchID string, expected int64) (bool, error)
}

// Starter arms the barrier and enqueues a batch.
type Starter struct {
	armer     Armer
	queue     fleet.TaskQueue
	ids       fleet.IDGenerator
	clock     fleet.Clock
	chunkSize int
	logger    *zap.Logger
}

// NewStarter constructs a Starter. chunkSize <= 0 pushes everything at once.
func NewStarter(armer Armer, queue fleet.TaskQueue, ids fleet.IDGenerator, clock fleet.Clock, chunkSize int, logger *zap.Logger) *Starter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Starter{armer: armer, queue: queue, ids: ids, clock: clock, chunkSize: chunkSize, logger: logger}
}

// Start arms the barrier for len(tasks) and then enqueues them. The barrier
// is armed first so no completion can arrive for an unarmed batch.
func (s *Starter) Start(ctx context.Context, tasks []Task) (fleet.Batch, error) {
	if len(tasks) == 0 {
		return fleet.Batch{}, ErrEmptyBatch
	}
	batch, err := s.armer.Arm(ctx, int64(len(tasks)))
	if err != nil {
		return fleet.Batch{}, fmt.Errorf("start batch: %w", err)
	}

	now := s.clock.Now().UTC()
	subtasks := make([]fleet.SubTask, 0, len(tasks))
	for _, t := range tasks {
		id, err := s.ids.NewID()
		if err != nil {
			s.resize(ctx, batch, 0)
			return batch, fmt.Errorf("start batch %s: %w", batch.ID, err)
		}
		subtasks = append(subtasks, fleet.SubTask{
			ID:         id,
			BatchID:    batch.ID,
			Spider:     t.Spider,
			Args:       t.Args,
			EnqueuedAt: now,
		})
	}

	size := s.chunkSize
	if size <= 0 {
		size = len(subtasks)
	}
	enqueued := 0
	for start := 0; start < len(subtasks); start += size {
		end := min(start+size, len(subtasks))
		if err := s.queue.Push(ctx, subtasks[start:end]...); err != nil {
			s.resize(ctx, batch, enqueued)
			return batch, fmt.Errorf("enqueue batch %s: %d of %d tasks enqueued: %w", batch.ID, enqueued, len(subtasks), err)
		}
		enqueued = end
		s.logger.Debug("enqueued chunk", zap.String("batch_id", batch.ID), zap.Int("enqueued", enqueued))
	}

	s.logger.Info("batch started", zap.String("batch_id", batch.ID), zap.Int("tasks", len(subtasks)))
	return batch, nil
}

// resize shrinks the armed batch to what was enqueued so it can still drain.
func (s *Starter) resize(ctx context.Context, batch fleet.Batch, enqueued int) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.armer.Resize(ctx, batch.ID, int64(enqueued)); err != nil {
		s.logger.Error("failed to resize partially enqueued batch",
			zap.String("batch_id", batch.ID),
			zap.Int("enqueued", enqueued),
			zap.Error(err),
		)
	}
}
