// Package worker consumes sub-tasks from the job queue, runs them through the
// executor and reports each completion to the batch barrier.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
	"github.com/JakeFAU/crawler-fleet/internal/metrics"
)

// Completer receives one report per finished sub-task.
type Completer interface {
	Complete(ctx context.Context, outcome fleet.Outcome) (bool, error)
}

// Config controls Worker behavior.
type Config struct {
	PopTimeout time.Duration
	// Attempts is how many times a failing sub-task is run before it is
	// reported as failed.
	Attempts     int
	RetryDelay   time.Duration
	ErrorBackoff time.Duration
}

// Worker pulls sub-tasks until its context ends.
type Worker struct {
	queue     fleet.TaskQueue
	executor  fleet.Executor
	completer Completer
	active    *ActiveSet
	clock     fleet.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue fleet.TaskQueue,
	executor fleet.Executor,
	completer Completer,
	active *ActiveSet,
	clock fleet.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if active == nil {
		active = NewActiveSet("")
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{
		queue:     queue,
		executor:  executor,
		completer: completer,
		active:    active,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming sub-tasks until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		task, err := w.queue.Pop(ctx, w.cfg.PopTimeout)
		switch {
		case errors.Is(err, fleet.ErrQueueEmpty):
			continue
		case errors.Is(err, fleet.ErrMalformedTask):
			// Already off the queue; count it so its batch can still drain.
			w.logger.Error("dropping malformed sub-task", zap.Error(err))
			w.report(ctx, fleet.SubTask{}, fleet.OutcomeFailed)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue pop failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		w.logger.Debug("dequeued sub-task", zap.String("task_id", task.ID), zap.String("spider", task.Spider))
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task fleet.SubTask) {
	started := w.clock.Now()
	job := fleet.ActiveJob{
		ID:        task.ID,
		BatchID:   task.BatchID,
		Spider:    task.Spider,
		Args:      task.Args,
		StartedAt: started,
	}
	if err := w.active.Add(job); err != nil {
		w.logger.Warn("failed to persist active job", zap.String("task_id", task.ID), zap.Error(err))
	}
	metrics.IncActiveJobs()
	defer func() {
		metrics.DecActiveJobs()
		if err := w.active.Remove(task.ID); err != nil {
			w.logger.Warn("failed to persist active job removal", zap.String("task_id", task.ID), zap.Error(err))
		}
	}()

	runErr := w.execute(ctx, task)
	metrics.ObserveSubtaskDuration(task.Spider, w.clock.Now().Sub(started))

	if ctx.Err() != nil {
		// Killed mid-run: the batch will not see this task.
		w.logger.Warn("sub-task interrupted by shutdown",
			zap.String("task_id", task.ID),
			zap.String("batch_id", task.BatchID),
		)
		return
	}

	outcome := fleet.OutcomeSucceeded
	if runErr != nil {
		outcome = fleet.OutcomeFailed
		w.logger.Error("sub-task failed",
			zap.String("task_id", task.ID),
			zap.String("spider", task.Spider),
			zap.Error(runErr),
		)
	} else {
		w.logger.Info("sub-task finished", zap.String("task_id", task.ID), zap.String("spider", task.Spider))
	}

	w.report(ctx, task, outcome)
}

func (w *Worker) report(ctx context.Context, task fleet.SubTask, outcome fleet.Outcome) {
	fired, err := w.completer.Complete(ctx, outcome)
	if err != nil {
		w.logger.Error("failed to report completion", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	if fired {
		w.logger.Info("batch finalized by this worker", zap.String("batch_id", task.BatchID))
	}
}

func (w *Worker) execute(ctx context.Context, task fleet.SubTask) error {
	var b backoff.BackOff = backoff.NewConstantBackOff(w.cfg.RetryDelay)
	b = backoff.WithMaxRetries(b, uint64(w.cfg.Attempts-1))
	b = backoff.WithContext(b, ctx)
	return backoff.RetryNotify(func() error {
		return w.executor.Execute(ctx, task.Spider, task.Args)
	}, b, func(err error, wait time.Duration) {
		w.logger.Warn("retrying sub-task",
			zap.String("task_id", task.ID),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}
