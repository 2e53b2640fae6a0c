// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan fleet.SubTask
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan fleet.SubTask, capacity),
	}
}

// Push appends tasks in order, blocking while the queue is full.
func (q *Queue) Push(ctx context.Context, tasks ...fleet.SubTask) error {
	for _, task := range tasks {
		select {
		case <-ctx.Done():
			return fmt.Errorf("push canceled: %w", ctx.Err())
		case q.ch <- task:
		}
	}
	return nil
}

// Pop waits up to timeout for the next task.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (fleet.SubTask, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fleet.SubTask{}, fmt.Errorf("pop canceled: %w", ctx.Err())
	case <-timer.C:
		return fleet.SubTask{}, fleet.ErrQueueEmpty
	case task, ok := <-q.ch:
		if !ok {
			return fleet.SubTask{}, errors.New("queue closed")
		}
		return task, nil
	}
}

// Len reports the number of buffered tasks.
func (q *Queue) Len(context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
