// Package memory keeps the batch ledger in process memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

// Ledger is a thread-safe fleet.BatchLedger.
type Ledger struct {
	mu   sync.RWMutex
	runs map[string]fleet.BatchRun
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{runs: make(map[string]fleet.BatchRun)}
}

// RecordArmed stores a new batch. Re-arming the same id replaces it.
func (l *Ledger) RecordArmed(_ context.Context, batch fleet.Batch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[batch.ID] = fleet.BatchRun{Batch: batch}
	return nil
}

// RecordFinalized stamps a batch as finalized.
func (l *Ledger) RecordFinalized(_ context.Context, batchID string, completed int64, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	run, ok := l.runs[batchID]
	if !ok {
		return fleet.ErrUnknownBatch
	}
	run.Completed = completed
	run.FinalizedAt = &at
	l.runs[batchID] = run
	return nil
}

// Recent returns up to limit runs, newest first.
func (l *Ledger) Recent(_ context.Context, limit int) ([]fleet.BatchRun, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]fleet.BatchRun, 0, len(l.runs))
	for _, run := range l.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ArmedAt.Equal(out[j].ArmedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ArmedAt.After(out[j].ArmedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
