package fleet

import (
	"context"
	"time"
)

// MetricsStore is the shared key/value store every daemon coordinates through.
// Get reports ok=false for a missing key.
type MetricsStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	SetNX(ctx context.Context, key, value string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	MSet(ctx context.Context, values map[string]string) error
	// SetIfEqual writes values atomically only while guardKey still holds want.
	SetIfEqual(ctx context.Context, guardKey, want string, values map[string]string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// TaskQueue carries sub-tasks from the batch starter to the workers.
type TaskQueue interface {
	Push(ctx context.Context, tasks ...SubTask) error
	// Pop blocks up to timeout and returns ErrQueueEmpty if nothing arrived.
	Pop(ctx context.Context, timeout time.Duration) (SubTask, error)
	Len(ctx context.Context) (int64, error)
}

// Orchestrator is the container runtime the lifecycle manager drives.
type Orchestrator interface {
	List(ctx context.Context, namePrefix string) ([]WorkerRecord, error)
	Create(ctx context.Context, spec WorkerSpec) (WorkerRecord, error)
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Exec(ctx context.Context, name string, cmd []string) (string, error)
}

// Executor runs one crawl job by spider name and keyword arguments.
type Executor interface {
	Execute(ctx context.Context, spider string, args map[string]string) error
}

// Publisher pushes notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BatchLedger keeps a history of armed and finalized batches.
type BatchLedger interface {
	RecordArmed(ctx context.Context, batch Batch) error
	RecordFinalized(ctx context.Context, batchID string, completed int64, at time.Time) error
	Recent(ctx context.Context, limit int) ([]BatchRun, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
