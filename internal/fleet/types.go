package fleet

import (
	"errors"
	"time"
)

// ErrQueueEmpty is returned by TaskQueue.Pop when nothing arrived before the timeout.
var ErrQueueEmpty = errors.New("queue empty")

// ErrMalformedTask is returned by TaskQueue.Pop when the dequeued payload is
// not a sub-task. The payload has already left the queue.
var ErrMalformedTask = errors.New("malformed task")

// ErrUnknownBatch is returned by a BatchLedger asked to finalize a batch it never saw.
var ErrUnknownBatch = errors.New("unknown batch")

// WorkerStatus is the lifecycle state of a worker container.
type WorkerStatus string

// Worker status values reported by the container runtime.
const (
	WorkerStarting WorkerStatus = "starting"
	WorkerRunning  WorkerStatus = "running"
	WorkerStopping WorkerStatus = "stopping"
	WorkerStopped  WorkerStatus = "stopped"
)

// Active reports whether the worker counts toward the fleet size.
func (s WorkerStatus) Active() bool {
	return s == WorkerStarting || s == WorkerRunning
}

// WorkerRecord describes one worker container.
type WorkerRecord struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"created_at"`
	Status    WorkerStatus `json:"status"`
}

// WorkerSpec is everything the runtime needs to start a worker.
type WorkerSpec struct {
	Name        string
	Image       string
	Network     string
	Env         []string
	Command     []string
	NanoCPUs    int64
	MemoryBytes int64
}

// QueueDepthSample is the most recent observation of the job queue length.
type QueueDepthSample struct {
	Value      int64     `json:"queue_length"`
	ObservedAt time.Time `json:"-"`
}

// CompletionCounters mirrors the barrier state held in the metrics store.
type CompletionCounters struct {
	BatchID   string `json:"batch_id,omitempty"`
	Expected  int64  `json:"expected"`
	Completed int64  `json:"completed"`
}

// Armed reports whether a batch is currently being tracked.
func (c CompletionCounters) Armed() bool {
	return c.Expected > 0
}

// SubTask is one unit of fan-out crawl work carried on the job queue.
type SubTask struct {
	ID         string            `json:"id"`
	BatchID    string            `json:"batch_id"`
	Spider     string            `json:"spider"`
	Args       map[string]string `json:"args,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// Outcome is how a sub-task finished.
type Outcome string

// Sub-task outcomes. Both count toward batch completion.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// ActiveJob is a sub-task currently executing inside a worker.
type ActiveJob struct {
	ID        string            `json:"id"`
	BatchID   string            `json:"batch_id,omitempty"`
	Spider    string            `json:"spider"`
	Args      map[string]string `json:"args,omitempty"`
	StartedAt time.Time         `json:"started_at"`
}

// Batch is one armed fan-out run.
type Batch struct {
	ID       string    `json:"id"`
	Expected int64     `json:"expected"`
	ArmedAt  time.Time `json:"armed_at"`
}

// BatchRun is a ledger entry for a batch.
type BatchRun struct {
	Batch
	Completed   int64      `json:"completed"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}
