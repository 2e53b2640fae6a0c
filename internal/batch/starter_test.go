package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/barrier"
	"github.com/JakeFAU/crawler-fleet/internal/fleet"
	"github.com/JakeFAU/crawler-fleet/internal/queue/memory"
	"github.com/JakeFAU/crawler-fleet/internal/readiness"
	storememory "github.com/JakeFAU/crawler-fleet/internal/store/memory"
)

type fakeArmer struct {
	mu       sync.Mutex
	expected []int64
	resized  []int64
	err      error
}

func (f *fakeArmer) Arm(_ context.Context, expected int64) (fleet.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return fleet.Batch{}, f.err
	}
	f.expected = append(f.expected, expected)
	return fleet.Batch{ID: "batch-1", Expected: expected}, nil
}

func (f *fakeArmer) Resize(_ context.Context, _ string, expected int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resized = append(f.resized, expected)
	return false, nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("task-%d", g.n), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type chunkRecorder struct {
	fleet.TaskQueue
	mu      sync.Mutex
	chunks  []int
	failAt  int
	pushErr error
}

func (c *chunkRecorder) Push(ctx context.Context, tasks ...fleet.SubTask) error {
	c.mu.Lock()
	call := len(c.chunks)
	c.chunks = append(c.chunks, len(tasks))
	c.mu.Unlock()
	if c.pushErr != nil && call == c.failAt {
		return c.pushErr
	}
	return c.TaskQueue.Push(ctx, tasks...)
}

func tasksOf(n int) []Task {
	out := make([]Task, n)
	for i := range out {
		out[i] = Task{Spider: "domain_sold", Args: map[string]string{"domain_sold": fmt.Sprint(i)}}
	}
	return out
}

func TestStarterArmsThenPushesInChunks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	armer := &fakeArmer{}
	q := &chunkRecorder{TaskQueue: memory.NewQueue(300)}
	s := NewStarter(armer, q, &seqIDs{}, fixedClock{now: time.Unix(0, 0)}, 100, nil)

	batch, err := s.Start(ctx, tasksOf(250))
	require.NoError(t, err)
	require.Equal(t, "batch-1", batch.ID)
	require.Equal(t, []int64{250}, armer.expected)
	require.Equal(t, []int{100, 100, 50}, q.chunks)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(250), n)

	first, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "batch-1", first.BatchID)
	require.Equal(t, "task-1", first.ID)
}

func TestStarterEmptyBatch(t *testing.T) {
	t.Parallel()

	armer := &fakeArmer{}
	s := NewStarter(armer, memory.NewQueue(1), &seqIDs{}, fixedClock{}, 100, nil)
	_, err := s.Start(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyBatch)
	require.Empty(t, armer.expected)
}

func TestStarterArmFailureEnqueuesNothing(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(10)
	s := NewStarter(&fakeArmer{err: errors.New("redis down")}, q, &seqIDs{}, fixedClock{}, 100, nil)
	_, err := s.Start(context.Background(), tasksOf(3))
	require.Error(t, err)
	n, _ := q.Len(context.Background())
	require.Zero(t, n)
}

func TestStarterReportsPartialEnqueue(t *testing.T) {
	t.Parallel()

	q := &chunkRecorder{TaskQueue: memory.NewQueue(10), failAt: 1, pushErr: errors.New("connection reset")}
	armer := &fakeArmer{}
	s := NewStarter(armer, q, &seqIDs{}, fixedClock{}, 2, nil)
	_, err := s.Start(context.Background(), tasksOf(5))
	require.Error(t, err)
	require.Contains(t, err.Error(), "2 of 5 tasks enqueued")
	require.Equal(t, []int64{2}, armer.resized)
}

func TestStarterPartialEnqueueStillDrains(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := storememory.New()
	ready := readiness.New(st, zap.NewNop())
	finalizer := &countingFinalizer{}
	b := barrier.New(st, ready, finalizer, fixedClock{}, &batchIDs{}, zap.NewNop())

	q := &chunkRecorder{TaskQueue: memory.NewQueue(10), failAt: 1, pushErr: errors.New("connection reset")}
	s := NewStarter(b, q, &seqIDs{}, fixedClock{}, 2, nil)
	_, err := s.Start(ctx, tasksOf(4))
	require.Error(t, err)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	for i := int64(0); i < n; i++ {
		_, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		_, err = b.Complete(ctx, fleet.OutcomeSucceeded)
		require.NoError(t, err)
	}

	require.Equal(t, 1, finalizer.count())
	counters, err := b.Snapshot(ctx)
	require.NoError(t, err)
	require.Zero(t, counters.Expected)
	ok, err := ready.IsReadyToTerminate(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStarterNothingEnqueuedReleasesReadiness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := storememory.New()
	ready := readiness.New(st, zap.NewNop())
	finalizer := &countingFinalizer{}
	b := barrier.New(st, ready, finalizer, fixedClock{}, &batchIDs{}, zap.NewNop())

	q := &chunkRecorder{TaskQueue: memory.NewQueue(10), failAt: 0, pushErr: errors.New("connection refused")}
	_, err := NewStarter(b, q, &seqIDs{}, fixedClock{}, 2, nil).Start(ctx, tasksOf(3))
	require.Error(t, err)

	ok, err := ready.IsReadyToTerminate(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, finalizer.count())
}

type batchIDs struct{ seqIDs }

func (g *batchIDs) NewID() (string, error) {
	id, err := g.seqIDs.NewID()
	return "batch-" + id, err
}

type countingFinalizer struct {
	mu sync.Mutex
	n  int
}

func (f *countingFinalizer) Run(context.Context, fleet.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return nil
}

func (f *countingFinalizer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}
