package depth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
	"github.com/JakeFAU/crawler-fleet/internal/store/memory"
)

type scriptedSource struct {
	mu      sync.Mutex
	results []scriptedRead
	calls   int
}

type scriptedRead struct {
	value int64
	err   error
}

func (s *scriptedSource) ReadDepth(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	r := s.results[idx]
	return r.value, r.err
}

func TestReaderFallsBackThenRecovers(t *testing.T) {
	t.Parallel()

	malformed := errors.New("malformed")
	src := &scriptedSource{results: []scriptedRead{
		{err: malformed},
		{err: malformed},
		{err: malformed},
		{value: 7},
	}}
	r := NewReader(src, ReaderConfig{Attempts: 3, Delay: time.Millisecond}, zap.NewNop())

	require.Equal(t, int64(0), r.Read(context.Background()))
	require.Equal(t, 3, src.calls)
	require.Equal(t, int64(7), r.Read(context.Background()))
	require.Equal(t, int64(7), r.Last())
}

func TestReaderRetriesWithinOneRead(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{results: []scriptedRead{
		{err: ErrNoSample},
		{value: 4},
	}}
	r := NewReader(src, ReaderConfig{Attempts: 3, Delay: time.Millisecond}, nil)

	require.Equal(t, int64(4), r.Read(context.Background()))
	require.Equal(t, 2, src.calls)
}

func TestReaderKeepsLastKnownAcrossFailures(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{results: []scriptedRead{
		{value: 12},
		{value: -1},
	}}
	r := NewReader(src, ReaderConfig{Attempts: 2, Delay: time.Millisecond}, nil)

	require.Equal(t, int64(12), r.Read(context.Background()))
	require.Equal(t, int64(12), r.Read(context.Background()), "negative depth must be rejected")
}

func TestStoreSourceRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	src := NewStoreSource(s)

	_, err := src.ReadDepth(ctx)
	require.ErrorIs(t, err, ErrNoSample)

	sink := NewStoreSink(s)
	require.NoError(t, sink.Publish(ctx, fleet.QueueDepthSample{Value: 9, ObservedAt: time.Now()}))
	n, err := src.ReadDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(9), n)

	_, ok, err := s.Get(ctx, fleet.KeyQueueLengthObservedAt)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Set(ctx, fleet.KeyQueueLength, "nine"))
	_, err = src.ReadDepth(ctx)
	require.Error(t, err)
}

func TestFileSourceAndSink(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metrics.json")
	src := NewFileSource(path)

	_, err := src.ReadDepth(ctx)
	require.ErrorIs(t, err, ErrNoSample, "missing file")

	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))
	_, err = src.ReadDepth(ctx)
	require.ErrorIs(t, err, ErrNoSample, "empty file")

	require.NoError(t, os.WriteFile(path, []byte(`{"other": 1}`), 0o600))
	_, err = src.ReadDepth(ctx)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"queue_length": `), 0o600))
	_, err = src.ReadDepth(ctx)
	require.Error(t, err)

	sink := NewFileSink(path)
	require.NoError(t, sink.Publish(ctx, fleet.QueueDepthSample{Value: 3}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"queue_length": 3}`, string(data))

	n, err := src.ReadDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}
