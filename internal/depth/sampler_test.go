package depth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
	"github.com/JakeFAU/crawler-fleet/internal/store/memory"
)

type fakeLengther struct {
	n   atomic.Int64
	err error
}

func (f *fakeLengther) Len(context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.n.Load(), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingSink struct {
	mu      sync.Mutex
	samples []fleet.QueueDepthSample
	err     error
}

func (*recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, sample fleet.QueueDepthSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func TestSamplerPublishesToEverySink(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := &fakeLengther{}
	q.n.Store(5)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	failing := &recordingSink{err: errors.New("disk full")}
	ok := &recordingSink{}
	s := NewSampler(q, fixedClock{now: now}, time.Second, zap.NewNop(), failing, ok)

	sample, err := s.Sample(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
	require.Equal(t, int64(5), sample.Value)
	require.Equal(t, now, sample.ObservedAt)
	require.Equal(t, 1, failing.count())
	require.Equal(t, 1, ok.count(), "later sinks still receive the sample")
}

func TestSamplerQueueError(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	s := NewSampler(&fakeLengther{err: errors.New("conn refused")}, fixedClock{}, time.Second, nil, sink)
	_, err := s.Sample(context.Background())
	require.Error(t, err)
	require.Zero(t, sink.count())
}

func TestSamplerRunTicksUntilCanceled(t *testing.T) {
	t.Parallel()

	st := memory.New()
	q := &fakeLengther{}
	q.n.Store(2)
	sink := &recordingSink{}
	s := NewSampler(q, fixedClock{now: time.Now()}, 10*time.Millisecond, nil, NewStoreSink(st), sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sink.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sampler did not stop after cancel")
	}

	v, ok, err := st.Get(context.Background(), fleet.KeyQueueLength)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", v)
}

func TestPushSink(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, r.Body)
		mu.Lock()
		path = r.URL.Path
		body = buf.String()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewPushSink(srv.URL, "crawler_queue", "crawler:jobs")
	require.Equal(t, "pushgateway", sink.Name())
	require.NoError(t, sink.Publish(context.Background(), fleet.QueueDepthSample{Value: 11}))

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, path, "/metrics/job/crawler_queue")
	require.NotEmpty(t, body)
}
