package depth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
	"github.com/JakeFAU/crawler-fleet/internal/store"
)

// Sink receives every queue depth sample.
type Sink interface {
	Name() string
	Publish(ctx context.Context, sample fleet.QueueDepthSample) error
}

// StoreSink writes samples to the shared metrics store.
type StoreSink struct {
	store fleet.MetricsStore
}

// NewStoreSink builds a StoreSink.
func NewStoreSink(s fleet.MetricsStore) *StoreSink {
	return &StoreSink{store: s}
}

// Name implements Sink.
func (*StoreSink) Name() string { return "store" }

// Publish implements Sink.
func (s *StoreSink) Publish(ctx context.Context, sample fleet.QueueDepthSample) error {
	return s.store.MSet(ctx, map[string]string{
		fleet.KeyQueueLength:           store.FormatInt(sample.Value),
		fleet.KeyQueueLengthObservedAt: sample.ObservedAt.UTC().Format(time.RFC3339Nano),
	})
}

// FileSink overwrites a local JSON snapshot of the form {"queue_length": n}.
type FileSink struct {
	path string
}

// NewFileSink builds a FileSink for path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Name implements Sink.
func (*FileSink) Name() string { return "file" }

// Publish writes to a temp file in the same directory and renames it over the
// snapshot so readers never observe a partial write.
func (s *FileSink) Publish(_ context.Context, sample fleet.QueueDepthSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".queue-depth-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// PushSink reports samples to a Prometheus Pushgateway.
type PushSink struct {
	gauge  prometheus.Gauge
	pusher *push.Pusher
}

// NewPushSink builds a PushSink grouped by queue name.
func NewPushSink(gatewayURL, job, queueName string) *PushSink {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_queue_length",
		Help: "Length of the crawler job queue.",
	})
	return &PushSink{
		gauge:  gauge,
		pusher: push.New(gatewayURL, job).Collector(gauge).Grouping("queue", queueName),
	}
}

// Name implements Sink.
func (*PushSink) Name() string { return "pushgateway" }

// Publish implements Sink.
func (s *PushSink) Publish(ctx context.Context, sample fleet.QueueDepthSample) error {
	s.gauge.Set(float64(sample.Value))
	if err := s.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push queue length: %w", err)
	}
	return nil
}
