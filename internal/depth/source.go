package depth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
	"github.com/JakeFAU/crawler-fleet/internal/store"
)

// ErrNoSample means no queue depth has been published yet.
var ErrNoSample = errors.New("no queue depth sample")

// Source yields the most recently published queue depth.
type Source interface {
	ReadDepth(ctx context.Context) (int64, error)
}

// StoreSource reads the queue_length key from the metrics store.
type StoreSource struct {
	store fleet.MetricsStore
}

// NewStoreSource builds a StoreSource.
func NewStoreSource(s fleet.MetricsStore) *StoreSource {
	return &StoreSource{store: s}
}

// ReadDepth implements Source.
func (s *StoreSource) ReadDepth(ctx context.Context) (int64, error) {
	n, ok, err := store.GetInt(ctx, s.store, fleet.KeyQueueLength)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNoSample
	}
	return n, nil
}

// FileSource reads the JSON snapshot written by FileSink.
type FileSource struct {
	path string
}

// NewFileSource builds a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// ReadDepth implements Source. An empty or missing file is ErrNoSample.
func (s *FileSource) ReadDepth(_ context.Context) (int64, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNoSample
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", s.path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return 0, ErrNoSample
	}
	var snapshot struct {
		QueueLength *int64 `json:"queue_length"`
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return 0, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if snapshot.QueueLength == nil {
		return 0, fmt.Errorf("decode %s: queue_length missing", s.path)
	}
	return *snapshot.QueueLength, nil
}
