package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

// ActiveSet tracks the sub-tasks executing in this process. When a path is
// set, every change is written there so `fleet inspect` can report it.
type ActiveSet struct {
	mu   sync.Mutex
	jobs map[string]fleet.ActiveJob
	path string
}

// NewActiveSet returns an ActiveSet persisted to path ("" disables persistence).
func NewActiveSet(path string) *ActiveSet {
	return &ActiveSet{jobs: make(map[string]fleet.ActiveJob), path: path}
}

// Add records job as running.
func (s *ActiveSet) Add(job fleet.ActiveJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return s.persistLocked()
}

// Remove forgets job id.
func (s *ActiveSet) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return s.persistLocked()
}

// List returns running jobs ordered by start time.
func (s *ActiveSet) List() []fleet.ActiveJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *ActiveSet) listLocked() []fleet.ActiveJob {
	out := make([]fleet.ActiveJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (s *ActiveSet) persistLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(s.listLocked())
	if err != nil {
		return fmt.Errorf("marshal active jobs: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".active-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// ReadActiveJobs loads the jobs persisted at path. A missing file means idle.
func ReadActiveJobs(path string) ([]fleet.ActiveJob, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var jobs []fleet.ActiveJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}
	return jobs, nil
}
