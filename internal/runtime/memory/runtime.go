// Package memory provides an in-process container runtime for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

// Runtime records workers in a map instead of starting containers.
type Runtime struct {
	mu      sync.Mutex
	now     func() time.Time
	seq     int
	last    time.Time
	workers map[string]*worker

	// Optional failure hooks consulted before each operation.
	CreateErr func(spec fleet.WorkerSpec) error
	StopErr   func(id string) error
	RemoveErr func(id string) error
}

type worker struct {
	rec    fleet.WorkerRecord
	spec   fleet.WorkerSpec
	output string
	err    error
}

// New returns an empty Runtime. now may be nil.
func New(now func() time.Time) *Runtime {
	if now == nil {
		now = time.Now
	}
	return &Runtime{now: now, workers: make(map[string]*worker)}
}

// List returns workers whose names start with namePrefix, oldest first.
func (r *Runtime) List(_ context.Context, namePrefix string) ([]fleet.WorkerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]fleet.WorkerRecord, 0, len(r.workers))
	for _, w := range r.workers {
		if strings.HasPrefix(w.rec.Name, namePrefix) {
			out = append(out, w.rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Create registers a running worker.
func (r *Runtime) Create(_ context.Context, spec fleet.WorkerSpec) (fleet.WorkerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		if err := r.CreateErr(spec); err != nil {
			return fleet.WorkerRecord{}, err
		}
	}
	for _, w := range r.workers {
		if w.rec.Name == spec.Name {
			return fleet.WorkerRecord{}, fmt.Errorf("container name %q already in use", spec.Name)
		}
	}
	r.seq++
	created := r.now().UTC()
	if !created.After(r.last) {
		created = r.last.Add(time.Nanosecond)
	}
	r.last = created
	rec := fleet.WorkerRecord{
		ID:        fmt.Sprintf("mem-%d", r.seq),
		Name:      spec.Name,
		CreatedAt: created,
		Status:    fleet.WorkerRunning,
	}
	r.workers[rec.ID] = &worker{rec: rec, spec: spec}
	return rec, nil
}

// Stop marks a worker stopped.
func (r *Runtime) Stop(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StopErr != nil {
		if err := r.StopErr(id); err != nil {
			return err
		}
	}
	w, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("no such container: %s", id)
	}
	w.rec.Status = fleet.WorkerStopped
	return nil
}

// Remove forgets a worker.
func (r *Runtime) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RemoveErr != nil {
		if err := r.RemoveErr(id); err != nil {
			return err
		}
	}
	if _, ok := r.workers[id]; !ok {
		return fmt.Errorf("no such container: %s", id)
	}
	delete(r.workers, id)
	return nil
}

// Exec returns the output registered with SetExecOutput.
func (r *Runtime) Exec(_ context.Context, name string, _ []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		if w.rec.Name == name {
			return w.output, w.err
		}
	}
	return "", fmt.Errorf("no such container: %s", name)
}

// SetExecOutput scripts what Exec returns for the named worker.
func (r *Runtime) SetExecOutput(name, output string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		if w.rec.Name == name {
			w.output = output
			w.err = err
		}
	}
}

// Spec returns the spec a worker was created with.
func (r *Runtime) Spec(name string) (fleet.WorkerSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		if w.rec.Name == name {
			return w.spec, true
		}
	}
	return fleet.WorkerSpec{}, false
}

// Seed inserts a pre-existing worker record.
func (r *Runtime) Seed(rec fleet.WorkerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.CreatedAt.After(r.last) {
		r.last = rec.CreatedAt
	}
	r.workers[rec.ID] = &worker{rec: rec}
}
