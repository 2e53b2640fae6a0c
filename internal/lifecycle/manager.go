// Package lifecycle creates and destroys worker containers on behalf of the
// autoscaler.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
	"github.com/JakeFAU/crawler-fleet/internal/metrics"
)

const (
	suffixLen  = 6
	nameSuffix = "_container"
)

// SuffixGenerator produces the random part of a worker name.
type SuffixGenerator interface {
	NewSuffix(n int) (string, error)
}

// Config describes the worker containers the manager launches.
type Config struct {
	NamePrefix     string
	Image          string
	Network        string
	Env            []string
	Command        []string
	InspectCommand []string
	NanoCPUs       int64
	MemoryBytes    int64
	// SettleDelay is waited after every create and every removal.
	SettleDelay time.Duration
}

// Manager owns the set of worker containers. Calls to ScaleTo are serialized.
type Manager struct {
	runtime fleet.Orchestrator
	ids     SuffixGenerator
	cfg     Config
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
}

// New constructs a Manager.
func New(runtime fleet.Orchestrator, ids SuffixGenerator, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		runtime: runtime,
		ids:     ids,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Workers lists active workers, oldest first.
func (m *Manager) Workers(ctx context.Context) ([]fleet.WorkerRecord, error) {
	all, err := m.runtime.List(ctx, m.cfg.NamePrefix)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	active := make([]fleet.WorkerRecord, 0, len(all))
	for _, rec := range all {
		if !strings.HasPrefix(rec.Name, m.cfg.NamePrefix) || !rec.Status.Active() {
			continue
		}
		active = append(active, rec)
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].Name < active[j].Name
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

// Count returns the number of active workers.
func (m *Manager) Count(ctx context.Context) (int, error) {
	workers, err := m.Workers(ctx)
	if err != nil {
		return 0, err
	}
	return len(workers), nil
}

// ScaleTo adds or removes workers until the active count equals desired,
// returning the count it believes resulted. Individual failures are logged
// and skipped; the next call corrects any shortfall.
func (m *Manager) ScaleTo(ctx context.Context, desired int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	workers, err := m.Workers(ctx)
	if err != nil {
		return 0, err
	}
	current := len(workers)
	switch {
	case desired > current:
		created := m.scaleUp(ctx, desired-current)
		return current + created, ctx.Err()
	case desired < current:
		removed := m.scaleDown(ctx, workers, current-desired)
		return current - removed, ctx.Err()
	default:
		return current, nil
	}
}

func (m *Manager) scaleUp(ctx context.Context, n int) int {
	created := 0
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		if m.createOne(ctx) {
			created++
		}
		if err := m.sleep(ctx, m.cfg.SettleDelay); err != nil {
			break
		}
	}
	return created
}

func (m *Manager) createOne(ctx context.Context) bool {
	suffix, err := m.ids.NewSuffix(suffixLen)
	if err != nil {
		m.logger.Error("generate worker name failed", zap.Error(err))
		metrics.ObserveLifecycleFailure("create")
		return false
	}
	name := m.cfg.NamePrefix + suffix + nameSuffix

	existing, err := m.runtime.List(ctx, name)
	if err != nil {
		m.logger.Error("check existing worker failed", zap.String("name", name), zap.Error(err))
		metrics.ObserveLifecycleFailure("create")
		return false
	}
	for _, rec := range existing {
		if rec.Name == name {
			m.logger.Warn("worker already exists, skipping", zap.String("name", name))
			return false
		}
	}

	rec, err := m.runtime.Create(ctx, fleet.WorkerSpec{
		Name:        name,
		Image:       m.cfg.Image,
		Network:     m.cfg.Network,
		Env:         m.cfg.Env,
		Command:     m.cfg.Command,
		NanoCPUs:    m.cfg.NanoCPUs,
		MemoryBytes: m.cfg.MemoryBytes,
	})
	if err != nil {
		m.logger.Error("create worker failed", zap.String("name", name), zap.Error(err))
		metrics.ObserveLifecycleFailure("create")
		return false
	}
	m.logger.Info("worker started", zap.String("name", rec.Name), zap.String("id", rec.ID))
	return true
}

func (m *Manager) scaleDown(ctx context.Context, oldestFirst []fleet.WorkerRecord, n int) int {
	if n > len(oldestFirst) {
		n = len(oldestFirst)
	}
	removed := 0
	for _, rec := range oldestFirst[:n] {
		if ctx.Err() != nil {
			break
		}
		if m.removeOne(ctx, rec) {
			removed++
		}
		if err := m.sleep(ctx, m.cfg.SettleDelay); err != nil {
			break
		}
	}
	return removed
}

func (m *Manager) removeOne(ctx context.Context, rec fleet.WorkerRecord) bool {
	if err := m.runtime.Stop(ctx, rec.ID); err != nil {
		m.logger.Error("stop worker failed", zap.String("name", rec.Name), zap.Error(err))
		metrics.ObserveLifecycleFailure("stop")
		return false
	}
	if err := m.runtime.Remove(ctx, rec.ID); err != nil {
		m.logger.Error("remove worker failed", zap.String("name", rec.Name), zap.Error(err))
		metrics.ObserveLifecycleFailure("remove")
		return false
	}
	m.logger.Info("worker removed", zap.String("name", rec.Name), zap.String("id", rec.ID))
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
