// Package app holds the long-lived clients the fleet commands share, acting as
// a dependency injection container. Clients are built on first use and closed
// together by Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/autoscale"
	"github.com/JakeFAU/crawler-fleet/internal/barrier"
	"github.com/JakeFAU/crawler-fleet/internal/clock/system"
	"github.com/JakeFAU/crawler-fleet/internal/config"
	"github.com/JakeFAU/crawler-fleet/internal/depth"
	"github.com/JakeFAU/crawler-fleet/internal/finalize"
	"github.com/JakeFAU/crawler-fleet/internal/fleet"
	"github.com/JakeFAU/crawler-fleet/internal/id/uuid"
	"github.com/JakeFAU/crawler-fleet/internal/ledger/postgres"
	"github.com/JakeFAU/crawler-fleet/internal/lifecycle"
	pubmemory "github.com/JakeFAU/crawler-fleet/internal/publisher/memory"
	"github.com/JakeFAU/crawler-fleet/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/crawler-fleet/internal/queue/memory"
	queueredis "github.com/JakeFAU/crawler-fleet/internal/queue/redis"
	"github.com/JakeFAU/crawler-fleet/internal/readiness"
	"github.com/JakeFAU/crawler-fleet/internal/runtime/docker"
	rtmemory "github.com/JakeFAU/crawler-fleet/internal/runtime/memory"
	storememory "github.com/JakeFAU/crawler-fleet/internal/store/memory"
	storeredis "github.com/JakeFAU/crawler-fleet/internal/store/redis"
)

const (
	dockerStopTimeout = 10 * time.Second
	dryRunQueueSize   = 10_000
)

// Options tweaks how clients are built.
type Options struct {
	// DryRun swaps Redis, Docker, Postgres and Pub/Sub for in-process fakes.
	DryRun bool
}

// App is the DI container.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	opts   Options
	clock  *system.Clock
	ids    *uuid.Generator

	mu        sync.Mutex
	store     fleet.MetricsStore
	redis     *storeredis.Store
	queue     fleet.TaskQueue
	runtime   fleet.Orchestrator
	ledger    fleet.BatchLedger
	ledgerSet bool
	publisher fleet.Publisher
	closers   []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// New creates an App. Nothing is dialed until first use.
func New(cfg config.Config, logger *zap.Logger, opts Options) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		opts:   opts,
		clock:  system.New(),
		ids:    uuid.New(),
	}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Clock returns the wall clock.
func (a *App) Clock() fleet.Clock { return a.clock }

// IDs returns the shared id generator.
func (a *App) IDs() *uuid.Generator { return a.ids }

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Store returns the shared metrics store.
func (a *App) Store(ctx context.Context) (fleet.MetricsStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.storeLocked(ctx)
}

func (a *App) storeLocked(ctx context.Context) (fleet.MetricsStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	if a.opts.DryRun {
		a.store = storememory.New()
		return a.store, nil
	}
	s, err := storeredis.Connect(ctx, storeredis.Options{
		Addr:           a.cfg.Redis.Addr(),
		Password:       a.cfg.Redis.Password,
		DB:             a.cfg.Redis.DB,
		ConnectTimeout: a.cfg.Redis.ConnectTimeout,
	}, a.logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	a.redis = s
	a.store = s
	a.addCloser("store", s.Close)
	return a.store, nil
}

// Queue returns the job queue, sharing the store's Redis connection.
func (a *App) Queue(ctx context.Context) (fleet.TaskQueue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.queue != nil {
		return a.queue, nil
	}
	if a.opts.DryRun {
		q := queuememory.NewQueue(dryRunQueueSize)
		a.queue = q
		a.addCloser("queue", func() error { q.Close(); return nil })
		return a.queue, nil
	}
	if _, err := a.storeLocked(ctx); err != nil {
		return nil, err
	}
	q, err := queueredis.New(a.redis.Client(), a.cfg.Queue.Name)
	if err != nil {
		return nil, fmt.Errorf("init queue: %w", err)
	}
	a.queue = q
	return a.queue, nil
}

// Runtime returns the container runtime.
func (a *App) Runtime() (fleet.Orchestrator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtime != nil {
		return a.runtime, nil
	}
	if a.opts.DryRun || a.cfg.Autoscale.Runtime == "memory" {
		a.runtime = rtmemory.New(a.clock.Now)
		return a.runtime, nil
	}
	rt, err := docker.New(dockerStopTimeout)
	if err != nil {
		return nil, fmt.Errorf("init docker runtime: %w", err)
	}
	a.runtime = rt
	a.addCloser("docker", rt.Close)
	return a.runtime, nil
}

// Ledger returns the batch ledger, or nil when none is configured.
func (a *App) Ledger(ctx context.Context) (fleet.BatchLedger, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ledgerSet {
		return a.ledger, nil
	}
	if a.opts.DryRun || a.cfg.Ledger.DSN == "" {
		a.ledgerSet = true
		return nil, nil
	}
	l, err := postgres.New(ctx, postgres.Config{
		DSN:      a.cfg.Ledger.DSN,
		Table:    a.cfg.Ledger.Table,
		MaxConns: a.cfg.Ledger.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	if err := l.EnsureSchema(ctx); err != nil {
		l.Close()
		return nil, err
	}
	a.ledger = l
	a.ledgerSet = true
	a.addCloser("ledger", func() error { l.Close(); return nil })
	return a.ledger, nil
}

// Publisher returns the notification publisher. Without a Pub/Sub project the
// notifications are kept in memory.
func (a *App) Publisher(ctx context.Context) (fleet.Publisher, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.publisher != nil {
		return a.publisher, nil
	}
	if a.opts.DryRun || a.cfg.PubSub.ProjectID == "" {
		a.publisher = pubmemory.New()
		return a.publisher, nil
	}
	p, err := pubsub.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.Finalize.Topic)
	if err != nil {
		return nil, fmt.Errorf("init publisher: %w", err)
	}
	a.publisher = p
	a.addCloser("publisher", p.Close)
	return a.publisher, nil
}

// Readiness builds the readiness coordinator.
func (a *App) Readiness(ctx context.Context) (*readiness.Coordinator, error) {
	s, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	return readiness.New(s, a.logger.Named("readiness")), nil
}

// FinalizeChain builds the finalization chain: one API step per configured
// endpoint, then notify, then log.
func (a *App) FinalizeChain(ctx context.Context) (*finalize.Chain, error) {
	var steps []finalize.Step
	if a.cfg.Finalize.APIURL != "" {
		client := finalize.NewAPIClient(finalize.APIConfig{
			BaseURL:  a.cfg.Finalize.APIURL,
			Username: a.cfg.Finalize.Username,
			Password: a.cfg.Finalize.Password,
			Timeout:  a.cfg.Finalize.Timeout,
		}, a.logger.Named("finalize"))
		for _, endpoint := range a.cfg.Finalize.Endpoints {
			steps = append(steps, finalize.NewAPIStep(client, endpoint))
		}
	}
	switch {
	case a.cfg.Finalize.Topic == "":
	case a.cfg.PubSub.ProjectID == "" && !a.opts.DryRun:
		a.logger.Warn("finalize.topic is set but pubsub.project_id is empty; batch notifications disabled",
			zap.String("topic", a.cfg.Finalize.Topic),
		)
	default:
		pub, err := a.Publisher(ctx)
		if err != nil {
			return nil, err
		}
		steps = append(steps, finalize.NewNotifyStep(pub, a.cfg.Finalize.Topic, a.clock))
	}
	steps = append(steps, finalize.NewLogStep(a.logger.Named("finalize")))
	chain := finalize.NewChain(a.logger.Named("finalize"), steps...)
	a.logger.Debug("finalization chain built", zap.Strings("steps", chain.Steps()))
	return chain, nil
}

// Barrier builds the task-completion barrier.
func (a *App) Barrier(ctx context.Context) (*barrier.Barrier, error) {
	s, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	ready, err := a.Readiness(ctx)
	if err != nil {
		return nil, err
	}
	chain, err := a.FinalizeChain(ctx)
	if err != nil {
		return nil, err
	}
	b := barrier.New(s, ready, chain, a.clock, a.ids, a.logger.Named("barrier"))
	ledger, err := a.Ledger(ctx)
	if err != nil {
		return nil, err
	}
	if ledger != nil {
		b.WithLedger(ledger)
	}
	return b, nil
}

// Manager builds the lifecycle manager.
func (a *App) Manager() (*lifecycle.Manager, error) {
	rt, err := a.Runtime()
	if err != nil {
		return nil, err
	}
	nanoCPUs, memBytes, err := docker.ParseResources(a.cfg.Worker.CPUs, a.cfg.Worker.Memory)
	if err != nil {
		return nil, err
	}
	return lifecycle.New(rt, a.ids, lifecycle.Config{
		NamePrefix:     a.cfg.Worker.NamePrefix,
		Image:          a.cfg.Worker.Image,
		Network:        a.cfg.Worker.Network,
		Env:            a.workerEnv(),
		Command:        a.cfg.Worker.Command,
		InspectCommand: a.cfg.Worker.InspectCommand,
		NanoCPUs:       nanoCPUs,
		MemoryBytes:    memBytes,
		SettleDelay:    a.cfg.Autoscale.SettleDelay,
	}, a.logger.Named("lifecycle")), nil
}

// workerEnv passes the store location to workers under the legacy names.
func (a *App) workerEnv() []string {
	env := make([]string, 0, len(a.cfg.Worker.Env)+2)
	env = append(env,
		"REDIS_HOST="+a.cfg.Redis.Host,
		fmt.Sprintf("REDIS_PORT=%d", a.cfg.Redis.Port),
	)
	return append(env, a.cfg.Worker.Env...)
}

// DepthReader builds the queue-depth reader for the configured source.
func (a *App) DepthReader(ctx context.Context) (*depth.Reader, error) {
	var src depth.Source
	switch a.cfg.Depth.Source {
	case config.SourceFile:
		src = depth.NewFileSource(a.cfg.Depth.File)
	default:
		s, err := a.Store(ctx)
		if err != nil {
			return nil, err
		}
		src = depth.NewStoreSource(s)
	}
	return depth.NewReader(src, depth.ReaderConfig{
		Attempts: a.cfg.Depth.RetryAttempts,
		Delay:    a.cfg.Depth.RetryDelay,
	}, a.logger.Named("depth")), nil
}

// Sampler builds the queue-depth sampler with the sinks for metrics.env.
func (a *App) Sampler(ctx context.Context) (*depth.Sampler, error) {
	q, err := a.Queue(ctx)
	if err != nil {
		return nil, err
	}
	s, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	sinks := []depth.Sink{depth.NewStoreSink(s)}
	switch a.cfg.Metrics.Env {
	case config.EnvPro:
		sinks = append(sinks, depth.NewPushSink(a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.PushJob, a.cfg.Queue.Name))
	default:
		sinks = append(sinks, depth.NewFileSink(a.cfg.Depth.File))
	}
	return depth.NewSampler(q, a.clock, a.cfg.Depth.SampleInterval, a.logger.Named("sampler"), sinks...), nil
}

// Policy returns the autoscaling policy from config.
func (a *App) Policy() autoscale.Policy {
	return autoscale.Policy{
		MinWorkers:         a.cfg.Autoscale.MinWorkers,
		MaxWorkers:         a.cfg.Autoscale.MaxWorkers,
		ScaleUpThreshold:   a.cfg.Autoscale.ScaleUpThreshold,
		ScaleDownThreshold: a.cfg.Autoscale.ScaleDownThreshold,
	}
}

// Close releases every client in reverse construction order.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("error closing client", zap.String("client", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
