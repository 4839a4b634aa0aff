// Package taskgrid decomposes a computation into small, declaratively
// dependent tasks, assembles them into a directed acyclic graph, and executes
// only the parts invalidated by change, reusing cached results elsewhere,
// optionally in parallel and under per-label concurrency limits.
//
// Task kinds are registered by stable name in a Registry; instances are
// referenced with NewTask and resolve through Futures. A Runner owns the
// on-disk cache and turns a root future into a value:
//
//	reg := taskgrid.NewRegistry()
//	reg.MustRegister(taskgrid.Kind{Name: "Choose", New: newChoose})
//
//	runner, err := taskgrid.New(taskgrid.Config{CacheDir: dir}, reg)
//	value, stats, err := runner.Run(ctx, taskgrid.NewTask("Choose", 6, 3))
package taskgrid

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vk/taskgrid/internal/cachestore"
	"github.com/vk/taskgrid/internal/ctxlog"
	"github.com/vk/taskgrid/internal/plan"
	"github.com/vk/taskgrid/internal/scheduler"
)

// Codec serializes task results into the opaque payload blobs held by the
// cache store.
type Codec = cachestore.Codec

// Executor is the pluggable dispatch backend for task execution.
type Executor = scheduler.Executor

// RunStats aggregates the observable counters of one run. It is
// observability only, never correctness-critical.
type RunStats = scheduler.Stats

// NewWorkerPool returns the default goroutine-pool executor with the given
// global concurrency cap.
func NewWorkerPool(workers int) Executor {
	return scheduler.NewPool(workers)
}

// Config is the explicit configuration of a Runner. There is no ambient or
// environment-derived state: everything a run needs is in here.
type Config struct {
	// CacheDir is the root of the on-disk cache, one subtree per task type.
	CacheDir string
	// Workers caps global concurrency when no custom Executor is set;
	// non-positive means the number of CPUs.
	Workers int
	// RateLimits caps concurrent executions per label.
	RateLimits map[string]int
	// Prefixes maps labels to dispatch-prefix command templates (external
	// command wrappers, e.g. for cluster submission). When a node carries
	// several labels with prefixes, the first-declared label's prefix wins.
	Prefixes map[string][]string
	// Executor overrides the default goroutine pool. The caller owns its
	// lifecycle.
	Executor Executor
	// Codec overrides the default CBOR+gzip payload codec.
	Codec Codec
	// Logger receives structured run logs; nil means slog.Default().
	Logger *slog.Logger
}

// Runner composes the graph builder, invalidation analyzer, cache store and
// scheduler into the single entry point of the package.
type Runner struct {
	cfg    Config
	reg    *Registry
	store  *cachestore.Store
	logger *slog.Logger
}

// New opens the cache store and returns a Runner for the given registry.
func New(cfg Config, reg *Registry) (*Runner, error) {
	if reg == nil {
		return nil, fmt.Errorf("runner requires a registry")
	}
	store, err := cachestore.New(cfg.CacheDir, cfg.Codec)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, reg: reg, store: store, logger: logger}, nil
}

// Run builds the graph reachable from root, computes the minimal dirty set
// against the cache, executes it, and returns the root's value with run
// statistics.
func (r *Runner) Run(ctx context.Context, root Future) (any, RunStats, error) {
	ctx = ctxlog.WithLogger(ctx, r.logger)

	bd, nodes, err := build(r.reg, root)
	if err != nil {
		return nil, RunStats{}, err
	}
	if bd.n == nil {
		// A constant root needs no scheduling.
		return bd.constVal, RunStats{ExecutedByType: map[string]int{}}, nil
	}
	r.logger.Debug("Task graph built.", "nodes", len(nodes))
	ctx = ctxlog.With(ctx, "root", bd.n.Key.String())

	dirty := plan.ComputeDirty(nodes, r.store.Exists)
	r.logger.Info("🚀 Starting graph execution.", "nodes", len(nodes), "dirty", len(dirty))

	exec := r.cfg.Executor
	var owned *scheduler.Pool
	if exec == nil {
		owned = scheduler.NewPool(r.cfg.Workers)
		exec = owned
	}
	defer func() {
		if owned != nil {
			owned.Close()
		}
	}()

	sched, err := scheduler.New(r.store, scheduler.Config{
		Executor:   exec,
		RateLimits: r.cfg.RateLimits,
		Prefixes:   r.cfg.Prefixes,
	})
	if err != nil {
		return nil, RunStats{}, err
	}

	value, stats, err := sched.Execute(ctx, bd.n, nodes, dirty)
	if err != nil {
		r.logger.Error("Graph execution failed.", "error", err)
		return nil, stats, err
	}
	r.logger.Info("🏁 Graph execution finished.", "executed", stats.Executed, "cacheHits", stats.CacheHits)
	return value, stats, nil
}

// ClearTask removes the cache record and working directory of one task
// instance. It needs no live graph and takes effect at the next Run.
func (r *Runner) ClearTask(f *TaskFuture) error {
	key, err := newBuildState(r.reg).keyOf(f)
	if err != nil {
		return err
	}
	return r.store.ClearOne(key)
}

// ClearAllTasks removes every cache record of the given task type.
func (r *Runner) ClearAllTasks(typeName string) error {
	return r.store.ClearAll(typeName)
}

// TaskDir returns (creating if needed) the persistent working directory of a
// task instance.
func (r *Runner) TaskDir(f *TaskFuture) (string, error) {
	key, err := newBuildState(r.reg).keyOf(f)
	if err != nil {
		return "", err
	}
	return r.store.TaskDir(key)
}
