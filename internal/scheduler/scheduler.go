// Package scheduler walks the dirty set of an execution graph in dependency
// order, dispatching ready nodes to a worker pool under concurrency limits
// and cascading failures to dependents.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/taskgrid/internal/cachestore"
	"github.com/vk/taskgrid/internal/ctxlog"
	"github.com/vk/taskgrid/internal/node"
	"github.com/vk/taskgrid/internal/plan"
	"github.com/vk/taskgrid/internal/taskerr"
	"github.com/vk/taskgrid/internal/taskkey"
)

// Config tunes one run of the scheduler.
type Config struct {
	// Executor is the dispatch backend. Its capacity is the global
	// concurrency cap.
	Executor Executor
	// RateLimits caps concurrent executions per label. Every label attached
	// to a node must have a free slot before the node is dispatched.
	RateLimits map[string]int
	// Prefixes maps labels to dispatch-prefix command templates. When a node
	// carries several labels with prefixes, the first-declared label wins.
	Prefixes map[string][]string
}

// Stats aggregates the observable counters of one run.
type Stats struct {
	// Executed counts task nodes dispatched this run (synthetic
	// aggregate/projection nodes are not counted).
	Executed int
	// CacheHits counts task nodes resolved from the cache without dispatch.
	CacheHits int
	// Failed counts task nodes whose compute operation returned an error.
	Failed int
	// Skipped counts nodes cancelled because an upstream node failed.
	Skipped int
	// ExecutedByType breaks Executed down by task type.
	ExecutedByType map[string]int
	// WallTime is the elapsed time of the execute phase.
	WallTime time.Duration
}

// Scheduler executes the dirty portion of a graph against a cache store.
type Scheduler struct {
	store    *cachestore.Store
	exec     Executor
	limits   *limiter
	prefixes map[string][]string
}

// New validates the configuration and returns a Scheduler.
func New(store *cachestore.Store, cfg Config) (*Scheduler, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("scheduler requires an executor")
	}
	limits, err := newLimiter(cfg.RateLimits)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		store:    store,
		exec:     cfg.Executor,
		limits:   limits,
		prefixes: cfg.Prefixes,
	}, nil
}

// completion is the message a finished job sends back to the controller.
type completion struct {
	n     *node.Node
	value any
	err   error
}

// Execute resolves every node reachable from root and returns the root's
// value. Nodes outside the dirty set are resolved from the cache up front;
// dirty nodes are dispatched in dependency order.
//
// The controller goroutine owns all node-state transitions. It suspends only
// while awaiting completion of at least one outstanding submission, never on
// a specific node: whichever job finishes first is drained first.
func (s *Scheduler) Execute(ctx context.Context, root *node.Node, nodes []*node.Node, dirty map[taskkey.Key]bool) (any, Stats, error) {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()
	stats := Stats{ExecutedByType: make(map[string]int)}

	order := plan.Topological(nodes)

	// Resolve the clean portion of the graph without dispatch, bottom-up so
	// synthetic nodes can reshape already-resolved upstream values.
	pending := 0
	var ready []*node.Node
	for _, n := range order {
		if !dirty[n.Key] {
			if n.Synthetic {
				v, err := n.Run(ctx, node.Env{})
				if err != nil {
					return nil, stats, fmt.Errorf("resolving %s: %w", n.Key, err)
				}
				n.SetValue(v)
			} else {
				v, err := s.store.Load(n.Key)
				if err != nil {
					return nil, stats, err
				}
				n.SetValue(v)
				stats.CacheHits++
				logger.Debug("Resolved node from cache.", "node", n.Key.String())
			}
			n.SetState(node.Done)
			continue
		}

		pending++
		var unmet int32
		for _, dep := range n.Deps {
			if dirty[dep.Key] {
				unmet++
			}
		}
		n.SetDepCount(unmet)
		if unmet == 0 {
			n.SetState(node.Ready)
			ready = append(ready, n)
		} else {
			n.SetState(node.Waiting)
		}
	}
	logger.Debug("Dirty set resolved against cache.", "pending", pending, "cacheHits", stats.CacheHits)

	// Buffered for the worst case so job goroutines never block on send.
	completions := make(chan completion, pending)
	inFlight := 0

	for pending > 0 {
		var blocked []*node.Node
		for _, n := range ready {
			if n.GetState() != node.Ready {
				continue
			}
			if !s.limits.tryAcquire(n) {
				blocked = append(blocked, n)
				continue
			}
			logger.Debug("Dispatching node.", "node", n.Key.String())
			s.dispatch(ctx, n, completions)
			inFlight++
			if !n.Synthetic {
				stats.Executed++
				stats.ExecutedByType[n.Key.Type]++
			}
		}
		ready = blocked

		if inFlight == 0 {
			return nil, stats, fmt.Errorf("scheduler stalled with %d node(s) pending", pending)
		}

		select {
		case <-ctx.Done():
			// No mid-task cancellation: drain what is already running.
			for inFlight > 0 {
				c := <-completions
				inFlight--
				s.limits.release(c.n)
			}
			return nil, stats, ctx.Err()

		case c := <-completions:
			inFlight--
			s.limits.release(c.n)
			pending--

			if c.err != nil {
				logger.Error("Node execution failed.", "node", c.n.Key.String(), "error", c.err)
				c.n.Err = &taskerr.TaskRuntimeError{Key: c.n.Key.String(), Err: c.err}
				c.n.SetState(node.Failed)
				stats.Failed++
				pending -= s.skipDependents(ctx, c.n, &stats)
				continue
			}

			c.n.SetValue(c.value)
			c.n.SetState(node.Done)
			for _, dep := range c.n.Dependents {
				if dep.GetState() == node.Waiting && dep.DecrementDepCount() == 0 {
					dep.SetState(node.Ready)
					ready = append(ready, dep)
				}
			}
		}
	}

	stats.WallTime = time.Since(start)

	var failures []*taskerr.TaskRuntimeError
	for _, n := range order {
		if n.GetState() != node.Failed {
			continue
		}
		if te, ok := n.Err.(*taskerr.TaskRuntimeError); ok {
			failures = append(failures, te)
		} else {
			failures = append(failures, &taskerr.TaskRuntimeError{Key: n.Key.String(), Err: n.Err})
		}
	}

	if root.GetState() == node.Failed {
		return nil, stats, root.Err
	}
	if len(failures) > 0 {
		return nil, stats, &taskerr.RunError{Failures: failures}
	}
	return root.Value(), stats, nil
}

// dispatch submits one ready node to the executor. It always produces exactly
// one message on completions.
func (s *Scheduler) dispatch(ctx context.Context, n *node.Node, completions chan<- completion) {
	env := node.Env{Prefix: prefixFor(n, s.prefixes)}
	if !n.Synthetic {
		dir, err := s.store.TaskDir(n.Key)
		if err != nil {
			n.SetState(node.Running)
			completions <- completion{n: n, err: err}
			return
		}
		env.WorkDir = dir
	}

	n.SetState(node.Running)
	s.exec.Submit(func() {
		v, err := n.Run(ctx, env)
		if err == nil && n.Cacheable() {
			err = s.store.Store(n.Key, v, n.CompressLevel)
		}
		if err == nil && !n.Synthetic {
			// Normalize through the codec so dependents see the same
			// representation a cache load would produce.
			v, err = s.store.Roundtrip(v)
		}
		completions <- completion{n: n, value: v, err: err}
	})
}

// skipDependents transitively marks every not-yet-dispatched dependent of a
// failed node as Skipped and returns how many nodes it retired.
func (s *Scheduler) skipDependents(ctx context.Context, n *node.Node, stats *Stats) int {
	logger := ctxlog.FromContext(ctx)
	retired := 0
	for _, dep := range n.Dependents {
		st := dep.GetState()
		if st.Terminal() || st == node.Running {
			continue
		}
		logger.Warn("Skipping dependent node due to upstream failure.", "node", dep.Key.String(), "upstream", n.Key.String())
		dep.SetState(node.Skipped)
		dep.Err = &taskerr.SkippedError{Key: dep.Key.String(), Upstream: n.Key.String()}
		stats.Skipped++
		retired++
		retired += s.skipDependents(ctx, dep, stats)
	}
	return retired
}
