package scheduler

import (
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/vk/taskgrid/internal/node"
)

// limiter holds the per-label weighted semaphores. Every label attached to a
// node must have a free slot before the node is dispatched; slots are
// acquired at dispatch and released at completion. Labels without a
// configured limit are unlimited.
type limiter struct {
	sems map[string]*semaphore.Weighted
}

func newLimiter(rateLimits map[string]int) (*limiter, error) {
	sems := make(map[string]*semaphore.Weighted, len(rateLimits))
	for label, limit := range rateLimits {
		if limit < 1 {
			return nil, fmt.Errorf("rate limit for label %q must be at least 1, got %d", label, limit)
		}
		sems[label] = semaphore.NewWeighted(int64(limit))
	}
	return &limiter{sems: sems}, nil
}

// tryAcquire attempts to take one slot on every limited label of the node.
// It is all-or-nothing: on failure, slots acquired so far are released and
// the node stays queued.
func (l *limiter) tryAcquire(n *node.Node) bool {
	acquired := make([]*semaphore.Weighted, 0, len(n.Labels))
	for _, label := range n.Labels {
		sem, ok := l.sems[label]
		if !ok {
			continue
		}
		if !sem.TryAcquire(1) {
			for _, got := range acquired {
				got.Release(1)
			}
			return false
		}
		acquired = append(acquired, sem)
	}
	return true
}

// release returns the node's label slots.
func (l *limiter) release(n *node.Node) {
	for _, label := range n.Labels {
		if sem, ok := l.sems[label]; ok {
			sem.Release(1)
		}
	}
}

// prefixFor selects the dispatch-prefix template for a node. When several of
// the node's labels carry prefixes, the first-declared label wins.
func prefixFor(n *node.Node, prefixes map[string][]string) []string {
	for _, label := range n.Labels {
		if tpl, ok := prefixes[label]; ok {
			return tpl
		}
	}
	return nil
}
