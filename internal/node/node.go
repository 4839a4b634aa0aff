// Package node defines the vertices of the execution graph and their
// execution state.
package node

import (
	"context"
	"sync/atomic"

	"github.com/vk/taskgrid/internal/taskkey"
)

// Env carries the per-dispatch environment handed to a node's Run closure.
type Env struct {
	// WorkDir is the node's persistent working directory inside the cache,
	// empty for synthetic nodes.
	WorkDir string
	// Prefix is the dispatch-prefix command template selected for this node,
	// nil when no label carries one.
	Prefix []string
}

// RunFunc computes a node's value from its already-resolved upstream nodes.
type RunFunc func(ctx context.Context, env Env) (any, error)

// Node is a single vertex in the execution graph, representing one unit of
// deferred computation. Equal task keys always share one Node within a build,
// so sharing is structural rather than by memory identity.
type Node struct {
	// Key is the canonical structural identity of the task instance.
	Key taskkey.Key
	// Deps are the upstream nodes, in deterministic declaration order. They
	// are shared, non-owning references: several downstream nodes may point
	// at the same upstream Node.
	Deps []*Node
	// Dependents are the downstream nodes, filled in during the build.
	Dependents []*Node

	// Labels are the concurrency/dispatch tags attached to the node. The
	// task's kind name always comes first, followed by declared labels.
	Labels []string
	// CompressLevel is the payload compression level for the cache record.
	CompressLevel int
	// Interactive marks a node whose result is never stored to cache, so it
	// executes on every run.
	Interactive bool
	// Synthetic marks a zero-cost aggregate/projection node that only
	// reshapes already-resolved upstream values and has no cache record.
	Synthetic bool

	// Run produces the node's value. For synthetic nodes it reshapes
	// upstream values; for task nodes it invokes the task's compute
	// operation.
	Run RunFunc

	// Err records the failure or skip reason once the node is terminal.
	Err error

	value    any
	hasValue bool

	state    atomic.Int32
	depCount atomic.Int32
}

// State is the execution state of a node during a run.
type State int32

const (
	// Waiting means the node is dirty and has unmet upstream dependencies.
	Waiting State = iota
	// Ready means every upstream node is Done and the node awaits dispatch.
	Ready
	// Running means a worker is currently executing the node.
	Running
	// Done means the node's value is resolved, by execution or cache load.
	Done
	// Failed means the node's compute operation returned an error.
	Failed
	// Skipped means the node was never dispatched because an upstream failed.
	Skipped
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

// Terminal reports whether the state is final for the run.
func (s State) Terminal() bool {
	return s == Done || s == Failed || s == Skipped
}

// SetState atomically sets the node's execution state.
func (n *Node) SetState(s State) {
	n.state.Store(int32(s))
}

// GetState atomically retrieves the node's execution state.
func (n *Node) GetState() State {
	return State(n.state.Load())
}

// SetDepCount initializes the unmet-dependency counter before a run.
func (n *Node) SetDepCount(count int32) {
	n.depCount.Store(count)
}

// DecrementDepCount atomically decrements the dependency counter and returns
// the new value. The node becomes Ready when it reaches zero.
func (n *Node) DecrementDepCount() int32 {
	return n.depCount.Add(-1)
}

// SetValue populates the node's result slot. Only the run controller calls
// this, before any dependent is dispatched.
func (n *Node) SetValue(v any) {
	n.value = v
	n.hasValue = true
}

// Value returns the resolved result. Valid only once the node is Done.
func (n *Node) Value() any {
	return n.value
}

// HasValue reports whether the result slot has been populated.
func (n *Node) HasValue() bool {
	return n.hasValue
}

// Cacheable reports whether the node owns a cache record.
func (n *Node) Cacheable() bool {
	return !n.Synthetic && !n.Interactive
}
