// Package taskerr defines the error taxonomy shared by the graph builder,
// cache store, and scheduler.
package taskerr

import (
	"fmt"
	"strings"
)

// InvalidArgumentError reports a task constructor argument that is neither a
// serializable primitive/container nor a graph reference. It is a
// construction-time programming error: graph building aborts before any
// execution.
type InvalidArgumentError struct {
	TaskType string
	Reason   string
	Err      error
}

func (e *InvalidArgumentError) Error() string {
	msg := fmt.Sprintf("invalid argument for task %q: %s", e.TaskType, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidArgumentError) Unwrap() error { return e.Err }

// CycleError reports a dependency chain that revisits its own key during
// graph construction. Path holds the construction stack, outermost first,
// ending with the repeated key.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// CacheMissError reports a load of an absent cache record. The scheduler
// never triggers it; it surfaces only when a caller bypasses the scheduler
// and reads the store directly.
type CacheMissError struct {
	Key string
}

func (e *CacheMissError) Error() string {
	return fmt.Sprintf("cache miss for %s", e.Key)
}

// TaskRuntimeError wraps a failure raised by a task's compute operation.
type TaskRuntimeError struct {
	Key string
	Err error
}

func (e *TaskRuntimeError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Key, e.Err)
}

func (e *TaskRuntimeError) Unwrap() error { return e.Err }

// SkippedError marks a node that was never dispatched because an upstream
// node failed.
type SkippedError struct {
	Key      string
	Upstream string
}

func (e *SkippedError) Error() string {
	return fmt.Sprintf("task %s skipped due to upstream failure of %s", e.Key, e.Upstream)
}

// RunError aggregates every task failure reachable from the root of a run.
// The run completes all independent branches before reporting it.
type RunError struct {
	Failures []*TaskRuntimeError
}

func (e *RunError) Error() string {
	keys := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		keys[i] = f.Key
	}
	return fmt.Sprintf("run failed: %d task(s) failed: %s", len(e.Failures), strings.Join(keys, ", "))
}

// Unwrap exposes the individual task failures to errors.Is/errors.As.
func (e *RunError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}
