package taskgrid

import "github.com/vk/taskgrid/internal/taskerr"

// The error taxonomy of a run. Construction-time errors
// (InvalidArgumentError, CycleError) abort graph building before any
// execution; runtime errors are recorded per node, cascade as Skipped to
// dependents, and are aggregated into a RunError at the end of the run.
// Match them with errors.As.
type (
	// InvalidArgumentError reports a task argument that is neither a
	// serializable primitive/container nor a Future.
	InvalidArgumentError = taskerr.InvalidArgumentError
	// CycleError reports a self-referential dependency detected during
	// construction.
	CycleError = taskerr.CycleError
	// CacheMissError reports a load of an absent cache record.
	CacheMissError = taskerr.CacheMissError
	// TaskRuntimeError wraps an error returned by a compute operation.
	TaskRuntimeError = taskerr.TaskRuntimeError
	// SkippedError marks a node cancelled by an upstream failure.
	SkippedError = taskerr.SkippedError
	// RunError aggregates every TaskRuntimeError reachable from the root.
	RunError = taskerr.RunError
)
