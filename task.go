package taskgrid

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/vk/taskgrid/internal/taskkey"
)

// Task is one declared unit of deferred computation. Constructors (Kind.New)
// run eagerly during graph construction and must only declare dependencies
// and parameters; the actual work happens in Compute under the scheduler.
type Task interface {
	// Requires returns the named upstream futures this instance depends on.
	// It is consulted once, right after construction.
	Requires() map[string]Future
	// Compute produces the task's result from the resolved upstream values.
	// The result must be serializable by the configured codec, unless the
	// task's kind is interactive.
	Compute(ctx context.Context, tc *TaskContext, in Inputs) (any, error)
}

// Kind describes a registered task type. Its Name is the stable type
// identifier used in task keys and as the leading label of every instance.
type Kind struct {
	// Name uniquely identifies the kind within a registry.
	Name string
	// New constructs one task instance from canonical arguments, declaring
	// its dependencies. It must not perform the task's computation.
	New func(args []any) (Task, error)
	// Labels are concurrency/dispatch tags attached to every instance, after
	// the implicit leading Name label.
	Labels []string
	// CompressLevel is the cache payload compression level; zero means the
	// codec default.
	CompressLevel int
	// Interactive marks tasks whose results are never cached, so they
	// execute on every run.
	Interactive bool
}

// Registry maps stable kind names to task constructors.
type Registry struct {
	kinds map[string]Kind
}

// NewRegistry returns an empty kind registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Kind)}
}

// Register adds a kind to the registry. Registering an unnamed kind, a kind
// without a constructor, or a duplicate name is a programming error.
func (r *Registry) Register(k Kind) error {
	if k.Name == "" {
		return fmt.Errorf("kind name must not be empty")
	}
	if k.New == nil {
		return fmt.Errorf("kind %q has no constructor", k.Name)
	}
	if _, ok := r.kinds[k.Name]; ok {
		return fmt.Errorf("kind %q already registered", k.Name)
	}
	r.kinds[k.Name] = k
	return nil
}

// MustRegister is Register, panicking on error. Intended for package-level
// kind tables.
func (r *Registry) MustRegister(k Kind) {
	if err := r.Register(k); err != nil {
		panic(err)
	}
}

func (r *Registry) kind(name string) (Kind, bool) {
	k, ok := r.kinds[name]
	return k, ok
}

// Inputs holds the resolved upstream values of a task, keyed by the names the
// task declared in Requires.
type Inputs map[string]any

// Value returns the raw resolved value for name, nil when absent.
func (in Inputs) Value(name string) any {
	return in[name]
}

// Int returns the value for name coerced to int. Numeric values arrive in
// codec-normalized form, so the concrete type varies with the codec.
func (in Inputs) Int(name string) int {
	switch v := in[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Float64 returns the value for name coerced to float64.
func (in Inputs) Float64(name string) float64 {
	switch v := in[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	}
	return 0
}

// String returns the value for name coerced to string.
func (in Inputs) String(name string) string {
	if v, ok := in[name].(string); ok {
		return v
	}
	return ""
}

// Bool returns the value for name coerced to bool.
func (in Inputs) Bool(name string) bool {
	if v, ok := in[name].(bool); ok {
		return v
	}
	return false
}

// TaskContext exposes the per-dispatch environment to a running task.
type TaskContext struct {
	key    taskkey.Key
	dir    string
	prefix []string
}

// Key returns the canonical identity of the running task instance.
func (tc *TaskContext) Key() string {
	return tc.key.String()
}

// Dir returns the task's working directory inside the cache. The directory
// persists across runs until the task's record is cleared.
func (tc *TaskContext) Dir() string {
	return tc.dir
}

// Prefix returns the dispatch-prefix command template selected for this
// task, nil when no label carries one.
func (tc *TaskContext) Prefix() []string {
	return tc.prefix
}

// Command builds an exec.Cmd for name and args, wrapped in the task's
// dispatch prefix when one applies (e.g. a cluster submission wrapper).
func (tc *TaskContext) Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	if len(tc.prefix) == 0 {
		return exec.CommandContext(ctx, name, args...)
	}
	argv := make([]string, 0, len(tc.prefix)+1+len(args))
	argv = append(argv, tc.prefix...)
	argv = append(argv, name)
	argv = append(argv, args...)
	return exec.CommandContext(ctx, argv[0], argv[1:]...)
}
