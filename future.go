package taskgrid

// Future is a resolvable handle to a value, abstracting over tasks,
// constants, aggregates and projections. Futures are declared eagerly during
// graph construction and resolve to concrete values only once the scheduler
// has executed (or cache-loaded) the nodes they depend on.
type Future interface {
	isFuture()
}

// TaskFuture references one task instance by kind name and constructor
// arguments. Arguments may be primitives, containers of primitives, or other
// Futures; a nested Future contributes the identity of the node it points
// to, never its value.
type TaskFuture struct {
	kind string
	args []any
}

// NewTask declares a reference to a task of the given registered kind.
func NewTask(kind string, args ...any) *TaskFuture {
	return &TaskFuture{kind: kind, args: args}
}

// Kind returns the referenced task kind name.
func (f *TaskFuture) Kind() string { return f.kind }

// At projects one element out of the task's resolved mapping or sequence.
func (f *TaskFuture) At(key any) *Projection {
	return &Projection{origin: f, path: []any{key}}
}

func (f *TaskFuture) isFuture() {}

// ConstFuture wraps a precomputed value with no upstream dependencies.
type ConstFuture struct {
	value any
}

// Const declares a future that resolves immediately to v. The value must be
// canonically encodable (primitives and containers of primitives).
func Const(v any) *ConstFuture {
	return &ConstFuture{value: v}
}

// At projects one element out of the constant's mapping or sequence.
func (f *ConstFuture) At(key any) *Projection {
	return &Projection{origin: f, path: []any{key}}
}

func (f *ConstFuture) isFuture() {}

// Projection extracts one element from another Future's resolved mapping or
// sequence while still depending on it. Projections chain: f.At("a").At(0).
type Projection struct {
	origin Future
	path   []any
}

// At extends the projection path by one element.
func (f *Projection) At(key any) *Projection {
	path := make([]any, len(f.path), len(f.path)+1)
	copy(path, f.path)
	return &Projection{origin: f.origin, path: append(path, key)}
}

func (f *Projection) isFuture() {}

// ListFuture resolves elementwise from its constituent futures into a slice.
type ListFuture struct {
	items []Future
}

// List aggregates several futures into one that resolves to a []any.
func List(items ...Future) *ListFuture {
	return &ListFuture{items: items}
}

func (f *ListFuture) isFuture() {}

// DictFuture resolves elementwise from its constituent futures into a
// string-keyed map.
type DictFuture struct {
	items map[string]Future
}

// Dict aggregates a map of futures into one that resolves to a
// map[string]any.
func Dict(items map[string]Future) *DictFuture {
	return &DictFuture{items: items}
}

func (f *DictFuture) isFuture() {}
