package taskgrid

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/vk/taskgrid/internal/node"
	"github.com/vk/taskgrid/internal/taskerr"
	"github.com/vk/taskgrid/internal/taskkey"
)

// Reserved type names for synthetic aggregate/projection nodes.
const (
	pickKind = "__pick__"
	listKind = "__list__"
	dictKind = "__dict__"
)

// binding resolves one declared future to either a graph node or an
// immediate constant value.
type binding struct {
	n        *node.Node
	constVal any
}

func (bd *binding) value() any {
	if bd.n != nil {
		return bd.n.Value()
	}
	return bd.constVal
}

// buildState is the node registry of one graph construction. Within a build,
// equal task keys always yield the same node object, so sharing is
// structural and reproducible across processes.
type buildState struct {
	reg      *Registry
	nodes    map[taskkey.Key]*node.Node
	order    []*node.Node
	stack    []taskkey.Key
	stackSet map[taskkey.Key]bool
}

func newBuildState(reg *Registry) *buildState {
	return &buildState{
		reg:      reg,
		nodes:    make(map[taskkey.Key]*node.Node),
		stackSet: make(map[taskkey.Key]bool),
	}
}

// build instantiates the graph reachable from root. Constructors run eagerly
// here; no compute operation executes until the scheduler takes over.
func build(reg *Registry, root Future) (*binding, []*node.Node, error) {
	b := newBuildState(reg)
	bd, err := b.bind(root)
	if err != nil {
		return nil, nil, err
	}
	return bd, b.order, nil
}

// bind resolves a declared future into a graph node (building it if needed)
// or an immediate constant.
func (b *buildState) bind(f Future) (*binding, error) {
	switch f := f.(type) {
	case *TaskFuture:
		n, err := b.buildTask(f)
		if err != nil {
			return nil, err
		}
		return &binding{n: n}, nil
	case *ConstFuture:
		if _, err := taskkey.Canonicalize("__const__", []any{f.value}, nil); err != nil {
			return nil, err
		}
		return &binding{constVal: f.value}, nil
	case *Projection:
		n, err := b.buildPick(f)
		if err != nil {
			return nil, err
		}
		return &binding{n: n}, nil
	case *ListFuture:
		n, err := b.buildList(f)
		if err != nil {
			return nil, err
		}
		return &binding{n: n}, nil
	case *DictFuture:
		n, err := b.buildDict(f)
		if err != nil {
			return nil, err
		}
		return &binding{n: n}, nil
	case nil:
		return nil, fmt.Errorf("nil future")
	default:
		return nil, fmt.Errorf("unsupported future type %T", f)
	}
}

// refEncoder substitutes futures found inside task arguments by their
// canonical plain-data form, so a task's key is a pure function of graph
// topology rather than of upstream values.
func (b *buildState) refEncoder(v any) (any, bool, error) {
	f, ok := v.(Future)
	if !ok {
		return nil, false, nil
	}
	form, err := b.canonicalForm(f)
	if err != nil {
		return nil, false, err
	}
	return form, true, nil
}

func (b *buildState) canonicalForm(f Future) (any, error) {
	switch f := f.(type) {
	case *TaskFuture:
		n, err := b.buildTask(f)
		if err != nil {
			return nil, err
		}
		return map[string]any{"__task__": n.Key.Type, "__id__": n.Key.Digest()}, nil
	case *ConstFuture:
		if _, err := taskkey.Canonicalize("__const__", []any{f.value}, nil); err != nil {
			return nil, err
		}
		return map[string]any{"__const__": f.value}, nil
	case *Projection:
		origin, err := b.canonicalForm(f.origin)
		if err != nil {
			return nil, err
		}
		form := make(map[string]any)
		for k, v := range origin.(map[string]any) {
			form[k] = v
		}
		form["__path__"] = append([]any(nil), f.path...)
		return form, nil
	case *ListFuture:
		forms := make([]any, len(f.items))
		for i, item := range f.items {
			form, err := b.canonicalForm(item)
			if err != nil {
				return nil, err
			}
			forms[i] = form
		}
		return map[string]any{"__list__": forms}, nil
	case *DictFuture:
		forms := make(map[string]any, len(f.items))
		for k, item := range f.items {
			form, err := b.canonicalForm(item)
			if err != nil {
				return nil, err
			}
			forms[k] = form
		}
		return map[string]any{"__dict__": forms}, nil
	default:
		return nil, fmt.Errorf("unsupported future type %T", f)
	}
}

// buildTask builds (or returns the memoized) node for a task reference.
func (b *buildState) buildTask(f *TaskFuture) (*node.Node, error) {
	kind, ok := b.reg.kind(f.kind)
	if !ok {
		return nil, fmt.Errorf("unknown task kind %q", f.kind)
	}

	key, err := taskkey.Canonicalize(f.kind, f.args, b.refEncoder)
	if err != nil {
		return nil, err
	}
	if n, ok := b.nodes[key]; ok {
		return n, nil
	}
	if b.stackSet[key] {
		path := make([]string, 0, len(b.stack)+1)
		for _, k := range b.stack {
			path = append(path, k.String())
		}
		return nil, &taskerr.CycleError{Path: append(path, key.String())}
	}

	b.stack = append(b.stack, key)
	b.stackSet[key] = true
	defer func() {
		b.stack = b.stack[:len(b.stack)-1]
		delete(b.stackSet, key)
	}()

	task, err := kind.New(f.args)
	if err != nil {
		return nil, fmt.Errorf("constructing %s: %w", key, err)
	}

	requires := task.Requires()
	names := make([]string, 0, len(requires))
	for name := range requires {
		names = append(names, name)
	}
	sort.Strings(names)

	bindings := make(map[string]*binding, len(requires))
	var deps []*node.Node
	for _, name := range names {
		bd, err := b.bind(requires[name])
		if err != nil {
			return nil, fmt.Errorf("binding dependency %q of %s: %w", name, key, err)
		}
		bindings[name] = bd
		if bd.n != nil {
			deps = append(deps, bd.n)
		}
	}

	level := kind.CompressLevel
	if level == 0 {
		level = -1
	}
	n := &node.Node{
		Key:           key,
		Labels:        nodeLabels(kind),
		CompressLevel: level,
		Interactive:   kind.Interactive,
	}
	n.Run = func(ctx context.Context, env node.Env) (any, error) {
		in := make(Inputs, len(bindings))
		for name, bd := range bindings {
			in[name] = bd.value()
		}
		tc := &TaskContext{key: key, dir: env.WorkDir, prefix: env.Prefix}
		return task.Compute(ctx, tc, in)
	}
	b.register(n, deps)
	return n, nil
}

// buildPick builds the synthetic node for a projection.
func (b *buildState) buildPick(f *Projection) (*node.Node, error) {
	key, err := taskkey.Canonicalize(pickKind, []any{f.origin, f.path}, b.refEncoder)
	if err != nil {
		return nil, err
	}
	if n, ok := b.nodes[key]; ok {
		return n, nil
	}

	bd, err := b.bind(f.origin)
	if err != nil {
		return nil, err
	}
	path := append([]any(nil), f.path...)

	n := &node.Node{Key: key, Synthetic: true}
	n.Run = func(ctx context.Context, env node.Env) (any, error) {
		v := bd.value()
		for _, k := range path {
			next, err := indexValue(v, k)
			if err != nil {
				return nil, err
			}
			v = next
		}
		return v, nil
	}

	var deps []*node.Node
	if bd.n != nil {
		deps = append(deps, bd.n)
	}
	b.register(n, deps)
	return n, nil
}

// buildList builds the synthetic node for a list aggregate.
func (b *buildState) buildList(f *ListFuture) (*node.Node, error) {
	key, err := taskkey.Canonicalize(listKind, []any{f.items}, b.refEncoder)
	if err != nil {
		return nil, err
	}
	if n, ok := b.nodes[key]; ok {
		return n, nil
	}

	bindings := make([]*binding, len(f.items))
	var deps []*node.Node
	for i, item := range f.items {
		bd, err := b.bind(item)
		if err != nil {
			return nil, err
		}
		bindings[i] = bd
		if bd.n != nil {
			deps = append(deps, bd.n)
		}
	}

	n := &node.Node{Key: key, Synthetic: true}
	n.Run = func(ctx context.Context, env node.Env) (any, error) {
		out := make([]any, len(bindings))
		for i, bd := range bindings {
			out[i] = bd.value()
		}
		return out, nil
	}
	b.register(n, deps)
	return n, nil
}

// buildDict builds the synthetic node for a dict aggregate.
func (b *buildState) buildDict(f *DictFuture) (*node.Node, error) {
	key, err := taskkey.Canonicalize(dictKind, []any{f.items}, b.refEncoder)
	if err != nil {
		return nil, err
	}
	if n, ok := b.nodes[key]; ok {
		return n, nil
	}

	bindings := make(map[string]*binding, len(f.items))
	var deps []*node.Node
	names := make([]string, 0, len(f.items))
	for name := range f.items {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bd, err := b.bind(f.items[name])
		if err != nil {
			return nil, err
		}
		bindings[name] = bd
		if bd.n != nil {
			deps = append(deps, bd.n)
		}
	}

	n := &node.Node{Key: key, Synthetic: true}
	n.Run = func(ctx context.Context, env node.Env) (any, error) {
		out := make(map[string]any, len(bindings))
		for name, bd := range bindings {
			out[name] = bd.value()
		}
		return out, nil
	}
	b.register(n, deps)
	return n, nil
}

// register records a freshly built node, wiring deduplicated upstream and
// downstream references.
func (b *buildState) register(n *node.Node, deps []*node.Node) {
	seen := make(map[taskkey.Key]bool, len(deps))
	for _, dep := range deps {
		if seen[dep.Key] {
			continue
		}
		seen[dep.Key] = true
		n.Deps = append(n.Deps, dep)
		dep.Dependents = append(dep.Dependents, n)
	}
	b.nodes[n.Key] = n
	b.order = append(b.order, n)
}

// keyOf canonicalizes a task reference without registering a node for it.
// Nested futures in the arguments are still built, since the key depends on
// their identity.
func (b *buildState) keyOf(f *TaskFuture) (taskkey.Key, error) {
	return taskkey.Canonicalize(f.kind, f.args, b.refEncoder)
}

// nodeLabels builds the node's label list: the kind name first, then the
// declared labels, deduplicated in order.
func nodeLabels(kind Kind) []string {
	labels := make([]string, 0, 1+len(kind.Labels))
	labels = append(labels, kind.Name)
	seen := map[string]bool{kind.Name: true}
	for _, l := range kind.Labels {
		if !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	return labels
}

// indexValue extracts one element from a resolved mapping or sequence.
func indexValue(v any, k any) (any, error) {
	switch c := v.(type) {
	case map[string]any:
		ks, err := pathKeyString(k)
		if err != nil {
			return nil, err
		}
		elem, ok := c[ks]
		if !ok {
			return nil, fmt.Errorf("key %q not found in mapping", ks)
		}
		return elem, nil
	case []any:
		i, err := pathKeyIndex(k)
		if err != nil {
			return nil, err
		}
		if i < 0 || i >= len(c) {
			return nil, fmt.Errorf("index %d out of range for sequence of length %d", i, len(c))
		}
		return c[i], nil
	}
	return nil, fmt.Errorf("cannot project into value of type %T", v)
}

func pathKeyString(k any) (string, error) {
	switch k := k.(type) {
	case string:
		return k, nil
	case int:
		return strconv.Itoa(k), nil
	case int64:
		return strconv.FormatInt(k, 10), nil
	case uint64:
		return strconv.FormatUint(k, 10), nil
	case float64:
		return strconv.FormatInt(int64(k), 10), nil
	}
	return "", fmt.Errorf("unsupported projection key type %T", k)
}

func pathKeyIndex(k any) (int, error) {
	switch k := k.(type) {
	case int:
		return k, nil
	case int64:
		return int(k), nil
	case uint64:
		return int(k), nil
	case float64:
		return int(k), nil
	}
	return 0, fmt.Errorf("unsupported sequence index type %T", k)
}
