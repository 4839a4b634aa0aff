package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgrid/internal/node"
	"github.com/vk/taskgrid/internal/taskkey"
)

func mkNode(t *testing.T, name string, deps ...*node.Node) *node.Node {
	t.Helper()
	key, err := taskkey.Canonicalize(name, nil, nil)
	require.NoError(t, err)
	return &node.Node{Key: key, Deps: deps}
}

// chain builds a -> b -> c (c upstream) and returns them downstream-first.
func chain(t *testing.T) (a, b, c *node.Node) {
	t.Helper()
	c = mkNode(t, "C")
	b = mkNode(t, "B", c)
	a = mkNode(t, "A", b)
	return a, b, c
}

func existsNone(taskkey.Key) bool { return false }
func existsAll(taskkey.Key) bool  { return true }

func TestTopologicalUpstreamFirst(t *testing.T) {
	a, b, c := chain(t)
	order := Topological([]*node.Node{a})
	require.Equal(t, []*node.Node{c, b, a}, order)
}

func TestTopologicalVisitsSharedNodesOnce(t *testing.T) {
	shared := mkNode(t, "Shared")
	left := mkNode(t, "Left", shared)
	right := mkNode(t, "Right", shared)
	root := mkNode(t, "Root", left, right)

	order := Topological([]*node.Node{root})
	require.Len(t, order, 4)
	assert.Equal(t, shared, order[0])
	assert.Equal(t, root, order[3])
}

func TestDirtyWhenRecordAbsent(t *testing.T) {
	a, b, c := chain(t)
	dirty := ComputeDirty([]*node.Node{a}, existsNone)
	assert.True(t, dirty[a.Key])
	assert.True(t, dirty[b.Key])
	assert.True(t, dirty[c.Key])
}

func TestCleanWhenAllRecordsPresent(t *testing.T) {
	a, _, _ := chain(t)
	dirty := ComputeDirty([]*node.Node{a}, existsAll)
	assert.Empty(t, dirty)
}

func TestDirtinessPropagatesDownstream(t *testing.T) {
	a, b, c := chain(t)
	dirty := ComputeDirty([]*node.Node{a}, func(k taskkey.Key) bool {
		return k != c.Key
	})
	assert.True(t, dirty[c.Key])
	assert.True(t, dirty[b.Key])
	assert.True(t, dirty[a.Key])
}

func TestDirtinessDoesNotPropagateUpstream(t *testing.T) {
	a, b, c := chain(t)
	dirty := ComputeDirty([]*node.Node{a}, func(k taskkey.Key) bool {
		return k != a.Key
	})
	assert.True(t, dirty[a.Key])
	assert.False(t, dirty[b.Key])
	assert.False(t, dirty[c.Key])
}

func TestInteractiveAlwaysDirty(t *testing.T) {
	leaf := mkNode(t, "Leaf")
	leaf.Interactive = true
	root := mkNode(t, "Root", leaf)

	dirty := ComputeDirty([]*node.Node{root}, existsAll)
	assert.True(t, dirty[leaf.Key])
	assert.True(t, dirty[root.Key])
}

func TestSyntheticDirtyOnlyViaUpstream(t *testing.T) {
	leaf := mkNode(t, "Leaf")
	agg := mkNode(t, "Agg", leaf)
	agg.Synthetic = true

	dirty := ComputeDirty([]*node.Node{agg}, existsAll)
	assert.False(t, dirty[agg.Key], "clean upstream keeps the aggregate clean")

	dirty = ComputeDirty([]*node.Node{agg}, existsNone)
	assert.True(t, dirty[leaf.Key])
	assert.True(t, dirty[agg.Key], "a dirty upstream dirties the aggregate")
}

func TestDiamondPartialInvalidation(t *testing.T) {
	base := mkNode(t, "Base")
	left := mkNode(t, "Left", base)
	right := mkNode(t, "Right", base)
	top := mkNode(t, "Top", left, right)

	dirty := ComputeDirty([]*node.Node{top}, func(k taskkey.Key) bool {
		return k != right.Key
	})
	assert.False(t, dirty[base.Key])
	assert.False(t, dirty[left.Key])
	assert.True(t, dirty[right.Key])
	assert.True(t, dirty[top.Key])
}
