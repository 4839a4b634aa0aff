// Package plan computes, from current cache contents, the minimal set of
// graph nodes that must be recomputed for a correct result.
//
// A node is dirty iff its own cache record is absent or any transitive
// upstream node is dirty: a derived result is stale whenever any input is
// stale, not merely when its own artifact vanished. Dirtiness is recomputed
// fresh from store state on every run; clearing records takes effect lazily
// at the next run.
package plan

import (
	"github.com/vk/taskgrid/internal/node"
	"github.com/vk/taskgrid/internal/taskkey"
)

// Topological returns the nodes in dependency order, upstream first. The
// graph is acyclic by construction, so the traversal always terminates.
func Topological(nodes []*node.Node) []*node.Node {
	out := make([]*node.Node, 0, len(nodes))
	seen := make(map[taskkey.Key]bool, len(nodes))

	var visit func(n *node.Node)
	visit = func(n *node.Node) {
		if seen[n.Key] {
			return
		}
		seen[n.Key] = true
		for _, dep := range n.Deps {
			visit(dep)
		}
		out = append(out, n)
	}

	for _, n := range nodes {
		visit(n)
	}
	return out
}

// ComputeDirty walks the graph bottom-up and returns the set of keys that
// require (re)computation. exists reports whether a valid cache record is
// present for a key.
//
// Rules:
//   - a regular node is dirty when its record is absent or any upstream
//     node is dirty
//   - an interactive node has no trusted record, so it is always dirty
//   - a synthetic node is dirty only when an upstream node is; its reshape
//     is recomputed for free whenever its value is needed
func ComputeDirty(nodes []*node.Node, exists func(taskkey.Key) bool) map[taskkey.Key]bool {
	dirty := make(map[taskkey.Key]bool)
	for _, n := range Topological(nodes) {
		d := false
		if !n.Synthetic && (n.Interactive || !exists(n.Key)) {
			d = true
		}
		if !d {
			for _, dep := range n.Deps {
				if dirty[dep.Key] {
					d = true
					break
				}
			}
		}
		if d {
			dirty[n.Key] = true
		}
	}
	return dirty
}
