// Package tree derives tree-shaped views — ancestor paths, descendant
// counts, collapse visibility, subtree extraction — from a canvas's flat
// node set without mutating it.
//
// A Navigator is built from one bulk load of the canvas's nodes and
// answers every query from in-memory adjacency. Callers must not issue
// per-hop storage queries for tree walks; the single-load pattern is a
// deliberate performance requirement, not an implementation detail.
package tree

import (
	"github.com/google/uuid"

	"github.com/canvaschat/canvaschat/internal/canvas"
)

// Navigator answers tree queries over a snapshot of a canvas's nodes.
// The zero value is not useful; use NewNavigator.
type Navigator struct {
	byID     map[uuid.UUID]*canvas.Node
	children map[uuid.UUID][]*canvas.Node
	nodes    []*canvas.Node
}

// NewNavigator builds the parent→children index once over the given
// node set. The slice is retained; callers must not mutate it afterwards.
func NewNavigator(nodes []*canvas.Node) *Navigator {
	nv := &Navigator{
		byID:     make(map[uuid.UUID]*canvas.Node, len(nodes)),
		children: make(map[uuid.UUID][]*canvas.Node),
		nodes:    nodes,
	}
	for _, n := range nodes {
		nv.byID[n.ID] = n
	}
	for _, n := range nodes {
		if n.ParentID != nil {
			nv.children[*n.ParentID] = append(nv.children[*n.ParentID], n)
		}
	}
	return nv
}

// Node returns the node with the given id, or nil if absent.
func (nv *Navigator) Node(id uuid.UUID) *canvas.Node {
	return nv.byID[id]
}

// Children returns the direct children of id in stable snapshot order.
func (nv *Navigator) Children(id uuid.UUID) []*canvas.Node {
	return nv.children[id]
}

// PathToRoot returns the nodes from the forest root down to and
// including id. Returns an empty path if id is not in the snapshot.
//
// The walk follows parent links upward collecting nodes, then reverses
// once. A parent id that is missing from the snapshot terminates the
// walk there, so a disconnected chain still yields its partial path.
func (nv *Navigator) PathToRoot(id uuid.UUID) []*canvas.Node {
	var path []*canvas.Node
	seen := make(map[uuid.UUID]bool) // guards against malformed parent links

	for cur := nv.byID[id]; cur != nil && !seen[cur.ID]; {
		seen[cur.ID] = true
		path = append(path, cur)
		if cur.ParentID == nil {
			break
		}
		cur = nv.byID[*cur.ParentID]
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// DescendantCount returns the number of nodes below id, direct children
// included. Recomputed on demand; there is no caching.
func (nv *Navigator) DescendantCount(id uuid.UUID) int {
	count := 0
	for _, child := range nv.children[id] {
		count += 1 + nv.DescendantCount(child.ID)
	}
	return count
}

// HiddenNodeIDs returns the set of node ids hidden from derived views:
// every descendant of a node whose collapse flag is set. A collapsed
// node hides only its subtree, never itself. Nested collapsed nodes add
// no duplicates — the result is a set.
func (nv *Navigator) HiddenNodeIDs() map[uuid.UUID]bool {
	hidden := make(map[uuid.UUID]bool)

	var collect func(uuid.UUID)
	collect = func(id uuid.UUID) {
		for _, child := range nv.children[id] {
			hidden[child.ID] = true
			collect(child.ID)
		}
	}

	for _, n := range nv.nodes {
		if n.IsCollapsed {
			collect(n.ID)
		}
	}
	return hidden
}

// Subtree returns id plus all of its descendants in depth-first
// pre-order. Returns nil if id is not in the snapshot.
func (nv *Navigator) Subtree(id uuid.UUID) []*canvas.Node {
	root := nv.byID[id]
	if root == nil {
		return nil
	}

	var result []*canvas.Node
	var walk func(*canvas.Node)
	walk = func(n *canvas.Node) {
		result = append(result, n)
		for _, child := range nv.children[n.ID] {
			walk(child)
		}
	}
	walk(root)
	return result
}

// Visible returns the snapshot's nodes that are not hidden by a
// collapsed ancestor, in stable snapshot order.
func (nv *Navigator) Visible() []*canvas.Node {
	hidden := nv.HiddenNodeIDs()
	visible := make([]*canvas.Node, 0, len(nv.nodes))
	for _, n := range nv.nodes {
		if !hidden[n.ID] {
			visible = append(visible, n)
		}
	}
	return visible
}
