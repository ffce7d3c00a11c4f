// Package thread projects a flat annotation collection into a filtered,
// sorted reply tree.
//
// Trees are arenas: nodes live in one slice and refer to each other by
// Handle. A Tree is never mutated after Build returns; every change to the
// inputs produces a new one.
package thread

import "marginalia/api/internal/store"

// Handle addresses a node inside a Tree's arena.
type Handle int

const (
	// RootHandle is the synthetic root every top-level thread hangs from.
	RootHandle Handle = 0
	NoParent   Handle = -1
)

// Node is one thread: an annotation (or a placeholder for a missing
// ancestor) and its replies.
type Node struct {
	ID         string
	Annotation *store.Annotation
	Parent     Handle
	Children   []Handle
	Visible    bool
	Collapsed  bool
	// ReplyCount counts every descendant, not just direct children.
	ReplyCount int
	Depth      int
}

// IsPlaceholder reports whether the node stands in for a deleted ancestor.
func (n Node) IsPlaceholder() bool {
	return n.Annotation == nil
}

type Tree struct {
	nodes []Node
	index map[string]Handle
}

// Node returns the node for h. Handles come from the same tree; anything
// else is a programming error and panics.
func (t *Tree) Node(h Handle) Node {
	return t.nodes[h]
}

func (t *Tree) Root() Node {
	return t.nodes[RootHandle]
}

// Lookup finds a reachable node by annotation id, local tag or placeholder id.
func (t *Tree) Lookup(id string) (Handle, bool) {
	h, ok := t.index[id]
	return h, ok
}

// TopLevel returns the ordered top-level threads.
func (t *Tree) TopLevel() []Handle {
	return append([]Handle(nil), t.nodes[RootHandle].Children...)
}

func (t *Tree) Children(h Handle) []Handle {
	return append([]Handle(nil), t.nodes[h].Children...)
}

// Len is the number of reachable nodes, excluding the root.
func (t *Tree) Len() int {
	return len(t.index)
}

// Walk visits reachable nodes depth-first in display order, skipping the
// root. Returning false from fn skips the node's children.
func (t *Tree) Walk(fn func(h Handle, n Node) bool) {
	var visit func(h Handle)
	visit = func(h Handle) {
		for _, child := range t.nodes[h].Children {
			if fn(child, t.nodes[child]) {
				visit(child)
			}
		}
	}
	visit(RootHandle)
}

// CountVisible counts visible nodes in the subtree rooted at h, h included.
func (t *Tree) CountVisible(h Handle) int {
	count := 0
	if t.nodes[h].Visible {
		count++
	}
	for _, child := range t.nodes[h].Children {
		count += t.CountVisible(child)
	}
	return count
}

// IsAncestor reports whether ancestor lies on the parent chain of h.
func (t *Tree) IsAncestor(ancestor, h Handle) bool {
	for p := t.nodes[h].Parent; p != NoParent; p = t.nodes[p].Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}
