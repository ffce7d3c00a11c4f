package thread

import (
	"sort"
	"time"

	"marginalia/api/internal/query"
	"marginalia/api/internal/store"
)

// Options controls the visibility, collapse and sort passes of Build.
type Options struct {
	// Filter is the parsed query. An empty Spec disables filtering.
	Filter query.Spec
	// Now anchors since: terms.
	Now time.Time `hash:"ignore"`
	// Selected restricts the top level to these threads when non-empty.
	Selected []string
	// ForcedVisible keeps threads visible regardless of Filter.
	ForcedVisible []string
	// Expanded overrides the computed collapsed state per node id.
	Expanded  map[string]bool
	Sort      SortKey
	ReplySort ReplyOrder
	// Diagnostics receives reports about skipped references. Optional.
	Diagnostics *Diagnostics `hash:"ignore"`
}

// Build turns annotations into a tree rooted at a synthetic, invisible root.
// The input slice is copied and never modified.
func Build(annotations []store.Annotation, opts Options) *Tree {
	t := threadAnnotations(annotations, opts.Diagnostics)

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	matcher := query.NewMatcher(opts.Filter, now)
	selected := toSet(opts.Selected)
	forced := toSet(opts.ForcedVisible)
	hasSelection := len(selected) > 0
	filtering := !hasSelection && matcher.Active()

	root := &t.nodes[RootHandle]
	if hasSelection {
		root.Children = filterHandles(root.Children, func(h Handle) bool {
			id := t.nodes[h].ID
			return selected[id] || forced[id]
		})
	} else {
		// Placeholders have nothing to match, so only forcing shows them.
		for h := range t.nodes {
			if Handle(h) == RootHandle {
				continue
			}
			node := &t.nodes[h]
			if filtering {
				node.Visible = matcher.Match(node.Annotation) || forced[node.ID]
			} else {
				node.Visible = node.Annotation != nil || forced[node.ID]
			}
		}
	}
	root.Visible = false

	visibleBelow := make([]int, len(t.nodes))
	t.countVisibleBelow(RootHandle, visibleBelow)
	root.Children = filterHandles(root.Children, func(h Handle) bool {
		return t.nodes[h].Visible || visibleBelow[h] > 0
	})

	t.walkHandles(func(h Handle) {
		node := &t.nodes[h]
		if expanded, ok := opts.Expanded[node.ID]; ok {
			node.Collapsed = !expanded
			return
		}
		if filtering && visibleBelow[h] > 0 {
			node.Collapsed = false
		}
	})

	t.sortChildren(RootHandle, opts.Sort, opts.ReplySort)
	t.index = make(map[string]Handle, len(t.nodes))
	t.countRepliesAndDepth(RootHandle, -1)
	return t
}

// threadAnnotations links annotations into a tree using their references.
func threadAnnotations(annotations []store.Annotation, diag *Diagnostics) *Tree {
	records := dedupe(annotations, diag)
	b := &builder{
		tree: &Tree{
			nodes: make([]Node, 0, len(records)+1),
			index: make(map[string]Handle, len(records)),
		},
		diag: diag,
	}
	b.tree.nodes = append(b.tree.nodes, Node{Parent: NoParent, Visible: true})

	for i := range records {
		b.add(records[i].Key(), &records[i])
	}
	for i := range records {
		record := &records[i]
		key := record.Key()
		references := make([]string, 0, len(record.References))
		for _, ref := range record.References {
			if ref != key && ref != record.ID && ref != "" {
				references = append(references, ref)
			}
		}
		b.setParent(b.tree.index[key], references)
	}

	b.prunePlaceholders()

	t := b.tree
	for h := 1; h < len(t.nodes); h++ {
		node := &t.nodes[h]
		if node.Parent == NoParent {
			node.Parent = RootHandle
			node.Collapsed = true
			t.nodes[RootHandle].Children = append(t.nodes[RootHandle].Children, Handle(h))
		}
	}
	return t
}

// dedupe keeps the last record for each key at the position of the first.
func dedupe(annotations []store.Annotation, diag *Diagnostics) []store.Annotation {
	records := make([]store.Annotation, 0, len(annotations))
	position := make(map[string]int, len(annotations))
	for i, annotation := range annotations {
		key := annotation.Key()
		if key == "" {
			diag.MissingKey(i)
			continue
		}
		if at, ok := position[key]; ok {
			records[at] = annotation
			continue
		}
		position[key] = len(records)
		records = append(records, annotation)
	}
	return records
}

type builder struct {
	tree *Tree
	diag *Diagnostics
}

func (b *builder) add(id string, annotation *store.Annotation) Handle {
	h := Handle(len(b.tree.nodes))
	b.tree.nodes = append(b.tree.nodes, Node{
		ID:         id,
		Annotation: annotation,
		Parent:     NoParent,
		Visible:    annotation != nil,
	})
	b.tree.index[id] = h
	return h
}

// setParent links h beneath the nearest of its references, synthesizing
// placeholders for ancestors that are not in the collection.
func (b *builder) setParent(h Handle, references []string) {
	if b.tree.nodes[h].Parent != NoParent || len(references) == 0 {
		return
	}
	parentID := references[len(references)-1]
	parent, ok := b.tree.index[parentID]
	if !ok {
		parent = b.add(parentID, nil)
		b.setParent(parent, references[:len(references)-1])
	}

	if parent == h || b.tree.IsAncestor(h, parent) {
		b.diag.BrokenReference(b.tree.nodes[h].ID, parentID)
		return
	}
	b.tree.nodes[h].Parent = parent
	b.tree.nodes[parent].Children = append(b.tree.nodes[parent].Children, h)
}

// prunePlaceholders detaches placeholders left without children, which
// happens when the only link to them was skipped as circular.
func (b *builder) prunePlaceholders() {
	nodes := b.tree.nodes
	for changed := true; changed; {
		changed = false
		for h := 1; h < len(nodes); h++ {
			node := &nodes[h]
			if node.Annotation != nil || len(node.Children) > 0 || node.Parent == RootHandle {
				continue
			}
			if _, ok := b.tree.index[node.ID]; !ok {
				continue
			}
			if node.Parent != NoParent {
				parent := &nodes[node.Parent]
				parent.Children = filterHandles(parent.Children, func(c Handle) bool { return c != Handle(h) })
			}
			delete(b.tree.index, node.ID)
			node.Parent = RootHandle
			changed = true
		}
	}
}

func (t *Tree) countVisibleBelow(h Handle, out []int) int {
	total := 0
	for _, child := range t.nodes[h].Children {
		below := t.countVisibleBelow(child, out)
		if t.nodes[child].Visible {
			below++
		}
		total += below
	}
	out[h] = total
	return total
}

// walkHandles visits reachable non-root nodes in arena order of discovery.
func (t *Tree) walkHandles(fn func(h Handle)) {
	var visit func(h Handle)
	visit = func(h Handle) {
		for _, child := range t.nodes[h].Children {
			fn(child)
			visit(child)
		}
	}
	visit(RootHandle)
}

func (t *Tree) sortChildren(h Handle, key SortKey, replies ReplyOrder) {
	children := t.nodes[h].Children
	if h == RootHandle {
		sort.SliceStable(children, func(i, j int) bool {
			return t.compareTopLevel(key, children[i], children[j]) < 0
		})
	} else {
		sort.SliceStable(children, func(i, j int) bool {
			return t.compareReplies(replies, children[i], children[j]) < 0
		})
	}
	for _, child := range children {
		t.sortChildren(child, key, replies)
	}
}

func (t *Tree) countRepliesAndDepth(h Handle, depth int) int {
	node := &t.nodes[h]
	node.Depth = depth
	if h != RootHandle {
		t.index[node.ID] = h
	}
	replies := 0
	for _, child := range node.Children {
		replies += 1 + t.countRepliesAndDepth(child, depth+1)
	}
	node.ReplyCount = replies
	return replies
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func filterHandles(handles []Handle, keep func(Handle) bool) []Handle {
	out := make([]Handle, 0, len(handles))
	for _, h := range handles {
		if keep(h) {
			out = append(out, h)
		}
	}
	return out
}
