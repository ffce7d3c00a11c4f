package thread

import "marginalia/api/internal/store"

// View is a nested, serializable copy of a thread for transport.
type View struct {
	ID         string            `json:"id"`
	Annotation *store.Annotation `json:"annotation,omitempty"`
	Visible    bool              `json:"visible"`
	Collapsed  bool              `json:"collapsed"`
	ReplyCount int               `json:"replyCount"`
	Depth      int               `json:"depth"`
	Children   []View            `json:"children"`
}

// Views returns the top-level threads as nested views in display order.
func (t *Tree) Views() []View {
	top := t.nodes[RootHandle].Children
	views := make([]View, 0, len(top))
	for _, h := range top {
		views = append(views, t.view(h))
	}
	return views
}

func (t *Tree) view(h Handle) View {
	node := t.nodes[h]
	v := View{
		ID:         node.ID,
		Visible:    node.Visible,
		Collapsed:  node.Collapsed,
		ReplyCount: node.ReplyCount,
		Depth:      node.Depth,
		Children:   make([]View, 0, len(node.Children)),
	}
	if node.Annotation != nil {
		a := *node.Annotation
		v.Annotation = &a
	}
	for _, child := range node.Children {
		v.Children = append(v.Children, t.view(child))
	}
	return v
}
