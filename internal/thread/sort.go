package thread

import (
	"fmt"
	"math"
	"strings"
	"time"

	"marginalia/api/internal/store"
)

// SortKey selects the top-level ordering.
type SortKey int

const (
	SortNewest SortKey = iota
	SortOldest
	SortLocation
)

func (k SortKey) String() string {
	switch k {
	case SortNewest:
		return "Newest"
	case SortOldest:
		return "Oldest"
	case SortLocation:
		return "Location"
	default:
		return fmt.Sprintf("SortKey(%d)", int(k))
	}
}

// ParseSortKey accepts the names returned by String, case-insensitively.
func ParseSortKey(value string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "newest":
		return SortNewest, nil
	case "oldest":
		return SortOldest, nil
	case "location":
		return SortLocation, nil
	default:
		return SortNewest, fmt.Errorf("unknown sort key %q", value)
	}
}

// ReplyOrder selects the ordering of replies within a thread.
type ReplyOrder int

const (
	RepliesOldestFirst ReplyOrder = iota
	RepliesNewestFirst
)

// rootAnnotations finds the annotations that stand for a thread: its own, or
// for a placeholder, those of the first level below it that has any.
func (t *Tree) rootAnnotations(h Handle) []*store.Annotation {
	node := t.nodes[h]
	if node.Annotation != nil {
		return []*store.Annotation{node.Annotation}
	}
	var direct []*store.Annotation
	for _, child := range node.Children {
		if a := t.nodes[child].Annotation; a != nil {
			direct = append(direct, a)
		}
	}
	if len(direct) > 0 {
		return direct
	}
	var nested []*store.Annotation
	for _, child := range node.Children {
		nested = append(nested, t.rootAnnotations(child)...)
	}
	return nested
}

func (t *Tree) newestRootDate(h Handle) time.Time {
	var newest time.Time
	for _, a := range t.rootAnnotations(h) {
		if a.Created.After(newest) {
			newest = a.Created
		}
	}
	return newest
}

func (t *Tree) oldestRootDate(h Handle) time.Time {
	var oldest time.Time
	for i, a := range t.rootAnnotations(h) {
		if i == 0 || a.Created.Before(oldest) {
			oldest = a.Created
		}
	}
	return oldest
}

// compareHeadless puts threads without a top annotation first. It reports
// false when both or neither are headless and the caller must decide.
func compareHeadless(a, b Node) (int, bool) {
	switch {
	case a.Annotation == nil && b.Annotation == nil:
		return 0, false
	case a.Annotation == nil:
		return -1, true
	case b.Annotation == nil:
		return 1, true
	default:
		return 0, false
	}
}

func (t *Tree) compareTopLevel(key SortKey, a, b Handle) int {
	if cmp, ok := compareHeadless(t.nodes[a], t.nodes[b]); ok {
		return cmp
	}
	switch key {
	case SortOldest:
		return compareTime(t.oldestRootDate(a), t.oldestRootDate(b))
	case SortLocation:
		return compareLocation(t.nodes[a].Annotation, t.nodes[b].Annotation)
	default:
		return -compareTime(t.newestRootDate(a), t.newestRootDate(b))
	}
}

func (t *Tree) compareReplies(order ReplyOrder, a, b Handle) int {
	cmp := compareTime(t.oldestRootDate(a), t.oldestRootDate(b))
	if order == RepliesNewestFirst {
		return -cmp
	}
	return cmp
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

// compareLocation orders by document position; annotations without one
// (page notes, unanchored) go last.
func compareLocation(a, b *store.Annotation) int {
	pa, pb := location(a), location(b)
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

func location(a *store.Annotation) int {
	if a == nil || a.Position == nil {
		return math.MaxInt
	}
	return *a.Position
}
