package search

import (
	"sort"
	"time"

	"marginalia/api/internal/query"
	"marginalia/api/internal/store"
)

// Local searches an in-memory snapshot with the same matcher the thread
// filter uses. It is always healthy.
type Local struct {
	snapshot func() []store.Annotation
}

func NewLocal(snapshot func() []store.Annotation) *Local {
	return &Local{snapshot: snapshot}
}

func (l *Local) Healthy() bool {
	return true
}

// Search returns matches newest first.
func (l *Local) Search(q Query) ([]Result, int, error) {
	spec := query.Parse(q.Text)
	if spec.Empty() {
		return nil, 0, nil
	}
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	matcher := query.NewMatcher(spec, now)

	var hits []store.Annotation
	for _, a := range l.snapshot() {
		if a.ID == "" || (q.Group != "" && a.Group != q.Group) {
			continue
		}
		if matcher.Match(&a) {
			hits = append(hits, a)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Created.After(hits[j].Created) })

	total := len(hits)
	start := min(max(q.Offset, 0), total)
	end := min(start+q.limit(), total)
	results := make([]Result, 0, end-start)
	for _, a := range hits[start:end] {
		results = append(results, resultOf(a))
	}
	return results, total, nil
}
