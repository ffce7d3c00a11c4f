package realtime

import (
	"sort"

	"marginalia/api/internal/store"
)

// Context decides which pushed updates are relevant to the consumer.
type Context struct {
	FocusedGroup   string
	ShowCrossGroup bool
}

func (c Context) Relevant(a store.Annotation) bool {
	return c.ShowCrossGroup || a.Group == c.FocusedGroup
}

// Queue holds remote changes that have not been applied yet. Both buffers
// are keyed by id, so merging the same batch twice changes nothing.
//
// Queue is not safe for concurrent use; its owner serializes access.
type Queue struct {
	updates   map[string]store.Annotation
	deletions map[string]struct{}
}

func NewQueue() *Queue {
	return &Queue{
		updates:   map[string]store.Annotation{},
		deletions: map[string]struct{}{},
	}
}

// Receive merges a batch. exists reports whether an id is in the live
// collection; deletions of anything else are dropped.
func (q *Queue) Receive(batch Batch, ctx Context, exists func(id string) bool) {
	for _, record := range batch.Updated {
		if record.ID == "" || !ctx.Relevant(record) {
			continue
		}
		q.updates[record.ID] = record
	}
	for _, id := range batch.Deleted {
		delete(q.updates, id)
		if exists != nil && exists(id) {
			q.deletions[id] = struct{}{}
		}
	}
}

// Discard drops pending entries for ids changed locally.
func (q *Queue) Discard(ids ...string) {
	for _, id := range ids {
		delete(q.updates, id)
		delete(q.deletions, id)
	}
}

// Drain empties both buffers and returns their contents ordered by id.
func (q *Queue) Drain() ([]store.Annotation, []string) {
	updates := make([]store.Annotation, 0, len(q.updates))
	for _, record := range q.updates {
		updates = append(updates, record)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].ID < updates[j].ID })
	deletions := sortedKeys(q.deletions)
	q.Clear()
	return updates, deletions
}

// ApplyTo moves every pending change into c in one step.
func (q *Queue) ApplyTo(c *Collection) (updated, deleted int) {
	updates, deletions := q.Drain()
	c.Add(updates...)
	deleted = c.Remove(deletions...)
	return len(updates), deleted
}

// Clear drops everything, as on a context switch.
func (q *Queue) Clear() {
	q.updates = map[string]store.Annotation{}
	q.deletions = map[string]struct{}{}
}

func (q *Queue) Count() int {
	return len(q.updates) + len(q.deletions)
}

func (q *Queue) UpdateCount() int {
	return len(q.updates)
}

func (q *Queue) DeletionCount() int {
	return len(q.deletions)
}

func (q *Queue) HasPendingUpdate(id string) bool {
	_, ok := q.updates[id]
	return ok
}

func (q *Queue) HasPendingDeletion(id string) bool {
	_, ok := q.deletions[id]
	return ok
}

// Pending is a read-only view of the buffers.
type Pending struct {
	Updates   []string `json:"updates"`
	Deletions []string `json:"deletions"`
	Count     int      `json:"count"`
}

func (q *Queue) Pending() Pending {
	updates := make(map[string]struct{}, len(q.updates))
	for id := range q.updates {
		updates[id] = struct{}{}
	}
	return Pending{
		Updates:   sortedKeys(updates),
		Deletions: sortedKeys(q.deletions),
		Count:     q.Count(),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
