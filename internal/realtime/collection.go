package realtime

import (
	"marginalia/api/internal/store"
)

// Collection is the live, locally applied set of annotations. Records keep
// their insertion order; Version increases on every change so derived
// projections can be cached against it.
//
// Collection is not safe for concurrent use.
type Collection struct {
	records []store.Annotation
	index   map[string]int
	version uint64
}

func NewCollection(records []store.Annotation) *Collection {
	c := &Collection{}
	c.Replace(records)
	return c
}

func (c *Collection) Version() uint64 {
	return c.version
}

func (c *Collection) Len() int {
	return len(c.records)
}

// Replace swaps in a freshly loaded set, as after a context switch.
func (c *Collection) Replace(records []store.Annotation) {
	c.records = c.records[:0]
	c.index = make(map[string]int, len(records))
	for _, record := range records {
		c.put(record)
	}
	c.version++
}

// Exists reports whether id (or a draft's local tag) is live.
func (c *Collection) Exists(id string) bool {
	_, ok := c.index[id]
	return ok
}

func (c *Collection) Get(id string) (store.Annotation, bool) {
	i, ok := c.index[id]
	if !ok {
		return store.Annotation{}, false
	}
	return c.records[i], true
}

// Add inserts or replaces records and returns the keys now live for them.
// A saved record whose local tag names an unsaved draft takes the draft's
// place, so the draft does not linger next to its saved copy.
func (c *Collection) Add(records ...store.Annotation) []string {
	keys := make([]string, 0, len(records))
	for _, record := range records {
		key := record.Key()
		if key == "" {
			continue
		}
		c.put(record)
		keys = append(keys, key)
	}
	if len(keys) > 0 {
		c.version++
	}
	return keys
}

func (c *Collection) put(record store.Annotation) {
	key := record.Key()
	if key == "" {
		return
	}
	if i, ok := c.index[key]; ok {
		c.records[i] = record
		return
	}
	if record.ID != "" && record.LocalTag != "" {
		if i, ok := c.index[record.LocalTag]; ok && c.records[i].ID == "" {
			delete(c.index, record.LocalTag)
			c.records[i] = record
			c.index[key] = i
			return
		}
	}
	c.index[key] = len(c.records)
	c.records = append(c.records, record)
}

// Remove drops the given ids and returns how many were live.
func (c *Collection) Remove(ids ...string) int {
	drop := make(map[int]bool, len(ids))
	for _, id := range ids {
		if i, ok := c.index[id]; ok {
			drop[i] = true
		}
	}
	if len(drop) == 0 {
		return 0
	}
	kept := c.records[:0]
	for i, record := range c.records {
		if !drop[i] {
			kept = append(kept, record)
		}
	}
	c.records = kept
	c.reindex()
	c.version++
	return len(drop)
}

// SetAnchorStatus records anchoring results for live annotations and
// returns how many changed.
func (c *Collection) SetAnchorStatus(statuses map[string]store.AnchorStatus) int {
	changed := 0
	for id, status := range statuses {
		i, ok := c.index[id]
		if !ok || c.records[i].AnchorStatus == status {
			continue
		}
		c.records[i].AnchorStatus = status
		changed++
	}
	if changed > 0 {
		c.version++
	}
	return changed
}

// Snapshot returns a copy of the live records in insertion order.
func (c *Collection) Snapshot() []store.Annotation {
	out := make([]store.Annotation, len(c.records))
	copy(out, c.records)
	return out
}

func (c *Collection) reindex() {
	c.index = make(map[string]int, len(c.records))
	for i, record := range c.records {
		c.index[record.Key()] = i
	}
}
