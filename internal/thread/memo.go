package thread

import (
	"sync"

	"github.com/mitchellh/hashstructure/v2"

	"marginalia/api/internal/store"
)

// Memo caches the most recent Build. The key is the collection version plus
// a hash of the options; Now only counts when the filter uses since:.
//
// One slot is enough while projections are requested in sequence by a
// single state container. Callers must treat the returned Tree as read-only.
type Memo struct {
	mu    sync.Mutex
	valid bool
	key   memoKey
	tree  *Tree
	hits  int
}

type memoKey struct {
	version uint64
	options uint64
	now     int64
}

func (m *Memo) Build(version uint64, annotations []store.Annotation, opts Options) *Tree {
	key, ok := keyFor(version, opts)

	m.mu.Lock()
	defer m.mu.Unlock()
	if ok && m.valid && m.key == key {
		m.hits++
		return m.tree
	}
	tree := Build(annotations, opts)
	m.tree, m.key, m.valid = tree, key, ok
	return tree
}

// Hits reports how many builds were served from the cache.
func (m *Memo) Hits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits
}

// Invalidate drops the cached tree.
func (m *Memo) Invalidate() {
	m.mu.Lock()
	m.valid, m.tree = false, nil
	m.mu.Unlock()
}

func keyFor(version uint64, opts Options) (memoKey, bool) {
	hash, err := hashstructure.Hash(opts, hashstructure.FormatV2, nil)
	if err != nil {
		return memoKey{}, false
	}
	key := memoKey{version: version, options: hash}
	if opts.Filter.HasSince() {
		key.now = opts.Now.Unix()
	}
	return key, true
}
