package thread

import (
	"log"
	"sync"
)

// Diagnostics reports data problems the builder silently works around, once
// per distinct problem. The owner keeps one per display context and passes it
// in through Options.
type Diagnostics struct {
	mu   sync.Mutex
	seen map[string]struct{}
	logf func(format string, args ...any)
}

// NewDiagnostics returns a cache that logs through logf, or log.Printf when
// logf is nil.
func NewDiagnostics(logf func(format string, args ...any)) *Diagnostics {
	if logf == nil {
		logf = log.Printf
	}
	return &Diagnostics{seen: make(map[string]struct{}), logf: logf}
}

func (d *Diagnostics) warnOnce(key, format string, args ...any) {
	if d == nil {
		return
	}
	d.mu.Lock()
	if _, ok := d.seen[key]; ok {
		d.mu.Unlock()
		return
	}
	d.seen[key] = struct{}{}
	d.mu.Unlock()
	d.logf(format, args...)
}

// BrokenReference records a reference skipped because following it would
// make a node its own ancestor.
func (d *Diagnostics) BrokenReference(childID, parentID string) {
	d.warnOnce("cycle:"+childID+"\x00"+parentID,
		"thread: ignoring circular reference from %s to %s", childID, parentID)
}

// MissingKey records an annotation with neither an id nor a local tag.
func (d *Diagnostics) MissingKey(index int) {
	d.warnOnce("nokey", "thread: skipping annotation without id or local tag (first at input %d)", index)
}

// Count is the number of distinct problems reported so far.
func (d *Diagnostics) Count() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Reset forgets reported problems, e.g. when the focused group changes.
func (d *Diagnostics) Reset() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.seen = make(map[string]struct{})
	d.mu.Unlock()
}
