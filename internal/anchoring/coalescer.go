// Package anchoring batches anchoring-status reports so that a burst of
// results for different annotations reaches the state container as one
// transition.
package anchoring

import (
	"sync"
	"time"

	"marginalia/api/internal/store"
)

// DefaultWindow is the coalescing window used when none is given.
const DefaultWindow = 10 * time.Millisecond

// Coalescer accumulates id → status reports and hands them to flush once no
// new report has arrived for the window. A later report for the same id
// replaces the earlier one.
type Coalescer struct {
	window time.Duration
	flush  func(map[string]store.AnchorStatus)

	mu      sync.Mutex
	pending map[string]store.AnchorStatus
	timer   *time.Timer
	seq     uint64
}

func NewCoalescer(window time.Duration, flush func(map[string]store.AnchorStatus)) *Coalescer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Coalescer{window: window, flush: flush}
}

// Report schedules status for id, superseding any scheduled flush.
func (c *Coalescer) Report(id string, status store.AnchorStatus) {
	c.ReportAll(map[string]store.AnchorStatus{id: status})
}

func (c *Coalescer) ReportAll(statuses map[string]store.AnchorStatus) {
	if len(statuses) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		c.pending = make(map[string]store.AnchorStatus, len(statuses))
	}
	for id, status := range statuses {
		c.pending[id] = status
	}

	c.seq++
	seq := c.seq
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.window, func() {
		batch := func() map[string]store.AnchorStatus {
			c.mu.Lock()
			defer c.mu.Unlock()
			// A timer that fired while Stop raced with a newer report must not
			// flush; the newer timer owns the batch.
			if seq != c.seq {
				return nil
			}
			c.timer = nil
			return c.take()
		}()
		if len(batch) > 0 {
			c.flush(batch)
		}
	})
}

// Flush delivers the pending batch now instead of waiting for the window.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	c.stop()
	batch := c.take()
	c.mu.Unlock()
	if len(batch) > 0 {
		c.flush(batch)
	}
}

// Cancel drops the pending batch without delivering it.
func (c *Coalescer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop()
	c.pending = nil
}

// Pending reports how many ids are waiting to be flushed.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coalescer) Window() time.Duration {
	return c.window
}

func (c *Coalescer) stop() {
	c.seq++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coalescer) take() map[string]store.AnchorStatus {
	batch := c.pending
	c.pending = nil
	return batch
}
