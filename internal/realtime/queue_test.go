package realtime

import (
	"reflect"
	"testing"

	"marginalia/api/internal/store"
)

func rec(id, group string) store.Annotation {
	return store.Annotation{ID: id, Group: group, Text: id}
}

func existsIn(ids ...string) func(string) bool {
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	return func(id string) bool { return set[id] }
}

var focused = Context{FocusedGroup: "g1"}

func TestReceiveBuffersRelevantUpdates(t *testing.T) {
	q := NewQueue()
	q.Receive(Batch{Updated: []store.Annotation{rec("a", "g1"), rec("b", "g2")}}, focused, existsIn())

	if !q.HasPendingUpdate("a") {
		t.Fatal("expected update for focused group")
	}
	if q.HasPendingUpdate("b") {
		t.Fatal("update from another group should be dropped")
	}

	q.Receive(Batch{Updated: []store.Annotation{rec("b", "g2")}}, Context{FocusedGroup: "g1", ShowCrossGroup: true}, existsIn())
	if !q.HasPendingUpdate("b") {
		t.Fatal("cross-group updates should be kept when enabled")
	}
}

func TestReceiveDeletionOnlyForLiveIDs(t *testing.T) {
	q := NewQueue()
	q.Receive(Batch{Updated: []store.Annotation{rec("a", "g1")}}, focused, existsIn())
	q.Receive(Batch{Deleted: []string{"a", "b", "never"}}, focused, existsIn("b"))

	if q.HasPendingUpdate("a") {
		t.Fatal("deletion must drop the pending update")
	}
	if q.HasPendingDeletion("a") || q.HasPendingDeletion("never") {
		t.Fatal("deletions of ids that were never loaded are no-ops")
	}
	if !q.HasPendingDeletion("b") {
		t.Fatal("expected pending deletion for live id")
	}
	if q.Count() != 1 {
		t.Fatalf("count = %d, want 1", q.Count())
	}
}

func TestReceiveIsIdempotent(t *testing.T) {
	q := NewQueue()
	batch := Batch{Updated: []store.Annotation{rec("a", "g1")}, Deleted: []string{"b"}}
	q.Receive(batch, focused, existsIn("b"))
	q.Receive(batch, focused, existsIn("b"))
	if q.Count() != 2 {
		t.Fatalf("count = %d, want 2", q.Count())
	}
}

func TestDiscardLocalWins(t *testing.T) {
	q := NewQueue()
	q.Receive(Batch{Updated: []store.Annotation{rec("x", "g1")}, Deleted: []string{"y"}}, focused, existsIn("y"))

	q.Discard("x", "y")
	if q.Count() != 0 {
		t.Fatalf("count = %d, want 0", q.Count())
	}
}

func TestApplyToMovesEverything(t *testing.T) {
	live := NewCollection([]store.Annotation{rec("a", "g1"), rec("b", "g1")})
	q := NewQueue()
	updated := rec("a", "g1")
	updated.Text = "edited"
	q.Receive(Batch{Updated: []store.Annotation{updated, rec("c", "g1")}, Deleted: []string{"b"}}, focused, live.Exists)

	version := live.Version()
	u, d := q.ApplyTo(live)
	if u != 2 || d != 1 {
		t.Fatalf("applied %d updates, %d deletions", u, d)
	}
	if q.Count() != 0 {
		t.Fatalf("count after apply = %d", q.Count())
	}
	if live.Version() == version {
		t.Fatal("expected version bump")
	}
	var ids []string
	for _, a := range live.Snapshot() {
		ids = append(ids, a.ID)
	}
	if !reflect.DeepEqual(ids, []string{"a", "c"}) {
		t.Fatalf("live ids = %v", ids)
	}
	if got, _ := live.Get("a"); got.Text != "edited" {
		t.Fatalf("expected edited text, got %q", got.Text)
	}
}

func TestClearOnContextSwitch(t *testing.T) {
	q := NewQueue()
	q.Receive(Batch{Updated: []store.Annotation{rec("a", "g1")}, Deleted: []string{"b"}}, focused, existsIn("b"))
	q.Clear()
	if q.Count() != 0 || q.HasPendingUpdate("a") || q.HasPendingDeletion("b") {
		t.Fatal("expected both buffers empty")
	}
}

func TestPendingView(t *testing.T) {
	q := NewQueue()
	q.Receive(Batch{Updated: []store.Annotation{rec("b", "g1"), rec("a", "g1")}, Deleted: []string{"z"}}, focused, existsIn("z"))
	want := Pending{Updates: []string{"a", "b"}, Deletions: []string{"z"}, Count: 3}
	if got := q.Pending(); !reflect.DeepEqual(got, want) {
		t.Fatalf("pending = %+v, want %+v", got, want)
	}
}
