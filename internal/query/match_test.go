package query

import (
	"testing"
	"time"

	"marginalia/api/internal/store"
)

var matchNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func sampleAnnotation() *store.Annotation {
	return &store.Annotation{
		ID:              "a",
		Created:         matchNow.Add(-time.Hour),
		User:            "acct:alice@example.org",
		UserDisplayName: "Alice Liddell",
		Text:            "A note about the Café",
		Tags:            []string{"Science", "draft"},
		URI:             "https://example.com/article",
		Quote:           "to be or not to be",
	}
}

func matches(query string, annotation *store.Annotation) bool {
	return NewMatcher(Parse(query), matchNow).Match(annotation)
}

func TestMatchEmptySpecMatchesEverything(t *testing.T) {
	if !matches("", sampleAnnotation()) {
		t.Fatal("empty query must match")
	}
	if NewMatcher(Parse(""), matchNow).Active() {
		t.Fatal("empty query must not be active")
	}
}

func TestMatchPlaceholderNeverMatches(t *testing.T) {
	if NewMatcher(Parse(""), matchNow).Match(nil) {
		t.Fatal("nil annotation must not match")
	}
}

func TestMatchFacets(t *testing.T) {
	annotation := sampleAnnotation()
	cases := []struct {
		query string
		want  bool
	}{
		{"tag:science", true},
		{"tag:sci", true},
		{"tag:science tag:draft", true},
		{"tag:science tag:missing", false},
		{"text:cafe", true},
		{"text:CAFÉ", true},
		{"quote:\"not to be\"", true},
		{"quote:hamlet", false},
		{"uri:example.com", true},
		{"uri:example.com uri:other.org", true},
		{"uri:other.org uri:another.org", false},
		{"user:alice", true},
		{"user:bob user:liddell", true},
		{"user:bob", false},
		{"note alice", true},
		{"note bob", false},
		{"unknown:prefix", false},
		{"since:2hour", true},
		{"since:30min", false},
		{"tag:science user:bob", false},
	}
	for _, tc := range cases {
		if got := matches(tc.query, annotation); got != tc.want {
			t.Errorf("query %q matched=%v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestMatchSinceTwoDays(t *testing.T) {
	inside := &store.Annotation{ID: "in", Created: matchNow.Add(-172800 * time.Second)}
	outside := &store.Annotation{ID: "out", Created: matchNow.Add(-172801 * time.Second)}
	if !matches("since:2day", inside) {
		t.Fatal("record created exactly 2 days ago must match")
	}
	if matches("since:2day", outside) {
		t.Fatal("record created more than 2 days ago must not match")
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("Crème Brûlée"); got != "creme brulee" {
		t.Fatalf("Normalize = %q", got)
	}
}
