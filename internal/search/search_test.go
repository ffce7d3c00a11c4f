package search

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"marginalia/api/internal/query"
	"marginalia/api/internal/store"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func fixture() []store.Annotation {
	return []store.Annotation{
		{ID: "a", Group: "g1", User: "acct:alice", Text: "Apples are red", Tags: []string{"fruit"}, Created: now.Add(-72 * time.Hour)},
		{ID: "b", Group: "g1", User: "acct:bob", Text: "Bananas are yellow", Tags: []string{"fruit"}, Created: now.Add(-time.Hour)},
		{ID: "c", Group: "g2", User: "acct:alice", Text: "Carrots are orange", Created: now.Add(-2 * time.Hour)},
		{LocalTag: "t1", Group: "g1", Text: "apples draft"},
	}
}

func localSearch(q Query) ([]string, int) {
	q.Now = now
	results, total, _ := NewLocal(fixture).Search(q)
	ids := []string{}
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	return ids, total
}

func TestLocalSearch(t *testing.T) {
	cases := []struct {
		name string
		q    Query
		want []string
	}{
		{"free text", Query{Text: "apples"}, []string{"a"}},
		{"tag newest first", Query{Text: "tag:fruit"}, []string{"b", "a"}},
		{"group", Query{Text: "are", Group: "g2"}, []string{"c"}},
		{"since", Query{Text: "since:1day"}, []string{"b", "c"}},
		{"user or", Query{Text: "user:bob user:alice"}, []string{"b", "c", "a"}},
		{"paged", Query{Text: "are", Limit: 1, Offset: 1}, []string{"c"}},
		{"empty query", Query{Text: "  "}, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got, _ := localSearch(tc.q); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ids = %v, want %v", got, tc.want)
			}
		})
	}
	if _, total := localSearch(Query{Text: "are", Limit: 1}); total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
}

func TestServiceFallsBackToLocal(t *testing.T) {
	svc := NewService(nil, NewLocal(fixture))
	resp := svc.Search(Query{Text: "bananas", Now: now})
	if resp.Backend != "local" || resp.Total != 1 || resp.Results[0].ID != "b" {
		t.Fatalf("response = %+v", resp)
	}

	resp = NewService(nil, nil).Search(Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty results, got %+v", resp)
	}

	// Without meilisearch indexing is a no-op.
	svc.IndexAnnotation(fixture()[0])
	svc.DeleteAnnotation("a")
	svc.ReindexAll(fixture())
}

func TestTranslate(t *testing.T) {
	text, filters := translate(query.Parse(`apples quote:"red fruit" tag:a tag:b user:x user:y since:1hour`), now)
	if text != "apples red fruit" {
		t.Fatalf("text = %q", text)
	}
	want := []string{
		`tags = "a"`,
		`tags = "b"`,
		`user = "x" OR user = "y"`,
		"created >= " + itoa(now.Unix()-3600),
	}
	if !reflect.DeepEqual(filters, want) {
		t.Fatalf("filters = %#v, want %#v", filters, want)
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestRecordOf(t *testing.T) {
	if _, ok := RecordOf(store.Annotation{LocalTag: "t1"}); ok {
		t.Fatal("drafts must not be indexed")
	}
	r, ok := RecordOf(fixture()[2])
	if !ok || r.Tags == nil || r.Created != now.Add(-2*time.Hour).Unix() {
		t.Fatalf("record = %+v", r)
	}
}

func TestHitToResultPrefersHighlights(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"a"`),
		"text":       json.RawMessage(`"Apples are red"`),
		"tags":       json.RawMessage(`["fruit"]`),
		"_formatted": json.RawMessage(`{"text":"<mark>Apples</mark> are red","tags":["fruit"]}`),
	}
	r := hitToResult(hit)
	if r.ID != "a" || r.Snippet != "<mark>Apples</mark> are red" || !reflect.DeepEqual(r.Tags, []string{"fruit"}) {
		t.Fatalf("result = %+v", r)
	}
}

func TestSnippetTruncates(t *testing.T) {
	long := strings.Repeat("é", snippetLen+10)
	if got := []rune(snippet(long)); len(got) != snippetLen+1 {
		t.Fatalf("snippet has %d runes", len(got))
	}
}

// fakeMeili answers the handful of endpoints the client touches.
type fakeMeili struct {
	mu      sync.Mutex
	queries []map[string]any
}

func (f *fakeMeili) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/health":
		_, _ = io.WriteString(w, `{"status":"available"}`)
	case r.URL.Path == "/multi-search":
		var body struct {
			Queries []map[string]any `json:"queries"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.queries = append(f.queries, body.Queries...)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"results":[{"indexUid":"marginalia_annotations","hits":[{"id":"b","text":"Bananas","group":"g1"}],"estimatedTotalHits":1,"query":"bananas","limit":20,"offset":0,"processingTimeMs":1}]}`)
	default:
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"taskUid":1,"indexUid":"marginalia_annotations","status":"enqueued","type":"indexCreation","enqueuedAt":"2024-01-01T00:00:00Z"}`)
	}
}

func TestMeiliSearch(t *testing.T) {
	fake := &fakeMeili{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := NewMeili(srv.URL, "key")
	defer m.Close()
	if !m.Healthy() {
		t.Fatal("expected healthy client")
	}

	resp := NewService(m, NewLocal(fixture)).Search(Query{Text: "bananas tag:fruit", Group: "g1", Now: now})
	if resp.Backend != "meilisearch" || resp.Total != 1 || resp.Results[0].ID != "b" {
		t.Fatalf("response = %+v", resp)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.queries) != 1 {
		t.Fatalf("queries = %v", fake.queries)
	}
	q := fake.queries[0]
	if q["q"] != "bananas" || q["indexUid"] != idxAnnotations {
		t.Fatalf("query = %v", q)
	}
	filters, _ := q["filter"].([]any)
	if len(filters) != 2 || filters[0] != `tags = "fruit"` || filters[1] != `group = "g1"` {
		t.Fatalf("filters = %v", q["filter"])
	}
}

func TestMeiliUnhealthyFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewMeili(srv.URL, "")
	defer m.Close()
	if m.Healthy() {
		t.Fatal("expected unhealthy client")
	}
	if _, _, err := m.Search(Query{Text: "x"}); err == nil {
		t.Fatal("expected error while unhealthy")
	}
	resp := NewService(m, NewLocal(fixture)).Search(Query{Text: "carrots", Now: now})
	if resp.Backend != "local" || resp.Total != 1 {
		t.Fatalf("response = %+v", resp)
	}
}
