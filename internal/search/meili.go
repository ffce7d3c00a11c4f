package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"marginalia/api/internal/query"
)

const idxAnnotations = "marginalia_annotations"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index. When the
// server is down the client starts unhealthy and the health loop configures
// the index once it recovers.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	// Initial health check
	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxAnnotations,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxAnnotations, err)
	}

	index := m.client.Index(idxAnnotations)
	filterable := []interface{}{"group", "user", "uri", "tags", "created"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxAnnotations, err)
	}
	searchable := []string{"text", "quote", "tags", "userDisplayName"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxAnnotations, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search translates the query into a Meilisearch request: free text, quote
// and text terms become the search string, the other facets filters.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	text, filters := translate(query.Parse(q.Text), q.Now)
	if q.Group != "" {
		filters = append(filters, fmt.Sprintf("group = %q", q.Group))
	}
	sr := &meili.SearchRequest{
		IndexUID:              idxAnnotations,
		Query:                 text,
		Limit:                 int64(q.limit()),
		Offset:                int64(max(q.Offset, 0)),
		AttributesToHighlight: []string{"text", "quote"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, r := range resp.Results {
		total += int(r.EstimatedTotalHits)
		for _, hit := range r.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

// translate splits a parsed query into the search string and filter
// expressions. Each filter entry is ANDed by Meilisearch; OR facets are
// grouped into one entry.
func translate(spec query.Spec, now time.Time) (string, []string) {
	var words, filters []string
	for _, facet := range []query.Facet{query.FacetAny, query.FacetText, query.FacetQuote} {
		for _, term := range spec[facet].Terms {
			words = append(words, term.Text)
		}
	}
	for _, term := range spec[query.FacetTag].Terms {
		filters = append(filters, fmt.Sprintf("tags = %q", term.Text))
	}
	for _, facet := range []query.Facet{query.FacetUser, query.FacetURI} {
		terms := spec[facet].Terms
		if len(terms) == 0 {
			continue
		}
		clauses := make([]string, len(terms))
		for i, term := range terms {
			clauses[i] = fmt.Sprintf("%s = %q", facet, term.Text)
		}
		filters = append(filters, strings.Join(clauses, " OR "))
	}
	if terms := spec[query.FacetSince].Terms; len(terms) > 0 {
		if now.IsZero() {
			now = time.Now()
		}
		for _, term := range terms {
			filters = append(filters, fmt.Sprintf("created >= %d", now.Unix()-int64(term.Seconds)))
		}
	}
	return strings.Join(words, " "), filters
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:    decodeString(hit, "id"),
		URI:   decodeString(hit, "uri"),
		Group: decodeString(hit, "group"),
		User:  decodeString(hit, "user"),
		Tags:  decodeStrings(hit, "tags"),
	}
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "text"), snippet(decodeString(hit, "text")))
	r.Quote = firstNonBlank(decodeFormattedString(hit, "quote"), decodeString(hit, "quote"))
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeStrings(hit meili.Hit, key string) []string {
	raw, ok := hit[key]
	if !ok {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var value string
	if err := json.Unmarshal(formatted[key], &value); err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexAnnotation adds or updates an annotation in the search index.
func (m *Meili) IndexAnnotation(r AnnotationRecord) error {
	_, err := m.client.Index(idxAnnotations).AddDocuments([]AnnotationRecord{r}, nil)
	return err
}

// DeleteAnnotation removes an annotation from the search index.
func (m *Meili) DeleteAnnotation(id string) error {
	_, err := m.client.Index(idxAnnotations).DeleteDocument(id, nil)
	return err
}

// IndexAnnotations bulk-indexes annotations.
func (m *Meili) IndexAnnotations(records []AnnotationRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxAnnotations).AddDocuments(records, nil)
	return err
}
