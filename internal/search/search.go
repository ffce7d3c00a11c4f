// Package search finds annotations by the sidebar query language, through
// Meilisearch when it is reachable and the in-process matcher otherwise.
package search

import (
	"time"

	"marginalia/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string   `json:"id"`
	Snippet string   `json:"snippet"`
	Quote   string   `json:"quote,omitempty"`
	URI     string   `json:"uri"`
	Group   string   `json:"group"`
	User    string   `json:"user"`
	Tags    []string `json:"tags,omitempty"`
}

// Query describes a search request. Text uses the filter query language.
type Query struct {
	Text   string
	Group  string // empty = all groups
	Now    time.Time
	Limit  int
	Offset int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push annotations into a search index.
type Indexer interface {
	IndexAnnotation(r AnnotationRecord) error
	DeleteAnnotation(id string) error
}

// AnnotationRecord is the data we index for an annotation.
type AnnotationRecord struct {
	ID              string   `json:"id"`
	Text            string   `json:"text"`
	Quote           string   `json:"quote"`
	URI             string   `json:"uri"`
	Group           string   `json:"group"`
	User            string   `json:"user"`
	UserDisplayName string   `json:"userDisplayName"`
	Tags            []string `json:"tags"`
	Created         int64    `json:"created"`
}

// RecordOf converts a saved annotation. Drafts have no id and are never
// indexed.
func RecordOf(a store.Annotation) (AnnotationRecord, bool) {
	if a.ID == "" {
		return AnnotationRecord{}, false
	}
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	return AnnotationRecord{
		ID:              a.ID,
		Text:            a.Text,
		Quote:           a.Quote,
		URI:             a.URI,
		Group:           a.Group,
		User:            a.User,
		UserDisplayName: a.UserDisplayName,
		Tags:            tags,
		Created:         a.Created.Unix(),
	}, true
}

func resultOf(a store.Annotation) Result {
	return Result{
		ID:      a.ID,
		Snippet: snippet(a.Text),
		Quote:   a.Quote,
		URI:     a.URI,
		Group:   a.Group,
		User:    a.User,
		Tags:    a.Tags,
	}
}

const snippetLen = 160

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLen {
		return text
	}
	return string(runes[:snippetLen]) + "…"
}
