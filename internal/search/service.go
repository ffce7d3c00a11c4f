package search

import (
	"log"

	"marginalia/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to the
// local matcher.
type Service struct {
	meili *Meili
	local Searcher
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, local Searcher) *Service {
	return &Service{meili: meili, local: local}
}

// Search tries Meilisearch if healthy, otherwise falls back to the local matcher.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		log.Printf("search: meilisearch error, falling back to local: %v", err)
	}

	if s.local == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}
	results, total, err := s.local.Search(q)
	if err != nil {
		log.Printf("search: local error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Backend: "local"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "local"}
}

// IndexAnnotation indexes a saved annotation (fire-and-forget to Meilisearch).
func (s *Service) IndexAnnotation(a store.Annotation) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record, ok := RecordOf(a)
	if !ok {
		return
	}
	go func() {
		if err := s.meili.IndexAnnotation(record); err != nil {
			log.Printf("search: index annotation %s: %v", record.ID, err)
		}
	}()
}

// DeleteAnnotation removes an annotation from the search index (fire-and-forget).
func (s *Service) DeleteAnnotation(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteAnnotation(id); err != nil {
			log.Printf("search: delete annotation %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes every saved annotation to Meilisearch. Called after the
// collection is loaded.
func (s *Service) ReindexAll(annotations []store.Annotation) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records := make([]AnnotationRecord, 0, len(annotations))
	for _, a := range annotations {
		if record, ok := RecordOf(a); ok {
			records = append(records, record)
		}
	}
	if err := s.meili.IndexAnnotations(records); err != nil {
		log.Printf("search: reindex annotations: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
