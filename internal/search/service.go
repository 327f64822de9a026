package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: sanitizeResults(nonNil(results), q.PublicOnly), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: sanitizeResults(nonNil(results), q.PublicOnly), Total: total, Query: q.Text}
}

// IndexJoke indexes a joke (fire-and-forget to Meilisearch).
func (s *Service) IndexJoke(j JokeRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexJoke(j); err != nil {
			log.Printf("search: index joke %s: %v", j.ID, err)
		}
	}()
}

// IndexSource indexes a source scan (fire-and-forget to Meilisearch).
func (s *Service) IndexSource(src SourceRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSource(src); err != nil {
			log.Printf("search: index source %s: %v", src.ID, err)
		}
	}()
}

// DeleteJoke removes a joke from the search index (fire-and-forget).
func (s *Service) DeleteJoke(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteJoke(id); err != nil {
			log.Printf("search: delete joke %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes the given records to Meilisearch.
func (s *Service) ReindexAll(jokes []JokeRecord, sources []SourceRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(jokes) > 0 {
		if err := s.meili.IndexJokes(jokes); err != nil {
			log.Printf("search: reindex jokes: %v", err)
		}
	}
	if len(sources) > 0 {
		if err := s.meili.IndexSources(sources); err != nil {
			log.Printf("search: reindex sources: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	jokes, sources, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(jokes, sources)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// sanitizeResults drops unpublished joke hits for anonymous readers. The
// backends already filter, this is the final guard before the response.
func sanitizeResults(results []Result, publicOnly bool) []Result {
	if !publicOnly {
		return results
	}
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if result.Type == ResultJoke && result.Status != "published" {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
