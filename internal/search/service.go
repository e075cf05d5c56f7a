package search

import (
	"context"
	"log"
)

type backend interface {
	Searcher
	Indexer
}

type loader interface {
	LoadAllRecords(ctx context.Context) ([]RoadmapRecord, []ItemRecord, error)
}

type fallback interface {
	Searcher
	loader
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  backend
	fallback fallback
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(m *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if m != nil {
		s.primary = m
	}
	if pgfts != nil {
		s.fallback = pgfts
	}
	return s
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexRoadmap indexes a roadmap (fire-and-forget to Meilisearch).
func (s *Service) IndexRoadmap(r RoadmapRecord) {
	if !s.primaryReady() {
		return
	}
	go func() {
		if err := s.primary.IndexRoadmaps([]RoadmapRecord{r}); err != nil {
			log.Printf("search: index roadmap %s: %v", r.ID, err)
		}
	}()
}

// IndexItems indexes items (fire-and-forget to Meilisearch).
func (s *Service) IndexItems(items []ItemRecord) {
	if !s.primaryReady() || len(items) == 0 {
		return
	}
	go func() {
		if err := s.primary.IndexItems(items); err != nil {
			log.Printf("search: index %d items: %v", len(items), err)
		}
	}()
}

// DeleteRoadmap removes a roadmap and the given item ids from the index.
func (s *Service) DeleteRoadmap(id string, itemIDs []string) {
	if !s.primaryReady() {
		return
	}
	go func() {
		if err := s.primary.DeleteRoadmap(id); err != nil {
			log.Printf("search: delete roadmap %s: %v", id, err)
		}
		s.deleteItems(itemIDs)
	}()
}

// DeleteItems removes items from the index (fire-and-forget).
func (s *Service) DeleteItems(ids []string) {
	if !s.primaryReady() || len(ids) == 0 {
		return
	}
	go s.deleteItems(ids)
}

func (s *Service) deleteItems(ids []string) {
	for _, id := range ids {
		if err := s.primary.DeleteItem(id); err != nil {
			log.Printf("search: delete item %s: %v", id, err)
		}
	}
}

// ReindexAll pushes the given records to Meilisearch.
func (s *Service) ReindexAll(roadmaps []RoadmapRecord, items []ItemRecord) {
	if !s.primaryReady() {
		return
	}
	if err := s.primary.IndexRoadmaps(roadmaps); err != nil {
		log.Printf("search: reindex roadmaps: %v", err)
	}
	if err := s.primary.IndexItems(items); err != nil {
		log.Printf("search: reindex items: %v", err)
	}
}

// ReindexAllFromPG reindexes every searchable entity from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.primaryReady() || s.fallback == nil {
		return
	}
	roadmaps, items, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(roadmaps, items)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
