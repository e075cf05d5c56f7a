package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultRoadmap ResultType = "roadmap"
	ResultItem    ResultType = "item"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	RoadmapID string     `json:"roadmapId"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterRoadmapID string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexRoadmaps(roadmaps []RoadmapRecord) error
	IndexItems(items []ItemRecord) error
	DeleteRoadmap(id string) error
	DeleteItem(id string) error
}

// RoadmapRecord is the data we index for a roadmap.
type RoadmapRecord struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Technology      string `json:"technology"`
	ExperienceLevel string `json:"experienceLevel"`
	Goals           string `json:"goals"`
}

// ItemRecord is the data we index for a roadmap item.
type ItemRecord struct {
	ID          string `json:"id"`
	RoadmapID   string `json:"roadmapId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	IsCompleted bool   `json:"isCompleted"`
}
