package store

import "time"

type Roadmap struct {
	ID              string
	Title           string
	ExperienceLevel string
	Technology      string
	Goals           string
	AdditionalInfo  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type RoadmapSummary struct {
	Roadmap
	TotalItems     int
	CompletedItems int
}

// RoadmapPatch carries the columns to change; nil fields keep their value.
type RoadmapPatch struct {
	Title           *string
	ExperienceLevel *string
	Technology      *string
	Goals           *string
	AdditionalInfo  *string
}

type Item struct {
	ID           string
	RoadmapID    string
	ParentItemID *string
	Title        string
	Description  string
	Level        int
	Position     int
	IsCompleted  bool
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ItemPatch struct {
	Title       *string
	Description *string
	Position    *int
	Level       *int
}

// Completion is a completion change applied to an item and its subtree.
// Title and Description, when set, apply to the target item only.
type Completion struct {
	IsCompleted bool
	CompletedAt *time.Time
	Title       *string
	Description *string
}
