package roadmap

import (
	"context"
	"time"
)

type CreateItemInput struct {
	ParentItemID *string `json:"parent_item_id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Level        int     `json:"level"`
	Position     int     `json:"position"`
}

// UpdateItemInput is a partial update; nil fields are left alone.
type UpdateItemInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Position    *int    `json:"position,omitempty"`
	Level       *int    `json:"level,omitempty"`
}

func (in UpdateItemInput) Empty() bool {
	return in.Title == nil && in.Description == nil && in.Position == nil && in.Level == nil
}

// CompletionInput is the full update sent for completion changes. The remote
// applies IsCompleted and CompletedAt to the item and its descendants.
type CompletionInput struct {
	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at"`
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
}

// Remote is the per item CRUD store the editor synchronises with. Calls are
// independent; no transaction spans two of them.
type Remote interface {
	CreateItem(ctx context.Context, roadmapID string, in CreateItemInput) (Item, error)
	UpdateItem(ctx context.Context, roadmapID, itemID string, in UpdateItemInput) (Item, error)
	// SetCompletion may return only the target or the whole cascaded set.
	SetCompletion(ctx context.Context, roadmapID, itemID string, in CompletionInput) ([]Item, error)
	DeleteItem(ctx context.Context, roadmapID, itemID string) error
}

// PositionSwapper is implemented by remotes that can exchange two sibling
// positions in one atomic call.
type PositionSwapper interface {
	SwapPositions(ctx context.Context, roadmapID, itemID, otherID string) ([]Item, error)
}

// Loader fetches the flat item list an editor is seeded from.
type Loader interface {
	ListItems(ctx context.Context, roadmapID string) ([]Item, error)
}
