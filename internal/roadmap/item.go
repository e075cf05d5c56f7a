// Package roadmap holds the roadmap item model and the pure functions the
// editor derives its views from: tree building, progress, position
// allocation and the completion/delete cascades.
package roadmap

import (
	"strconv"
	"time"
)

// TempIDPrefix marks an item that has not been confirmed by the remote store.
const TempIDPrefix = "temp-"

type Item struct {
	ID           string     `json:"id"`
	ParentItemID *string    `json:"parent_item_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Level        int        `json:"level"`
	Position     int        `json:"position"`
	IsCompleted  bool       `json:"is_completed"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// ParentID returns the parent id, or "" for a root item.
func (it Item) ParentID() string {
	if it.ParentItemID == nil {
		return ""
	}
	return *it.ParentItemID
}

func (it Item) IsTemporary() bool {
	return len(it.ID) > len(TempIDPrefix) && it.ID[:len(TempIDPrefix)] == TempIDPrefix
}

// Clone returns a copy that shares no pointers with it.
func (it Item) Clone() Item {
	out := it
	if it.ParentItemID != nil {
		parent := *it.ParentItemID
		out.ParentItemID = &parent
	}
	if it.CompletedAt != nil {
		at := *it.CompletedAt
		out.CompletedAt = &at
	}
	return out
}

// ItemView is an Item with its nested children. Views are rebuilt from the
// flat list and never edited in place.
type ItemView struct {
	Item
	Children []*ItemView `json:"children"`
}

type Roadmap struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	ExperienceLevel string    `json:"experience_level"`
	Technology      string    `json:"technology"`
	Goals           string    `json:"goals"`
	AdditionalInfo  *string   `json:"additional_info"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Details struct {
	Roadmap
	Items    []Item  `json:"items"`
	Progress float64 `json:"progress"`
}

// Summary is a roadmap row in listings.
type Summary struct {
	Roadmap
	TotalItems     int     `json:"total_items"`
	CompletedItems int     `json:"completed_items"`
	Progress       float64 `json:"progress"`
}

type RoadmapInput struct {
	Title           string  `json:"title"`
	ExperienceLevel string  `json:"experience_level"`
	Technology      string  `json:"technology"`
	Goals           string  `json:"goals"`
	AdditionalInfo  *string `json:"additional_info"`
}

type RoadmapPatch struct {
	Title           *string `json:"title,omitempty"`
	ExperienceLevel *string `json:"experience_level,omitempty"`
	Technology      *string `json:"technology,omitempty"`
	Goals           *string `json:"goals,omitempty"`
	AdditionalInfo  *string `json:"additional_info,omitempty"`
}

// NewTempID returns a time based id for an item that has not been persisted yet.
func NewTempID(now time.Time) string {
	return TempIDPrefix + strconv.FormatInt(now.UnixNano(), 10)
}

// CloneItems copies a flat list so callers can keep it as a snapshot.
func CloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}

func FindItem(items []Item, id string) (Item, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

func sameParent(it Item, parentID *string) bool {
	if parentID == nil || *parentID == "" {
		return it.ParentItemID == nil || *it.ParentItemID == ""
	}
	return it.ParentItemID != nil && *it.ParentItemID == *parentID
}

// Siblings returns the items sharing parentID, in input order.
func Siblings(items []Item, parentID *string) []Item {
	out := make([]Item, 0)
	for _, it := range items {
		if sameParent(it, parentID) {
			out = append(out, it)
		}
	}
	return out
}

// StringPtr is a small helper for optional string fields.
func StringPtr(s string) *string {
	return &s
}
