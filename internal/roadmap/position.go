package roadmap

import (
	"fmt"
	"sort"
	"strings"
)

// PositionGap is the spacing between appended siblings. Leaving room between
// values lets single moves land between neighbours without renumbering.
const PositionGap = 1000

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

func ParseDirection(value string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(value))) {
	case DirectionUp:
		return DirectionUp, nil
	case DirectionDown:
		return DirectionDown, nil
	default:
		return "", fmt.Errorf("invalid direction %q (want up or down)", value)
	}
}

// NextPosition returns the position for an item appended to the end of the
// sibling group under parentID.
func NextPosition(items []Item, parentID *string) int {
	siblings := Siblings(items, parentID)
	if len(siblings) == 0 {
		return PositionGap
	}
	max := siblings[0].Position
	for _, it := range siblings[1:] {
		if it.Position > max {
			max = it.Position
		}
	}
	if max < 0 {
		max = 0
	}
	return max + PositionGap
}

// TempPosition returns a staging position above every existing position, used
// while two siblings trade places so no duplicate is ever persisted.
func TempPosition(items []Item) int {
	max := 0
	for _, it := range items {
		if it.Position > max {
			max = it.Position
		}
	}
	return max + 1
}

// SortByPosition stably sorts items by position in place.
func SortByPosition(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Position < items[j].Position
	})
}

// Swap describes a two item reorder. Moved and Partner hold the values
// before the swap; MovedTo and PartnerTo are their positions after it.
type Swap struct {
	Moved     Item
	Partner   Item
	MovedTo   int
	PartnerTo int
}

// Tied reports whether the two siblings shared a position. Exchanging equal
// values would change nothing, so only the moved item is repositioned.
func (s Swap) Tied() bool {
	return s.Moved.Position == s.Partner.Position
}

// FindSwap locates the sibling that itemID trades places with when moved in
// dir. ok is false when the item already sits at that boundary.
func FindSwap(items []Item, itemID string, dir Direction) (swap Swap, ok bool, err error) {
	moved, found := FindItem(items, itemID)
	if !found {
		return Swap{}, false, NotFoundError{Kind: "item", ID: itemID}
	}
	if dir != DirectionUp && dir != DirectionDown {
		return Swap{}, false, fmt.Errorf("invalid direction %q", dir)
	}

	siblings := Siblings(items, moved.ParentItemID)
	SortByPosition(siblings)

	idx := -1
	for i := range siblings {
		if siblings[i].ID == itemID {
			idx = i
			break
		}
	}

	step := 1
	if dir == DirectionUp {
		step = -1
	}
	partnerIdx := idx + step
	if idx < 0 || partnerIdx < 0 || partnerIdx >= len(siblings) {
		return Swap{}, false, nil
	}
	partner := siblings[partnerIdx]
	swap = Swap{Moved: moved, Partner: partner, MovedTo: partner.Position, PartnerTo: moved.Position}
	if swap.Tied() {
		// Land halfway between the partner and the sibling beyond it.
		beyond := partner.Position + step*PositionGap
		if b := partnerIdx + step; b >= 0 && b < len(siblings) {
			beyond = siblings[b].Position
		}
		swap.MovedTo = partner.Position + (beyond-partner.Position)/2
		if swap.MovedTo == partner.Position {
			swap.MovedTo = partner.Position + step
		}
	}
	return swap, true, nil
}

// ApplySwap returns a copy of items with the two positions exchanged.
func ApplySwap(items []Item, swap Swap) []Item {
	out := CloneItems(items)
	for i := range out {
		switch out[i].ID {
		case swap.Moved.ID:
			out[i].Position = swap.MovedTo
		case swap.Partner.ID:
			out[i].Position = swap.PartnerTo
		}
	}
	return out
}
