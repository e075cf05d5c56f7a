package roadmap

import "time"

// childIndex maps a parent id to its direct children ids in input order.
func childIndex(items []Item) map[string][]string {
	index := make(map[string][]string, len(items))
	for _, it := range items {
		if parent := it.ParentID(); parent != "" {
			index[parent] = append(index[parent], it.ID)
		}
	}
	return index
}

// SubtreeIDs returns id followed by every transitive descendant, depth first.
// It returns nil when id is not in items.
func SubtreeIDs(items []Item, id string) []string {
	if _, ok := FindItem(items, id); !ok {
		return nil
	}
	index := childIndex(items)
	seen := map[string]bool{id: true}
	out := []string{id}
	var walk func(string)
	walk = func(parent string) {
		for _, child := range index[parent] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			walk(child)
		}
	}
	walk(id)
	return out
}

// Descendants returns every transitive descendant of id, excluding id.
func Descendants(items []Item, id string) []string {
	ids := SubtreeIDs(items, id)
	if len(ids) == 0 {
		return nil
	}
	return ids[1:]
}

// CompletionPlan is the full set of items a completion toggle touches. All of
// them receive the same IsCompleted and CompletedAt.
type CompletionPlan struct {
	TargetID    string
	IDs         []string
	IsCompleted bool
	CompletedAt *time.Time
}

func (p CompletionPlan) Contains(id string) bool {
	for _, candidate := range p.IDs {
		if candidate == id {
			return true
		}
	}
	return false
}

// PlanCompletion collects the target and its descendants for a completion
// change. CompletedAt is now when completing and nil otherwise.
func PlanCompletion(items []Item, id string, completed bool, now time.Time) (CompletionPlan, error) {
	ids := SubtreeIDs(items, id)
	if len(ids) == 0 {
		return CompletionPlan{}, NotFoundError{Kind: "item", ID: id}
	}
	plan := CompletionPlan{TargetID: id, IDs: ids, IsCompleted: completed}
	if completed {
		at := now.UTC()
		plan.CompletedAt = &at
	}
	return plan, nil
}

// ApplyCompletion returns a copy of items with the plan applied.
func ApplyCompletion(items []Item, plan CompletionPlan) []Item {
	affected := make(map[string]bool, len(plan.IDs))
	for _, id := range plan.IDs {
		affected[id] = true
	}
	out := CloneItems(items)
	for i := range out {
		if !affected[out[i].ID] {
			continue
		}
		out[i].IsCompleted = plan.IsCompleted
		out[i].CompletedAt = nil
		if plan.CompletedAt != nil {
			at := *plan.CompletedAt
			out[i].CompletedAt = &at
		}
	}
	return out
}

// RemoveSubtree returns a copy of items without id and its descendants.
func RemoveSubtree(items []Item, id string) []Item {
	drop := make(map[string]bool)
	for _, removed := range SubtreeIDs(items, id) {
		drop[removed] = true
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if drop[it.ID] {
			continue
		}
		out = append(out, it.Clone())
	}
	return out
}
