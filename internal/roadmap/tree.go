package roadmap

import "sort"

// BuildTree nests a flat item list into roots with populated children.
//
// Items whose parent is missing are promoted to roots. A parent link that
// would close a cycle is dropped and the item becomes a root, so every input
// id appears exactly once in the result. Every level is stably sorted by
// position; equal positions keep input order.
func BuildTree(items []Item) []*ItemView {
	if len(items) == 0 {
		return []*ItemView{}
	}

	nodes := make(map[string]*ItemView, len(items))
	order := make([]*ItemView, 0, len(items))
	for _, it := range items {
		if _, dup := nodes[it.ID]; dup {
			continue
		}
		node := &ItemView{Item: it, Children: []*ItemView{}}
		nodes[it.ID] = node
		order = append(order, node)
	}

	attached := make(map[string]string, len(order))
	roots := make([]*ItemView, 0)
	for _, node := range order {
		parentID := node.ParentID()
		parent, ok := nodes[parentID]
		if parentID == "" || !ok || closesCycle(attached, node.ID, parentID) {
			roots = append(roots, node)
			continue
		}
		attached[node.ID] = parentID
		parent.Children = append(parent.Children, node)
	}

	sortLevel(roots)
	return roots
}

// closesCycle reports whether linking child under parentID would make child
// its own ancestor, given the links made so far.
func closesCycle(attached map[string]string, child, parentID string) bool {
	seen := 0
	for cur := parentID; cur != ""; cur = attached[cur] {
		if cur == child {
			return true
		}
		seen++
		if seen > len(attached)+1 {
			return true
		}
	}
	return false
}

func sortLevel(level []*ItemView) {
	sort.SliceStable(level, func(i, j int) bool {
		return level[i].Position < level[j].Position
	})
	for _, node := range level {
		if len(node.Children) > 0 {
			sortLevel(node.Children)
		}
	}
}

// Flatten walks the tree depth first (pre-order) and returns the items.
func Flatten(roots []*ItemView) []Item {
	out := make([]Item, 0)
	var walk func([]*ItemView)
	walk = func(level []*ItemView) {
		for _, node := range level {
			out = append(out, node.Item)
			walk(node.Children)
		}
	}
	walk(roots)
	return out
}
