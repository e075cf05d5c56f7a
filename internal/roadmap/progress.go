package roadmap

// Count returns how many nodes the tree holds and how many are completed.
func Count(roots []*ItemView) (total, completed int) {
	for _, node := range roots {
		total++
		if node.IsCompleted {
			completed++
		}
		t, c := Count(node.Children)
		total += t
		completed += c
	}
	return total, completed
}

// CalculateProgress returns the completed share of all nodes as a
// percentage in [0, 100]. An empty tree is 0.
func CalculateProgress(roots []*ItemView) float64 {
	total, completed := Count(roots)
	if total == 0 {
		return 0
	}
	return 100 * float64(completed) / float64(total)
}
