package cli

import (
	"fmt"
	"io"
	"strings"

	"roadmap/api/internal/client"
	"roadmap/api/internal/roadmap"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	heading  lipgloss.Style
	done     lipgloss.Style
	id       lipgloss.Style
	progress lipgloss.Style
	match    lipgloss.Style
}

// newStyles binds the styles to w so colors are dropped when w is not a
// terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		heading:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("213")),
		done:     r.NewStyle().Foreground(lipgloss.Color("241")),
		id:       r.NewStyle().Foreground(lipgloss.Color("244")),
		progress: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#81C784"}),
		match:    r.NewStyle().Bold(true).Underline(true),
	}
}

func formatPercent(p float64) string {
	return fmt.Sprintf("%.0f%%", p)
}

// renderTree writes a heading line followed by the item tree, one item per
// line, drawn with box connectors.
func renderTree(w io.Writer, heading string, roots []*roadmap.ItemView, progress float64) error {
	st := newStyles(w)
	total, completed := roadmap.Count(roots)

	var b strings.Builder
	b.WriteString(st.heading.Render(heading))
	b.WriteString("  ")
	b.WriteString(st.progress.Render(fmt.Sprintf("%d/%d done, %s", completed, total, formatPercent(progress))))
	b.WriteByte('\n')
	if len(roots) == 0 {
		b.WriteString("  (no items)\n")
	}
	for i, node := range roots {
		writeNode(&b, st, node, "", i == len(roots)-1)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeNode(b *strings.Builder, st styles, node *roadmap.ItemView, prefix string, last bool) {
	connector, childPrefix := "├── ", "│   "
	if last {
		connector, childPrefix = "└── ", "    "
	}

	box, title := "[ ]", node.Title
	if node.IsCompleted {
		box, title = "[x]", st.done.Render(node.Title)
	}
	fmt.Fprintf(b, "%s%s%s %s  %s\n", prefix, connector, box, title, st.id.Render(node.ID))

	for i, child := range node.Children {
		writeNode(b, st, child, prefix+childPrefix, i == len(node.Children)-1)
	}
}

func renderRoadmapList(w io.Writer, page client.RoadmapPage) error {
	st := newStyles(w)
	if len(page.Data) == 0 {
		_, err := io.WriteString(w, "No roadmaps.\n")
		return err
	}

	width := 0
	for _, r := range page.Data {
		width = max(width, lipgloss.Width(r.Title))
	}

	var b strings.Builder
	for _, r := range page.Data {
		pad := strings.Repeat(" ", width-lipgloss.Width(r.Title))
		fmt.Fprintf(&b, "%s  %s%s  %s  %s\n",
			st.id.Render(r.ID),
			st.heading.Render(r.Title), pad,
			st.progress.Render(fmt.Sprintf("%4s (%d/%d)", formatPercent(r.Progress), r.CompletedItems, r.TotalItems)),
			r.Technology+", "+r.ExperienceLevel,
		)
	}
	shown := page.Pagination.Offset + len(page.Data)
	if shown < page.Pagination.Total {
		fmt.Fprintf(&b, "showing %d-%d of %d\n", page.Pagination.Offset+1, shown, page.Pagination.Total)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func renderSearch(w io.Writer, resp client.SearchResponse) error {
	st := newStyles(w)
	var b strings.Builder
	fmt.Fprintf(&b, "%d result(s) for %q\n", resp.Total, resp.Query)
	for _, r := range resp.Results {
		fmt.Fprintf(&b, "%-7s %s  %s\n", r.Type, highlight(st, r.Title), st.id.Render(r.ID))
		if snippet := strings.TrimSpace(r.Snippet); snippet != "" {
			fmt.Fprintf(&b, "        %s\n", highlight(st, snippet))
		}
		if r.Type == "item" && r.RoadmapID != "" {
			fmt.Fprintf(&b, "        roadmap %s\n", st.id.Render(r.RoadmapID))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// highlight replaces <mark> spans from the search backends with terminal
// styling.
func highlight(st styles, text string) string {
	var b strings.Builder
	for {
		start := strings.Index(text, "<mark>")
		if start < 0 {
			break
		}
		end := strings.Index(text[start:], "</mark>")
		if end < 0 {
			break
		}
		end += start
		b.WriteString(text[:start])
		b.WriteString(st.match.Render(text[start+len("<mark>") : end]))
		text = text[end+len("</mark>"):]
	}
	b.WriteString(text)
	return b.String()
}
