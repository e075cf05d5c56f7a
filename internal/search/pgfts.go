package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs one UNION ALL over roadmaps and roadmap_items ranked by
// ts_rank, with ts_headline snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultRoadmap {
		where := "r.search_vector @@ " + tsQuery
		if q.FilterRoadmapID != "" {
			where += fmt.Sprintf(" AND r.id = $%d::uuid", argN)
			args = append(args, q.FilterRoadmapID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'roadmap'::text AS type, r.id::text AS id, r.title,
				ts_headline('english', coalesce(r.goals, ''), %s, 'StartSel=<mark>,StopSel=</mark>,MaxFragments=1,MaxWords=30') AS snippet,
				r.id::text AS roadmap_id,
				ts_rank(r.search_vector, %s) AS rank
			FROM roadmaps r
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultItem {
		where := "i.search_vector @@ " + tsQuery
		if q.FilterRoadmapID != "" {
			where += fmt.Sprintf(" AND i.roadmap_id = $%d::uuid", argN)
			args = append(args, q.FilterRoadmapID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'item'::text AS type, i.id::text AS id, i.title,
				ts_headline('english', coalesce(i.description, ''), %s, 'StartSel=<mark>,StopSel=</mark>,MaxFragments=1,MaxWords=30') AS snippet,
				i.roadmap_id::text AS roadmap_id,
				ts_rank(i.search_vector, %s) AS rank
			FROM roadmap_items i
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, roadmap_id
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.RoadmapID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]RoadmapRecord, []ItemRecord, error) {
	roadmapRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, title, technology, experience_level, goals
		FROM roadmaps
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load roadmaps: %w", err)
	}
	defer roadmapRows.Close()

	roadmaps := make([]RoadmapRecord, 0)
	for roadmapRows.Next() {
		var r RoadmapRecord
		if err := roadmapRows.Scan(&r.ID, &r.Title, &r.Technology, &r.ExperienceLevel, &r.Goals); err != nil {
			return nil, nil, fmt.Errorf("scan roadmap: %w", err)
		}
		roadmaps = append(roadmaps, r)
	}
	if err := roadmapRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate roadmaps: %w", err)
	}

	itemRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, roadmap_id::text, title, description, is_completed
		FROM roadmap_items
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load items: %w", err)
	}
	defer itemRows.Close()

	items := make([]ItemRecord, 0)
	for itemRows.Next() {
		var it ItemRecord
		if err := itemRows.Scan(&it.ID, &it.RoadmapID, &it.Title, &it.Description, &it.IsCompleted); err != nil {
			return nil, nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := itemRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate items: %w", err)
	}

	return roadmaps, items, nil
}
