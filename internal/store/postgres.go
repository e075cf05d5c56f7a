package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

const roadmapColumns = `id, title, experience_level, technology, goals, additional_info, created_at, updated_at`

const itemColumns = `id, roadmap_id, parent_item_id, title, description, level, position, is_completed, completed_at, created_at, updated_at`

func scanRoadmap(row rowScanner, extra ...any) (Roadmap, error) {
	var item Roadmap
	var info sql.NullString
	dest := append([]any{
		&item.ID,
		&item.Title,
		&item.ExperienceLevel,
		&item.Technology,
		&item.Goals,
		&info,
		&item.CreatedAt,
		&item.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Roadmap{}, err
	}
	if info.Valid {
		item.AdditionalInfo = &info.String
	}
	return item, nil
}

func scanItem(row rowScanner) (Item, error) {
	var item Item
	var parent sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&item.ID,
		&item.RoadmapID,
		&parent,
		&item.Title,
		&item.Description,
		&item.Level,
		&item.Position,
		&item.IsCompleted,
		&completedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Item{}, err
	}
	if parent.Valid {
		item.ParentItemID = &parent.String
	}
	if completedAt.Valid {
		at := completedAt.Time
		item.CompletedAt = &at
	}
	return item, nil
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	defer rows.Close()
	items := make([]Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListRoadmaps(ctx context.Context, limit, offset int) ([]RoadmapSummary, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roadmaps`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count roadmaps: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.title, r.experience_level, r.technology, r.goals, r.additional_info, r.created_at, r.updated_at,
			COUNT(i.id),
			COUNT(i.id) FILTER (WHERE i.is_completed)
		FROM roadmaps r
		LEFT JOIN roadmap_items i ON i.roadmap_id = r.id
		GROUP BY r.id
		ORDER BY r.updated_at DESC, r.id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list roadmaps: %w", err)
	}
	defer rows.Close()

	items := make([]RoadmapSummary, 0)
	for rows.Next() {
		var summary RoadmapSummary
		roadmap, err := scanRoadmap(rows, &summary.TotalItems, &summary.CompletedItems)
		if err != nil {
			return nil, 0, fmt.Errorf("scan roadmap: %w", err)
		}
		summary.Roadmap = roadmap
		items = append(items, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate roadmaps: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) GetRoadmap(ctx context.Context, roadmapID string) (Roadmap, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roadmapColumns+` FROM roadmaps WHERE id=$1`, roadmapID)
	return scanRoadmap(row)
}

func (s *PostgresStore) InsertRoadmap(ctx context.Context, item Roadmap) (Roadmap, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO roadmaps (id, title, experience_level, technology, goals, additional_info)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+roadmapColumns,
		item.ID, item.Title, item.ExperienceLevel, item.Technology, item.Goals, item.AdditionalInfo)
	created, err := scanRoadmap(row)
	if err != nil {
		return Roadmap{}, fmt.Errorf("insert roadmap: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateRoadmap(ctx context.Context, roadmapID string, patch RoadmapPatch) (Roadmap, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE roadmaps
		SET title=COALESCE($2, title),
			experience_level=COALESCE($3, experience_level),
			technology=COALESCE($4, technology),
			goals=COALESCE($5, goals),
			additional_info=COALESCE($6, additional_info),
			updated_at=NOW()
		WHERE id=$1
		RETURNING `+roadmapColumns,
		roadmapID, patch.Title, patch.ExperienceLevel, patch.Technology, patch.Goals, patch.AdditionalInfo)
	updated, err := scanRoadmap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Roadmap{}, err
	}
	if err != nil {
		return Roadmap{}, fmt.Errorf("update roadmap: %w", err)
	}
	return updated, nil
}

// DeleteRoadmap removes a roadmap; its items go with it through the FK cascade.
func (s *PostgresStore) DeleteRoadmap(ctx context.Context, roadmapID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM roadmaps WHERE id=$1`, roadmapID)
	if err != nil {
		return fmt.Errorf("delete roadmap: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) ListItems(ctx context.Context, roadmapID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM roadmap_items
		WHERE roadmap_id=$1
		ORDER BY position ASC, created_at ASC
	`, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return collectItems(rows)
}

func (s *PostgresStore) GetItem(ctx context.Context, roadmapID, itemID string) (Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM roadmap_items WHERE id=$1 AND roadmap_id=$2`, itemID, roadmapID)
	return scanItem(row)
}

// InsertItem stores a new item. A parent outside the roadmap yields
// ErrParentMissing.
func (s *PostgresStore) InsertItem(ctx context.Context, item Item) (Item, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO roadmap_items (id, roadmap_id, parent_item_id, title, description, level, position)
		SELECT $1, $2, $3::uuid, $4, $5, $6, $7
		WHERE $3::uuid IS NULL
			OR EXISTS (SELECT 1 FROM roadmap_items p WHERE p.id = $3::uuid AND p.roadmap_id = $2)
		RETURNING `+itemColumns,
		item.ID, item.RoadmapID, item.ParentItemID, item.Title, item.Description, item.Level, item.Position)
	created, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrParentMissing
	}
	if err != nil {
		return Item{}, fmt.Errorf("insert item: %w", err)
	}
	if err := s.touchRoadmap(ctx, s.db, item.RoadmapID); err != nil {
		return Item{}, err
	}
	return created, nil
}

func (s *PostgresStore) UpdateItem(ctx context.Context, roadmapID, itemID string, patch ItemPatch) (Item, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE roadmap_items
		SET title=COALESCE($3, title),
			description=COALESCE($4, description),
			position=COALESCE($5, position),
			level=COALESCE($6, level),
			updated_at=NOW()
		WHERE id=$1 AND roadmap_id=$2
		RETURNING `+itemColumns,
		itemID, roadmapID, patch.Title, patch.Description, patch.Position, patch.Level)
	updated, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, err
	}
	if err != nil {
		return Item{}, fmt.Errorf("update item: %w", err)
	}
	if err := s.touchRoadmap(ctx, s.db, roadmapID); err != nil {
		return Item{}, err
	}
	return updated, nil
}

// SetCompletion applies a completion change to an item and every descendant
// in one transaction and returns all changed rows.
func (s *PostgresStore) SetCompletion(ctx context.Context, roadmapID, itemID string, change Completion) ([]Item, error) {
	var completedAt *time.Time
	if change.IsCompleted {
		at := time.Now().UTC()
		if change.CompletedAt != nil {
			at = change.CompletedAt.UTC()
		}
		completedAt = &at
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin completion tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if change.Title != nil || change.Description != nil {
		result, err := tx.ExecContext(ctx, `
			UPDATE roadmap_items
			SET title=COALESCE($3, title), description=COALESCE($4, description)
			WHERE id=$1 AND roadmap_id=$2
		`, itemID, roadmapID, change.Title, change.Description)
		if err != nil {
			return nil, fmt.Errorf("update completed item fields: %w", err)
		}
		if err := requireAffected(result); err != nil {
			return nil, err
		}
	}

	rows, err := tx.QueryContext(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id FROM roadmap_items WHERE id=$1 AND roadmap_id=$2
			UNION
			SELECT c.id FROM roadmap_items c JOIN subtree s ON c.parent_item_id = s.id
		)
		UPDATE roadmap_items
		SET is_completed=$3, completed_at=$4, updated_at=NOW()
		WHERE id IN (SELECT id FROM subtree)
		RETURNING `+itemColumns,
		itemID, roadmapID, change.IsCompleted, completedAt)
	if err != nil {
		return nil, fmt.Errorf("cascade completion: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, sql.ErrNoRows
	}
	if err := s.touchRoadmap(ctx, tx, roadmapID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit completion: %w", err)
	}
	return items, nil
}

// DeleteItem removes an item. Descendants are removed by the parent FK cascade.
func (s *PostgresStore) DeleteItem(ctx context.Context, roadmapID, itemID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM roadmap_items WHERE id=$1 AND roadmap_id=$2`, itemID, roadmapID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	return s.touchRoadmap(ctx, s.db, roadmapID)
}

// SwapPositions exchanges the positions of two siblings in one statement
// inside a transaction, so no intermediate duplicate is ever committed.
func (s *PostgresStore) SwapPositions(ctx context.Context, roadmapID, itemID, otherID string) ([]Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin swap tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM roadmap_items
		WHERE roadmap_id=$1 AND id IN ($2, $3)
		ORDER BY id
		FOR UPDATE
	`, roadmapID, itemID, otherID)
	if err != nil {
		return nil, fmt.Errorf("lock swap items: %w", err)
	}
	locked, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	if len(locked) != 2 {
		return nil, sql.ErrNoRows
	}
	a, b := locked[0], locked[1]
	if !sameParent(a.ParentItemID, b.ParentItemID) {
		return nil, ErrNotSiblings
	}

	rows, err = tx.QueryContext(ctx, `
		UPDATE roadmap_items
		SET position = CASE WHEN id=$2 THEN $4::int ELSE $5::int END, updated_at=NOW()
		WHERE roadmap_id=$1 AND id IN ($2, $3)
		RETURNING `+itemColumns,
		roadmapID, a.ID, b.ID, b.Position, a.Position)
	if err != nil {
		return nil, fmt.Errorf("swap positions: %w", err)
	}
	swapped, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	if err := s.touchRoadmap(ctx, tx, roadmapID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit swap: %w", err)
	}
	return swapped, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) touchRoadmap(ctx context.Context, db execer, roadmapID string) error {
	if _, err := db.ExecContext(ctx, `UPDATE roadmaps SET updated_at=NOW() WHERE id=$1`, roadmapID); err != nil {
		return fmt.Errorf("touch roadmap: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
