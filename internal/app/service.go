package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"unicode/utf8"

	"roadmap/api/internal/cache"
	"roadmap/api/internal/config"
	"roadmap/api/internal/roadmap"
	"roadmap/api/internal/search"
	"roadmap/api/internal/store"
	"roadmap/api/internal/util"
)

const maxTitleLength = 255

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

type RoadmapPage struct {
	Data       []roadmap.Summary `json:"data"`
	Pagination Pagination        `json:"pagination"`
}

type dataStore interface {
	ListRoadmaps(context.Context, int, int) ([]store.RoadmapSummary, int, error)
	GetRoadmap(context.Context, string) (store.Roadmap, error)
	InsertRoadmap(context.Context, store.Roadmap) (store.Roadmap, error)
	UpdateRoadmap(context.Context, string, store.RoadmapPatch) (store.Roadmap, error)
	DeleteRoadmap(context.Context, string) error
	ListItems(context.Context, string) ([]store.Item, error)
	InsertItem(context.Context, store.Item) (store.Item, error)
	UpdateItem(context.Context, string, string, store.ItemPatch) (store.Item, error)
	SetCompletion(context.Context, string, string, store.Completion) ([]store.Item, error)
	DeleteItem(context.Context, string, string) error
	SwapPositions(context.Context, string, string, string) ([]store.Item, error)
	Ping(ctx context.Context) error
}

type detailsCache interface {
	GetDetails(context.Context, string) (roadmap.Details, bool, error)
	Generation(context.Context, string) (int64, error)
	SetDetails(context.Context, roadmap.Details, int64) (bool, error)
	Invalidate(context.Context, string) error
	Ping(context.Context) error
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexRoadmap(search.RoadmapRecord)
	IndexItems([]search.ItemRecord)
	DeleteRoadmap(string, []string)
	DeleteItems([]string)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	cache  detailsCache
	search searchIndex
}

// New wires the service. detailsCache and searchService may be nil.
func New(cfg config.Config, dataStore *store.PostgresStore, detailsCache *cache.RedisCache, searchService *search.Service) *Service {
	s := &Service{cfg: cfg, store: dataStore}
	if detailsCache != nil {
		s.cache = detailsCache
	}
	if searchService != nil {
		s.search = searchService
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache checks the details cache. enabled is false when no cache is
// configured.
func (s *Service) PingCache(ctx context.Context) (enabled bool, err error) {
	if s.cache == nil {
		return false, nil
	}
	return true, s.cache.Ping(ctx)
}

func (s *Service) pageBounds(limit, offset int) (int, int) {
	defaultLimit, maxLimit := s.cfg.DefaultLimit, s.cfg.MaxLimit
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	if maxLimit <= 0 {
		maxLimit = 100
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) ListRoadmaps(ctx context.Context, limit, offset int) (RoadmapPage, error) {
	limit, offset = s.pageBounds(limit, offset)
	rows, total, err := s.store.ListRoadmaps(ctx, limit, offset)
	if err != nil {
		return RoadmapPage{}, err
	}
	data := make([]roadmap.Summary, 0, len(rows))
	for _, row := range rows {
		data = append(data, roadmap.Summary{
			Roadmap:        toRoadmap(row.Roadmap),
			TotalItems:     row.TotalItems,
			CompletedItems: row.CompletedItems,
			Progress:       percent(row.CompletedItems, row.TotalItems),
		})
	}
	return RoadmapPage{
		Data:       data,
		Pagination: Pagination{Limit: limit, Offset: offset, Total: total},
	}, nil
}

func (s *Service) CreateRoadmap(ctx context.Context, in roadmap.RoadmapInput) (roadmap.Roadmap, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.ExperienceLevel = strings.TrimSpace(in.ExperienceLevel)
	in.Technology = strings.TrimSpace(in.Technology)
	in.Goals = strings.TrimSpace(in.Goals)

	problems := fieldErrors{}
	checkTitle(problems, "title", in.Title)
	requireText(problems, "experience_level", in.ExperienceLevel)
	requireText(problems, "technology", in.Technology)
	requireText(problems, "goals", in.Goals)
	if err := problems.err(); err != nil {
		return roadmap.Roadmap{}, err
	}

	created, err := s.store.InsertRoadmap(ctx, store.Roadmap{
		ID:              util.NewID(),
		Title:           in.Title,
		ExperienceLevel: in.ExperienceLevel,
		Technology:      in.Technology,
		Goals:           in.Goals,
		AdditionalInfo:  in.AdditionalInfo,
	})
	if err != nil {
		return roadmap.Roadmap{}, err
	}
	s.indexRoadmap(created)
	return toRoadmap(created), nil
}

// GetRoadmap returns the roadmap with its items and progress, reading
// through the details cache when one is configured.
func (s *Service) GetRoadmap(ctx context.Context, roadmapID string) (roadmap.Details, error) {
	var gen int64
	cacheable := false
	if s.cache != nil {
		details, ok, err := s.cache.GetDetails(ctx, roadmapID)
		if err != nil {
			log.Printf("cache: get roadmap %s: %v", roadmapID, err)
		} else if ok {
			return details, nil
		}
		// The generation must be read before the store so a write that
		// commits during the load stops the fill below.
		if gen, err = s.cache.Generation(ctx, roadmapID); err != nil {
			log.Printf("cache: generation roadmap %s: %v", roadmapID, err)
		} else {
			cacheable = true
		}
	}

	row, err := s.store.GetRoadmap(ctx, roadmapID)
	if err != nil {
		return roadmap.Details{}, notFound(err, "Roadmap not found")
	}
	rows, err := s.store.ListItems(ctx, roadmapID)
	if err != nil {
		return roadmap.Details{}, err
	}
	items := toItems(rows)
	details := roadmap.Details{
		Roadmap:  toRoadmap(row),
		Items:    items,
		Progress: roadmap.CalculateProgress(roadmap.BuildTree(items)),
	}

	if cacheable {
		if _, err := s.cache.SetDetails(ctx, details, gen); err != nil {
			log.Printf("cache: set roadmap %s: %v", roadmapID, err)
		}
	}
	return details, nil
}

func (s *Service) UpdateRoadmap(ctx context.Context, roadmapID string, patch roadmap.RoadmapPatch) (roadmap.Roadmap, error) {
	problems := fieldErrors{}
	if patch.Title == nil && patch.ExperienceLevel == nil && patch.Technology == nil && patch.Goals == nil && patch.AdditionalInfo == nil {
		problems.add("body", "At least one field must be provided")
	}
	if patch.Title != nil {
		patch.Title = trimmed(patch.Title)
		checkTitle(problems, "title", *patch.Title)
	}
	patch.ExperienceLevel = optionalText(problems, "experience_level", patch.ExperienceLevel)
	patch.Technology = optionalText(problems, "technology", patch.Technology)
	patch.Goals = optionalText(problems, "goals", patch.Goals)
	if err := problems.err(); err != nil {
		return roadmap.Roadmap{}, err
	}

	updated, err := s.store.UpdateRoadmap(ctx, roadmapID, store.RoadmapPatch{
		Title:           patch.Title,
		ExperienceLevel: patch.ExperienceLevel,
		Technology:      patch.Technology,
		Goals:           patch.Goals,
		AdditionalInfo:  patch.AdditionalInfo,
	})
	if err != nil {
		return roadmap.Roadmap{}, notFound(err, "Roadmap not found")
	}
	s.invalidate(ctx, roadmapID)
	s.indexRoadmap(updated)
	return toRoadmap(updated), nil
}

func (s *Service) DeleteRoadmap(ctx context.Context, roadmapID string) error {
	rows, err := s.store.ListItems(ctx, roadmapID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRoadmap(ctx, roadmapID); err != nil {
		return notFound(err, "Roadmap not found")
	}
	s.invalidate(ctx, roadmapID)
	if s.search != nil {
		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		s.search.DeleteRoadmap(roadmapID, ids)
	}
	return nil
}

func (s *Service) ListItems(ctx context.Context, roadmapID string) ([]roadmap.Item, error) {
	if err := s.requireRoadmap(ctx, roadmapID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListItems(ctx, roadmapID)
	if err != nil {
		return nil, err
	}
	return toItems(rows), nil
}

func (s *Service) CreateItem(ctx context.Context, roadmapID string, in roadmap.CreateItemInput) (roadmap.Item, error) {
	in.Title = strings.TrimSpace(in.Title)

	problems := fieldErrors{}
	if in.ParentItemID != nil && !util.IsUUID(*in.ParentItemID) {
		problems.add("parent_item_id", "Parent item ID must be a valid UUID")
	}
	checkTitle(problems, "title", in.Title)
	checkNonNegative(problems, "level", "Level", &in.Level)
	checkNonNegative(problems, "position", "Position", &in.Position)
	if err := problems.err(); err != nil {
		return roadmap.Item{}, err
	}

	if err := s.requireRoadmap(ctx, roadmapID); err != nil {
		return roadmap.Item{}, err
	}

	created, err := s.store.InsertItem(ctx, store.Item{
		ID:           util.NewID(),
		RoadmapID:    roadmapID,
		ParentItemID: in.ParentItemID,
		Title:        in.Title,
		Description:  in.Description,
		Level:        in.Level,
		Position:     in.Position,
	})
	if errors.Is(err, store.ErrParentMissing) || store.IsForeignKeyViolation(err) {
		return roadmap.Item{}, domainError(http.StatusNotFound, "NOT_FOUND", "Parent item not found", nil)
	}
	if err != nil {
		return roadmap.Item{}, err
	}
	s.invalidate(ctx, roadmapID)
	s.indexItems(created)
	return toItem(created), nil
}

func (s *Service) UpdateItem(ctx context.Context, roadmapID, itemID string, in roadmap.UpdateItemInput) (roadmap.Item, error) {
	problems := fieldErrors{}
	if in.Empty() {
		problems.add("body", "At least one field must be provided")
	}
	if in.Title != nil {
		in.Title = trimmed(in.Title)
		checkTitle(problems, "title", *in.Title)
	}
	checkNonNegative(problems, "level", "Level", in.Level)
	checkNonNegative(problems, "position", "Position", in.Position)
	if err := problems.err(); err != nil {
		return roadmap.Item{}, err
	}

	updated, err := s.store.UpdateItem(ctx, roadmapID, itemID, store.ItemPatch{
		Title:       in.Title,
		Description: in.Description,
		Position:    in.Position,
		Level:       in.Level,
	})
	if err != nil {
		return roadmap.Item{}, notFound(err, "Roadmap item not found")
	}
	s.invalidate(ctx, roadmapID)
	s.indexItems(updated)
	return toItem(updated), nil
}

// SetCompletion applies the completion flag to the item and its whole
// subtree and returns every changed item.
func (s *Service) SetCompletion(ctx context.Context, roadmapID, itemID string, in roadmap.CompletionInput) ([]roadmap.Item, error) {
	problems := fieldErrors{}
	if in.Title != nil {
		in.Title = trimmed(in.Title)
		checkTitle(problems, "title", *in.Title)
	}
	if err := problems.err(); err != nil {
		return nil, err
	}

	rows, err := s.store.SetCompletion(ctx, roadmapID, itemID, store.Completion{
		IsCompleted: in.IsCompleted,
		CompletedAt: in.CompletedAt,
		Title:       in.Title,
		Description: in.Description,
	})
	if err != nil {
		return nil, notFound(err, "Roadmap item not found")
	}
	s.invalidate(ctx, roadmapID)
	s.indexItems(rows...)
	return toItems(rows), nil
}

// DeleteItem removes the item and, through the parent cascade, its
// descendants.
func (s *Service) DeleteItem(ctx context.Context, roadmapID, itemID string) error {
	rows, err := s.store.ListItems(ctx, roadmapID)
	if err != nil {
		return err
	}
	removed := roadmap.SubtreeIDs(toItems(rows), itemID)
	if removed == nil {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Roadmap item not found", nil)
	}
	if err := s.store.DeleteItem(ctx, roadmapID, itemID); err != nil {
		return notFound(err, "Roadmap item not found")
	}
	s.invalidate(ctx, roadmapID)
	if s.search != nil {
		s.search.DeleteItems(removed)
	}
	return nil
}

// SwapPositions exchanges the positions of two siblings and returns them
// in request order.
func (s *Service) SwapPositions(ctx context.Context, roadmapID, itemID, otherID string) ([]roadmap.Item, error) {
	problems := fieldErrors{}
	if !util.IsUUID(otherID) {
		problems.add("with", "Item ID must be a valid UUID")
	} else if otherID == itemID {
		problems.add("with", "Cannot swap an item with itself")
	}
	if err := problems.err(); err != nil {
		return nil, err
	}

	rows, err := s.store.SwapPositions(ctx, roadmapID, itemID, otherID)
	if errors.Is(err, store.ErrNotSiblings) {
		return nil, domainError(http.StatusUnprocessableEntity, "NOT_SIBLINGS", "Items must share a parent", nil)
	}
	if err != nil {
		return nil, notFound(err, "Roadmap item not found")
	}
	s.invalidate(ctx, roadmapID)

	items := toItems(rows)
	if len(items) == 2 && items[0].ID != itemID {
		items[0], items[1] = items[1], items[0]
	}
	return items, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
	}
	q.Limit, q.Offset = s.pageBounds(q.Limit, q.Offset)
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) requireRoadmap(ctx context.Context, roadmapID string) error {
	if _, err := s.store.GetRoadmap(ctx, roadmapID); err != nil {
		return notFound(err, "Roadmap not found")
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, roadmapID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, roadmapID); err != nil {
		log.Printf("cache: invalidate roadmap %s: %v", roadmapID, err)
	}
}

func (s *Service) indexRoadmap(row store.Roadmap) {
	if s.search == nil {
		return
	}
	s.search.IndexRoadmap(search.RoadmapRecord{
		ID:              row.ID,
		Title:           row.Title,
		Technology:      row.Technology,
		ExperienceLevel: row.ExperienceLevel,
		Goals:           row.Goals,
	})
}

func (s *Service) indexItems(rows ...store.Item) {
	if s.search == nil || len(rows) == 0 {
		return
	}
	records := make([]search.ItemRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, search.ItemRecord{
			ID:          row.ID,
			RoadmapID:   row.RoadmapID,
			Title:       row.Title,
			Description: row.Description,
			IsCompleted: row.IsCompleted,
		})
	}
	s.search.IndexItems(records)
}

// notFound turns a missing row into a 404 with a specific message.
func notFound(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
	}
	return err
}

func checkTitle(problems fieldErrors, field, value string) {
	if value == "" {
		problems.add(field, "Title is required and must not be empty")
		return
	}
	if utf8.RuneCountInString(value) > maxTitleLength {
		problems.add(field, "Title must be at most 255 characters")
	}
}

func requireText(problems fieldErrors, field, value string) {
	if value == "" {
		problems.add(field, field+" is required")
	}
}

func optionalText(problems fieldErrors, field string, value *string) *string {
	if value == nil {
		return nil
	}
	value = trimmed(value)
	requireText(problems, field, *value)
	return value
}

func checkNonNegative(problems fieldErrors, field, label string, value *int) {
	if value != nil && *value < 0 {
		problems.add(field, label+" must be a non-negative integer")
	}
}

func trimmed(value *string) *string {
	out := strings.TrimSpace(*value)
	return &out
}

func percent(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(completed) / float64(total)
}

func toRoadmap(row store.Roadmap) roadmap.Roadmap {
	return roadmap.Roadmap{
		ID:              row.ID,
		Title:           row.Title,
		ExperienceLevel: row.ExperienceLevel,
		Technology:      row.Technology,
		Goals:           row.Goals,
		AdditionalInfo:  row.AdditionalInfo,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

func toItem(row store.Item) roadmap.Item {
	return roadmap.Item{
		ID:           row.ID,
		ParentItemID: row.ParentItemID,
		Title:        row.Title,
		Description:  row.Description,
		Level:        row.Level,
		Position:     row.Position,
		IsCompleted:  row.IsCompleted,
		CompletedAt:  row.CompletedAt,
	}
}

func toItems(rows []store.Item) []roadmap.Item {
	items := make([]roadmap.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, toItem(row))
	}
	return items
}
