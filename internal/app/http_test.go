package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"roadmap/api/internal/client"
	"roadmap/api/internal/config"
	"roadmap/api/internal/editor"
	"roadmap/api/internal/roadmap"
	"roadmap/api/internal/store"
)

// memStore is an in-memory dataStore with the same cascade rules as the
// postgres schema.
type memStore struct {
	mu       sync.Mutex
	clock    time.Time
	roadmaps map[string]store.Roadmap
	items    map[string]store.Item
}

func newMemStore() *memStore {
	return &memStore{
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		roadmaps: make(map[string]store.Roadmap),
		items:    make(map[string]store.Item),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) ListRoadmaps(_ context.Context, limit, offset int) ([]store.RoadmapSummary, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.RoadmapSummary, 0)
	for _, r := range m.roadmaps {
		summary := store.RoadmapSummary{Roadmap: r}
		for _, it := range m.items {
			if it.RoadmapID == r.ID {
				summary.TotalItems++
				if it.IsCompleted {
					summary.CompletedItems++
				}
			}
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memStore) GetRoadmap(_ context.Context, roadmapID string) (store.Roadmap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roadmaps[roadmapID]
	if !ok {
		return store.Roadmap{}, sql.ErrNoRows
	}
	return r, nil
}

func (m *memStore) InsertRoadmap(_ context.Context, r store.Roadmap) (store.Roadmap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.CreatedAt = m.tick()
	r.UpdatedAt = r.CreatedAt
	m.roadmaps[r.ID] = r
	return r, nil
}

func (m *memStore) UpdateRoadmap(_ context.Context, roadmapID string, patch store.RoadmapPatch) (store.Roadmap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roadmaps[roadmapID]
	if !ok {
		return store.Roadmap{}, sql.ErrNoRows
	}
	if patch.Title != nil {
		r.Title = *patch.Title
	}
	if patch.Goals != nil {
		r.Goals = *patch.Goals
	}
	r.UpdatedAt = m.tick()
	m.roadmaps[roadmapID] = r
	return r, nil
}

func (m *memStore) DeleteRoadmap(_ context.Context, roadmapID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roadmaps[roadmapID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.roadmaps, roadmapID)
	for id, it := range m.items {
		if it.RoadmapID == roadmapID {
			delete(m.items, id)
		}
	}
	return nil
}

func (m *memStore) ListItems(_ context.Context, roadmapID string) ([]store.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(roadmapID), nil
}

func (m *memStore) listLocked(roadmapID string) []store.Item {
	out := make([]store.Item, 0)
	for _, it := range m.items {
		if it.RoadmapID == roadmapID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *memStore) InsertItem(_ context.Context, item store.Item) (store.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ParentItemID != nil {
		parent, ok := m.items[*item.ParentItemID]
		if !ok || parent.RoadmapID != item.RoadmapID {
			return store.Item{}, store.ErrParentMissing
		}
	}
	item.CreatedAt = m.tick()
	item.UpdatedAt = item.CreatedAt
	m.items[item.ID] = item
	return item, nil
}

func (m *memStore) UpdateItem(_ context.Context, roadmapID, itemID string, patch store.ItemPatch) (store.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok || it.RoadmapID != roadmapID {
		return store.Item{}, sql.ErrNoRows
	}
	if patch.Title != nil {
		it.Title = *patch.Title
	}
	if patch.Description != nil {
		it.Description = *patch.Description
	}
	if patch.Position != nil {
		it.Position = *patch.Position
	}
	if patch.Level != nil {
		it.Level = *patch.Level
	}
	m.items[itemID] = it
	return it, nil
}

func (m *memStore) SetCompletion(_ context.Context, roadmapID, itemID string, change store.Completion) ([]store.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.items[itemID]
	if !ok || target.RoadmapID != roadmapID {
		return nil, sql.ErrNoRows
	}
	if change.Title != nil {
		target.Title = *change.Title
	}
	if change.Description != nil {
		target.Description = *change.Description
	}
	m.items[itemID] = target

	var completedAt *time.Time
	if change.IsCompleted {
		at := m.tick()
		if change.CompletedAt != nil {
			at = *change.CompletedAt
		}
		completedAt = &at
	}
	ids := roadmap.SubtreeIDs(toItems(m.listLocked(roadmapID)), itemID)
	changed := make([]store.Item, 0, len(ids))
	for _, id := range ids {
		it := m.items[id]
		it.IsCompleted = change.IsCompleted
		it.CompletedAt = completedAt
		m.items[id] = it
		changed = append(changed, it)
	}
	return changed, nil
}

func (m *memStore) DeleteItem(_ context.Context, roadmapID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := roadmap.SubtreeIDs(toItems(m.listLocked(roadmapID)), itemID)
	if ids == nil {
		return sql.ErrNoRows
	}
	for _, id := range ids {
		delete(m.items, id)
	}
	return nil
}

func (m *memStore) SwapPositions(_ context.Context, roadmapID, itemID, otherID string) ([]store.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, okA := m.items[itemID]
	b, okB := m.items[otherID]
	if !okA || !okB || a.RoadmapID != roadmapID || b.RoadmapID != roadmapID {
		return nil, sql.ErrNoRows
	}
	if toItem(a).ParentID() != toItem(b).ParentID() {
		return nil, store.ErrNotSiblings
	}
	a.Position, b.Position = b.Position, a.Position
	m.items[a.ID] = a
	m.items[b.ID] = b
	return []store.Item{a, b}, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

func newTestServer(t *testing.T, cfg config.Config) (*memStore, *httptest.Server) {
	t.Helper()
	mem := newMemStore()
	svc := &Service{cfg: cfg, store: mem, cache: newFakeCache(), search: &fakeSearch{}}
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)
	return mem, server
}

func seedRoadmap(t *testing.T, mem *memStore) {
	t.Helper()
	if _, err := mem.InsertRoadmap(context.Background(), store.Roadmap{ID: testRoadmapID, Title: "Go", ExperienceLevel: "beginner", Technology: "Go", Goals: "Learn"}); err != nil {
		t.Fatal(err)
	}
}

func doRequest(t *testing.T, server *httptest.Server, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, server.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestRoutingErrors(t *testing.T) {
	mem, server := newTestServer(t, config.Config{})
	seedRoadmap(t, mem)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"bad roadmap id", http.MethodGet, "/api/roadmaps/abc", "", http.StatusBadRequest, "INVALID_UUID"},
		{"bad item id", http.MethodPatch, "/api/roadmaps/" + testRoadmapID + "/items/abc", `{"title":"x"}`, http.StatusBadRequest, "INVALID_UUID"},
		{"invalid json", http.MethodPost, "/api/roadmaps/" + testRoadmapID + "/items", `{"title":`, http.StatusBadRequest, "INVALID_BODY"},
		{"validation", http.MethodPost, "/api/roadmaps/" + testRoadmapID + "/items", `{"title":"","level":0,"position":0}`, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"unknown roadmap", http.MethodGet, "/api/roadmaps/" + testOtherID, "", http.StatusNotFound, "NOT_FOUND"},
		{"unknown parent", http.MethodPost, "/api/roadmaps/" + testRoadmapID + "/items", `{"parent_item_id":"` + testOtherID + `","title":"a","level":1,"position":0}`, http.StatusNotFound, "NOT_FOUND"},
		{"bad limit", http.MethodGet, "/api/roadmaps?limit=abc", "", http.StatusBadRequest, "INVALID_QUERY"},
		{"unknown route", http.MethodGet, "/api/nope", "", http.StatusNotFound, "NOT_FOUND"},
		{"method", http.MethodPut, "/api/roadmaps", "", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, payload := doRequest(t, server, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d (%v)", tt.wantStatus, resp.StatusCode, payload)
			}
			if payload["code"] != tt.wantCode {
				t.Fatalf("expected code %s, got %v", tt.wantCode, payload["code"])
			}
			if msg, _ := payload["error"].(string); msg == "" {
				t.Fatalf("expected an error message, got %v", payload)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	mem, server := newTestServer(t, config.Config{APIToken: "secret"})
	seedRoadmap(t, mem)

	resp, payload := doRequest(t, server, http.MethodGet, "/api/roadmaps", "")
	if resp.StatusCode != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401 without token, got %d %v", resp.StatusCode, payload)
	}

	api := client.New(server.URL, client.WithToken("secret"))
	page, err := api.ListRoadmaps(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("ListRoadmaps with token: %v", err)
	}
	if page.Pagination.Total != 1 || page.Pagination.Limit != 20 {
		t.Fatalf("unexpected page %+v", page.Pagination)
	}
}

func TestItemLifecycleOverHTTP(t *testing.T) {
	mem, server := newTestServer(t, config.Config{})
	seedRoadmap(t, mem)
	ctx := context.Background()
	api := client.New(server.URL)

	root, err := api.CreateItem(ctx, testRoadmapID, roadmap.CreateItemInput{Title: "Basics", Level: 1, Position: 1000})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	child, err := api.CreateItem(ctx, testRoadmapID, roadmap.CreateItemInput{ParentItemID: &root.ID, Title: "Syntax", Level: 2, Position: 1000})
	if err != nil {
		t.Fatalf("CreateItem child: %v", err)
	}

	changed, err := api.SetCompletion(ctx, testRoadmapID, root.ID, roadmap.CompletionInput{IsCompleted: true})
	if err != nil {
		t.Fatalf("SetCompletion: %v", err)
	}
	if len(changed) != 2 {
		t.Fatalf("expected root and child in the PUT answer, got %d", len(changed))
	}
	for _, it := range changed {
		if !it.IsCompleted || it.CompletedAt == nil {
			t.Fatalf("expected %s completed with a timestamp", it.ID)
		}
	}

	details, err := api.GetRoadmap(ctx, testRoadmapID)
	if err != nil {
		t.Fatalf("GetRoadmap: %v", err)
	}
	if details.Progress != 100 || len(details.Items) != 2 {
		t.Fatalf("unexpected details progress=%v items=%d", details.Progress, len(details.Items))
	}

	if err := api.DeleteItem(ctx, testRoadmapID, root.ID); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	items, err := api.ListItems(ctx, testRoadmapID)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected child %s to be removed with its parent, got %d items", child.ID, len(items))
	}
}

func TestEditorAgainstServer(t *testing.T) {
	mem, server := newTestServer(t, config.Config{})
	seedRoadmap(t, mem)
	ctx := context.Background()
	api := client.New(server.URL)

	ed, err := editor.Open(ctx, testRoadmapID, api, api)
	if err != nil {
		t.Fatalf("editor.Open: %v", err)
	}
	ed.AddItem(ctx, editor.AddInput{Title: "First"})
	ed.AddItem(ctx, editor.AddInput{Title: "Second"})
	if ed.Err() != nil {
		t.Fatalf("unexpected error after adds: %v", ed.Err())
	}

	state := ed.State()
	if len(state.Items) != 2 {
		t.Fatalf("expected two items, got %d", len(state.Items))
	}
	second := state.Items[1].ID
	for _, it := range state.Items {
		if it.IsTemporary() {
			t.Fatalf("item %s kept its temporary id", it.ID)
		}
	}

	ed.MoveItem(ctx, second, roadmap.DirectionUp)
	if ed.Err() != nil {
		t.Fatalf("MoveItem: %v", ed.Err())
	}
	serverItems, err := api.ListItems(ctx, testRoadmapID)
	if err != nil {
		t.Fatal(err)
	}
	if serverItems[0].ID != second {
		t.Fatalf("expected %s first on the server after moving up", second)
	}

	ed.UpdateItem(ctx, second, editor.ItemUpdate{Description: roadmap.StringPtr("")})
	ed.DeleteItem(ctx, "0c3f5d2e-9999-4c8a-8b1e-5e7d9a2b3c09")
	if kind := roadmap.KindOf(ed.Err()); kind != roadmap.KindNotFound {
		t.Fatalf("expected not found for an unknown item, got %v", ed.Err())
	}
	if len(ed.Items()) != 2 {
		t.Fatalf("failed delete must leave items untouched")
	}
}
