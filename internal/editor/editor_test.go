package editor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"roadmap/api/internal/roadmap"
)

type call struct {
	Op       string
	ItemID   string
	Position *int
}

type fakeRemote struct {
	mu    sync.Mutex
	calls []call

	createItemFn    func(context.Context, string, roadmap.CreateItemInput) (roadmap.Item, error)
	updateItemFn    func(context.Context, string, string, roadmap.UpdateItemInput) (roadmap.Item, error)
	setCompletionFn func(context.Context, string, string, roadmap.CompletionInput) ([]roadmap.Item, error)
	deleteItemFn    func(context.Context, string, string) error
}

func (f *fakeRemote) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeRemote) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeRemote) CreateItem(ctx context.Context, roadmapID string, in roadmap.CreateItemInput) (roadmap.Item, error) {
	f.record(call{Op: "create"})
	if f.createItemFn != nil {
		return f.createItemFn(ctx, roadmapID, in)
	}
	return roadmap.Item{ID: "server-id", ParentItemID: in.ParentItemID, Title: in.Title, Description: in.Description, Level: in.Level, Position: in.Position}, nil
}

func (f *fakeRemote) UpdateItem(ctx context.Context, roadmapID, itemID string, in roadmap.UpdateItemInput) (roadmap.Item, error) {
	f.record(call{Op: "update", ItemID: itemID, Position: in.Position})
	if f.updateItemFn != nil {
		return f.updateItemFn(ctx, roadmapID, itemID, in)
	}
	out := roadmap.Item{ID: itemID}
	if in.Position != nil {
		out.Position = *in.Position
	}
	if in.Title != nil {
		out.Title = *in.Title
	}
	return out, nil
}

func (f *fakeRemote) SetCompletion(ctx context.Context, roadmapID, itemID string, in roadmap.CompletionInput) ([]roadmap.Item, error) {
	f.record(call{Op: "complete", ItemID: itemID})
	if f.setCompletionFn != nil {
		return f.setCompletionFn(ctx, roadmapID, itemID, in)
	}
	return nil, nil
}

func (f *fakeRemote) DeleteItem(ctx context.Context, roadmapID, itemID string) error {
	f.record(call{Op: "delete", ItemID: itemID})
	if f.deleteItemFn != nil {
		return f.deleteItemFn(ctx, roadmapID, itemID)
	}
	return nil
}

type swappingRemote struct {
	*fakeRemote
	swapFn func(context.Context, string, string, string) ([]roadmap.Item, error)
}

func (s *swappingRemote) SwapPositions(ctx context.Context, roadmapID, itemID, otherID string) ([]roadmap.Item, error) {
	s.record(call{Op: "swap", ItemID: itemID})
	return s.swapFn(ctx, roadmapID, itemID, otherID)
}

type fakeLoader struct {
	items []roadmap.Item
	err   error
	calls int
}

func (l *fakeLoader) ListItems(context.Context, string) ([]roadmap.Item, error) {
	l.calls++
	return roadmap.CloneItems(l.items), l.err
}

var fixedNow = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

func newTestEditor(items []roadmap.Item, remote roadmap.Remote, opts ...Option) *Editor {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New("roadmap-1", items, remote, opts...)
}

func mkItem(id, parent string, level, position int) roadmap.Item {
	it := roadmap.Item{ID: id, Title: "Item " + id, Level: level, Position: position}
	if parent != "" {
		it.ParentItemID = roadmap.StringPtr(parent)
	}
	return it
}

func twoItems() []roadmap.Item {
	return []roadmap.Item{mkItem("item1", "", 1, 1000), mkItem("item2", "", 1, 2000)}
}

func family() []roadmap.Item {
	return []roadmap.Item{
		mkItem("parent", "", 1, 1000),
		mkItem("child1", "parent", 2, 1000),
		mkItem("child2", "parent", 2, 2000),
		mkItem("grandchild", "child1", 3, 1000),
		mkItem("other", "", 1, 2000),
	}
}

func itemIDs(items []roadmap.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func mustFind(t *testing.T, items []roadmap.Item, id string) roadmap.Item {
	t.Helper()
	it, ok := roadmap.FindItem(items, id)
	if !ok {
		t.Fatalf("item %s not found in %v", id, itemIDs(items))
	}
	return it
}

func TestAddItemReconcilesTemporaryID(t *testing.T) {
	remote := &fakeRemote{}
	var seen []State
	ed := newTestEditor(twoItems(), remote,
		WithTempID(func(time.Time) string { return "temp-1" }),
		WithObserver(func(s State) { seen = append(seen, s) }),
	)

	ed.AddItem(context.Background(), AddInput{Title: "  Learn generics ", Description: "type params"})

	state := ed.State()
	if state.Error != "" || state.Loading {
		t.Fatalf("unexpected state %+v", state)
	}
	if diff := cmp.Diff([]string{"item1", "item2", "server-id"}, itemIDs(state.Items)); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	added := mustFind(t, state.Items, "server-id")
	if added.Title != "Learn generics" || added.Level != 1 || added.Position != 3000 {
		t.Fatalf("unexpected added item %+v", added)
	}

	if len(seen) != 2 {
		t.Fatalf("expected optimistic and confirmed notifications, got %d", len(seen))
	}
	if !seen[0].Loading || mustFind(t, seen[0].Items, "temp-1").Position != 3000 {
		t.Fatalf("optimistic state should hold the temp item while loading: %+v", seen[0])
	}
}

func TestAddItemReconcilesByIDNotPosition(t *testing.T) {
	remote := &fakeRemote{}
	remote.createItemFn = func(_ context.Context, _ string, in roadmap.CreateItemInput) (roadmap.Item, error) {
		return roadmap.Item{ID: "srv", Title: in.Title, Level: in.Level, Position: 99}, nil
	}
	ed := newTestEditor(twoItems(), remote, WithTempID(func(time.Time) string { return "temp-x" }))

	ed.AddItem(context.Background(), AddInput{Title: "x"})

	items := ed.Items()
	if _, ok := roadmap.FindItem(items, "temp-x"); ok {
		t.Fatal("temporary item should be replaced")
	}
	if mustFind(t, items, "srv").Position != 99 {
		t.Fatal("server values should win after reconciliation")
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
}

func TestAddItemUnderParent(t *testing.T) {
	var got roadmap.CreateItemInput
	remote := &fakeRemote{}
	remote.createItemFn = func(_ context.Context, _ string, in roadmap.CreateItemInput) (roadmap.Item, error) {
		got = in
		return roadmap.Item{ID: "new", ParentItemID: in.ParentItemID, Title: in.Title, Level: in.Level, Position: in.Position}, nil
	}
	ed := newTestEditor(family(), remote)

	ed.AddItem(context.Background(), AddInput{ParentID: roadmap.StringPtr("parent"), Title: "child3"})

	if got.ParentItemID == nil || *got.ParentItemID != "parent" {
		t.Fatalf("expected parent id to be sent, got %+v", got)
	}
	if got.Level != 2 || got.Position != 3000 {
		t.Fatalf("expected level 2 position 3000, got level %d position %d", got.Level, got.Position)
	}
	if ed.State().Error != "" {
		t.Fatalf("unexpected error %q", ed.State().Error)
	}
}

func TestAddItemRollsBackOnFailure(t *testing.T) {
	remote := &fakeRemote{}
	remote.createItemFn = func(context.Context, string, roadmap.CreateItemInput) (roadmap.Item, error) {
		return roadmap.Item{}, &roadmap.RemoteError{Kind: roadmap.KindRemoteRejected, Status: 500, Message: "Failed to create item"}
	}
	original := twoItems()
	ed := newTestEditor(original, remote)

	ed.AddItem(context.Background(), AddInput{Title: "New"})

	state := ed.State()
	if diff := cmp.Diff(original, state.Items); diff != "" {
		t.Fatalf("items not restored (-want +got):\n%s", diff)
	}
	if state.Error != "Failed to create item" {
		t.Fatalf("error = %q", state.Error)
	}
	if state.Loading {
		t.Fatal("loading should be cleared after failure")
	}
	if roadmap.KindOf(ed.Err()) != roadmap.KindRemoteRejected {
		t.Fatalf("unexpected kind for %v", ed.Err())
	}
}

func TestAddItemWithoutServerIDIsUnexpected(t *testing.T) {
	remote := &fakeRemote{}
	remote.createItemFn = func(context.Context, string, roadmap.CreateItemInput) (roadmap.Item, error) {
		return roadmap.Item{}, nil
	}
	ed := newTestEditor(twoItems(), remote)

	ed.AddItem(context.Background(), AddInput{Title: "New"})

	if len(ed.Items()) != 2 {
		t.Fatal("item without id must be rolled back")
	}
	if roadmap.KindOf(ed.Err()) != roadmap.KindUnexpected {
		t.Fatalf("expected unexpected kind, got %v", ed.Err())
	}
}

func TestAddItemValidatesBeforeRemote(t *testing.T) {
	tests := []struct {
		name string
		in   AddInput
		kind roadmap.ErrorKind
		msg  string
	}{
		{name: "blank title", in: AddInput{Title: "   "}, kind: roadmap.KindInvalid, msg: "title: title is required"},
		{name: "missing parent", in: AddInput{ParentID: roadmap.StringPtr("ghost"), Title: "x"}, kind: roadmap.KindNotFound, msg: "parent item not found: ghost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &fakeRemote{}
			ed := newTestEditor(twoItems(), remote)
			ed.AddItem(context.Background(), tt.in)

			if len(remote.Calls()) != 0 {
				t.Fatalf("expected no remote calls, got %v", remote.Calls())
			}
			if got := ed.State().Error; got != tt.msg {
				t.Fatalf("error = %q, want %q", got, tt.msg)
			}
			if roadmap.KindOf(ed.Err()) != tt.kind {
				t.Fatalf("kind = %q, want %q", roadmap.KindOf(ed.Err()), tt.kind)
			}
			if len(ed.Items()) != 2 {
				t.Fatal("items should be unchanged")
			}
		})
	}
}

func TestUpdateItemSendsOnePartialUpdate(t *testing.T) {
	remote := &fakeRemote{}
	remote.updateItemFn = func(_ context.Context, _ string, itemID string, in roadmap.UpdateItemInput) (roadmap.Item, error) {
		if in.Position != nil || in.Level != nil {
			t.Errorf("partial update should only carry changed fields, got %+v", in)
		}
		return roadmap.Item{ID: itemID, Title: *in.Title, Description: "from server", Level: 1, Position: 1000}, nil
	}
	ed := newTestEditor(twoItems(), remote)

	ed.UpdateItem(context.Background(), "item1", ItemUpdate{Title: roadmap.StringPtr("Renamed")})

	if diff := cmp.Diff([]call{{Op: "update", ItemID: "item1"}}, remote.Calls()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	got := mustFind(t, ed.Items(), "item1")
	if got.Title != "Renamed" || got.Description != "from server" {
		t.Fatalf("unexpected item %+v", got)
	}
}

func TestUpdateItemCompletionCascades(t *testing.T) {
	remote := &fakeRemote{}
	var sent roadmap.CompletionInput
	remote.setCompletionFn = func(_ context.Context, _ string, _ string, in roadmap.CompletionInput) ([]roadmap.Item, error) {
		sent = in
		return nil, nil
	}
	ed := newTestEditor(family(), remote)
	done := true

	ed.UpdateItem(context.Background(), "parent", ItemUpdate{IsCompleted: &done})

	if diff := cmp.Diff([]call{{Op: "complete", ItemID: "parent"}}, remote.Calls()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	if !sent.IsCompleted || sent.CompletedAt == nil || !sent.CompletedAt.Equal(fixedNow) {
		t.Fatalf("completion payload %+v", sent)
	}
	items := ed.Items()
	for _, id := range []string{"parent", "child1", "child2", "grandchild"} {
		it := mustFind(t, items, id)
		if !it.IsCompleted || it.CompletedAt == nil || !it.CompletedAt.Equal(fixedNow) {
			t.Fatalf("%s not completed with shared timestamp: %+v", id, it)
		}
	}
	if mustFind(t, items, "other").IsCompleted {
		t.Fatal("unrelated item changed")
	}
	if got := ed.Progress(); got != 80 {
		t.Fatalf("progress = %v, want 80", got)
	}

	undo := false
	ed.UpdateItem(context.Background(), "parent", ItemUpdate{IsCompleted: &undo})
	for _, it := range ed.Items() {
		if it.IsCompleted || it.CompletedAt != nil {
			t.Fatalf("%s should be cleared: %+v", it.ID, it)
		}
	}
}

func TestUpdateItemCompletionReconcilesReturnedSet(t *testing.T) {
	serverTime := fixedNow.Add(2 * time.Second)
	remote := &fakeRemote{}
	remote.setCompletionFn = func(context.Context, string, string, roadmap.CompletionInput) ([]roadmap.Item, error) {
		parent := mkItem("parent", "", 1, 1000)
		parent.IsCompleted, parent.CompletedAt = true, &serverTime
		child := mkItem("child1", "parent", 2, 1000)
		child.IsCompleted, child.CompletedAt = true, &serverTime
		return []roadmap.Item{parent, child, {ID: "unknown"}}, nil
	}
	ed := newTestEditor(family(), remote)

	ed.ToggleCompletion(context.Background(), "parent")

	items := ed.Items()
	if _, ok := roadmap.FindItem(items, "unknown"); ok {
		t.Fatal("items unknown to the editor must not be added")
	}
	if at := mustFind(t, items, "child1").CompletedAt; at == nil || !at.Equal(serverTime) {
		t.Fatalf("child1 should carry server timestamp, got %v", at)
	}
	if at := mustFind(t, items, "grandchild").CompletedAt; at == nil || !at.Equal(fixedNow) {
		t.Fatalf("grandchild keeps optimistic timestamp, got %v", at)
	}
}

func TestUpdateItemCompletionRollsBack(t *testing.T) {
	remote := &fakeRemote{}
	remote.setCompletionFn = func(context.Context, string, string, roadmap.CompletionInput) ([]roadmap.Item, error) {
		return nil, &roadmap.RemoteError{Kind: roadmap.KindRemoteUnreachable, Message: "network error: connection refused"}
	}
	original := family()
	ed := newTestEditor(original, remote)

	ed.ToggleCompletion(context.Background(), "child1")

	if diff := cmp.Diff(original, ed.Items()); diff != "" {
		t.Fatalf("items not restored (-want +got):\n%s", diff)
	}
	if ed.State().Error != "network error: connection refused" {
		t.Fatalf("error = %q", ed.State().Error)
	}
}

func TestUpdateItemRejectsEmptyAndMissing(t *testing.T) {
	remote := &fakeRemote{}
	ed := newTestEditor(twoItems(), remote)

	ed.UpdateItem(context.Background(), "item1", ItemUpdate{})
	if roadmap.KindOf(ed.Err()) != roadmap.KindInvalid {
		t.Fatalf("empty update should be invalid, got %v", ed.Err())
	}
	ed.UpdateItem(context.Background(), "ghost", ItemUpdate{Title: roadmap.StringPtr("x")})
	if ed.State().Error != "item not found: ghost" {
		t.Fatalf("error = %q", ed.State().Error)
	}
	ed.ToggleCompletion(context.Background(), "ghost")
	if roadmap.KindOf(ed.Err()) != roadmap.KindNotFound {
		t.Fatalf("toggle of missing item: %v", ed.Err())
	}
	if len(remote.Calls()) != 0 {
		t.Fatalf("expected no remote calls, got %v", remote.Calls())
	}
}

func TestDeleteItemCascadesLocallyWithOneCall(t *testing.T) {
	remote := &fakeRemote{}
	ed := newTestEditor(family(), remote)

	ed.DeleteItem(context.Background(), "parent")

	if diff := cmp.Diff([]string{"other"}, itemIDs(ed.Items())); diff != "" {
		t.Fatalf("remaining items mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]call{{Op: "delete", ItemID: "parent"}}, remote.Calls()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteItemRollsBack(t *testing.T) {
	remote := &fakeRemote{}
	remote.deleteItemFn = func(context.Context, string, string) error {
		return &roadmap.RemoteError{Kind: roadmap.KindRemoteRejected, Status: 404, Message: "Item not found"}
	}
	original := family()
	ed := newTestEditor(original, remote)

	ed.DeleteItem(context.Background(), "child1")

	if diff := cmp.Diff(original, ed.Items()); diff != "" {
		t.Fatalf("items not restored (-want +got):\n%s", diff)
	}
	if ed.State().Error != "Item not found" {
		t.Fatalf("error = %q", ed.State().Error)
	}
}

func TestMoveItemBoundaryIsNoOp(t *testing.T) {
	remote := &fakeRemote{}
	ed := newTestEditor(twoItems(), remote)
	ed.UpdateItem(context.Background(), "ghost", ItemUpdate{Title: roadmap.StringPtr("x")})
	before := ed.State()

	ed.MoveItem(context.Background(), "item1", roadmap.DirectionUp)
	ed.MoveItem(context.Background(), "item2", roadmap.DirectionDown)

	if len(remote.Calls()) != 0 {
		t.Fatalf("expected no remote calls, got %v", remote.Calls())
	}
	if diff := cmp.Diff(before, ed.State()); diff != "" {
		t.Fatalf("state changed (-want +got):\n%s", diff)
	}
}

func TestMoveItemSequencesThroughTemporaryPosition(t *testing.T) {
	remote := &fakeRemote{}
	ed := newTestEditor(twoItems(), remote)

	ed.MoveItem(context.Background(), "item1", roadmap.DirectionDown)

	pos := func(v int) *int { return &v }
	want := []call{
		{Op: "update", ItemID: "item1", Position: pos(2001)},
		{Op: "update", ItemID: "item2", Position: pos(1000)},
		{Op: "update", ItemID: "item1", Position: pos(2000)},
	}
	if diff := cmp.Diff(want, remote.Calls()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	items := ed.Items()
	if mustFind(t, items, "item1").Position != 2000 || mustFind(t, items, "item2").Position != 1000 {
		t.Fatalf("positions not swapped: %+v", items)
	}
	roots := ed.Tree()
	if roots[0].ID != "item2" || roots[1].ID != "item1" {
		t.Fatalf("tree order = %s, %s", roots[0].ID, roots[1].ID)
	}
}

func TestMoveItemRollsBackWhenSecondCallFails(t *testing.T) {
	remote := &fakeRemote{}
	var n int
	remote.updateItemFn = func(_ context.Context, _ string, itemID string, in roadmap.UpdateItemInput) (roadmap.Item, error) {
		n++
		if n == 2 {
			return roadmap.Item{}, &roadmap.RemoteError{Kind: roadmap.KindRemoteRejected, Status: 500, Message: "HTTP error! status: 500"}
		}
		return roadmap.Item{ID: itemID, Position: *in.Position}, nil
	}
	ed := newTestEditor(twoItems(), remote)

	ed.MoveItem(context.Background(), "item1", roadmap.DirectionDown)

	items := ed.Items()
	if mustFind(t, items, "item1").Position != 1000 || mustFind(t, items, "item2").Position != 2000 {
		t.Fatalf("positions not restored: %+v", items)
	}
	if len(remote.Calls()) != 2 {
		t.Fatalf("third call must not be issued after a failure, got %v", remote.Calls())
	}
	if ed.State().Error != "HTTP error! status: 500" {
		t.Fatalf("error = %q", ed.State().Error)
	}
}

func TestMoveItemUsesAtomicSwapWhenAvailable(t *testing.T) {
	remote := &swappingRemote{fakeRemote: &fakeRemote{}}
	remote.swapFn = func(_ context.Context, _ string, itemID, otherID string) ([]roadmap.Item, error) {
		if itemID != "item2" || otherID != "item1" {
			t.Errorf("swap(%s, %s)", itemID, otherID)
		}
		return []roadmap.Item{mkItem("item2", "", 1, 1000), mkItem("item1", "", 1, 2000)}, nil
	}
	ed := newTestEditor(twoItems(), remote)

	ed.MoveItem(context.Background(), "item2", roadmap.DirectionUp)

	if diff := cmp.Diff([]call{{Op: "swap", ItemID: "item2"}}, remote.Calls()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	if mustFind(t, ed.Items(), "item2").Position != 1000 {
		t.Fatal("item2 should be first")
	}
}

func TestMoveItemWithTiedPositionsRepositionsMovedItem(t *testing.T) {
	remote := &swappingRemote{fakeRemote: &fakeRemote{}}
	remote.swapFn = func(context.Context, string, string, string) ([]roadmap.Item, error) {
		t.Error("tied siblings must not be swapped")
		return nil, nil
	}
	ed := newTestEditor([]roadmap.Item{mkItem("item1", "", 1, 1000), mkItem("item2", "", 1, 1000)}, remote)

	ed.MoveItem(context.Background(), "item2", roadmap.DirectionUp)

	pos := func(v int) *int { return &v }
	if diff := cmp.Diff([]call{{Op: "update", ItemID: "item2", Position: pos(500)}}, remote.Calls()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	roots := ed.Tree()
	if roots[0].ID != "item2" || roots[1].ID != "item1" {
		t.Fatalf("tree order = %s, %s", roots[0].ID, roots[1].ID)
	}
	if ed.State().Loading || ed.Err() != nil {
		t.Fatalf("unexpected state %+v", ed.State())
	}
}

func TestMoveItemMissingOrInvalid(t *testing.T) {
	remote := &fakeRemote{}
	ed := newTestEditor(twoItems(), remote)

	ed.MoveItem(context.Background(), "ghost", roadmap.DirectionUp)
	var nf roadmap.NotFoundError
	if !errors.As(ed.Err(), &nf) || nf.ID != "ghost" {
		t.Fatalf("expected not found, got %v", ed.Err())
	}

	ed.MoveItem(context.Background(), "item1", roadmap.Direction("left"))
	if roadmap.KindOf(ed.Err()) != roadmap.KindInvalid {
		t.Fatalf("expected invalid direction, got %v", ed.Err())
	}
	if len(remote.Calls()) != 0 {
		t.Fatalf("expected no remote calls, got %v", remote.Calls())
	}
}

func TestSuccessfulActionClearsError(t *testing.T) {
	remote := &fakeRemote{}
	fail := true
	remote.deleteItemFn = func(context.Context, string, string) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	}
	ed := newTestEditor(twoItems(), remote)

	ed.DeleteItem(context.Background(), "item1")
	if ed.State().Error != "boom" {
		t.Fatalf("error = %q", ed.State().Error)
	}
	fail = false
	ed.DeleteItem(context.Background(), "item1")
	if ed.State().Error != "" || ed.Err() != nil {
		t.Fatalf("error should be cleared, got %q", ed.State().Error)
	}
}

func TestActionsAreSerialized(t *testing.T) {
	var inFlight, maxInFlight, seq int32
	remote := &fakeRemote{}
	remote.createItemFn = func(_ context.Context, _ string, in roadmap.CreateItemInput) (roadmap.Item, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		id := atomic.AddInt32(&seq, 1)
		return roadmap.Item{ID: fmt.Sprintf("srv-%d", id), Title: in.Title, Level: in.Level, Position: in.Position}, nil
	}
	ed := New("roadmap-1", nil, remote)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ed.AddItem(context.Background(), AddInput{Title: fmt.Sprintf("item %d", i)})
		}(i)
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Fatalf("expected one call in flight at a time, saw %d", maxInFlight)
	}
	items := ed.Items()
	if len(items) != 8 {
		t.Fatalf("expected 8 items, got %d", len(items))
	}
	positions := make([]int, 0, len(items))
	for _, it := range items {
		if it.IsTemporary() {
			t.Fatalf("temporary item left behind: %+v", it)
		}
		positions = append(positions, it.Position)
	}
	sort.Ints(positions)
	for i := 1; i < len(positions); i++ {
		if positions[i] == positions[i-1] {
			t.Fatalf("duplicate position %d", positions[i])
		}
	}
	if ed.State().Loading {
		t.Fatal("loading should be false once all actions settle")
	}
}

func TestCloseDiscardsInFlightResults(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	remote := &fakeRemote{}
	remote.createItemFn = func(context.Context, string, roadmap.CreateItemInput) (roadmap.Item, error) {
		close(started)
		<-release
		return roadmap.Item{ID: "late"}, nil
	}
	ed := newTestEditor(twoItems(), remote, WithTempID(func(time.Time) string { return "temp-1" }))

	done := make(chan struct{})
	go func() {
		ed.AddItem(context.Background(), AddInput{Title: "slow"})
		close(done)
	}()
	<-started
	if !ed.State().Loading {
		t.Fatal("expected loading while the call is in flight")
	}
	ed.Close()
	if ed.State().Loading {
		t.Fatal("loading should clear once the editor is closed")
	}
	close(release)
	<-done
	if ed.State().Loading {
		t.Fatal("a late result must not revive loading")
	}

	if _, ok := roadmap.FindItem(ed.Items(), "late"); ok {
		t.Fatal("result arriving after Close must be dropped")
	}

	ed.DeleteItem(context.Background(), "item1")
	if len(remote.Calls()) != 1 {
		t.Fatalf("actions after Close must not reach the remote, got %v", remote.Calls())
	}
}

func TestOpenAndRefresh(t *testing.T) {
	loader := &fakeLoader{items: twoItems()}
	ed, err := Open(context.Background(), "roadmap-1", loader, &fakeRemote{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(ed.Items()) != 2 {
		t.Fatalf("expected seeded items, got %d", len(ed.Items()))
	}

	loader.items = append(loader.items, mkItem("item3", "", 1, 3000))
	if err := ed.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(ed.Items()) != 3 || loader.calls != 2 {
		t.Fatalf("refresh did not reload, items=%d calls=%d", len(ed.Items()), loader.calls)
	}

	_, err = Open(context.Background(), "roadmap-1", &fakeLoader{err: errors.New("down")}, &fakeRemote{})
	if err == nil {
		t.Fatal("expected load error")
	}
	if err := New("r", nil, &fakeRemote{}).Refresh(context.Background()); err == nil {
		t.Fatal("expected error refreshing without a loader")
	}
}
