// Package editor keeps the in-memory item list of one open roadmap in step
// with the remote store.
//
// Every action applies its change locally first, then issues the remote
// call(s). When a call fails the list is put back to the exact snapshot taken
// before the action and the failure message is recorded in State.Error.
// Actions never return errors.
package editor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"roadmap/api/internal/roadmap"
)

type State struct {
	RoadmapID string
	Items     []roadmap.Item
	Loading   bool
	Error     string
}

type AddInput struct {
	ParentID    *string
	Title       string
	Description string
}

// ItemUpdate holds the fields to change. Setting IsCompleted cascades the
// completion state to every descendant.
type ItemUpdate struct {
	Title       *string
	Description *string
	IsCompleted *bool
}

func (u ItemUpdate) empty() bool {
	return u.Title == nil && u.Description == nil && u.IsCompleted == nil
}

type Option func(*Editor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Editor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Editor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTempID overrides how ids for unconfirmed items are generated.
func WithTempID(fn func(time.Time) string) Option {
	return func(e *Editor) {
		if fn != nil {
			e.tempID = fn
		}
	}
}

// WithObserver registers fn to receive a copy of the state after every change.
func WithObserver(fn func(State)) Option {
	return func(e *Editor) {
		e.observer = fn
	}
}

type Editor struct {
	roadmapID string
	remote    roadmap.Remote
	loader    roadmap.Loader
	logger    *slog.Logger
	now       func() time.Time
	tempID    func(time.Time) string
	observer  func(State)

	// ops serializes actions so each snapshot, commit and settle runs
	// without another action interleaving.
	ops sync.Mutex

	mu      sync.RWMutex
	items   []roadmap.Item
	pending int
	errMsg  string
	lastErr error
	closed  bool
}

// New returns an editor seeded with items.
func New(roadmapID string, items []roadmap.Item, remote roadmap.Remote, opts ...Option) *Editor {
	e := &Editor{
		roadmapID: roadmapID,
		remote:    remote,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
		tempID:    roadmap.NewTempID,
		items:     roadmap.CloneItems(items),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open fetches the roadmap's items and returns an editor seeded with them.
func Open(ctx context.Context, roadmapID string, loader roadmap.Loader, remote roadmap.Remote, opts ...Option) (*Editor, error) {
	items, err := loader.ListItems(ctx, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("load roadmap items: %w", err)
	}
	e := New(roadmapID, items, remote, opts...)
	e.loader = loader
	return e, nil
}

func (e *Editor) RoadmapID() string {
	return e.roadmapID
}

func (e *Editor) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stateLocked()
}

func (e *Editor) stateLocked() State {
	return State{
		RoadmapID: e.roadmapID,
		Items:     roadmap.CloneItems(e.items),
		Loading:   e.pending > 0,
		Error:     e.errMsg,
	}
}

func (e *Editor) Items() []roadmap.Item {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return roadmap.CloneItems(e.items)
}

// Tree is the nested view of the current items.
func (e *Editor) Tree() []*roadmap.ItemView {
	return roadmap.BuildTree(e.Items())
}

func (e *Editor) Progress() float64 {
	return roadmap.CalculateProgress(e.Tree())
}

// Err returns the typed error behind State.Error, or nil.
func (e *Editor) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// Close tears the editor down. Results of calls still in flight are dropped,
// Loading reports false, and later actions do nothing.
func (e *Editor) Close() {
	e.mu.Lock()
	e.closed = true
	e.pending = 0
	e.mu.Unlock()
}

func (e *Editor) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Refresh replaces the items with a fresh fetch. It needs an editor built by
// Open.
func (e *Editor) Refresh(ctx context.Context) error {
	e.ops.Lock()
	defer e.ops.Unlock()
	if e.loader == nil {
		return errors.New("editor has no loader")
	}
	items, err := e.loader.ListItems(ctx, e.roadmapID)
	if err != nil {
		return fmt.Errorf("reload roadmap items: %w", err)
	}
	e.update(func() {
		e.items = roadmap.CloneItems(items)
	})
	return nil
}

// AddItem appends a new item to the end of its sibling group under a
// temporary id and swaps in the stored item once the remote confirms it.
func (e *Editor) AddItem(ctx context.Context, in AddInput) {
	e.ops.Lock()
	defer e.ops.Unlock()
	if e.isClosed() {
		return
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		e.reject(roadmap.ValidationError{Field: "title", Message: "title is required"})
		return
	}

	original := e.snapshot()
	var parentID *string
	level := 1
	if in.ParentID != nil && *in.ParentID != "" {
		parent, ok := roadmap.FindItem(original, *in.ParentID)
		if !ok {
			e.reject(roadmap.NotFoundError{Kind: "parent item", ID: *in.ParentID})
			return
		}
		parentID = roadmap.StringPtr(parent.ID)
		level = parent.Level + 1
	}

	tempID := e.tempID(e.now())
	draft := roadmap.Item{
		ID:           tempID,
		ParentItemID: parentID,
		Title:        title,
		Description:  in.Description,
		Level:        level,
		Position:     roadmap.NextPosition(original, parentID),
	}
	e.commit(append(roadmap.CloneItems(original), draft))

	created, err := e.remote.CreateItem(ctx, e.roadmapID, roadmap.CreateItemInput{
		ParentItemID: draft.ParentItemID,
		Title:        draft.Title,
		Description:  draft.Description,
		Level:        draft.Level,
		Position:     draft.Position,
	})
	if err == nil && created.ID == "" {
		err = &roadmap.RemoteError{Kind: roadmap.KindUnexpected, Message: "unexpected response: created item has no id"}
	}
	if err != nil {
		e.rollback("add", original, err)
		return
	}

	e.settle("add", func(items []roadmap.Item) []roadmap.Item {
		for i := range items {
			if items[i].ID == tempID {
				items[i] = created.Clone()
				return items
			}
		}
		return append(items, created.Clone())
	})
}

// UpdateItem merges the given fields into an item. A completion change goes
// out as one full update covering the item and its descendants; anything
// else is one partial update.
func (e *Editor) UpdateItem(ctx context.Context, itemID string, upd ItemUpdate) {
	e.ops.Lock()
	defer e.ops.Unlock()
	if e.isClosed() {
		return
	}
	e.updateLocked(ctx, itemID, upd)
}

// ToggleCompletion flips the completion state of an item and its subtree.
func (e *Editor) ToggleCompletion(ctx context.Context, itemID string) {
	e.ops.Lock()
	defer e.ops.Unlock()
	if e.isClosed() {
		return
	}
	current, ok := roadmap.FindItem(e.snapshot(), itemID)
	if !ok {
		e.reject(roadmap.NotFoundError{Kind: "item", ID: itemID})
		return
	}
	completed := !current.IsCompleted
	e.updateLocked(ctx, itemID, ItemUpdate{IsCompleted: &completed})
}

func (e *Editor) updateLocked(ctx context.Context, itemID string, upd ItemUpdate) {
	if upd.empty() {
		e.reject(roadmap.ValidationError{Message: "at least one field must be provided for update"})
		return
	}
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		e.reject(roadmap.ValidationError{Field: "title", Message: "title is required"})
		return
	}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		upd.Title = &title
	}

	original := e.snapshot()
	if _, ok := roadmap.FindItem(original, itemID); !ok {
		e.reject(roadmap.NotFoundError{Kind: "item", ID: itemID})
		return
	}

	if upd.IsCompleted != nil {
		plan, err := roadmap.PlanCompletion(original, itemID, *upd.IsCompleted, e.now())
		if err != nil {
			e.reject(err)
			return
		}
		e.commit(mergeFields(roadmap.ApplyCompletion(original, plan), itemID, upd))

		returned, err := e.remote.SetCompletion(ctx, e.roadmapID, itemID, roadmap.CompletionInput{
			IsCompleted: plan.IsCompleted,
			CompletedAt: plan.CompletedAt,
			Title:       upd.Title,
			Description: upd.Description,
		})
		if err != nil {
			e.rollback("complete", original, err)
			return
		}
		e.settle("complete", func(items []roadmap.Item) []roadmap.Item {
			return replaceByID(items, returned)
		})
		return
	}

	e.commit(mergeFields(original, itemID, upd))
	updated, err := e.remote.UpdateItem(ctx, e.roadmapID, itemID, roadmap.UpdateItemInput{
		Title:       upd.Title,
		Description: upd.Description,
	})
	if err != nil {
		e.rollback("update", original, err)
		return
	}
	e.settle("update", func(items []roadmap.Item) []roadmap.Item {
		return replaceByID(items, []roadmap.Item{updated})
	})
}

// DeleteItem removes an item and its descendants. Only the item itself is
// deleted remotely; the store removes the descendants.
func (e *Editor) DeleteItem(ctx context.Context, itemID string) {
	e.ops.Lock()
	defer e.ops.Unlock()
	if e.isClosed() {
		return
	}

	original := e.snapshot()
	if _, ok := roadmap.FindItem(original, itemID); !ok {
		e.reject(roadmap.NotFoundError{Kind: "item", ID: itemID})
		return
	}
	e.commit(roadmap.RemoveSubtree(original, itemID))

	if err := e.remote.DeleteItem(ctx, e.roadmapID, itemID); err != nil {
		e.rollback("delete", original, err)
		return
	}
	e.settle("delete", nil)
}

// MoveItem swaps an item with its previous (up) or next (down) sibling.
//
// Against a plain remote the swap takes three calls in strict order: the
// moved item is parked on a position above every other, the partner takes
// the moved item's old position, then the moved item takes the partner's.
// A remote that implements roadmap.PositionSwapper gets a single call.
// Siblings sharing a position cannot trade values, so then only the moved
// item is updated, to a position past its partner.
func (e *Editor) MoveItem(ctx context.Context, itemID string, dir roadmap.Direction) {
	e.ops.Lock()
	defer e.ops.Unlock()
	if e.isClosed() {
		return
	}
	if dir != roadmap.DirectionUp && dir != roadmap.DirectionDown {
		e.reject(roadmap.ValidationError{Field: "direction", Message: fmt.Sprintf("invalid direction %q", dir)})
		return
	}

	original := e.snapshot()
	swap, ok, err := roadmap.FindSwap(original, itemID, dir)
	if err != nil {
		e.reject(err)
		return
	}
	if !ok {
		return
	}
	e.commit(roadmap.ApplySwap(original, swap))

	var confirmed []roadmap.Item
	if swap.Tied() {
		confirmed, err = e.moveTied(ctx, swap)
	} else if swapper, ok := e.remote.(roadmap.PositionSwapper); ok {
		confirmed, err = swapper.SwapPositions(ctx, e.roadmapID, swap.Moved.ID, swap.Partner.ID)
	} else {
		confirmed, err = e.moveInSteps(ctx, swap, roadmap.TempPosition(original))
	}
	if err != nil {
		e.rollback("move", original, err)
		return
	}
	e.settle("move", func(items []roadmap.Item) []roadmap.Item {
		return replaceByID(items, confirmed)
	})
}

func (e *Editor) moveInSteps(ctx context.Context, swap roadmap.Swap, temp int) ([]roadmap.Item, error) {
	steps := []struct {
		itemID   string
		position int
	}{
		{swap.Moved.ID, temp},
		{swap.Partner.ID, swap.PartnerTo},
		{swap.Moved.ID, swap.MovedTo},
	}
	confirmed := make([]roadmap.Item, 0, 2)
	for i, step := range steps {
		position := step.position
		updated, err := e.remote.UpdateItem(ctx, e.roadmapID, step.itemID, roadmap.UpdateItemInput{Position: &position})
		if err != nil {
			if i > 0 {
				e.logger.Warn("move left remote positions partially applied",
					"roadmap_id", e.roadmapID, "item_id", swap.Moved.ID, "partner_id", swap.Partner.ID, "failed_step", i+1)
			}
			return nil, err
		}
		if i > 0 {
			confirmed = append(confirmed, updated)
		}
	}
	return confirmed, nil
}

func (e *Editor) moveTied(ctx context.Context, swap roadmap.Swap) ([]roadmap.Item, error) {
	position := swap.MovedTo
	updated, err := e.remote.UpdateItem(ctx, e.roadmapID, swap.Moved.ID, roadmap.UpdateItemInput{Position: &position})
	if err != nil {
		return nil, err
	}
	return []roadmap.Item{updated}, nil
}

func (e *Editor) snapshot() []roadmap.Item {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return roadmap.CloneItems(e.items)
}

// commit publishes the optimistic items and marks a call in flight.
func (e *Editor) commit(items []roadmap.Item) {
	e.update(func() {
		e.items = items
		e.errMsg = ""
		e.lastErr = nil
		e.pending++
	})
}

// settle finishes a successful action. reconcile receives a copy of the
// current items and returns the confirmed list.
func (e *Editor) settle(action string, reconcile func([]roadmap.Item) []roadmap.Item) {
	e.update(func() {
		if reconcile != nil {
			e.items = reconcile(roadmap.CloneItems(e.items))
		}
		e.pending--
	})
	e.logger.Debug("roadmap action confirmed", "action", action, "roadmap_id", e.roadmapID)
}

// rollback restores the pre-action snapshot and records err.
func (e *Editor) rollback(action string, original []roadmap.Item, err error) {
	e.update(func() {
		e.items = original
		e.errMsg = roadmap.Message(err)
		e.lastErr = err
		e.pending--
	})
	e.logger.Warn("roadmap action rolled back",
		"action", action, "roadmap_id", e.roadmapID, "kind", string(roadmap.KindOf(err)), "error", err)
}

// reject records an error for an action that failed before any change.
func (e *Editor) reject(err error) {
	e.update(func() {
		e.errMsg = roadmap.Message(err)
		e.lastErr = err
	})
	e.logger.Debug("roadmap action rejected", "roadmap_id", e.roadmapID, "kind", string(roadmap.KindOf(err)), "error", err)
}

// update applies fn under the state lock unless the editor was closed, then
// notifies the observer.
func (e *Editor) update(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	fn()
	state := e.stateLocked()
	observer := e.observer
	e.mu.Unlock()
	if observer != nil {
		observer(state)
	}
}

func mergeFields(items []roadmap.Item, itemID string, upd ItemUpdate) []roadmap.Item {
	out := roadmap.CloneItems(items)
	for i := range out {
		if out[i].ID != itemID {
			continue
		}
		if upd.Title != nil {
			out[i].Title = *upd.Title
		}
		if upd.Description != nil {
			out[i].Description = *upd.Description
		}
	}
	return out
}

// replaceByID swaps in the confirmed version of every returned item that is
// still present. Returned items unknown to the list are ignored.
func replaceByID(items []roadmap.Item, confirmed []roadmap.Item) []roadmap.Item {
	if len(confirmed) == 0 {
		return items
	}
	byID := make(map[string]roadmap.Item, len(confirmed))
	for _, it := range confirmed {
		if it.ID != "" {
			byID[it.ID] = it
		}
	}
	for i := range items {
		if it, ok := byID[items[i].ID]; ok {
			items[i] = it.Clone()
		}
	}
	return items
}
