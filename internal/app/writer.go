package app

import (
	"context"
	"errors"
	"fmt"

	"boardrelay/api/internal/canvas"
	"boardrelay/api/internal/persist"
	"boardrelay/api/internal/store"
)

// boardWriter routes debounced position and size batches for one board to
// the store API each category lives behind.
type boardWriter struct {
	store   dataStore
	boardID string
}

var (
	_ persist.MoveWriter   = boardWriter{}
	_ persist.ResizeWriter = boardWriter{}
)

func (w boardWriter) WriteMoves(ctx context.Context, batch persist.Batch) error {
	var errs []error
	if len(batch.Objects) > 0 {
		patches := make(map[string]store.ObjectPatch, len(batch.Objects))
		for _, mv := range batch.Objects {
			x, y := mv.Position.X, mv.Position.Y
			patches[mv.ID] = store.ObjectPatch{X: &x, Y: &y}
		}
		if err := w.store.PatchObjects(ctx, w.boardID, patches); err != nil {
			errs = append(errs, fmt.Errorf("patch board objects: %w", err))
		}
	}
	for _, mv := range batch.Pinned {
		x, y := mv.Position.X, mv.Position.Y
		patch := store.PinnedPatch{X: &x, Y: &y}
		if mv.Parent != nil {
			patch.SetZone = true
			if mv.Parent.ID != "" {
				zoneID := mv.Parent.ID
				patch.ZoneID = &zoneID
			}
		}
		if err := w.store.PatchPinned(ctx, mv.ID, patch); err != nil {
			errs = append(errs, fmt.Errorf("patch pinned %s: %w", mv.ID, err))
		}
	}
	for _, mv := range batch.Comments {
		var parentID string
		var parentKind canvas.Kind
		if mv.Parent != nil {
			parentID, parentKind = mv.Parent.ID, mv.Parent.Kind
		}
		var worktreeID *string
		if mv.EntityID != "" {
			id := mv.EntityID
			worktreeID = &id
		}
		pos := commentPosition(mv.Position, parentID, parentKind)
		if err := w.store.PatchComment(ctx, mv.ID, pos, worktreeID); err != nil {
			errs = append(errs, fmt.Errorf("patch comment %s: %w", mv.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (w boardWriter) WriteSizes(ctx context.Context, sizes []persist.Resize) error {
	var errs []error
	patches := make(map[string]store.ObjectPatch)
	for _, rs := range sizes {
		width, height := rs.Width, rs.Height
		switch rs.Kind {
		case canvas.KindZone, canvas.KindNote:
			patches[rs.ID] = store.ObjectPatch{Width: &width, Height: &height}
		case canvas.KindPinned:
			if err := w.store.PatchPinned(ctx, rs.ID, store.PinnedPatch{Width: &width, Height: &height}); err != nil {
				errs = append(errs, fmt.Errorf("resize pinned %s: %w", rs.ID, err))
			}
		case canvas.KindComment, canvas.KindCursor:
		}
	}
	if len(patches) > 0 {
		if err := w.store.PatchObjects(ctx, w.boardID, patches); err != nil {
			errs = append(errs, fmt.Errorf("resize board objects: %w", err))
		}
	}
	return errors.Join(errs...)
}
