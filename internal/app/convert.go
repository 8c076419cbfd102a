package app

import (
	"context"
	"sort"

	"boardrelay/api/internal/canvas"
	"boardrelay/api/internal/export"
	"boardrelay/api/internal/geom"
	"boardrelay/api/internal/session"
	"boardrelay/api/internal/store"
)

// boardReader is the read side of the store a snapshot is built from.
type boardReader interface {
	GetBoard(ctx context.Context, id string) (store.Board, error)
	ListPinned(ctx context.Context, boardID string) ([]store.PinnedEntity, error)
	ListComments(ctx context.Context, boardID string) ([]store.Comment, error)
}

// boardObjects converts the zones and notes held on the board row, oldest
// first so later objects draw on top.
func boardObjects(board store.Board) (zones, notes []canvas.Object) {
	ids := make([]string, 0, len(board.Objects))
	for id := range board.Objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := board.Objects[ids[i]], board.Objects[ids[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return ids[i] < ids[j]
	})
	for _, id := range ids {
		obj := board.Objects[id]
		base := canvas.Object{
			ID:       id,
			Position: geom.Point{X: obj.X, Y: obj.Y},
			Width:    obj.Width,
			Height:   obj.Height,
		}
		switch obj.Type {
		case store.ObjectTypeZone:
			base.Kind = canvas.KindZone
			base.Zone = &canvas.Zone{
				Label:           obj.Label,
				BorderColor:     obj.BorderColor,
				BackgroundColor: obj.BackgroundColor,
				Locked:          obj.Locked,
				Trigger:         triggerFromStore(obj.Trigger),
			}
			zones = append(zones, base)
		case store.ObjectTypeNote:
			base.Kind = canvas.KindNote
			base.Note = &canvas.Note{Content: obj.Content}
			notes = append(notes, base)
		}
	}
	return zones, notes
}

func triggerFromStore(t *store.ZoneTrigger) *canvas.Trigger {
	if t == nil {
		return nil
	}
	return &canvas.Trigger{Behavior: canvas.TriggerBehavior(t.Behavior), Template: t.Template, Agent: t.Agent}
}

func triggerToStore(t *canvas.Trigger) *store.ZoneTrigger {
	if t == nil {
		return nil
	}
	return &store.ZoneTrigger{Behavior: string(t.Behavior), Template: t.Template, Agent: t.Agent}
}

func pinnedObject(p store.PinnedEntity) canvas.Object {
	obj := canvas.Object{
		ID:       p.ID,
		Kind:     canvas.KindPinned,
		Position: geom.Point{X: p.X, Y: p.Y},
		Pinned:   &canvas.Pinned{EntityID: p.WorktreeID, Title: p.Title},
	}
	if p.ZoneID != nil {
		obj.ParentID = *p.ZoneID
	}
	if p.Width != nil {
		obj.Width = *p.Width
	}
	if p.Height != nil {
		obj.Height = *p.Height
	}
	return obj
}

func commentObject(c store.Comment) canvas.Object {
	obj := canvas.Object{
		ID:      c.ID,
		Kind:    canvas.KindComment,
		Comment: &canvas.Comment{Body: c.Body, Author: c.Author},
	}
	if c.WorktreeID != nil {
		obj.Comment.WorktreeID = *c.WorktreeID
	}
	switch {
	case c.Position.Relative != nil:
		rel := c.Position.Relative
		obj.ParentID = rel.ParentID
		obj.Comment.ParentKind = canvas.Kind(rel.ParentType)
		obj.Position = geom.Point{X: rel.OffsetX, Y: rel.OffsetY}
	case c.Position.Absolute != nil:
		obj.Position = geom.Point{X: c.Position.Absolute.X, Y: c.Position.Absolute.Y}
	}
	return obj
}

// commentPosition is the stored form of a comment at pos under parent.
func commentPosition(pos geom.Point, parentID string, parentKind canvas.Kind) store.CommentPosition {
	if parentID == "" {
		return store.CommentPosition{Absolute: &store.Point{X: pos.X, Y: pos.Y}}
	}
	return store.CommentPosition{Relative: &store.RelativePosition{
		ParentID:   parentID,
		ParentType: string(parentKind),
		OffsetX:    pos.X,
		OffsetY:    pos.Y,
	}}
}

func cursorID(sessionID string) string {
	return "cursor:" + sessionID
}

func cursorObject(c session.Cursor) canvas.Object {
	return canvas.Object{
		ID:       cursorID(c.SessionID),
		Kind:     canvas.KindCursor,
		Position: geom.Point{X: c.X, Y: c.Y},
		Cursor:   &canvas.Cursor{UserID: c.UserID, Name: c.Name},
	}
}

// BoardLoader flattens a board's durable state for export.
type BoardLoader struct {
	Store boardReader
}

func (l BoardLoader) LoadBoard(ctx context.Context, boardID string) (export.Board, error) {
	board, err := l.Store.GetBoard(ctx, boardID)
	if err != nil {
		return export.Board{}, err
	}
	pinned, err := l.Store.ListPinned(ctx, boardID)
	if err != nil {
		return export.Board{}, err
	}
	comments, err := l.Store.ListComments(ctx, boardID)
	if err != nil {
		return export.Board{}, err
	}

	zones, notes := boardObjects(board)
	out := export.Board{ID: board.ID, Name: board.Name}
	out.Objects = append(out.Objects, zones...)
	for _, p := range pinned {
		out.Objects = append(out.Objects, pinnedObject(p))
	}
	out.Objects = append(out.Objects, notes...)
	for _, c := range comments {
		out.Objects = append(out.Objects, commentObject(c))
	}
	return out, nil
}
