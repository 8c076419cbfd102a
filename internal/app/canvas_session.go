package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"boardrelay/api/internal/canvas"
	"boardrelay/api/internal/geom"
	"boardrelay/api/internal/persist"
	"boardrelay/api/internal/search"
	"boardrelay/api/internal/session"
	"boardrelay/api/internal/store"
	"boardrelay/api/internal/trigger"
)

// canvasSession is one viewer's canvas on one board. mu serialises every
// transition of state, so gesture events, snapshot refreshes and write
// confirmations never interleave. Store calls happen outside mu.
type canvasSession struct {
	svc       *Service
	id        string
	boardID   string
	boardName string
	viewer    OpenSessionInput
	log       logrus.FieldLogger
	broker    *updateBroker

	mover   *persist.Mover
	resizer *persist.Resizer
	engine  *trigger.Engine

	// refreshMu keeps snapshot loads applied in the order they were read.
	refreshMu sync.Mutex

	mu     sync.Mutex
	state  *canvas.State
	closed bool
	// loads counts snapshot loads started; placements are retired by it.
	loads      uint64
	placements map[string]placement
}

// placement is the zone this viewer last dropped a card into. Snapshots read
// before the card's write committed may still show the old zone, so trigger
// evaluation compares against this until a later snapshot has caught up.
type placement struct {
	zoneID    string
	committed bool
	// after is the load count at commit; loads numbered above it see the write.
	after uint64
}

func newCanvasSession(svc *Service, id string, board store.Board, viewer OpenSessionInput) *canvasSession {
	log := svc.log.WithFields(logrus.Fields{"board_id": board.ID, "session_id": id})
	cs := &canvasSession{
		svc:        svc,
		id:         id,
		boardID:    board.ID,
		boardName:  board.Name,
		viewer:     viewer,
		log:        log,
		broker:     newUpdateBroker(),
		placements: map[string]placement{},
		state: canvas.NewState(canvas.Options{
			Clock:         svc.clock,
			Logger:        log,
			DeletionGrace: svc.cfg.DeletionGrace,
		}),
	}
	writer := boardWriter{store: svc.store, boardID: board.ID}
	pcfg := persist.Config{
		Clock:     svc.clock,
		Delay:     svc.cfg.DebounceDelay,
		Logger:    log,
		Spawn:     svc.spawn,
		OnWritten: cs.confirmWrite,
	}
	cs.mover = persist.NewMover(writer, pcfg)
	cs.resizer = persist.NewResizer(writer, pcfg)
	cs.engine = trigger.NewEngine(trigger.Options{
		Dispatcher: svc.dispatcher,
		Logger:     log,
		NewID:      func() string { return svc.newID("choice") },
		Now:        svc.clock.Now,
		Spawn:      svc.spawn,
		Timeout:    svc.cfg.TriggerTimeout,
	})
	return cs
}

func (cs *canvasSession) close(ctx context.Context) {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.closed = true
	cs.mu.Unlock()

	cs.mover.Close()
	cs.resizer.Close()
	cs.broker.close()
	if cs.svc.cursors != nil {
		if err := cs.svc.cursors.RemoveCursor(ctx, cs.boardID, cs.id); err != nil {
			cs.log.WithError(err).Warn("app: remove cursor failed")
		}
	}
}

// SessionView is what a viewer renders: the reconciled objects in z-order
// and any trigger pickers waiting for an answer.
type SessionView struct {
	SessionID string            `json:"sessionId"`
	BoardID   string            `json:"boardId"`
	BoardName string            `json:"boardName"`
	Objects   []canvas.Object   `json:"objects"`
	Choices   []trigger.Pending `json:"choices"`
	Gesture   *GestureView      `json:"gesture,omitempty"`
}

type GestureView struct {
	ObjectID string             `json:"objectId"`
	Mode     canvas.GestureMode `json:"mode"`
}

func (cs *canvasSession) view() SessionView {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.viewLocked()
}

func (cs *canvasSession) viewLocked() SessionView {
	v := SessionView{
		SessionID: cs.id,
		BoardID:   cs.boardID,
		BoardName: cs.boardName,
		Objects:   cs.state.Objects(),
		Choices:   cs.engine.PendingChoices(),
	}
	if g := cs.state.Gesture(); g != nil {
		v.Gesture = &GestureView{ObjectID: g.ObjectID, Mode: g.Mode}
	}
	return v
}

// refresh reads the given categories from the store and reconciles them
// into the canvas. nil means every category.
func (cs *canvasSession) refresh(ctx context.Context, kinds []canvas.Kind) error {
	cs.refreshMu.Lock()
	defer cs.refreshMu.Unlock()

	cs.mu.Lock()
	cs.loads++
	seq := cs.loads
	cs.mu.Unlock()

	snap, err := cs.svc.loadSnapshot(ctx, cs.boardID, cs.id, kinds)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.state.ApplyRemoteSnapshot(snap)
	for id, p := range cs.placements {
		if p.committed && p.after < seq {
			delete(cs.placements, id)
		}
	}
	for _, obj := range snap.Objects {
		if obj.Kind == canvas.KindZone || obj.Kind == canvas.KindNote || obj.Kind == canvas.KindPinned {
			w, h := obj.Size()
			cs.resizer.Observe(obj.ID, w, h)
		}
	}
	cs.mu.Unlock()
	cs.broker.notify()
	return nil
}

func (s *Service) loadSnapshot(ctx context.Context, boardID, sessionID string, kinds []canvas.Kind) (canvas.Snapshot, error) {
	want := map[canvas.Kind]bool{}
	list := kinds
	if len(list) == 0 {
		list = canvas.Kinds
	}
	for _, k := range list {
		want[k] = true
	}
	if s.cursors == nil && want[canvas.KindCursor] {
		delete(want, canvas.KindCursor)
		list = without(list, canvas.KindCursor)
	}
	snap := canvas.Snapshot{Categories: list}

	if want[canvas.KindZone] || want[canvas.KindNote] {
		board, err := s.store.GetBoard(ctx, boardID)
		if err != nil {
			return canvas.Snapshot{}, fmt.Errorf("load board: %w", err)
		}
		zones, notes := boardObjects(board)
		if want[canvas.KindZone] {
			snap.Objects = append(snap.Objects, zones...)
		}
		if want[canvas.KindNote] {
			snap.Objects = append(snap.Objects, notes...)
		}
	}
	if want[canvas.KindPinned] {
		pinned, err := s.store.ListPinned(ctx, boardID)
		if err != nil {
			return canvas.Snapshot{}, fmt.Errorf("load pinned: %w", err)
		}
		for _, p := range pinned {
			snap.Objects = append(snap.Objects, pinnedObject(p))
		}
	}
	if want[canvas.KindComment] {
		comments, err := s.store.ListComments(ctx, boardID)
		if err != nil {
			return canvas.Snapshot{}, fmt.Errorf("load comments: %w", err)
		}
		for _, c := range comments {
			snap.Objects = append(snap.Objects, commentObject(c))
		}
	}
	if want[canvas.KindCursor] {
		cursors, err := s.cursors.ListCursors(ctx, boardID)
		if err != nil {
			return canvas.Snapshot{}, fmt.Errorf("load cursors: %w", err)
		}
		for _, c := range cursors {
			if c.SessionID == sessionID {
				continue
			}
			snap.Objects = append(snap.Objects, cursorObject(c))
		}
	}
	return snap, nil
}

func without(kinds []canvas.Kind, drop canvas.Kind) []canvas.Kind {
	out := make([]canvas.Kind, 0, len(kinds))
	for _, k := range kinds {
		if k != drop {
			out = append(out, k)
		}
	}
	return out
}

// confirmWrite runs after a debounced batch committed. Overrides are only
// released for objects the user has not moved again since the batch was
// taken.
func (cs *canvasSession) confirmWrite(w persist.Written) {
	seen := map[canvas.Kind]bool{}
	var kinds []canvas.Kind
	cs.mu.Lock()
	for _, id := range w.IDs {
		if obj, ok := cs.state.Object(id); ok && !seen[obj.Kind] {
			seen[obj.Kind] = true
			kinds = append(kinds, obj.Kind)
		}
	}
	writes := make([]canvas.Write, 0, len(w.Moves))
	for _, mv := range w.Moves {
		if cs.mover.Queued(mv.ID) {
			continue
		}
		writes = append(writes, canvas.Write{ID: mv.ID, ParentID: cs.writtenParent(mv), Position: mv.Position})
		if p, ok := cs.placements[mv.ID]; ok && !p.committed {
			p.committed, p.after = true, cs.loads
			cs.placements[mv.ID] = p
		}
	}
	cs.state.ConfirmWrite(writes...)
	cs.mu.Unlock()

	if len(kinds) == 0 {
		return
	}
	cs.svc.announce(session.Change{BoardID: cs.boardID, Categories: categories(kinds...), Origin: cs.id})
}

// writtenParent is the parent the store holds for mv after it committed.
// Callers hold cs.mu.
func (cs *canvasSession) writtenParent(mv persist.Move) string {
	if mv.Parent != nil {
		return mv.Parent.ID
	}
	if p, ok := cs.placements[mv.ID]; ok {
		return p.zoneID
	}
	if obj, ok := cs.state.Object(mv.ID); ok {
		return obj.ParentID
	}
	return ""
}

// previousZone is the zone a card counts as being in before a drop: a queued
// zone change first, then the last local placement, then what is displayed.
// Callers hold cs.mu.
func (cs *canvasSession) previousZone(cardID, displayed string) string {
	if parent, ok := cs.mover.PendingParent(cardID); ok {
		return parent.ID
	}
	if p, ok := cs.placements[cardID]; ok {
		return p.zoneID
	}
	return displayed
}

// mutate runs fn under the session lock and pushes the result to streams.
func (cs *canvasSession) mutate(fn func() error) (SessionView, error) {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return SessionView{}, errSessionNotFound
	}
	if err := fn(); err != nil {
		cs.mu.Unlock()
		return SessionView{}, err
	}
	v := cs.viewLocked()
	cs.mu.Unlock()
	cs.broker.notify()
	return v, nil
}

func (cs *canvasSession) beginGesture(objectID string, mode canvas.GestureMode) (SessionView, error) {
	switch mode {
	case canvas.GestureMove, canvas.GestureResize:
	default:
		return SessionView{}, validationError("mode must be move or resize")
	}
	return cs.mutate(func() error { return cs.state.BeginGesture(objectID, mode) })
}

func (cs *canvasSession) moveGesture(abs geom.Point) (SessionView, error) {
	return cs.mutate(func() error { return cs.state.MoveGesture(abs) })
}

func (cs *canvasSession) resizeGesture(width, height float64) (SessionView, error) {
	return cs.mutate(func() error { return cs.state.ResizeGesture(width, height) })
}

func (cs *canvasSession) cancelGesture() (SessionView, error) {
	return cs.mutate(cs.state.CancelGesture)
}

// DropResult is the canvas after a gesture ended plus what the drop fired.
type DropResult struct {
	SessionView
	ParentID string           `json:"parentId,omitempty"`
	Phase    trigger.Phase    `json:"phase"`
	Fired    bool             `json:"fired"`
	Choice   *trigger.Pending `json:"choice,omitempty"`
}

// endGesture finishes the gesture, queues its write and evaluates the zone
// trigger. The trigger is evaluated right away; the write goes out when the
// debounce window closes.
func (cs *canvasSession) endGesture() (DropResult, error) {
	var result DropResult
	view, err := cs.mutate(func() error {
		drop, err := cs.state.EndGesture()
		if err != nil {
			return err
		}
		obj := drop.Object
		if obj.Kind == canvas.KindPinned && drop.Mode == canvas.GestureMove {
			drop.PreviousParentID = cs.previousZone(obj.ID, drop.PreviousParentID)
		}
		switch drop.Mode {
		case canvas.GestureMove:
			cs.mover.Record(cs.moveFor(drop))
			if obj.Kind == canvas.KindPinned {
				cs.placements[obj.ID] = placement{zoneID: obj.ParentID}
			}
		case canvas.GestureResize:
			w, h := obj.Size()
			cs.resizer.Record(persist.Resize{ID: obj.ID, Kind: obj.Kind, Width: w, Height: h})
		}
		outcome := cs.engine.Evaluate(trigger.BoardInfo{ID: cs.boardID, Name: cs.boardName}, drop)
		result.ParentID = obj.ParentID
		result.Phase = outcome.Phase
		result.Fired = outcome.Fired
		result.Choice = outcome.Choice
		return nil
	})
	if err != nil {
		return DropResult{}, err
	}
	result.SessionView = view
	return result, nil
}

// moveFor builds the write for a finished drag. Callers hold cs.mu.
func (cs *canvasSession) moveFor(drop canvas.Drop) persist.Move {
	obj := drop.Object
	mv := persist.Move{ID: obj.ID, Kind: obj.Kind, Position: obj.Position}
	switch obj.Kind {
	case canvas.KindPinned:
		mv.EntityID = obj.Pinned.EntityID
		if drop.Reparented() {
			mv.Parent = &persist.ParentChange{ID: obj.ParentID}
			if obj.ParentID != "" {
				mv.Parent.Kind = canvas.KindZone
			}
		}
	case canvas.KindComment:
		// Comment positions are stored whole, so the parent always travels
		// with the offset.
		mv.Parent = &persist.ParentChange{ID: obj.ParentID, Kind: obj.Comment.ParentKind}
		if obj.Comment.ParentKind == canvas.KindPinned {
			if card, ok := cs.state.Object(obj.ParentID); ok && card.Pinned != nil {
				mv.EntityID = card.Pinned.EntityID
			}
		}
	}
	return mv
}

// ZoneInput describes a zone to create.
type ZoneInput struct {
	Label           string          `json:"label"`
	X               float64         `json:"x"`
	Y               float64         `json:"y"`
	Width           float64         `json:"width"`
	Height          float64         `json:"height"`
	BorderColor     string          `json:"borderColor"`
	BackgroundColor string          `json:"backgroundColor"`
	Locked          bool            `json:"locked"`
	Trigger         *canvas.Trigger `json:"trigger"`
}

func validateTrigger(t *canvas.Trigger) error {
	if t == nil {
		return nil
	}
	switch t.Behavior {
	case canvas.TriggerAlwaysNew, canvas.TriggerShowPicker:
	default:
		return validationError("trigger behavior must be always_new or show_picker")
	}
	if strings.TrimSpace(t.Template) == "" {
		return validationError("trigger template is required")
	}
	return nil
}

// createZone shows the zone at once and rolls it back if the store rejects
// it.
func (cs *canvasSession) createZone(ctx context.Context, in ZoneInput) (SessionView, error) {
	if err := validateBox(in.X, in.Y, in.Width, in.Height); err != nil {
		return SessionView{}, err
	}
	if err := validateTrigger(in.Trigger); err != nil {
		return SessionView{}, err
	}
	obj := canvas.Object{
		ID:       cs.svc.newID("zone"),
		Kind:     canvas.KindZone,
		Position: geom.Point{X: in.X, Y: in.Y},
		Width:    in.Width,
		Height:   in.Height,
		Zone: &canvas.Zone{
			Label:           in.Label,
			BorderColor:     in.BorderColor,
			BackgroundColor: in.BackgroundColor,
			Locked:          in.Locked,
			Trigger:         in.Trigger,
		},
	}
	record := store.BoardObject{
		Type: store.ObjectTypeZone, X: in.X, Y: in.Y, Width: in.Width, Height: in.Height,
		Label: in.Label, BorderColor: in.BorderColor, BackgroundColor: in.BackgroundColor,
		Locked: in.Locked, Trigger: triggerToStore(in.Trigger), CreatedAt: cs.svc.clock.Now().UTC(),
	}
	return cs.createObject(ctx, obj, record)
}

type NoteInput struct {
	Content string  `json:"content"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

func (cs *canvasSession) createNote(ctx context.Context, in NoteInput) (SessionView, error) {
	if err := validateBox(in.X, in.Y, in.Width, in.Height); err != nil {
		return SessionView{}, err
	}
	obj := canvas.Object{
		ID:       cs.svc.newID("note"),
		Kind:     canvas.KindNote,
		Position: geom.Point{X: in.X, Y: in.Y},
		Width:    in.Width,
		Height:   in.Height,
		Note:     &canvas.Note{Content: in.Content},
	}
	record := store.BoardObject{
		Type: store.ObjectTypeNote, X: in.X, Y: in.Y, Width: in.Width, Height: in.Height,
		Content: in.Content, CreatedAt: cs.svc.clock.Now().UTC(),
	}
	return cs.createObject(ctx, obj, record)
}

func (cs *canvasSession) createObject(ctx context.Context, obj canvas.Object, record store.BoardObject) (SessionView, error) {
	if _, err := cs.mutate(func() error { return cs.state.Insert(obj) }); err != nil {
		return SessionView{}, err
	}
	if err := cs.svc.store.UpsertObject(ctx, cs.boardID, obj.ID, record); err != nil {
		cs.rollback(obj.ID, err)
		return SessionView{}, err
	}
	cs.svc.index(itemRecord(cs.boardID, obj.ID, record))
	cs.svc.announce(session.Change{BoardID: cs.boardID, Categories: categories(obj.Kind), Origin: cs.id})
	return cs.view(), nil
}

func (cs *canvasSession) rollback(id string, cause error) {
	cs.log.WithError(cause).WithField("object_id", id).Warn("app: create failed, rolling back")
	cs.mu.Lock()
	cs.state.Rollback(id)
	cs.mu.Unlock()
	cs.broker.notify()
}

type CommentInput struct {
	Body string  `json:"body"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// createComment places a comment at an absolute point. It pins to the card
// or zone under the point, if any.
func (cs *canvasSession) createComment(ctx context.Context, in CommentInput) (SessionView, error) {
	if strings.TrimSpace(in.Body) == "" {
		return SessionView{}, validationError("body is required")
	}
	abs := geom.Point{X: in.X, Y: in.Y}
	if !abs.Finite() {
		return SessionView{}, validationError("position must be finite")
	}
	obj := canvas.Object{
		ID:       cs.svc.newID("comment"),
		Kind:     canvas.KindComment,
		Position: abs,
		Comment:  &canvas.Comment{Body: in.Body, Author: cs.viewer.Name},
	}
	var worktreeID *string
	_, err := cs.mutate(func() error {
		target := canvas.FindIntersectingObjects(abs, cs.state.Objects()).Target()
		if target != nil {
			if parentAbs, ok := cs.state.Absolute(target.ID); ok {
				obj.ParentID = target.ID
				obj.Comment.ParentKind = target.Kind
				obj.Position = geom.ToRelative(abs, parentAbs)
				if target.Pinned != nil {
					id := target.Pinned.EntityID
					obj.Comment.WorktreeID = id
					worktreeID = &id
				}
			}
		}
		return cs.state.Insert(obj)
	})
	if err != nil {
		return SessionView{}, err
	}

	_, err = cs.svc.store.CreateComment(ctx, store.Comment{
		ID:         obj.ID,
		BoardID:    cs.boardID,
		Body:       in.Body,
		Author:     cs.viewer.Name,
		WorktreeID: worktreeID,
		Position:   commentPosition(obj.Position, obj.ParentID, obj.Comment.ParentKind),
	})
	if err != nil {
		cs.rollback(obj.ID, err)
		return SessionView{}, err
	}
	cs.svc.index(search.ItemRecord{ID: obj.ID, BoardID: cs.boardID, Type: search.ResultComment, Title: cs.viewer.Name, Body: in.Body})
	cs.svc.announce(session.Change{BoardID: cs.boardID, Categories: categories(canvas.KindComment), Origin: cs.id})
	return cs.view(), nil
}

type PinInput struct {
	WorktreeID string   `json:"worktreeId"`
	Title      string   `json:"title"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Width      *float64 `json:"width"`
	Height     *float64 `json:"height"`
}

// pinEntity places a worktree card with its top-left at (X, Y). A card
// whose center lands in a zone starts out in that zone and fires the zone's
// trigger, as a drop would. Placing a card that is already on the board
// moves it.
func (cs *canvasSession) pinEntity(ctx context.Context, in PinInput) (DropResult, error) {
	if strings.TrimSpace(in.WorktreeID) == "" {
		return DropResult{}, validationError("worktreeId is required")
	}
	abs := geom.Point{X: in.X, Y: in.Y}
	if !abs.Finite() {
		return DropResult{}, validationError("position must be finite")
	}
	card := canvas.Object{
		Kind:     canvas.KindPinned,
		Position: abs,
		Pinned:   &canvas.Pinned{EntityID: in.WorktreeID, Title: in.Title},
	}
	if in.Width != nil && in.Height != nil {
		if err := validateBox(in.X, in.Y, *in.Width, *in.Height); err != nil {
			return DropResult{}, err
		}
		card.Width, card.Height = *in.Width, *in.Height
	}

	record := store.PinnedEntity{
		ID:         cs.svc.newID("pin"),
		BoardID:    cs.boardID,
		WorktreeID: in.WorktreeID,
		Title:      in.Title,
		X:          in.X,
		Y:          in.Y,
		Width:      in.Width,
		Height:     in.Height,
	}
	var zones []canvas.Object
	previous := ""
	cs.mu.Lock()
	for _, obj := range cs.state.Objects() {
		switch {
		case obj.Kind == canvas.KindZone:
			zones = append(zones, obj)
		case obj.Kind == canvas.KindPinned && obj.Pinned.EntityID == in.WorktreeID:
			previous = cs.previousZone(obj.ID, obj.ParentID)
		}
	}
	cs.mu.Unlock()
	zone := canvas.FindZoneAtPosition(card.Box(abs).Center(), zones)
	if zone != nil {
		rel := geom.StoragePosition(abs, &geom.Parent{ID: zone.ID, Abs: zone.Position})
		record.X, record.Y = rel.X, rel.Y
		zoneID := zone.ID
		record.ZoneID = &zoneID
		card.ParentID = zone.ID
		card.Position = rel
	}

	created, err := cs.svc.store.CreatePinned(ctx, record)
	if err != nil {
		return DropResult{}, err
	}
	card.ID = created.ID

	cs.mu.Lock()
	cs.placements[card.ID] = placement{zoneID: card.ParentID, committed: true, after: cs.loads}
	cs.mu.Unlock()
	outcome := cs.engine.Evaluate(trigger.BoardInfo{ID: cs.boardID, Name: cs.boardName}, canvas.Drop{
		Object:           card,
		Mode:             canvas.GestureMove,
		Abs:              abs,
		Center:           card.Box(abs).Center(),
		PreviousParentID: previous,
		Parent:           zone,
	})

	cs.svc.announce(session.Change{BoardID: cs.boardID, Categories: categories(canvas.KindPinned), Origin: cs.id})
	return DropResult{
		SessionView: cs.view(),
		ParentID:    card.ParentID,
		Phase:       outcome.Phase,
		Fired:       outcome.Fired,
		Choice:      outcome.Choice,
	}, nil
}

// removeObject deletes a zone, note or comment, or unpins an entity. The
// object disappears locally at once and stays hidden from snapshots that
// predate the delete.
func (cs *canvasSession) removeObject(ctx context.Context, id string) (SessionView, error) {
	var removed canvas.Object
	_, err := cs.mutate(func() error {
		obj, ok := cs.state.Object(id)
		if !ok {
			return fmt.Errorf("%w: %s", canvas.ErrUnknownObject, id)
		}
		if obj.Kind == canvas.KindCursor {
			return fmt.Errorf("%w: cursors cannot be removed", canvas.ErrInvalidKind)
		}
		removed, _ = cs.state.Remove(id)
		for cardID, p := range cs.placements {
			if cardID == id || p.zoneID == id {
				delete(cs.placements, cardID)
			}
		}
		return nil
	})
	if err != nil {
		return SessionView{}, err
	}
	cs.resizer.Forget(id)

	kinds := []canvas.Kind{removed.Kind}
	switch removed.Kind {
	case canvas.KindZone:
		err = cs.svc.store.DeleteZone(ctx, cs.boardID, id)
		kinds = append(kinds, canvas.KindPinned, canvas.KindComment)
	case canvas.KindNote:
		err = cs.svc.store.RemoveObject(ctx, cs.boardID, id)
	case canvas.KindPinned:
		err = cs.svc.store.UnpinEntity(ctx, cs.boardID, id)
		kinds = append(kinds, canvas.KindComment)
	case canvas.KindComment:
		err = cs.svc.store.DeleteComment(ctx, cs.boardID, id)
	}
	if err != nil {
		// The object comes back with the first snapshot after the grace period.
		cs.log.WithError(err).WithField("object_id", id).Warn("app: remove failed")
		return SessionView{}, err
	}
	if removed.Kind != canvas.KindPinned {
		cs.svc.unindex(id)
	}
	cs.svc.announce(session.Change{BoardID: cs.boardID, Categories: categories(kinds...), Origin: cs.id})
	return cs.view(), nil
}

// setZoneTrigger replaces a zone's trigger; nil clears it.
func (cs *canvasSession) setZoneTrigger(ctx context.Context, zoneID string, t *canvas.Trigger) (SessionView, error) {
	if err := validateTrigger(t); err != nil {
		return SessionView{}, err
	}
	board, err := cs.svc.store.GetBoard(ctx, cs.boardID)
	if err != nil {
		return SessionView{}, err
	}
	obj, ok := board.Objects[zoneID]
	if !ok {
		return SessionView{}, fmt.Errorf("%w: %s", canvas.ErrUnknownObject, zoneID)
	}
	if obj.Type != store.ObjectTypeZone {
		return SessionView{}, fmt.Errorf("%w: %s is not a zone", canvas.ErrInvalidKind, zoneID)
	}
	obj.Trigger = triggerToStore(t)
	if err := cs.svc.store.UpsertObject(ctx, cs.boardID, zoneID, obj); err != nil {
		return SessionView{}, err
	}
	cs.log.WithField("zone_id", zoneID).Info("app: zone trigger updated")
	cs.svc.announce(session.Change{BoardID: cs.boardID, Categories: categories(canvas.KindZone), Origin: cs.id})
	return cs.view(), nil
}

func (cs *canvasSession) confirmChoice(ctx context.Context, choiceID string, choice trigger.Choice) (string, SessionView, error) {
	sessionID, err := cs.engine.Confirm(ctx, choiceID, choice)
	cs.broker.notify()
	if err != nil {
		return "", SessionView{}, err
	}
	return sessionID, cs.view(), nil
}

func (cs *canvasSession) cancelChoice(choiceID string) (SessionView, error) {
	if err := cs.engine.Cancel(choiceID); err != nil {
		return SessionView{}, err
	}
	cs.broker.notify()
	return cs.view(), nil
}

func (cs *canvasSession) moveCursor(ctx context.Context, pos geom.Point) error {
	if cs.svc.cursors == nil {
		return nil
	}
	if !pos.Finite() {
		return validationError("position must be finite")
	}
	err := cs.svc.cursors.SaveCursor(ctx, cs.boardID, session.Cursor{
		SessionID: cs.id,
		UserID:    cs.viewer.UserID,
		Name:      cs.viewer.Name,
		X:         pos.X,
		Y:         pos.Y,
		UpdatedAt: cs.svc.clock.Now().UTC(),
	})
	if err != nil {
		return err
	}
	cs.svc.announce(session.Change{BoardID: cs.boardID, Categories: categories(canvas.KindCursor), Origin: cs.id})
	return nil
}
