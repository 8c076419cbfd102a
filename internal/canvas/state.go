package canvas

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"boardrelay/api/internal/clock"
	"boardrelay/api/internal/geom"
)

const (
	// ConvergenceTolerance is how far, per axis, a snapshot may be from a
	// local override for the override to count as confirmed.
	ConvergenceTolerance = 1.0
	// DefaultDeletionGrace bounds how long a local removal suppresses the
	// object in snapshots that have not caught up.
	DefaultDeletionGrace = time.Second
)

// Snapshot is an authoritative view of some categories of a board. Only the
// kinds listed in Categories are replaced; an empty list means all of them.
type Snapshot struct {
	Categories []Kind
	Objects    []Object
}

func (s Snapshot) categories() []Kind {
	if len(s.Categories) == 0 {
		return Kinds
	}
	return s.Categories
}

// GestureMode distinguishes dragging from resizing.
type GestureMode string

const (
	GestureMove   GestureMode = "move"
	GestureResize GestureMode = "resize"
)

// Gesture is the pointer interaction currently in progress.
type Gesture struct {
	ObjectID string
	Kind     Kind
	Mode     GestureMode
	start    Object
}

// Drop describes how a gesture ended.
type Drop struct {
	Object Object
	Mode   GestureMode
	Abs    geom.Point
	Center geom.Point
	// PreviousParentID is the parent the object had when the gesture began.
	PreviousParentID string
	// Parent is the object the drop pins to, nil when it lands on bare canvas.
	Parent *Object
}

// Reparented reports whether the drop changed the object's parent.
func (d Drop) Reparented() bool {
	if d.Parent == nil {
		return d.PreviousParentID != ""
	}
	return d.Parent.ID != d.PreviousParentID
}

// State is one viewer's canvas. Every transition mutates it in place; callers
// serialise access.
type State struct {
	clock     clock.Clock
	log       logrus.FieldLogger
	remote    map[Kind][]Object
	display   map[Kind][]Object
	deferred  map[Kind]Snapshot
	pending   map[string]Object
	overrides *OverrideStore
	deletions *DeletionMarkers
	gesture   *Gesture
}

type Options struct {
	Clock         clock.Clock
	Logger        logrus.FieldLogger
	DeletionGrace time.Duration
}

func NewState(opts Options) *State {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.DeletionGrace <= 0 {
		opts.DeletionGrace = DefaultDeletionGrace
	}
	return &State{
		clock:     opts.Clock,
		log:       opts.Logger,
		remote:    make(map[Kind][]Object),
		display:   make(map[Kind][]Object),
		deferred:  make(map[Kind]Snapshot),
		pending:   make(map[string]Object),
		overrides: NewOverrideStore(),
		deletions: NewDeletionMarkers(opts.DeletionGrace),
	}
}

func (s *State) Overrides() *OverrideStore { return s.overrides }

func (s *State) Gesture() *Gesture { return s.gesture }

// Objects returns the displayed objects in z-order. Comments whose parent is
// not on the board are left out.
func (s *State) Objects() []Object {
	all := s.allDisplayed()
	r := newResolver(all)
	comments := make([]Object, 0, len(s.display[KindComment]))
	for _, c := range s.display[KindComment] {
		if c.ParentID != "" {
			if _, ok := r.absolute(c.ParentID); !ok {
				continue
			}
		}
		comments = append(comments, c)
	}
	return ApplyZOrder(
		s.display[KindZone],
		s.display[KindPinned],
		s.display[KindNote],
		comments,
		s.display[KindCursor],
	)
}

// Object returns the displayed object with id.
func (s *State) Object(id string) (Object, bool) {
	for _, kind := range Kinds {
		for _, obj := range s.display[kind] {
			if obj.ID == id {
				return obj, true
			}
		}
	}
	return Object{}, false
}

// Absolute returns the displayed absolute position of id.
func (s *State) Absolute(id string) (geom.Point, bool) {
	return newResolver(s.allDisplayed()).absolute(id)
}

func (s *State) allDisplayed() []Object {
	var all []Object
	for _, kind := range Kinds {
		all = append(all, s.display[kind]...)
	}
	return all
}

func (s *State) allRemote() []Object {
	var all []Object
	for _, kind := range Kinds {
		all = append(all, s.remote[kind]...)
	}
	return all
}

// ApplyRemoteSnapshot merges a snapshot into the displayed state. While a
// gesture is active, the gesture's category is held back and applied when the
// gesture ends.
func (s *State) ApplyRemoteSnapshot(snap Snapshot) {
	kinds := snap.categories()
	grouped := make(map[Kind][]Object, len(kinds))
	refresh := make(map[Kind]bool, len(kinds))
	for _, kind := range kinds {
		refresh[kind] = true
	}
	for _, obj := range snap.Objects {
		if !refresh[obj.Kind] {
			continue
		}
		grouped[obj.Kind] = append(grouped[obj.Kind], obj)
	}

	if s.gesture != nil && refresh[s.gesture.Kind] {
		s.deferred[s.gesture.Kind] = Snapshot{
			Categories: []Kind{s.gesture.Kind},
			Objects:    grouped[s.gesture.Kind],
		}
		delete(refresh, s.gesture.Kind)
	}
	if len(refresh) == 0 {
		return
	}

	// Remote view: incoming objects for refreshed kinds, last snapshot for
	// the rest. Absolute positions of incoming objects come from here.
	for _, kind := range Kinds {
		if !refresh[kind] {
			continue
		}
		valid := make([]Object, 0, len(grouped[kind]))
		for _, obj := range grouped[kind] {
			if err := obj.Validate(); err != nil {
				s.log.WithError(err).WithField("object_id", obj.ID).Warn("canvas: skipping malformed snapshot object")
				continue
			}
			if !obj.Position.Finite() || nonFiniteSize(obj) {
				s.log.WithFields(logrus.Fields{"object_id": obj.ID, "kind": obj.Kind}).Warn("canvas: skipping snapshot object with non-finite position")
				continue
			}
			valid = append(valid, obj)
		}
		s.remote[kind] = valid
	}
	remote := newResolver(s.allRemote())
	display := newResolver(s.allDisplayed())
	now := s.clock.Now()

	for _, kind := range Kinds {
		if !refresh[kind] {
			continue
		}
		for _, old := range s.display[kind] {
			display.drop(old.ID)
		}
		present := make(map[string]bool, len(s.remote[kind]))
		next := make([]Object, 0, len(s.remote[kind]))
		for _, obj := range s.remote[kind] {
			present[obj.ID] = true
			merged, ok := s.reconcile(obj, remote, display, now)
			if !ok {
				continue
			}
			next = append(next, merged)
			display.put(merged)
		}
		for id, obj := range s.pending {
			if obj.Kind != kind {
				continue
			}
			if present[id] {
				delete(s.pending, id)
				continue
			}
			next = append(next, obj)
			display.put(obj)
		}
		s.deletions.confirmMissing(kind, present)
		s.display[kind] = next
	}
	s.pruneOverrides()
}

// pruneOverrides drops overrides for objects that are no longer displayed so
// none can outlive its object.
func (s *State) pruneOverrides() {
	for id := range s.overrides.positions {
		if s.gesture != nil && s.gesture.ObjectID == id {
			continue
		}
		if _, ok := s.Object(id); !ok {
			s.overrides.Clear(id)
		}
	}
}

// reconcile resolves one incoming object against any local override. The
// incoming parent is always kept; an override only moves the object.
func (s *State) reconcile(obj Object, remote, display *resolver, now time.Time) (Object, bool) {
	if s.deletions.Active(obj.ID, now) {
		return Object{}, false
	}

	incomingAbs, ok := remote.absoluteOf(obj)
	if !ok {
		if obj.Kind == KindComment {
			s.log.WithFields(logrus.Fields{"object_id": obj.ID, "parent_id": obj.ParentID}).Debug("canvas: comment parent missing, not rendering")
			return Object{}, false
		}
		s.log.WithFields(logrus.Fields{"object_id": obj.ID, "parent_id": obj.ParentID}).Warn("canvas: parent missing, treating position as absolute")
		obj.ParentID = ""
		incomingAbs = obj.Position
	}

	override, has := s.overrides.Get(obj.ID)
	if !has {
		return obj, true
	}
	if override.Near(incomingAbs, ConvergenceTolerance) {
		s.overrides.Clear(obj.ID)
		return obj, true
	}

	if obj.ParentID == "" {
		obj.Position = override
		return obj, true
	}
	parentAbs, ok := display.absolute(obj.ParentID)
	if !ok {
		parentAbs, _ = remote.absolute(obj.ParentID)
	}
	obj.Position = geom.ToRelative(override, parentAbs)
	return obj, true
}

func nonFiniteSize(obj Object) bool {
	return !(geom.Point{X: obj.Width, Y: obj.Height}).Finite()
}

// BeginGesture starts a move or resize of id. Snapshots for its category are
// held back until EndGesture or CancelGesture.
func (s *State) BeginGesture(id string, mode GestureMode) error {
	if s.gesture != nil {
		return ErrGestureActive
	}
	obj, ok := s.Object(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	if obj.Kind == KindCursor {
		return fmt.Errorf("%w: cursors cannot be dragged", ErrInvalidKind)
	}
	if obj.Kind == KindZone && obj.Zone.Locked {
		return fmt.Errorf("%w: %s", ErrObjectLocked, id)
	}
	s.gesture = &Gesture{ObjectID: id, Kind: obj.Kind, Mode: mode, start: obj}
	return nil
}

// MoveGesture records abs as the gesture object's absolute position.
func (s *State) MoveGesture(abs geom.Point) error {
	if s.gesture == nil {
		return ErrNoGesture
	}
	if !abs.Finite() {
		return fmt.Errorf("%w: non-finite position", ErrInvalidPayload)
	}
	s.overrides.Set(s.gesture.ObjectID, abs)
	s.setDisplayedAbsolute(s.gesture.ObjectID, abs)
	return nil
}

// ResizeGesture records the gesture object's new size.
func (s *State) ResizeGesture(width, height float64) error {
	if s.gesture == nil {
		return ErrNoGesture
	}
	if !(geom.Point{X: width, Y: height}).Finite() || width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid size", ErrInvalidPayload)
	}
	s.updateDisplayed(s.gesture.ObjectID, func(obj *Object) {
		obj.Width = width
		obj.Height = height
	})
	return nil
}

// EndGesture finishes the gesture, works out what the object was dropped
// onto and re-applies any snapshot that arrived meanwhile.
func (s *State) EndGesture() (Drop, error) {
	g := s.gesture
	if g == nil {
		return Drop{}, ErrNoGesture
	}
	s.gesture = nil

	obj, ok := s.Object(g.ObjectID)
	if !ok {
		s.flushDeferred()
		return Drop{}, fmt.Errorf("%w: %s", ErrUnknownObject, g.ObjectID)
	}
	abs, _ := s.Absolute(obj.ID)
	drop := Drop{
		Mode:             g.Mode,
		Abs:              abs,
		Center:           obj.Box(abs).Center(),
		PreviousParentID: g.start.ParentID,
	}

	if g.Mode == GestureMove {
		drop.Parent = s.dropTarget(obj, abs, drop.Center)
		obj = s.reparent(obj, abs, drop.Parent)
	}
	drop.Object = obj

	s.flushDeferred()
	return drop, nil
}

// CancelGesture abandons the gesture and puts the object back where it was.
func (s *State) CancelGesture() error {
	g := s.gesture
	if g == nil {
		return ErrNoGesture
	}
	s.gesture = nil
	s.overrides.Clear(g.ObjectID)
	s.updateDisplayed(g.ObjectID, func(obj *Object) {
		obj.Position = g.start.Position
		obj.ParentID = g.start.ParentID
		obj.Width = g.start.Width
		obj.Height = g.start.Height
	})
	s.flushDeferred()
	return nil
}

func (s *State) flushDeferred() {
	for _, kind := range Kinds {
		snap, ok := s.deferred[kind]
		if !ok {
			continue
		}
		delete(s.deferred, kind)
		s.ApplyRemoteSnapshot(snap)
	}
}

// dropTarget picks the parent an object lands on. Pinned entities test
// their center against zones; comments pin to whatever card or zone is under
// their anchor point. Zones and notes always sit on the canvas.
func (s *State) dropTarget(obj Object, abs, center geom.Point) *Object {
	switch obj.Kind {
	case KindPinned:
		return FindZoneAtPosition(center, s.display[KindZone])
	case KindComment:
		candidates := make([]Object, 0, len(s.display[KindZone])+len(s.display[KindPinned]))
		candidates = append(candidates, s.display[KindZone]...)
		for _, p := range s.display[KindPinned] {
			if p.ID != obj.ID {
				candidates = append(candidates, p)
			}
		}
		return FindIntersectingObjects(abs, candidates).Target()
	case KindZone, KindNote, KindCursor:
		return nil
	}
	return nil
}

func (s *State) reparent(obj Object, abs geom.Point, parent *Object) Object {
	var p *geom.Parent
	if parent != nil {
		parentAbs, ok := s.Absolute(parent.ID)
		if ok {
			p = &geom.Parent{ID: parent.ID, Abs: parentAbs}
		}
	}
	s.updateDisplayed(obj.ID, func(o *Object) {
		o.Position = geom.StoragePosition(abs, p)
		o.ParentID = ""
		if p != nil {
			o.ParentID = p.ID
		}
		if o.Kind == KindComment {
			o.Comment.ParentKind = ""
			if p != nil {
				o.Comment.ParentKind = parent.Kind
			}
		}
	})
	updated, _ := s.Object(obj.ID)
	return updated
}

func (s *State) setDisplayedAbsolute(id string, abs geom.Point) {
	obj, ok := s.Object(id)
	if !ok {
		return
	}
	pos := abs
	if obj.ParentID != "" {
		if parentAbs, ok := s.Absolute(obj.ParentID); ok {
			pos = geom.ToRelative(abs, parentAbs)
		}
	}
	s.updateDisplayed(id, func(o *Object) { o.Position = pos })
}

func (s *State) updateDisplayed(id string, fn func(*Object)) {
	for _, kind := range Kinds {
		list := s.display[kind]
		for i := range list {
			if list[i].ID == id {
				if list[i].Comment != nil {
					c := *list[i].Comment
					list[i].Comment = &c
				}
				fn(&list[i])
				if _, ok := s.pending[id]; ok {
					s.pending[id] = list[i]
				}
				return
			}
		}
	}
}

// Insert adds an object optimistically, before the store has it. It stays
// displayed across snapshots until one contains it or Rollback is called.
func (s *State) Insert(obj Object) error {
	if err := obj.Validate(); err != nil {
		return err
	}
	if _, exists := s.Object(obj.ID); exists {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalidPayload, obj.ID)
	}
	s.pending[obj.ID] = obj
	s.display[obj.Kind] = append(s.display[obj.Kind], obj)
	return nil
}

// Rollback removes an optimistically inserted object whose creation failed.
func (s *State) Rollback(id string) {
	delete(s.pending, id)
	s.overrides.Clear(id)
	for _, kind := range Kinds {
		s.display[kind] = without(s.display[kind], id)
	}
}

// Remove deletes id locally and suppresses it in stale snapshots. Pinned
// entities in a removed zone fall back to canvas coordinates.
func (s *State) Remove(id string) (Object, error) {
	obj, ok := s.Object(id)
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	if s.gesture != nil && s.gesture.ObjectID == id {
		s.gesture = nil
		s.flushDeferred()
	}
	if obj.Kind == KindZone {
		zoneAbs := obj.Position
		pinned := s.display[KindPinned]
		for i := range pinned {
			if pinned[i].ParentID == id {
				pinned[i].Position = geom.ToAbsolute(pinned[i].Position, zoneAbs)
				pinned[i].ParentID = ""
			}
		}
	}
	s.deletions.Mark(id, obj.Kind, s.clock.Now())
	delete(s.pending, id)
	s.overrides.Clear(id)
	s.display[obj.Kind] = without(s.display[obj.Kind], id)
	s.remote[obj.Kind] = without(s.remote[obj.Kind], id)
	return obj, nil
}

// Write is a position that reached the store, in storage coordinates:
// relative to ParentID when it is set.
type Write struct {
	ID       string
	ParentID string
	Position geom.Point
}

// ConfirmWrite clears the overrides the committed writes caught up with. An
// override that has moved on since the write was taken is kept, as is the
// override of the object under an active gesture.
func (s *State) ConfirmWrite(writes ...Write) {
	for _, w := range writes {
		if s.gesture != nil && s.gesture.ObjectID == w.ID {
			continue
		}
		override, ok := s.overrides.Get(w.ID)
		if !ok {
			continue
		}
		written := w.Position
		if w.ParentID != "" {
			parentAbs, ok := s.Absolute(w.ParentID)
			if !ok {
				continue
			}
			written = geom.ToAbsolute(w.Position, parentAbs)
		}
		if override.Near(written, ConvergenceTolerance) {
			s.overrides.Clear(w.ID)
		}
	}
}

func without(list []Object, id string) []Object {
	out := list[:0:0]
	for _, obj := range list {
		if obj.ID != id {
			out = append(out, obj)
		}
	}
	return out
}
