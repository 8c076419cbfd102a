// Package canvas holds the client-side view of a board: the objects a viewer
// sees, the positions they have set locally but the store has not confirmed
// yet, and the rules that merge the two whenever a fresh snapshot arrives.
package canvas

import (
	"errors"
	"fmt"

	"boardrelay/api/internal/geom"
)

// Kind discriminates the object variants that can live on a board.
type Kind string

const (
	KindZone    Kind = "zone"
	KindPinned  Kind = "pinned"
	KindNote    Kind = "note"
	KindComment Kind = "comment"
	KindCursor  Kind = "cursor"
)

// Kinds lists every variant back to front.
var Kinds = []Kind{KindZone, KindPinned, KindNote, KindComment, KindCursor}

var (
	ErrUnknownObject  = errors.New("unknown canvas object")
	ErrInvalidKind    = errors.New("invalid canvas object kind")
	ErrGestureActive  = errors.New("gesture already in progress")
	ErrNoGesture      = errors.New("no gesture in progress")
	ErrObjectLocked   = errors.New("canvas object is locked")
	ErrInvalidPayload = errors.New("canvas object payload does not match kind")
)

func (k Kind) Valid() bool {
	switch k {
	case KindZone, KindPinned, KindNote, KindComment, KindCursor:
		return true
	}
	return false
}

// Default card size used for collision when a pinned entity has no stored size.
const (
	DefaultPinnedWidth  = 500
	DefaultPinnedHeight = 200
)

// TriggerBehavior selects what happens when an entity is dropped into a zone.
type TriggerBehavior string

const (
	TriggerAlwaysNew  TriggerBehavior = "always_new"
	TriggerShowPicker TriggerBehavior = "show_picker"
)

type Trigger struct {
	Behavior TriggerBehavior `json:"behavior"`
	Template string          `json:"template"`
	Agent    string          `json:"agent,omitempty"`
}

type Zone struct {
	Label           string   `json:"label"`
	BorderColor     string   `json:"borderColor,omitempty"`
	BackgroundColor string   `json:"backgroundColor,omitempty"`
	Locked          bool     `json:"locked,omitempty"`
	Trigger         *Trigger `json:"trigger,omitempty"`
}

type Note struct {
	Content string `json:"content"`
}

// Pinned is a worktree card placed on the board. Its zone, when it has one,
// is the object's ParentID.
type Pinned struct {
	EntityID string `json:"entityId"`
	Title    string `json:"title,omitempty"`
}

// Comment is a comment pin. When the object has a ParentID, ParentKind says
// whether the parent is a zone or a pinned entity and Position is the offset
// from that parent.
type Comment struct {
	Body       string `json:"body"`
	Author     string `json:"author,omitempty"`
	ParentKind Kind   `json:"parentKind,omitempty"`
	WorktreeID string `json:"worktreeId,omitempty"`
}

type Cursor struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
}

// Object is one item on the board. Exactly one of the variant payloads is set
// and it matches Kind. If ParentID is set, Position is relative to the
// parent's absolute position; otherwise it is absolute.
type Object struct {
	ID       string     `json:"id"`
	Kind     Kind       `json:"kind"`
	Position geom.Point `json:"position"`
	ParentID string     `json:"parentId,omitempty"`
	Width    float64    `json:"width,omitempty"`
	Height   float64    `json:"height,omitempty"`

	Zone    *Zone    `json:"zone,omitempty"`
	Note    *Note    `json:"note,omitempty"`
	Pinned  *Pinned  `json:"pinned,omitempty"`
	Comment *Comment `json:"comment,omitempty"`
	Cursor  *Cursor  `json:"cursor,omitempty"`
}

// Validate checks that the payload matches the kind.
func (o Object) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidPayload)
	}
	var ok bool
	switch o.Kind {
	case KindZone:
		ok = o.Zone != nil && o.ParentID == ""
	case KindPinned:
		ok = o.Pinned != nil
	case KindNote:
		ok = o.Note != nil && o.ParentID == ""
	case KindComment:
		ok = o.Comment != nil && (o.ParentID == "" || o.Comment.ParentKind == KindZone || o.Comment.ParentKind == KindPinned)
	case KindCursor:
		ok = o.Cursor != nil && o.ParentID == ""
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, o.Kind)
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrInvalidPayload, o.Kind, o.ID)
	}
	return nil
}

// Size returns the object's box size, falling back to the card defaults for
// pinned entities that carry none.
func (o Object) Size() (float64, float64) {
	if o.Kind == KindPinned && (o.Width <= 0 || o.Height <= 0) {
		return DefaultPinnedWidth, DefaultPinnedHeight
	}
	return o.Width, o.Height
}

// Box returns the object's bounding box given its absolute position.
func (o Object) Box(abs geom.Point) geom.Rect {
	w, h := o.Size()
	return geom.Rect{X: abs.X, Y: abs.Y, Width: w, Height: h}
}

// TriggerConfig returns the zone's trigger, or nil for objects that are not
// zones or have none configured.
func (o Object) TriggerConfig() *Trigger {
	if o.Kind != KindZone || o.Zone == nil {
		return nil
	}
	return o.Zone.Trigger
}
