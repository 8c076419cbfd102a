package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidPosition = errors.New("comment position must be exactly one of absolute or relative")
)

type Board struct {
	ID        string
	Name      string
	Objects   map[string]BoardObject
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BoardObject is a zone or note held in boards.objects, keyed by object id.
type BoardObject struct {
	Type            string       `json:"type"`
	X               float64      `json:"x"`
	Y               float64      `json:"y"`
	Width           float64      `json:"width,omitempty"`
	Height          float64      `json:"height,omitempty"`
	Label           string       `json:"label,omitempty"`
	BorderColor     string       `json:"borderColor,omitempty"`
	BackgroundColor string       `json:"backgroundColor,omitempty"`
	Locked          bool         `json:"locked,omitempty"`
	Trigger         *ZoneTrigger `json:"trigger,omitempty"`
	Content         string       `json:"content,omitempty"`
	// CreatedAt orders objects of one type back to front.
	CreatedAt time.Time `json:"createdAt"`
}

const (
	ObjectTypeZone = "zone"
	ObjectTypeNote = "note"
)

type ZoneTrigger struct {
	Behavior string `json:"behavior"`
	Template string `json:"template"`
	Agent    string `json:"agent,omitempty"`
}

// ObjectPatch is merged into an existing board object. Nil fields are left
// untouched.
type ObjectPatch struct {
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

// PinnedEntity is a worktree card's position record on a board. When ZoneID
// is set, X and Y are relative to the zone.
type PinnedEntity struct {
	ID         string
	BoardID    string
	WorktreeID string
	Title      string
	X          float64
	Y          float64
	Width      *float64
	Height     *float64
	ZoneID     *string
	UpdatedAt  time.Time
}

// PinnedPatch updates a pinned entity. Nil fields are left untouched.
type PinnedPatch struct {
	X      *float64
	Y      *float64
	Width  *float64
	Height *float64
	// ZoneID, when SetZone is true, replaces the zone assignment; nil clears it.
	SetZone bool
	ZoneID  *string
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type RelativePosition struct {
	ParentID   string  `json:"parent_id"`
	ParentType string  `json:"parent_type"`
	OffsetX    float64 `json:"offset_x"`
	OffsetY    float64 `json:"offset_y"`
}

// CommentPosition is exactly one of Absolute or Relative.
type CommentPosition struct {
	Absolute *Point            `json:"absolute,omitempty"`
	Relative *RelativePosition `json:"relative,omitempty"`
}

func (p CommentPosition) Validate() error {
	if (p.Absolute == nil) == (p.Relative == nil) {
		return ErrInvalidPosition
	}
	if p.Relative != nil {
		if p.Relative.ParentID == "" {
			return ErrInvalidPosition
		}
		switch p.Relative.ParentType {
		case ObjectTypeZone, "pinned":
		default:
			return ErrInvalidPosition
		}
	}
	return nil
}

type Comment struct {
	ID         string
	BoardID    string
	Body       string
	Author     string
	WorktreeID *string
	Position   CommentPosition
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
