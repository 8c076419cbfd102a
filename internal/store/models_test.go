package store

import (
	"errors"
	"testing"
)

func TestCommentPositionValidate(t *testing.T) {
	cases := []struct {
		name string
		pos  CommentPosition
		ok   bool
	}{
		{"absolute", CommentPosition{Absolute: &Point{X: 1, Y: 2}}, true},
		{"relative zone", CommentPosition{Relative: &RelativePosition{ParentID: "z1", ParentType: "zone"}}, true},
		{"relative pinned", CommentPosition{Relative: &RelativePosition{ParentID: "p1", ParentType: "pinned"}}, true},
		{"neither", CommentPosition{}, false},
		{"both", CommentPosition{Absolute: &Point{}, Relative: &RelativePosition{ParentID: "z1", ParentType: "zone"}}, false},
		{"missing parent", CommentPosition{Relative: &RelativePosition{ParentType: "zone"}}, false},
		{"bad parent type", CommentPosition{Relative: &RelativePosition{ParentID: "n1", ParentType: "note"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.pos.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidPosition) {
				t.Fatalf("expected ErrInvalidPosition, got %v", err)
			}
		})
	}
}
