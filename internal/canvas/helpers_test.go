package canvas

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"boardrelay/api/internal/clock"
	"boardrelay/api/internal/geom"
)

func zone(id string, x, y, w, h float64) Object {
	return Object{ID: id, Kind: KindZone, Position: geom.Point{X: x, Y: y}, Width: w, Height: h, Zone: &Zone{Label: id}}
}

func pinned(id, parent string, x, y float64) Object {
	return Object{ID: id, Kind: KindPinned, Position: geom.Point{X: x, Y: y}, ParentID: parent, Width: 100, Height: 50, Pinned: &Pinned{EntityID: "wt-" + id}}
}

func note(id string, x, y float64) Object {
	return Object{ID: id, Kind: KindNote, Position: geom.Point{X: x, Y: y}, Width: 80, Height: 80, Note: &Note{Content: id}}
}

func comment(id, parent string, parentKind Kind, x, y float64) Object {
	return Object{ID: id, Kind: KindComment, Position: geom.Point{X: x, Y: y}, ParentID: parent, Comment: &Comment{Body: id, ParentKind: parentKind}}
}

func cursor(id string, x, y float64) Object {
	return Object{ID: id, Kind: KindCursor, Position: geom.Point{X: x, Y: y}, Cursor: &Cursor{UserID: id}}
}

func newTestState(t *testing.T) (*State, *clock.Fake, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	c := clock.NewFake(time.Unix(1_700_000_000, 0))
	return NewState(Options{Clock: c, Logger: logger}), c, hook
}

func ids(objects []Object) []string {
	out := make([]string, 0, len(objects))
	for _, obj := range objects {
		out = append(out, obj.ID)
	}
	return out
}

func mustObject(t *testing.T, s *State, id string) Object {
	t.Helper()
	obj, ok := s.Object(id)
	if !ok {
		t.Fatalf("object %s not displayed", id)
	}
	return obj
}
