package canvas

import (
	"reflect"
	"testing"
)

func TestApplyZOrderCategoryPrecedence(t *testing.T) {
	got := ids(ApplyZOrder(
		[]Object{zone("z1", 0, 0, 1, 1)},
		[]Object{pinned("p1", "", 0, 0)},
		[]Object{note("n1", 0, 0)},
		[]Object{comment("c1", "", "", 0, 0)},
		[]Object{cursor("u1", 0, 0)},
	))
	want := []string{"z1", "p1", "n1", "c1", "u1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i, kind := range Kinds {
		if Layer(kind) != i {
			t.Fatalf("expected layer %d for %s, got %d", i, kind, Layer(kind))
		}
	}
}

func TestNotesRefreshKeepsLayering(t *testing.T) {
	s, _, _ := newTestState(t)
	s.ApplyRemoteSnapshot(Snapshot{Objects: []Object{
		comment("c1", "", "", 5, 5),
		note("n1", 0, 0),
		zone("z1", 0, 0, 500, 500),
		pinned("p1", "z1", 10, 10),
		zone("z2", 600, 0, 100, 100),
		comment("c2", "z1", KindZone, 1, 1),
	}})
	before := ids(s.Objects())

	s.ApplyRemoteSnapshot(Snapshot{
		Categories: []Kind{KindNote},
		Objects:    []Object{note("n2", 1, 1), note("n1", 0, 0)},
	})
	after := ids(s.Objects())

	want := []string{"z1", "z2", "p1", "n2", "n1", "c1", "c2"}
	if !reflect.DeepEqual(after, want) {
		t.Fatalf("expected %v, got %v (before %v)", want, after, before)
	}
}
