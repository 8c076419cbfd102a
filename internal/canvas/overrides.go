package canvas

import (
	"time"

	"boardrelay/api/internal/geom"
)

// OverrideStore holds the absolute positions the local viewer has set but the
// store has not echoed back yet. Entries never expire on their own; they are
// cleared when a snapshot converges on them or a write commits.
type OverrideStore struct {
	positions map[string]geom.Point
}

func NewOverrideStore() *OverrideStore {
	return &OverrideStore{positions: make(map[string]geom.Point)}
}

func (s *OverrideStore) Set(id string, abs geom.Point) {
	s.positions[id] = abs
}

func (s *OverrideStore) Get(id string) (geom.Point, bool) {
	p, ok := s.positions[id]
	return p, ok
}

func (s *OverrideStore) Clear(id string) {
	delete(s.positions, id)
}

func (s *OverrideStore) Len() int {
	return len(s.positions)
}

// DeletionMarkers remembers objects removed locally so a snapshot taken
// before the removal reached the store cannot bring them back. A marker lasts
// until a snapshot without the object confirms the removal, or the grace
// period runs out.
type DeletionMarkers struct {
	grace time.Duration
	marks map[string]deletionMark
}

type deletionMark struct {
	kind Kind
	at   time.Time
}

func NewDeletionMarkers(grace time.Duration) *DeletionMarkers {
	return &DeletionMarkers{grace: grace, marks: make(map[string]deletionMark)}
}

func (d *DeletionMarkers) Mark(id string, kind Kind, now time.Time) {
	d.marks[id] = deletionMark{kind: kind, at: now}
}

// Active reports whether id is still suppressed at now. Expired markers are
// dropped.
func (d *DeletionMarkers) Active(id string, now time.Time) bool {
	mark, ok := d.marks[id]
	if !ok {
		return false
	}
	if now.Sub(mark.at) >= d.grace {
		delete(d.marks, id)
		return false
	}
	return true
}

func (d *DeletionMarkers) Confirm(id string) {
	delete(d.marks, id)
}

// confirmMissing confirms every marker of kind whose id is absent from present.
func (d *DeletionMarkers) confirmMissing(kind Kind, present map[string]bool) {
	for id, mark := range d.marks {
		if mark.kind == kind && !present[id] {
			delete(d.marks, id)
		}
	}
}

func (d *DeletionMarkers) Len() int {
	return len(d.marks)
}
