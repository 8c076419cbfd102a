package canvas

import "boardrelay/api/internal/geom"

// Intersection reports the zone and pinned entity, if any, under a point.
type Intersection struct {
	Zone   *Object
	Pinned *Object
}

// Target returns the object something dropped at the point should be pinned
// to. A pinned entity wins over the zone it sits in: dropping onto a card
// pins to the card.
func (i Intersection) Target() *Object {
	if i.Pinned != nil {
		return i.Pinned
	}
	return i.Zone
}

// FindIntersectingObjects tests point against the absolute boxes of every
// zone and pinned entity in objects. When several of one kind overlap, the
// one drawn last (top-most) is reported.
func FindIntersectingObjects(point geom.Point, objects []Object) Intersection {
	r := newResolver(objects)
	var hit Intersection
	for i := len(objects) - 1; i >= 0; i-- {
		obj := objects[i]
		if obj.Kind != KindZone && obj.Kind != KindPinned {
			continue
		}
		if (obj.Kind == KindZone && hit.Zone != nil) || (obj.Kind == KindPinned && hit.Pinned != nil) {
			continue
		}
		abs, ok := r.absoluteOf(obj)
		if !ok || !obj.Box(abs).Contains(point) {
			continue
		}
		found := obj
		if obj.Kind == KindZone {
			hit.Zone = &found
		} else {
			hit.Pinned = &found
		}
	}
	return hit
}

// FindZoneAtPosition returns the top-most zone containing center, or nil.
// Zones are always positioned in canvas space.
func FindZoneAtPosition(center geom.Point, zones []Object) *Object {
	for i := len(zones) - 1; i >= 0; i-- {
		zone := zones[i]
		if zone.Kind != KindZone {
			continue
		}
		if zone.Box(zone.Position).Contains(center) {
			return &zone
		}
	}
	return nil
}
