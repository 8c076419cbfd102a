package canvas

import "boardrelay/api/internal/geom"

// resolver computes absolute positions by walking parent links. A missing
// parent or a cycle makes the object unresolvable.
type resolver struct {
	byID     map[string]Object
	abs      map[string]geom.Point
	visiting map[string]bool
}

func newResolver(objects []Object) *resolver {
	byID := make(map[string]Object, len(objects))
	for _, obj := range objects {
		byID[obj.ID] = obj
	}
	return &resolver{
		byID:     byID,
		abs:      make(map[string]geom.Point, len(objects)),
		visiting: make(map[string]bool),
	}
}

func (r *resolver) put(obj Object) {
	r.byID[obj.ID] = obj
	r.abs = make(map[string]geom.Point, len(r.byID))
}

func (r *resolver) drop(id string) {
	delete(r.byID, id)
	r.abs = make(map[string]geom.Point, len(r.byID))
}

func (r *resolver) lookup(id string) (Object, bool) {
	obj, ok := r.byID[id]
	return obj, ok
}

// absoluteOf returns the absolute position of obj, which need not be indexed.
func (r *resolver) absoluteOf(obj Object) (geom.Point, bool) {
	if obj.ParentID == "" {
		return obj.Position, true
	}
	parentAbs, ok := r.absolute(obj.ParentID)
	if !ok {
		return geom.Point{}, false
	}
	return geom.ToAbsolute(obj.Position, parentAbs), true
}

func (r *resolver) absolute(id string) (geom.Point, bool) {
	if p, ok := r.abs[id]; ok {
		return p, true
	}
	obj, ok := r.byID[id]
	if !ok || r.visiting[id] {
		return geom.Point{}, false
	}
	r.visiting[id] = true
	p, ok := r.absoluteOf(obj)
	delete(r.visiting, id)
	if ok {
		r.abs[id] = p
	}
	return p, ok
}

// AbsolutePositions resolves every object in objects. Objects whose parent
// chain is broken are left out.
func AbsolutePositions(objects []Object) map[string]geom.Point {
	r := newResolver(objects)
	out := make(map[string]geom.Point, len(objects))
	for _, obj := range objects {
		if p, ok := r.absolute(obj.ID); ok {
			out[obj.ID] = p
		}
	}
	return out
}
