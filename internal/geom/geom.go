// Package geom converts board positions between absolute canvas space and
// parent-relative space.
package geom

import "math"

// Point is a position on the board. Whether it is absolute or relative to a
// parent depends on where it is stored.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p offset by q.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Sub returns the offset from q to p.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Finite reports whether both coordinates are real numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Near reports whether p and q differ by at most tol on each axis.
func (p Point) Near(q Point, tol float64) bool {
	return math.Abs(p.X-q.X) <= tol && math.Abs(p.Y-q.Y) <= tol
}

// Rect is an axis-aligned box in absolute canvas space.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether p lies inside r. Edges count as inside.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width &&
		p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// Origin returns the top-left corner of r.
func (r Rect) Origin() Point {
	return Point{X: r.X, Y: r.Y}
}

// Center returns the midpoint of r.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Parent identifies the object a position is pinned to, together with the
// parent's current absolute position.
type Parent struct {
	ID  string
	Abs Point
}

// ToAbsolute converts a parent-relative position into canvas space.
func ToAbsolute(rel, parentAbs Point) Point {
	return rel.Add(parentAbs)
}

// ToRelative converts a canvas-space position into one relative to parentAbs.
func ToRelative(abs, parentAbs Point) Point {
	return abs.Sub(parentAbs)
}

// StoragePosition returns the position to persist for an object whose
// absolute position is abs. A nil parent leaves abs unchanged.
func StoragePosition(abs Point, parent *Parent) Point {
	if parent == nil {
		return abs
	}
	return ToRelative(abs, parent.Abs)
}
