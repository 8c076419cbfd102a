package canvas

// ApplyZOrder concatenates the categories back to front: zones, pinned
// entities, notes, comments, cursors. Order within a category is kept.
func ApplyZOrder(zones, pinned, notes, comments, cursors []Object) []Object {
	out := make([]Object, 0, len(zones)+len(pinned)+len(notes)+len(comments)+len(cursors))
	out = append(out, zones...)
	out = append(out, pinned...)
	out = append(out, notes...)
	out = append(out, comments...)
	out = append(out, cursors...)
	return out
}

// Layer returns the stacking rank of a kind; higher draws on top.
func Layer(kind Kind) int {
	for i, k := range Kinds {
		if k == kind {
			return i
		}
	}
	return -1
}
