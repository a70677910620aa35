package ot

// Compose merges two same-author, adjacency-contiguous operations into one,
// so a client can coalesce a typing burst into a single submission. It reports
// false for different authors, mixed types, replaces, or non-adjacent ranges.
// Composition is an optimization only; correctness never depends on it.
func Compose(a, b Operation) (Operation, bool) {
	if a.AuthorID != b.AuthorID || a.Type != b.Type {
		return Operation{}, false
	}

	switch a.Type {
	case Insert:
		// b continues exactly where a's inserted text ends.
		if b.Position == a.Position+len(a.Content) {
			a.Content += b.Content
			return a, true
		}
	case Delete:
		// Forward deletion: b deletes at the position a left behind.
		if b.Position == a.Position {
			a.Length += b.Length
			return a, true
		}
		// Backspacing: b's range ends exactly where a began.
		if end(b) == a.Position {
			a.Position = b.Position
			a.Length += b.Length
			return a, true
		}
	}

	return Operation{}, false
}
