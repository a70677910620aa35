package ot

// Transform derives the version of a that applies to a document after b has
// already been applied, assuming both were issued against the same prior
// state. It is the bottom side of the OT diamond and must commute: applying
// b then Transform(a, b) yields the same document as a then Transform(b, a).
// Replace operations transform as a delete immediately followed by an insert
// at the same position. The result is always applicable: coordinates are
// adjusted, never rejected.
func Transform(a, b Operation) Operation {
	switch a.Type {
	case Insert:
		switch b.Type {
		case Insert:
			return transformInsertInsert(a, b)
		case Delete:
			return transformInsertDelete(a, b)
		case Replace:
			return transformInsertReplace(a, b)
		}
	case Delete:
		switch b.Type {
		case Insert:
			return transformDeleteInsert(a, b)
		case Delete:
			return transformDeleteDelete(a, b)
		case Replace:
			return transformDeleteReplace(a, b)
		}
	case Replace:
		return transformReplace(a, b)
	}

	// Unknown type pairs pass through untouched; Apply rejects them later.
	return a
}

// transformInsertInsert shifts a right when b inserted at a smaller position.
// On an exact position tie the lexicographically smaller author id keeps the
// left position, in both transform directions, so replicas converge.
func transformInsertInsert(a, b Operation) Operation {
	if b.Position < a.Position || (b.Position == a.Position && b.AuthorID < a.AuthorID) {
		a.Position += len(b.Content)
	}
	return a
}

// transformInsertDelete adjusts an insert for a concurrent delete. An insert
// at or before the deleted range is unaffected; past it, it shifts left. An
// insert strictly inside the range collapses to the delete's start and its
// content is discarded: the other replica's delete cannot split around the
// inserted text, so dropping it is the only single-operation outcome both
// sides can agree on.
func transformInsertDelete(a, b Operation) Operation {
	switch {
	case a.Position <= b.Position:
		return a
	case a.Position >= end(b):
		a.Position -= b.Length
		return a
	default:
		a.Position = b.Position
		a.Content = ""
		return a
	}
}

// transformDeleteInsert adjusts a delete for a concurrent insert. An insert
// at or before the delete's start shifts it right; an insert strictly inside
// the deleted range is consumed (the delete grows to cover it, mirroring the
// content drop in transformInsertDelete); an insert past the range leaves the
// delete untouched.
func transformDeleteInsert(a, b Operation) Operation {
	switch {
	case b.Position <= a.Position:
		a.Position += len(b.Content)
	case b.Position < end(a):
		a.Length += len(b.Content)
	}
	return a
}

// transformDeleteDelete adjusts a delete for a concurrent delete. Disjoint
// ranges shift as needed; overlapping ranges shrink a by the overlapped
// amount and clamp it to the surviving range. A delete fully covered by b
// degenerates to a zero-length no-op.
func transformDeleteDelete(a, b Operation) Operation {
	aEnd, bEnd := end(a), end(b)

	switch {
	case aEnd <= b.Position:
		// a entirely before b: untouched.
		return a
	case bEnd <= a.Position:
		// a entirely after b: shift left by what b removed.
		a.Position -= b.Length
		return a
	}

	overlap := min(aEnd, bEnd) - max(a.Position, b.Position)
	a.Length -= overlap
	if a.Position >= b.Position {
		// a started inside b's range; what survives begins where b began.
		a.Position = b.Position
	}
	return a
}

// transformInsertReplace adjusts an insert for a concurrent replace. The
// replacement content is anchored to the replaced range, so an insert at the
// range start keeps the left position, an insert at or past the range end
// lands after the new content, and an insert strictly inside the range is
// discarded along with the text it targeted.
func transformInsertReplace(a, b Operation) Operation {
	switch {
	case a.Position <= b.Position:
		return a
	case a.Position >= end(b):
		a.Position += len(b.Content) - b.Length
		return a
	default:
		a.Position = b.Position
		a.Content = ""
		return a
	}
}

// transformDeleteReplace adjusts a delete for a concurrent replace. Disjoint
// ranges shift by the net size change; overlapping ranges first shrink
// against the replace's removed range, then either skip past the new content
// (when the replace started at or before the delete) or consume it (when the
// replace landed strictly inside the delete's range).
func transformDeleteReplace(a, b Operation) Operation {
	aEnd := end(a)

	switch {
	case aEnd <= b.Position:
		return a
	case a.Position >= end(b):
		a.Position += len(b.Content) - b.Length
		return a
	}

	d := transformDeleteDelete(a, deletePart(b))
	if b.Position <= a.Position {
		d.Position += len(b.Content)
	} else if b.Position < aEnd {
		d.Length += len(b.Content)
	}
	return d
}

// transformReplace adjusts a replace for a concurrent insert or delete by
// transforming its delete and insert halves separately and recombining; a
// concurrent replace needs its own rule (transformReplaceReplace). When
// the replaced range was fully removed concurrently the operation degrades to
// a plain insert (content survived) or a no-op (content was inside the
// removed range); when only the content was discarded it degrades to a plain
// delete of the surviving range.
func transformReplace(a, b Operation) Operation {
	if b.Type == Replace {
		return transformReplaceReplace(a, b)
	}

	d := Transform(deletePart(a), b)
	i := Transform(insertPart(a), b)

	switch {
	case d.Length == 0 && i.Content == "":
		a.Type = Delete
		a.Position = d.Position
		a.Length = 0
		a.Content = ""
	case d.Length == 0:
		a.Type = Insert
		a.Position = i.Position
		a.Length = 0
	case i.Content == "":
		a.Type = Delete
		a.Position = d.Position
		a.Length = d.Length
		a.Content = ""
	default:
		a.Position = d.Position
		a.Length = d.Length
	}
	return a
}

// transformReplaceReplace adjusts a replace for a concurrent replace. The
// original ranges decide the outcome: a replace whose start lies strictly
// inside the other's range loses its content along with the text it targeted,
// degrading to a delete of whatever survives past the other's range, while
// the other side survives and its delete half grows to also cover the loser's
// new content. When both ranges start at the same position both contents
// survive: the lexicographically smaller author id keeps the left position
// and its delete half re-covers the other's content so the replacements end
// up adjacent in tie-break order; the larger id shifts past that content and
// keeps only the part of its range the other did not remove.
func transformReplaceReplace(a, b Operation) Operation {
	switch {
	case end(a) <= b.Position:
		return a
	case a.Position >= end(b):
		a.Position += len(b.Content) - b.Length
		return a
	}

	if a.Position == b.Position {
		surviving := max(0, a.Length-b.Length)
		if a.AuthorID < b.AuthorID {
			a.Length = len(b.Content) + surviving
			a.Content += b.Content
			return a
		}
		a.Position += len(b.Content)
		a.Length = surviving
		if a.Length == 0 {
			a.Type = Insert
		}
		return a
	}

	startedInside := b.Position < a.Position

	d := transformDeleteReplace(deletePart(a), b)
	a.Position = d.Position
	a.Length = d.Length
	if startedInside {
		a.Type = Delete
		a.Content = ""
	}
	return a
}

// deletePart extracts the delete half of a replace.
func deletePart(op Operation) Operation {
	return Operation{
		Type:     Delete,
		Position: op.Position,
		Length:   op.Length,
		AuthorID: op.AuthorID,
		Sequence: op.Sequence,
	}
}

// insertPart extracts the insert half of a replace.
func insertPart(op Operation) Operation {
	return Operation{
		Type:     Insert,
		Position: op.Position,
		Content:  op.Content,
		AuthorID: op.AuthorID,
		Sequence: op.Sequence,
	}
}
