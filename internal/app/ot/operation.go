/*
Package ot implements the operational transform engine for plain-text documents.

Everything in this package is pure and stateless: operations are immutable
values, Apply allocates a new document string, and Transform/Compose return new
operation values. Rooms, users, and networking live elsewhere.
*/
package ot

import "fmt"

// Type identifies the kind of edit an Operation performs.
type Type string

const (
	// Insert splices Content into the document at Position.
	Insert Type = "insert"

	// Delete removes Length characters starting at Position.
	Delete Type = "delete"

	// Replace removes Length characters at Position, then inserts Content there.
	Replace Type = "replace"
)

// Operation is a single edit against a document. Position is the 0-based
// character offset in the document state the operation was issued against.
// Sequence is assigned by the server at acceptance time and is the sole
// ordering key within a room; BaseSequence is the last sequence the submitting
// client had observed when it issued the operation.
type Operation struct {
	Type         Type   `json:"type"`
	Position     int    `json:"position"`
	Content      string `json:"content,omitempty"`
	Length       int    `json:"length,omitempty"`
	AuthorID     string `json:"authorId,omitempty"`
	Sequence     int64  `json:"sequence,omitempty"`
	BaseSequence int64  `json:"baseSequence,omitempty"`
}

// Validate checks the structural shape of an operation: a known type, content
// present for insert/replace, and a length for delete/replace. Range checks
// are not validation concerns; out-of-range values are clamped at apply time.
func Validate(op Operation) error {
	switch op.Type {
	case Insert:
		if op.Content == "" {
			return fmt.Errorf("insert operation requires content")
		}
	case Delete:
		if op.Length <= 0 {
			return fmt.Errorf("delete operation requires a positive length")
		}
	case Replace:
		if op.Content == "" {
			return fmt.Errorf("replace operation requires content")
		}
		if op.Length <= 0 {
			return fmt.Errorf("replace operation requires a positive length")
		}
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
	return nil
}

// Clamp forces the operation's position and length into valid bounds for a
// document of docLen characters. Malformed coordinates are corrected, never
// rejected, so a transformed operation can always be applied.
func Clamp(op Operation, docLen int) Operation {
	if op.Position < 0 {
		op.Position = 0
	}
	if op.Position > docLen {
		op.Position = docLen
	}
	if op.Length < 0 {
		op.Length = 0
	}
	if op.Position+op.Length > docLen {
		op.Length = docLen - op.Position
	}
	return op
}

// Apply returns the document produced by applying op to doc. The input string
// is never mutated. Coordinates are clamped into bounds first; the only error
// is an unknown operation type.
func Apply(doc string, op Operation) (string, error) {
	op = Clamp(op, len(doc))

	switch op.Type {
	case Insert:
		return doc[:op.Position] + op.Content + doc[op.Position:], nil
	case Delete:
		return doc[:op.Position] + doc[op.Position+op.Length:], nil
	case Replace:
		return doc[:op.Position] + op.Content + doc[op.Position+op.Length:], nil
	default:
		return "", fmt.Errorf("cannot apply operation of unknown type %q", op.Type)
	}
}

// end returns the exclusive end offset of the range a delete/replace covers.
func end(op Operation) int {
	return op.Position + op.Length
}
