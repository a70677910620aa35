/*
Package user contains the data structures describing editor participants.

It defines the User struct exchanged in websocket messages and the
deterministic color assignment used to render each participant consistently
across reconnects.
*/
package user

import "hash/fnv"

// palette holds the cursor/highlight colors assigned to participants.
// The entry is picked by hashing the user id, so a given user keeps the same
// color across sessions and on every replica.
var palette = [...]string{
	"#e6194b",
	"#3cb44b",
	"#ffe119",
	"#4363d8",
	"#f58231",
	"#911eb4",
	"#46f0f0",
	"#f032e6",
	"#bcf60c",
	"#fabebe",
	"#008080",
	"#e6beff",
}

// User represents the identity of an editor participant.
// Identity is validated upstream; this layer only consumes it.
type User struct {

	// ID is the opaque unique identifier for the user.
	ID string `json:"id"`

	// DisplayName is the name shown next to the user's cursor.
	DisplayName string `json:"displayName"`

	// Color is the hex color used to render the user's cursor and selection.
	// Derived from ID, never chosen randomly.
	Color string `json:"color"`
}

// ColorFor returns the palette color for the given user id. The same id
// always maps to the same color.
func ColorFor(id string) string {
	h := fnv.New32a()
	h.Write([]byte(id))
	return palette[h.Sum32()%uint32(len(palette))]
}

// New constructs a User with its color derived from id.
func New(id, displayName string) User {
	return User{
		ID:          id,
		DisplayName: displayName,
		Color:       ColorFor(id),
	}
}
