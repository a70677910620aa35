/*
Package collab contains the core logic for collaborative editing sessions.

This file defines the Room struct, the aggregate for a single session: the
authoritative document string, the append-only operation history, and the
membership and presence tables. All mutation goes through the Coordinator,
which serializes it per room under the Room's mutex.
*/
package collab

import (
	"sync"
	"time"

	"textroom/internal/app/ot"
	"textroom/internal/app/user"
	"textroom/internal/pkg/logx"

	"github.com/rs/zerolog"
)

// CursorPosition is the line/column location of a user's cursor.
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// SelectionRange is a half-open [Start, End) character range a user has selected.
type SelectionRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Presence is the ephemeral per-user editing state. Each user owns exactly
// one entry, so updates are last-write-wins with no conflict resolution.
type Presence struct {
	UserID    string          `json:"userId"`
	Cursor    *CursorPosition `json:"cursor,omitempty"`
	Selection *SelectionRange `json:"selection,omitempty"`
	LastSeen  time.Time       `json:"lastSeen"`
}

// Room represents a single collaborative editing session.
type Room struct {
	// ID is the unique identifier for the room.
	ID string

	// Name is the human-readable room title.
	Name string

	// CreatedAt records when the room was created.
	CreatedAt time.Time

	// mu serializes all mutation of the fields below. The read-transform-
	// append sequence in ApplyOperation is not atomic without it.
	mu sync.RWMutex

	// document is the single authoritative document string. It always equals
	// the seed document with every history entry applied in sequence order.
	document string

	// seed is the document content the room was created with; history replays
	// start from it.
	seed string

	// history is the append-only log of accepted, already-transformed
	// operations, in sequence order. Entries are never edited or reordered.
	history []ot.Operation

	// users maps user id to the joined participant.
	users map[string]user.User

	// presence maps user id to its ephemeral editing state.
	presence map[string]Presence

	// lastActivity is bumped on every accepted mutation; the idle sweep
	// compares against it.
	lastActivity time.Time

	// broadcaster fans out room events to subscribers.
	broadcaster *broadcaster

	// structured logger with room context.
	logger zerolog.Logger
}

// newRoom creates a Room seeded with the given document.
func newRoom(id, name, seed string) *Room {
	roomLogger := logx.Logger().With().
		Str("room_id", id).
		Logger()

	now := time.Now()

	return &Room{
		ID:           id,
		Name:         name,
		CreatedAt:    now,
		document:     seed,
		seed:         seed,
		users:        make(map[string]user.User),
		presence:     make(map[string]Presence),
		lastActivity: now,
		broadcaster:  newBroadcaster(roomLogger),
		logger:       roomLogger,
	}
}

// Document returns the current authoritative document.
func (r *Room) Document() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.document
}

// Users returns a snapshot of the current members.
func (r *Room) Users() []user.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]user.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	return users
}

// Presences returns a snapshot of the current presence entries.
func (r *Room) Presences() []Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Presence, 0, len(r.presence))
	for _, p := range r.presence {
		entries = append(entries, p)
	}
	return entries
}

// History returns a copy of the accepted operation log in sequence order.
func (r *Room) History() []ot.Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := make([]ot.Operation, len(r.history))
	copy(history, r.history)
	return history
}

// LastSequence returns the sequence number of the most recently accepted
// operation, or 0 when the room has no history yet.
func (r *Room) LastSequence() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lastSequenceLocked()
}

func (r *Room) lastSequenceLocked() int64 {
	if len(r.history) == 0 {
		return 0
	}
	return r.history[len(r.history)-1].Sequence
}

// MemberCount returns the number of joined users.
func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users)
}
