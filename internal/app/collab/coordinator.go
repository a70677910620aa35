/*
Package collab contains the core logic for collaborative editing sessions.

This file defines the Coordinator, which owns the set of rooms and is the
single entry point for room lifecycle, operation acceptance, presence updates,
and event subscription. Coordinators are plain constructible values: multiple
independent instances can coexist in tests or in sharded deployments.
*/
package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"textroom/internal/app/ot"
	"textroom/internal/app/store"
	"textroom/internal/app/user"
	"textroom/internal/pkg/errs"
	"textroom/internal/pkg/logx"

	"github.com/rs/zerolog"
)

// DefaultIdleThreshold is how long an empty room (or a silent presence entry)
// may linger before the sweep removes it.
const DefaultIdleThreshold = time.Hour

// saveTimeout bounds each snapshot write issued by the coordinator.
const saveTimeout = 10 * time.Second

// Coordinator owns and coordinates all active rooms.
type Coordinator struct {
	// rooms maps room id to its Room instance.
	rooms map[string]*Room

	// mu protects concurrent access to the rooms map. Per-room state has its
	// own lock; different rooms never contend with each other here beyond
	// table lookups.
	mu sync.RWMutex

	// store persists room snapshots on creation, destruction, and shutdown.
	store store.RoomStore

	// tap, when set, observes every published event (used by the Redis
	// relay). It runs on its own goroutine, decoupled from the accept path.
	tap Handler

	// structured logger with Coordinator context.
	logger zerolog.Logger
}

// NewCoordinator constructs a Coordinator backed by the given snapshot store.
// A nil store disables persistence.
func NewCoordinator(st store.RoomStore) *Coordinator {
	if st == nil {
		st = store.NopStore{}
	}

	return &Coordinator{
		rooms:  make(map[string]*Room),
		store:  st,
		logger: logx.Logger().With().Str("component", "Coordinator").Logger(),
	}
}

// SetEventTap registers fn to observe every event published in any room.
// Intended for cross-instance relays; call before rooms are created.
func (c *Coordinator) SetEventTap(fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tap = fn
}

// CreateRoom creates a room seeded with the given document and saves its
// initial snapshot. It fails with ErrRoomAlreadyExists when the id is taken.
func (c *Coordinator) CreateRoom(ctx context.Context, id, name, seed string) (*Room, *errs.CustomError) {
	c.mu.Lock()

	if _, ok := c.rooms[id]; ok {
		c.mu.Unlock()
		c.logger.Warn().Str("room_id", id).Msg("Attempted to create existing room.")
		return nil, errs.NewError(errs.ErrRoomAlreadyExists)
	}

	room := newRoom(id, name, seed)
	c.rooms[id] = room
	tap := c.tap
	c.mu.Unlock()

	if tap != nil {
		room.broadcaster.subscribe(tap)
	}

	c.saveSnapshot(ctx, room)

	c.logger.Info().Str("room_id", id).Str("room_name", name).Msg("Room created.")
	return room, nil
}

// RestoreRoom materializes a room from its persisted snapshot. It fails with
// ErrRoomNotFound when no snapshot exists, and ErrRoomAlreadyExists when the
// room is already live.
func (c *Coordinator) RestoreRoom(ctx context.Context, id string) (*Room, *errs.CustomError) {
	snap, err := c.store.LoadRoom(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return nil, errs.NewError(errs.ErrRoomNotFound)
		}
		logx.Error(err, "Failed to load room snapshot", "room_id", id)
		return nil, errs.NewError(errs.ErrStorageFailed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.rooms[id]; ok {
		return nil, errs.NewError(errs.ErrRoomAlreadyExists)
	}

	room := newRoom(snap.ID, snap.Name, snap.Seed)
	room.document = snap.Document
	room.history = snap.History
	room.CreatedAt = snap.CreatedAt
	c.rooms[id] = room

	if c.tap != nil {
		room.broadcaster.subscribe(c.tap)
	}

	c.logger.Info().Str("room_id", id).Int("history_len", len(snap.History)).Msg("Room restored from snapshot.")
	return room, nil
}

// GetRoom returns the live room with the given id, or nil.
func (c *Coordinator) GetRoom(id string) *Room {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.rooms[id]
}

// JoinRoom adds the user to the room and initializes their presence. Joining
// twice is idempotent: the membership record is refreshed, never duplicated.
// The join event is broadcast to current subscribers.
func (c *Coordinator) JoinRoom(roomID string, u user.User) *errs.CustomError {
	room := c.GetRoom(roomID)
	if room == nil {
		return errs.NewError(errs.ErrRoomNotFound)
	}

	if u.Color == "" {
		u.Color = user.ColorFor(u.ID)
	}

	now := time.Now()

	room.mu.Lock()
	room.users[u.ID] = u
	room.presence[u.ID] = Presence{UserID: u.ID, LastSeen: now}
	room.lastActivity = now
	room.mu.Unlock()

	room.logger.Info().
		Str("user_id", u.ID).
		Int("total_users", room.MemberCount()).
		Msg("User joined room.")

	room.broadcaster.publish(Event{
		Type:      EventJoin,
		RoomID:    roomID,
		UserID:    u.ID,
		User:      &u,
		Timestamp: now,
	})

	return nil
}

// LeaveRoom removes the user and their presence. Leaving a room the user was
// never a member of is a no-op, not an error.
func (c *Coordinator) LeaveRoom(roomID, userID string) *errs.CustomError {
	room := c.GetRoom(roomID)
	if room == nil {
		return errs.NewError(errs.ErrRoomNotFound)
	}

	now := time.Now()

	room.mu.Lock()
	_, wasMember := room.users[userID]
	delete(room.users, userID)
	delete(room.presence, userID)
	room.lastActivity = now
	room.mu.Unlock()

	if !wasMember {
		return nil
	}

	room.logger.Info().
		Str("user_id", userID).
		Int("total_users", room.MemberCount()).
		Msg("User left room.")

	room.broadcaster.publish(Event{
		Type:      EventLeave,
		RoomID:    roomID,
		UserID:    userID,
		Timestamp: now,
	})

	return nil
}

// ApplyOperation is the single write path for document edits. The incoming
// operation is validated, clamped to the bounds of the client's baseline
// document, transformed against every history entry accepted after the
// client's observed baseline (in ascending sequence order), applied
// to the document, assigned the next sequence number, appended to history,
// and broadcast in its transformed form. The whole read-transform-append
// sequence holds the room lock, so concurrent submissions to the same room
// are serialized; different rooms proceed in parallel.
func (c *Coordinator) ApplyOperation(roomID string, op ot.Operation) (ot.Operation, *errs.CustomError) {
	room := c.GetRoom(roomID)
	if room == nil {
		return ot.Operation{}, errs.NewError(errs.ErrRoomNotFound)
	}

	if err := ot.Validate(op); err != nil {
		room.logger.Warn().
			Err(err).
			Str("user_id", op.AuthorID).
			Msg("Rejected structurally invalid operation.")
		return ot.Operation{}, errs.NewError(errs.ErrInvalidOperation)
	}

	now := time.Now()

	room.mu.Lock()

	lastSeq := room.lastSequenceLocked()
	if op.BaseSequence < 0 || op.BaseSequence > lastSeq {
		room.mu.Unlock()
		room.logger.Warn().
			Int64("base_sequence", op.BaseSequence).
			Int64("last_sequence", lastSeq).
			Str("user_id", op.AuthorID).
			Msg("Rejected operation with sequence baseline ahead of history.")
		return ot.Operation{}, errs.NewError(errs.ErrInvalidOperation)
	}

	// Clamp against the document the client was editing, not the current one:
	// its length is the current length minus the net size change of every
	// operation the client had not yet observed. Clamping first keeps an
	// overlong range from swallowing concurrent edits during transformation.
	baseLen := len(room.document)
	for i := len(room.history) - 1; i >= 0 && room.history[i].Sequence > op.BaseSequence; i-- {
		h := room.history[i]
		baseLen -= len(h.Content) - h.Length
	}
	op = ot.Clamp(op, baseLen)

	// Transform against every operation the submitting client had not yet
	// observed when it issued this one.
	for _, h := range room.history {
		if h.Sequence > op.BaseSequence {
			op = ot.Transform(op, h)
		}
	}

	// History entries must match what was applied, so re-clamp before append.
	op = ot.Clamp(op, len(room.document))

	doc, err := ot.Apply(room.document, op)
	if err != nil {
		room.mu.Unlock()
		return ot.Operation{}, errs.NewError(errs.ErrInvalidOperation)
	}

	op.Sequence = lastSeq + 1
	room.document = doc
	room.history = append(room.history, op)
	room.lastActivity = now

	if p, ok := room.presence[op.AuthorID]; ok {
		p.LastSeen = now
		room.presence[op.AuthorID] = p
	}

	room.mu.Unlock()

	room.broadcaster.publish(Event{
		Type:      EventOperation,
		RoomID:    roomID,
		UserID:    op.AuthorID,
		Operation: &op,
		Timestamp: now,
	})

	return op, nil
}

// UpdatePresence overwrites the user's presence entry and broadcasts it.
// Messages for unknown rooms or non-members are logged and dropped, never
// errors: they may legitimately arrive after a concurrent destroy or leave.
func (c *Coordinator) UpdatePresence(roomID string, p Presence) {
	room := c.GetRoom(roomID)
	if room == nil {
		c.logger.Warn().
			Str("room_id", roomID).
			Str("user_id", p.UserID).
			Msg("Dropping presence update for unknown room.")
		return
	}

	now := time.Now()
	p.LastSeen = now

	room.mu.Lock()
	if _, ok := room.users[p.UserID]; !ok {
		room.mu.Unlock()
		room.logger.Warn().
			Str("user_id", p.UserID).
			Msg("Dropping presence update from non-member.")
		return
	}
	room.presence[p.UserID] = p
	room.lastActivity = now
	room.mu.Unlock()

	room.broadcaster.publish(Event{
		Type:      EventPresence,
		RoomID:    roomID,
		UserID:    p.UserID,
		Presence:  &p,
		Timestamp: now,
	})
}

// Document returns the room's current document.
func (c *Coordinator) Document(roomID string) (string, *errs.CustomError) {
	room := c.GetRoom(roomID)
	if room == nil {
		return "", errs.NewError(errs.ErrRoomNotFound)
	}
	return room.Document(), nil
}

// Users returns a snapshot of the room's members.
func (c *Coordinator) Users(roomID string) ([]user.User, *errs.CustomError) {
	room := c.GetRoom(roomID)
	if room == nil {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}
	return room.Users(), nil
}

// Presences returns a snapshot of the room's presence entries.
func (c *Coordinator) Presences(roomID string) ([]Presence, *errs.CustomError) {
	room := c.GetRoom(roomID)
	if room == nil {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}
	return room.Presences(), nil
}

// History returns a copy of the room's accepted operations in sequence order.
func (c *Coordinator) History(roomID string) ([]ot.Operation, *errs.CustomError) {
	room := c.GetRoom(roomID)
	if room == nil {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}
	return room.History(), nil
}

// Subscribe registers handler for all broadcast events on the room and
// returns an unsubscribe function. Handlers are individually fault-isolated.
func (c *Coordinator) Subscribe(roomID string, handler Handler) (func(), *errs.CustomError) {
	room := c.GetRoom(roomID)
	if room == nil {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}
	return room.broadcaster.subscribe(handler), nil
}

// Cleanup sweeps all rooms once: presence entries silent past idleThreshold
// force an implicit leave, rooms that are empty and inactive past the
// threshold are destroyed (with a final snapshot), and surviving rooms are
// checkpointed to the store. Intended to run from a periodic ticker.
func (c *Coordinator) Cleanup(ctx context.Context, idleThreshold time.Duration) {
	if idleThreshold <= 0 {
		idleThreshold = DefaultIdleThreshold
	}

	cutoff := time.Now().Add(-idleThreshold)

	c.mu.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.RUnlock()

	for _, room := range rooms {
		c.sweepPresence(room, cutoff)

		room.mu.RLock()
		empty := len(room.users) == 0
		idle := room.lastActivity.Before(cutoff)
		room.mu.RUnlock()

		if empty && idle {
			c.destroyRoom(ctx, room)
			continue
		}

		// Surviving rooms get a periodic checkpoint.
		c.saveSnapshot(ctx, room)
	}
}

// sweepPresence removes members whose presence is older than cutoff,
// emitting the same leave events an explicit departure would.
func (c *Coordinator) sweepPresence(room *Room, cutoff time.Time) {
	room.mu.Lock()
	var expired []string
	for id, p := range room.presence {
		if p.LastSeen.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(room.users, id)
		delete(room.presence, id)
	}
	room.mu.Unlock()

	now := time.Now()
	for _, id := range expired {
		room.logger.Info().Str("user_id", id).Msg("Removed idle user.")
		room.broadcaster.publish(Event{
			Type:      EventLeave,
			RoomID:    room.ID,
			UserID:    id,
			Timestamp: now,
		})
	}
}

// destroyRoom saves a final snapshot, stops the room's subscribers, and
// removes it from the room table.
func (c *Coordinator) destroyRoom(ctx context.Context, room *Room) {
	c.saveSnapshot(ctx, room)

	c.mu.Lock()
	delete(c.rooms, room.ID)
	c.mu.Unlock()

	room.broadcaster.close()

	c.logger.Info().Str("room_id", room.ID).Msg("Idle room destroyed.")
}

// Snapshot returns a point-in-time copy of the room's durable state.
func (c *Coordinator) Snapshot(roomID string) (store.Snapshot, *errs.CustomError) {
	room := c.GetRoom(roomID)
	if room == nil {
		return store.Snapshot{}, errs.NewError(errs.ErrRoomNotFound)
	}
	return snapshotOf(room), nil
}

func snapshotOf(room *Room) store.Snapshot {
	room.mu.RLock()
	defer room.mu.RUnlock()

	history := make([]ot.Operation, len(room.history))
	copy(history, room.history)

	return store.Snapshot{
		ID:           room.ID,
		Name:         room.Name,
		Seed:         room.seed,
		Document:     room.document,
		History:      history,
		CreatedAt:    room.CreatedAt,
		LastActivity: room.lastActivity,
	}
}

// saveSnapshot persists the room's current state. Failures are logged, never
// fatal: durability is the storage collaborator's concern.
func (c *Coordinator) saveSnapshot(ctx context.Context, room *Room) {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	if err := c.store.SaveRoom(ctx, snapshotOf(room)); err != nil {
		logx.Error(err, "Failed to save room snapshot", "room_id", room.ID)
	}
}

// Shutdown snapshots and tears down every room. The Coordinator must not be
// used afterwards.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.logger.Info().Msg("Shutting down Coordinator...")

	c.mu.Lock()
	rooms := c.rooms
	c.rooms = make(map[string]*Room)
	c.mu.Unlock()

	for _, room := range rooms {
		c.saveSnapshot(ctx, room)
		room.broadcaster.close()
	}

	c.logger.Info().Int("rooms", len(rooms)).Msg("Coordinator shutdown complete.")
}
