/*
Package store provides durable persistence hooks for room snapshots.

The collaboration core has no opinion on storage format; it calls SaveRoom on
room creation and destruction (and periodically), and LoadRoom when asked to
restore a room that is not in memory.
*/
package store

import (
	"context"
	"errors"
	"time"

	"textroom/internal/app/ot"
)

// ErrRoomNotFound is returned by LoadRoom when no snapshot exists for the id.
var ErrRoomNotFound = errors.New("store: room not found")

// Snapshot is a point-in-time copy of a room's durable state. Membership and
// presence are ephemeral and intentionally absent.
type Snapshot struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Seed         string         `json:"seed"`
	Document     string         `json:"document"`
	History      []ot.Operation `json:"history"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastActivity time.Time      `json:"lastActivity"`
}

// RoomStore persists and restores room snapshots.
type RoomStore interface {
	SaveRoom(ctx context.Context, snap Snapshot) error
	LoadRoom(ctx context.Context, id string) (Snapshot, error)
}

// NopStore discards saves and never finds rooms. It is the default when no
// database is configured.
type NopStore struct{}

func (NopStore) SaveRoom(ctx context.Context, snap Snapshot) error {
	return nil
}

func (NopStore) LoadRoom(ctx context.Context, id string) (Snapshot, error) {
	return Snapshot{}, ErrRoomNotFound
}
