package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"textroom/internal/app/ot"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists room snapshots in a rooms table, with the operation
// history serialized as a jsonb column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an initialized connection pool (see db.NewPool).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SaveRoom upserts the snapshot keyed by room id.
func (s *PostgresStore) SaveRoom(ctx context.Context, snap Snapshot) error {
	history, err := json.Marshal(snap.History)
	if err != nil {
		return fmt.Errorf("marshal room history: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rooms (id, name, seed, document, history, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name          = EXCLUDED.name,
			document      = EXCLUDED.document,
			history       = EXCLUDED.history,
			last_activity = EXCLUDED.last_activity`,
		snap.ID, snap.Name, snap.Seed, snap.Document, history, snap.CreatedAt, snap.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("save room %s: %w", snap.ID, err)
	}

	return nil
}

// LoadRoom fetches the snapshot for a room id. Returns ErrRoomNotFound when
// no row exists.
func (s *PostgresStore) LoadRoom(ctx context.Context, id string) (Snapshot, error) {
	var (
		snap    Snapshot
		history []byte
	)

	err := s.pool.QueryRow(ctx, `
		SELECT id, name, seed, document, history, created_at, last_activity
		FROM rooms
		WHERE id = $1`,
		id,
	).Scan(&snap.ID, &snap.Name, &snap.Seed, &snap.Document, &history, &snap.CreatedAt, &snap.LastActivity)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrRoomNotFound
		}
		return Snapshot{}, fmt.Errorf("load room %s: %w", id, err)
	}

	if len(history) > 0 {
		if err := json.Unmarshal(history, &snap.History); err != nil {
			return Snapshot{}, fmt.Errorf("unmarshal room history for %s: %w", id, err)
		}
	}
	if snap.History == nil {
		snap.History = []ot.Operation{}
	}

	return snap, nil
}
