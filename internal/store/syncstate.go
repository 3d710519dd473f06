package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simdb-io/simdb/pkg/core"
)

// GetSyncState reports where a simulation stands against one remote.
// Simulations never synchronized report SyncLocalOnly.
func (s *Store) GetSyncState(ctx context.Context, simUUID uuid.UUID, remote string) (core.SyncState, error) {
	var state string
	err := s.queryRow(ctx,
		`SELECT state FROM sync_state WHERE simulation_uuid = ? AND remote = ?`,
		simUUID.String(), remote,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SyncLocalOnly, nil
	}
	if err != nil {
		return core.SyncAbsent, fmt.Errorf("failed to read sync state: %w", err)
	}
	return core.SyncState(state), nil
}

// SetSyncState records the synchronization state of a simulation
// against one remote.
func (s *Store) SetSyncState(ctx context.Context, simUUID uuid.UUID, remote string, state core.SyncState) error {
	_, err := s.exec(ctx,
		`INSERT INTO sync_state (simulation_uuid, remote, state, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (simulation_uuid, remote) DO UPDATE SET
		     state = excluded.state, updated_at = excluded.updated_at`,
		simUUID.String(), remote, string(state), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set sync state: %w", err)
	}
	return nil
}
