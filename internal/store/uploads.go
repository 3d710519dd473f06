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

// Upload tracks the server-side progress of one chunked file
// transfer, so an interrupted push can resume.
type Upload struct {
	Simulation     uuid.UUID
	File           uuid.UUID
	Checksum       string
	ChunksReceived int
	Complete       bool
	UpdatedAt      time.Time
}

// GetUpload loads transfer progress for one file of a simulation.
func (s *Store) GetUpload(ctx context.Context, simUUID, fileUUID uuid.UUID) (*Upload, error) {
	u := &Upload{Simulation: simUUID, File: fileUUID}
	err := s.queryRow(ctx,
		`SELECT checksum, chunks_received, complete, updated_at FROM uploads
		 WHERE simulation_uuid = ? AND file_uuid = ?`,
		simUUID.String(), fileUUID.String(),
	).Scan(&u.Checksum, &u.ChunksReceived, &u.Complete, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: upload for file %s", core.ErrNotFound, fileUUID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load upload: %w", err)
	}
	return u, nil
}

// PutUpload upserts transfer progress. A checksum change restarts the
// transfer from chunk zero under the new checksum.
func (s *Store) PutUpload(ctx context.Context, u Upload) error {
	u.UpdatedAt = time.Now().UTC()
	_, err := s.exec(ctx,
		`INSERT INTO uploads (simulation_uuid, file_uuid, checksum, chunks_received, complete, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (simulation_uuid, file_uuid) DO UPDATE SET
		     checksum = excluded.checksum,
		     chunks_received = excluded.chunks_received,
		     complete = excluded.complete,
		     updated_at = excluded.updated_at`,
		u.Simulation.String(), u.File.String(), u.Checksum, u.ChunksReceived, u.Complete, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record upload progress: %w", err)
	}
	return nil
}

// DeleteUploads clears transfer records for a simulation once every
// file has landed.
func (s *Store) DeleteUploads(ctx context.Context, simUUID uuid.UUID) error {
	_, err := s.exec(ctx,
		`DELETE FROM uploads WHERE simulation_uuid = ?`, simUUID.String())
	if err != nil {
		return fmt.Errorf("failed to clear uploads: %w", err)
	}
	return nil
}
