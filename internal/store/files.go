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

// AttachFile associates a file reference with a simulation. If the
// file UUID is already recorded with a different checksum the call
// fails; recorded checksums are never silently overwritten.
func (s *Store) AttachFile(ctx context.Context, simUUID uuid.UUID, file core.FileRef, role core.FileRole) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sim := &core.Simulation{UUID: simUUID}
	err = tx.queryRow(ctx,
		`SELECT metadata_set_uuid FROM simulations WHERE simulation_uuid = ?`,
		simUUID.String(),
	).Scan(&sim.MetadataSet)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: simulation %s", core.ErrNotFound, simUUID)
	}
	if err != nil {
		return fmt.Errorf("failed to load simulation: %w", err)
	}

	if err := attachFileTx(ctx, tx, sim, file, role); err != nil {
		return err
	}
	return tx.Commit()
}

func attachFileTx(ctx context.Context, tx *tx, sim *core.Simulation, file core.FileRef, role core.FileRole) error {
	if file.UUID == uuid.Nil {
		file.UUID = uuid.New()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}

	var existing string
	err := tx.queryRow(ctx,
		`SELECT checksum FROM files WHERE file_uuid = ?`, file.UUID.String(),
	).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		var set any
		if file.MetadataSet != uuid.Nil {
			set = file.MetadataSet.String()
		} else if sim.MetadataSet != uuid.Nil {
			set = sim.MetadataSet.String()
		}
		if _, err := tx.exec(ctx,
			`INSERT INTO files (file_uuid, metadata_set_uuid, uri, kind, checksum, purpose, sensitivity, access, embargo, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			file.UUID.String(), set, file.URI, file.Kind, file.Checksum,
			file.Purpose, file.Sensitivity, file.Access, file.Embargo, file.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert file: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to check file checksum: %w", err)
	default:
		if existing != file.Checksum {
			return fmt.Errorf("%w: file %s recorded with checksum %s, got %s",
				core.ErrChecksumMismatch, file.UUID, existing, file.Checksum)
		}
	}

	if _, err := tx.exec(ctx,
		`INSERT INTO simulation_files (simulation_uuid, file_uuid, role)
		 VALUES (?, ?, ?)
		 ON CONFLICT (simulation_uuid, file_uuid) DO NOTHING`,
		sim.UUID.String(), file.UUID.String(), role,
	); err != nil {
		return fmt.Errorf("failed to link file: %w", err)
	}
	return nil
}

// GetFile loads one file reference by UUID.
func (s *Store) GetFile(ctx context.Context, fileUUID uuid.UUID) (*core.FileRef, error) {
	row := s.queryRow(ctx,
		`SELECT file_uuid, metadata_set_uuid, uri, kind, checksum, purpose, sensitivity, access, embargo, created_at
		 FROM files WHERE file_uuid = ?`,
		fileUUID.String(),
	)
	file, err := scanFile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: file %s", core.ErrNotFound, fileUUID)
	}
	return file, err
}

func (s *Store) filesForSimulation(ctx context.Context, simUUID uuid.UUID, role core.FileRole) ([]core.FileRef, error) {
	rows, err := s.query(ctx,
		`SELECT f.file_uuid, f.metadata_set_uuid, f.uri, f.kind, f.checksum, f.purpose, f.sensitivity, f.access, f.embargo, f.created_at
		 FROM files f
		 JOIN simulation_files sf ON sf.file_uuid = f.file_uuid
		 WHERE sf.simulation_uuid = ? AND sf.role = ?
		 ORDER BY f.created_at`,
		simUUID.String(), role,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load files: %w", err)
	}
	defer rows.Close()

	var files []core.FileRef
	for rows.Next() {
		file, err := scanFile(rows.Scan)
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}
	return files, rows.Err()
}

func scanFile(scan func(...any) error) (*core.FileRef, error) {
	var (
		file                 core.FileRef
		fileUUID             string
		set                  sql.NullString
		purpose, sensitivity sql.NullString
		access, embargo      sql.NullString
	)
	err := scan(&fileUUID, &set, &file.URI, &file.Kind, &file.Checksum,
		&purpose, &sensitivity, &access, &embargo, &file.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan file: %w", err)
	}
	if file.UUID, err = uuid.Parse(fileUUID); err != nil {
		return nil, fmt.Errorf("corrupt file uuid %q: %w", fileUUID, err)
	}
	if set.Valid {
		if file.MetadataSet, err = uuid.Parse(set.String); err != nil {
			return nil, fmt.Errorf("corrupt metadata set uuid %q: %w", set.String, err)
		}
	}
	file.Purpose = purpose.String
	file.Sensitivity = sensitivity.String
	file.Access = access.String
	file.Embargo = embargo.String
	return &file, nil
}
