package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProvenanceEntry is one append-only audit record on a simulation.
type ProvenanceEntry struct {
	Element    string
	Value      string
	RecordedAt time.Time
}

// AddProvenance appends an audit record. Provenance is never updated
// or deleted outside a full simulation delete.
func (s *Store) AddProvenance(ctx context.Context, simUUID uuid.UUID, element, value string) error {
	_, err := s.exec(ctx,
		`INSERT INTO provenance (provenance_id, simulation_uuid, element, value, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), simUUID.String(), element, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record provenance: %w", err)
	}
	return nil
}

// GetProvenance returns a simulation's audit records in the order
// they were written.
func (s *Store) GetProvenance(ctx context.Context, simUUID uuid.UUID) ([]ProvenanceEntry, error) {
	rows, err := s.query(ctx,
		`SELECT element, value, recorded_at FROM provenance
		 WHERE simulation_uuid = ? ORDER BY recorded_at`,
		simUUID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load provenance: %w", err)
	}
	defer rows.Close()

	var entries []ProvenanceEntry
	for rows.Next() {
		var e ProvenanceEntry
		if err := rows.Scan(&e.Element, &e.Value, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provenance entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
