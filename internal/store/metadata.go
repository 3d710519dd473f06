package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/simdb-io/simdb/pkg/core"
)

// PutMetadata upserts entries into a simulation's metadata set. Every
// controlled key is checked against its registered vocabulary before
// anything is written; a single violation aborts the whole call and
// leaves the set unchanged.
func (s *Store) PutMetadata(ctx context.Context, simUUID uuid.UUID, entries map[string]string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var setUUID string
	err = tx.queryRow(ctx,
		`SELECT metadata_set_uuid FROM simulations WHERE simulation_uuid = ?`,
		simUUID.String(),
	).Scan(&setUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: simulation %s", core.ErrNotFound, simUUID)
	}
	if err != nil {
		return fmt.Errorf("failed to load metadata set: %w", err)
	}
	set, err := uuid.Parse(setUUID)
	if err != nil {
		return fmt.Errorf("corrupt metadata set uuid %q: %w", setUUID, err)
	}

	for element, value := range entries {
		if err := checkVocabularyTx(ctx, tx, element, value); err != nil {
			return err
		}
	}
	for element, value := range entries {
		if err := putMetadataEntryTx(ctx, tx, set, element, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func putMetadataEntryTx(ctx context.Context, tx *tx, set uuid.UUID, element, value string) error {
	_, err := tx.exec(ctx,
		`INSERT INTO metadata (metadata_id, metadata_set_uuid, element, value)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (metadata_set_uuid, element) DO UPDATE SET value = excluded.value`,
		uuid.New().String(), set.String(), element, value,
	)
	if err != nil {
		return fmt.Errorf("failed to put metadata %q: %w", element, err)
	}
	return nil
}

// checkVocabularyTx rejects values outside the registered vocabulary
// for controlled keys. Keys without a vocabulary are unconstrained.
func checkVocabularyTx(ctx context.Context, tx *tx, element, value string) error {
	var name string
	err := tx.queryRow(ctx,
		`SELECT name FROM vocabularies WHERE name = ?`, element,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check vocabulary: %w", err)
	}

	var count int
	err = tx.queryRow(ctx,
		`SELECT COUNT(*) FROM vocabulary_words WHERE vocabulary = ? AND value = ?`,
		element, value,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check vocabulary word: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %q is not a permitted value for %q",
			core.ErrVocabularyViolation, value, element)
	}
	return nil
}

// GetMetadata returns the values stored under one element key of a
// simulation's metadata set.
func (s *Store) GetMetadata(ctx context.Context, simUUID uuid.UUID, element string) ([]string, error) {
	rows, err := s.query(ctx,
		`SELECT m.value FROM metadata m
		 JOIN simulations s ON s.metadata_set_uuid = m.metadata_set_uuid
		 WHERE s.simulation_uuid = ? AND m.element = ?`,
		simUUID.String(), element,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan metadata value: %w", err)
		}
		values = append(values, v.String)
	}
	return values, rows.Err()
}

// ListMetadataKeys returns the distinct element keys across the store.
func (s *Store) ListMetadataKeys(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT element FROM metadata ORDER BY element`)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan metadata key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) metadataForSet(ctx context.Context, set uuid.UUID) ([]core.MetaEntry, error) {
	rows, err := s.query(ctx,
		`SELECT element, value FROM metadata WHERE metadata_set_uuid = ? ORDER BY element`,
		set.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata set: %w", err)
	}
	defer rows.Close()

	var entries []core.MetaEntry
	for rows.Next() {
		var e core.MetaEntry
		var v sql.NullString
		if err := rows.Scan(&e.Element, &v); err != nil {
			return nil, fmt.Errorf("failed to scan metadata entry: %w", err)
		}
		e.Value = v.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
