package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/simdb-io/simdb/pkg/core"
)

// shortPrefixLen is the fixed length of short-UUID tokens.
const shortPrefixLen = 8

// Resolve maps a user-supplied token to a simulation UUID. Resolution
// order: exact full UUID, exact alias, then 8-character UUID prefix.
// A prefix matching more than one simulation is ambiguous.
func (s *Store) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	if parsed, err := uuid.Parse(token); err == nil {
		var found string
		err := s.queryRow(ctx,
			`SELECT simulation_uuid FROM simulations WHERE simulation_uuid = ?`,
			parsed.String(),
		).Scan(&found)
		if err == nil {
			return parsed, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("failed to resolve uuid: %w", err)
		}
		return uuid.Nil, fmt.Errorf("%w: simulation %s", core.ErrNotFound, token)
	}

	var found string
	err := s.queryRow(ctx,
		`SELECT simulation_uuid FROM simulations WHERE alias = ?`, token,
	).Scan(&found)
	if err == nil {
		return uuid.Parse(found)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("failed to resolve alias: %w", err)
	}

	if len(token) == shortPrefixLen && isHex(token) {
		rows, err := s.query(ctx,
			`SELECT simulation_uuid FROM simulations WHERE simulation_uuid LIKE ?`,
			strings.ToLower(token)+"%",
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to resolve prefix: %w", err)
		}
		defer rows.Close()

		var matches []string
		for rows.Next() {
			var m string
			if err := rows.Scan(&m); err != nil {
				return uuid.Nil, fmt.Errorf("failed to scan prefix match: %w", err)
			}
			matches = append(matches, m)
		}
		if err := rows.Err(); err != nil {
			return uuid.Nil, err
		}
		switch len(matches) {
		case 1:
			return uuid.Parse(matches[0])
		case 0:
			// fall through to not-found
		default:
			return uuid.Nil, fmt.Errorf("%w: prefix %s matches %d simulations",
				core.ErrAmbiguous, token, len(matches))
		}
	}

	return uuid.Nil, fmt.Errorf("%w: simulation %s", core.ErrNotFound, token)
}

// AssignAlias gives a simulation a new alias, or clears it when alias
// is empty. The alias must not be held by a different non-deprecated
// simulation; a deprecated holder silently loses it.
func (s *Store) AssignAlias(ctx context.Context, simUUID uuid.UUID, alias string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if alias != "" {
		if err := checkAliasFree(ctx, tx, alias, simUUID); err != nil {
			return err
		}
	}

	var value any
	if alias != "" {
		value = alias
	}
	res, err := tx.exec(ctx,
		`UPDATE simulations SET alias = ? WHERE simulation_uuid = ?`,
		value, simUUID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to assign alias: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: simulation %s", core.ErrNotFound, simUUID)
	}
	return tx.Commit()
}

// checkAliasFree enforces alias uniqueness across live simulations,
// releasing the alias from a deprecated holder when necessary.
func checkAliasFree(ctx context.Context, tx *tx, alias string, simUUID uuid.UUID) error {
	var holder string
	var status core.Status
	err := tx.queryRow(ctx,
		`SELECT simulation_uuid, status FROM simulations WHERE alias = ?`, alias,
	).Scan(&holder, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check alias: %w", err)
	}
	if holder == simUUID.String() {
		return nil
	}
	if status != core.StatusDeprecated {
		return fmt.Errorf("%w: alias %q already in use by simulation %s",
			core.ErrConflict, alias, holder)
	}
	if _, err := tx.exec(ctx,
		`UPDATE simulations SET alias = NULL WHERE simulation_uuid = ?`, holder); err != nil {
		return fmt.Errorf("failed to release alias from deprecated simulation: %w", err)
	}
	return nil
}

// ListAliases returns all assigned aliases, optionally filtered by
// prefix. Used for shell completion.
func (s *Store) ListAliases(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.query(ctx,
		`SELECT alias FROM simulations WHERE alias IS NOT NULL AND alias LIKE ? ORDER BY alias`,
		prefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
