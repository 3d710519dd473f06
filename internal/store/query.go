package store

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"

	"github.com/simdb-io/simdb/pkg/core"
)

// Query returns the simulations whose metadata satisfies every
// constraint, most recent first. The sequence is lazy and restartable:
// no SQL runs until iteration starts, and each iteration re-executes
// the query, so a second range sees writes made in between.
//
// Equality is case-insensitive exact match; contains is
// case-insensitive substring match.
func (s *Store) Query(ctx context.Context, constraints []core.Constraint) iter.Seq2[*core.Simulation, error] {
	query, args := buildQuery(constraints)
	return func(yield func(*core.Simulation, error) bool) {
		rows, err := s.query(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("failed to run query: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				sim              core.Simulation
				simUUID, setUUID string
				alias, replaces  sql.NullString
			)
			if err := rows.Scan(&simUUID, &alias, &sim.Status, &setUUID, &replaces, &sim.CreatedAt); err != nil {
				yield(nil, fmt.Errorf("failed to scan query row: %w", err))
				return
			}
			out, err := finishSimulation(&sim, simUUID, setUUID, alias, replaces)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(out, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// QueryAll collects the full query result into a slice.
func (s *Store) QueryAll(ctx context.Context, constraints []core.Constraint) ([]*core.Simulation, error) {
	var sims []*core.Simulation
	for sim, err := range s.Query(ctx, constraints) {
		if err != nil {
			return nil, err
		}
		sims = append(sims, sim)
	}
	return sims, nil
}

// buildQuery turns constraints into one SELECT with an EXISTS
// subquery per constraint, ANDed together. The lower() comparisons
// behave the same under SQLite and PostgreSQL.
func buildQuery(constraints []core.Constraint) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + simulationColumns + ` FROM simulations s`)

	var args []any
	for i, c := range constraints {
		if i == 0 {
			sb.WriteString(` WHERE `)
		} else {
			sb.WriteString(` AND `)
		}
		switch c.Op {
		case core.OpContains:
			sb.WriteString(`EXISTS (SELECT 1 FROM metadata m WHERE m.metadata_set_uuid = s.metadata_set_uuid` +
				` AND m.element = ? AND lower(m.value) LIKE '%' || lower(?) || '%')`)
		default:
			sb.WriteString(`EXISTS (SELECT 1 FROM metadata m WHERE m.metadata_set_uuid = s.metadata_set_uuid` +
				` AND m.element = ? AND lower(m.value) = lower(?))`)
		}
		args = append(args, c.Key, c.Value)
	}

	sb.WriteString(` ORDER BY s.created_at DESC`)
	return sb.String(), args
}
