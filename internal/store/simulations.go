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

const simulationColumns = `simulation_uuid, alias, status, metadata_set_uuid, replaces_uuid, created_at`

// CreateSimulation allocates a blank simulation: new UUID, status
// local, empty metadata set. Safe to call with no other inputs.
func (s *Store) CreateSimulation(ctx context.Context) (uuid.UUID, error) {
	simUUID := uuid.New()
	_, err := s.exec(ctx,
		`INSERT INTO simulations (simulation_uuid, alias, status, metadata_set_uuid, replaces_uuid, created_at)
		 VALUES (?, NULL, ?, ?, NULL, ?)`,
		simUUID.String(), core.StatusLocal, uuid.New().String(), time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create simulation: %w", err)
	}
	return simUUID, nil
}

// InsertSimulation stores a fully populated simulation record,
// preserving its UUID. Used by manifest ingestion and by pull.
func (s *Store) InsertSimulation(ctx context.Context, sim *core.Simulation) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertSimulationTx(ctx, tx, sim); err != nil {
		return err
	}
	return tx.Commit()
}

func insertSimulationTx(ctx context.Context, tx *tx, sim *core.Simulation) error {
	if sim.Alias != "" {
		if err := checkAliasFree(ctx, tx, sim.Alias, sim.UUID); err != nil {
			return err
		}
	}

	var alias any
	if sim.Alias != "" {
		alias = sim.Alias
	}
	var replaces any
	if sim.Replaces != uuid.Nil {
		replaces = sim.Replaces.String()
	}
	if sim.MetadataSet == uuid.Nil {
		sim.MetadataSet = uuid.New()
	}
	if sim.CreatedAt.IsZero() {
		sim.CreatedAt = time.Now().UTC()
	}
	if sim.Status == "" {
		sim.Status = core.StatusLocal
	}

	_, err := tx.exec(ctx,
		`INSERT INTO simulations (simulation_uuid, alias, status, metadata_set_uuid, replaces_uuid, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sim.UUID.String(), alias, sim.Status, sim.MetadataSet.String(), replaces, sim.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert simulation: %w", err)
	}

	for _, m := range sim.Meta {
		if err := checkVocabularyTx(ctx, tx, m.Element, m.Value); err != nil {
			return err
		}
	}
	for _, m := range sim.Meta {
		if err := putMetadataEntryTx(ctx, tx, sim.MetadataSet, m.Element, m.Value); err != nil {
			return err
		}
	}
	for _, f := range sim.Inputs {
		if err := attachFileTx(ctx, tx, sim, f, core.RoleInput); err != nil {
			return err
		}
	}
	for _, f := range sim.Outputs {
		if err := attachFileTx(ctx, tx, sim, f, core.RoleOutput); err != nil {
			return err
		}
	}
	return nil
}

// MergeSimulation applies manifest content to an existing simulation
// in one transaction: optional alias, vocabulary-checked metadata
// upserts and file attachments. Nothing lands if any part fails.
func (s *Store) MergeSimulation(ctx context.Context, simUUID uuid.UUID, alias string, meta []core.MetaEntry, inputs, outputs []core.FileRef) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sim := &core.Simulation{UUID: simUUID}
	var setUUID string
	err = tx.queryRow(ctx,
		`SELECT metadata_set_uuid FROM simulations WHERE simulation_uuid = ?`,
		simUUID.String(),
	).Scan(&setUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: simulation %s", core.ErrNotFound, simUUID)
	}
	if err != nil {
		return fmt.Errorf("failed to load simulation: %w", err)
	}
	if sim.MetadataSet, err = uuid.Parse(setUUID); err != nil {
		return fmt.Errorf("corrupt metadata set uuid %q: %w", setUUID, err)
	}

	if alias != "" {
		if err := checkAliasFree(ctx, tx, alias, simUUID); err != nil {
			return err
		}
		if _, err := tx.exec(ctx,
			`UPDATE simulations SET alias = ? WHERE simulation_uuid = ?`,
			alias, simUUID.String(),
		); err != nil {
			return fmt.Errorf("failed to assign alias: %w", err)
		}
	}

	for _, m := range meta {
		if err := checkVocabularyTx(ctx, tx, m.Element, m.Value); err != nil {
			return err
		}
	}
	for _, m := range meta {
		if err := putMetadataEntryTx(ctx, tx, sim.MetadataSet, m.Element, m.Value); err != nil {
			return err
		}
	}
	for _, f := range inputs {
		if err := attachFileTx(ctx, tx, sim, f, core.RoleInput); err != nil {
			return err
		}
	}
	for _, f := range outputs {
		if err := attachFileTx(ctx, tx, sim, f, core.RoleOutput); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetSimulation loads a simulation with its metadata set and files.
func (s *Store) GetSimulation(ctx context.Context, simUUID uuid.UUID) (*core.Simulation, error) {
	row := s.queryRow(ctx,
		`SELECT `+simulationColumns+` FROM simulations WHERE simulation_uuid = ?`,
		simUUID.String(),
	)
	sim, err := scanSimulation(row)
	if err != nil {
		return nil, err
	}

	if sim.Meta, err = s.metadataForSet(ctx, sim.MetadataSet); err != nil {
		return nil, err
	}
	if sim.Inputs, err = s.filesForSimulation(ctx, simUUID, core.RoleInput); err != nil {
		return nil, err
	}
	if sim.Outputs, err = s.filesForSimulation(ctx, simUUID, core.RoleOutput); err != nil {
		return nil, err
	}
	return sim, nil
}

// ListSimulations returns all simulations, most recent first, without
// their metadata sets loaded.
func (s *Store) ListSimulations(ctx context.Context) ([]*core.Simulation, error) {
	rows, err := s.query(ctx,
		`SELECT `+simulationColumns+` FROM simulations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list simulations: %w", err)
	}
	defer rows.Close()
	return scanSimulations(rows)
}

// SetStatus applies a lifecycle transition, enforcing monotonic order.
func (s *Store) SetStatus(ctx context.Context, simUUID uuid.UUID, next core.Status) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := setStatusTx(ctx, tx, simUUID, next); err != nil {
		return err
	}
	return tx.Commit()
}

func setStatusTx(ctx context.Context, tx *tx, simUUID uuid.UUID, next core.Status) error {
	var current core.Status
	err := tx.queryRow(ctx,
		`SELECT status FROM simulations WHERE simulation_uuid = ?`, simUUID.String(),
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: simulation %s", core.ErrNotFound, simUUID)
	}
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}

	if !current.CanTransition(next) {
		return fmt.Errorf("%w: cannot move simulation %s from %s to %s",
			core.ErrConflict, simUUID, current, next)
	}
	if current == next {
		return nil
	}

	if _, err := tx.exec(ctx,
		`UPDATE simulations SET status = ? WHERE simulation_uuid = ?`,
		next, simUUID.String(),
	); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// PublishWithReplace publishes a simulation and, when oldUUID is set,
// deprecates the replaced simulation in the same transaction. Either
// both transitions land or neither does.
func (s *Store) PublishWithReplace(ctx context.Context, simUUID, oldUUID uuid.UUID) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := setStatusTx(ctx, tx, simUUID, core.StatusPublished); err != nil {
		return err
	}
	if oldUUID != uuid.Nil {
		if err := setStatusTx(ctx, tx, oldUUID, core.StatusDeprecated); err != nil {
			return err
		}
		if _, err := tx.exec(ctx,
			`UPDATE simulations SET replaces_uuid = ? WHERE simulation_uuid = ?`,
			oldUUID.String(), simUUID.String(),
		); err != nil {
			return fmt.Errorf("failed to record replacement: %w", err)
		}
	}
	return tx.Commit()
}

// SetReplaces records that sim will deprecate old on publish.
func (s *Store) SetReplaces(ctx context.Context, simUUID, oldUUID uuid.UUID) error {
	res, err := s.exec(ctx,
		`UPDATE simulations SET replaces_uuid = ? WHERE simulation_uuid = ?`,
		oldUUID.String(), simUUID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set replaces: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: simulation %s", core.ErrNotFound, simUUID)
	}
	return nil
}

// DeleteSimulation removes a simulation, its exclusively owned
// metadata set and any files no longer referenced by other
// simulations. Published simulations cannot be deleted locally.
func (s *Store) DeleteSimulation(ctx context.Context, simUUID uuid.UUID) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status core.Status
	var setUUID string
	err = tx.queryRow(ctx,
		`SELECT status, metadata_set_uuid FROM simulations WHERE simulation_uuid = ?`,
		simUUID.String(),
	).Scan(&status, &setUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: simulation %s", core.ErrNotFound, simUUID)
	}
	if err != nil {
		return fmt.Errorf("failed to load simulation: %w", err)
	}
	if status == core.StatusPublished {
		return fmt.Errorf("%w: simulation %s is published; deprecate it on the remote first",
			core.ErrConflict, simUUID)
	}

	rows, err := tx.query(ctx,
		`SELECT file_uuid FROM simulation_files WHERE simulation_uuid = ?`, simUUID.String())
	if err != nil {
		return fmt.Errorf("failed to list simulation files: %w", err)
	}
	var fileUUIDs []string
	for rows.Next() {
		var fu string
		if err := rows.Scan(&fu); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan file uuid: %w", err)
		}
		fileUUIDs = append(fileUUIDs, fu)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.exec(ctx,
		`DELETE FROM simulation_files WHERE simulation_uuid = ?`, simUUID.String()); err != nil {
		return fmt.Errorf("failed to unlink files: %w", err)
	}

	// Reference counting: a file row goes away only when no other
	// simulation still links to it.
	for _, fu := range fileUUIDs {
		var refs int
		if err := tx.queryRow(ctx,
			`SELECT COUNT(*) FROM simulation_files WHERE file_uuid = ?`, fu).Scan(&refs); err != nil {
			return fmt.Errorf("failed to count file references: %w", err)
		}
		if refs == 0 {
			if _, err := tx.exec(ctx, `DELETE FROM files WHERE file_uuid = ?`, fu); err != nil {
				return fmt.Errorf("failed to delete file: %w", err)
			}
		}
	}

	for _, stmt := range []string{
		`DELETE FROM metadata WHERE metadata_set_uuid = ?`,
		`DELETE FROM provenance WHERE simulation_uuid = ?`,
		`DELETE FROM watchers WHERE simulation_uuid = ?`,
		`DELETE FROM sync_state WHERE simulation_uuid = ?`,
	} {
		arg := simUUID.String()
		if stmt == `DELETE FROM metadata WHERE metadata_set_uuid = ?` {
			arg = setUUID
		}
		if _, err := tx.exec(ctx, stmt, arg); err != nil {
			return fmt.Errorf("failed to cascade delete: %w", err)
		}
	}

	if _, err := tx.exec(ctx,
		`DELETE FROM simulations WHERE simulation_uuid = ?`, simUUID.String()); err != nil {
		return fmt.Errorf("failed to delete simulation: %w", err)
	}
	return tx.Commit()
}

func scanSimulation(row *sql.Row) (*core.Simulation, error) {
	var (
		sim      core.Simulation
		simUUID  string
		setUUID  string
		alias    sql.NullString
		replaces sql.NullString
	)
	err := row.Scan(&simUUID, &alias, &sim.Status, &setUUID, &replaces, &sim.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: simulation", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan simulation: %w", err)
	}
	return finishSimulation(&sim, simUUID, setUUID, alias, replaces)
}

func scanSimulations(rows *sql.Rows) ([]*core.Simulation, error) {
	var sims []*core.Simulation
	for rows.Next() {
		var (
			sim      core.Simulation
			simUUID  string
			setUUID  string
			alias    sql.NullString
			replaces sql.NullString
		)
		if err := rows.Scan(&simUUID, &alias, &sim.Status, &setUUID, &replaces, &sim.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan simulation: %w", err)
		}
		out, err := finishSimulation(&sim, simUUID, setUUID, alias, replaces)
		if err != nil {
			return nil, err
		}
		sims = append(sims, out)
	}
	return sims, rows.Err()
}

func finishSimulation(sim *core.Simulation, simUUID, setUUID string, alias, replaces sql.NullString) (*core.Simulation, error) {
	var err error
	if sim.UUID, err = uuid.Parse(simUUID); err != nil {
		return nil, fmt.Errorf("corrupt simulation uuid %q: %w", simUUID, err)
	}
	if sim.MetadataSet, err = uuid.Parse(setUUID); err != nil {
		return nil, fmt.Errorf("corrupt metadata set uuid %q: %w", setUUID, err)
	}
	if alias.Valid {
		sim.Alias = alias.String
	}
	if replaces.Valid {
		if sim.Replaces, err = uuid.Parse(replaces.String); err != nil {
			return nil, fmt.Errorf("corrupt replaces uuid %q: %w", replaces.String, err)
		}
	}
	return sim, nil
}
