// Package store persists simulation records, metadata sets, file
// manifests and their supporting tables, and resolves user-supplied
// identity tokens. It runs over SQLite for the local per-user store
// and optionally PostgreSQL for the remote service.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Store wraps database access for one SimDB database.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Options configures how a store is opened.
type Options struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string
	// DSN is the sqlite file path (or ":memory:") or a postgres DSN.
	DSN string
	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Open opens the database and runs pending migrations.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	dsn := opts.DSN
	if driver == DriverSQLite {
		if dsn == "" {
			return nil, fmt.Errorf("missing file parameter for sqlite database")
		}
		if dsn != ":memory:" {
			dsn = dsn + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// A single writer connection avoids SQLITE_BUSY under the
		// short-lived-process CLI model.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, driver: driver, logger: logger}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Reset clears all data out of the database (`database clear`).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"uploads", "sync_state", "provenance", "watchers", "baselines",
		"vocabulary_words", "vocabularies", "simulation_files", "files",
		"metadata", "simulations",
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// rebind converts ?-style placeholders to the driver's form.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// begin starts a transaction whose Exec/Query helpers share the
// store's placeholder rebinding.
func (s *Store) begin(ctx context.Context) (*tx, error) {
	raw, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &tx{Tx: raw, store: s}, nil
}

type tx struct {
	*sql.Tx
	store *Store
}

func (t *tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.ExecContext(ctx, t.store.rebind(query), args...)
}

func (t *tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.QueryContext(ctx, t.store.rebind(query), args...)
}

func (t *tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.QueryRowContext(ctx, t.store.rebind(query), args...)
}
