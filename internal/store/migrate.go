package store

import (
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate runs all pending database migrations.
func (s *Store) Migrate() error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	dialect := "sqlite"
	if s.driver == DriverPostgres {
		dialect = "postgres"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
