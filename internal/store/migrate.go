package store

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"

	"github.com/flowforge/flowforge/pkg/errors"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// runMigrations applies all pending goose migrations
func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "goose set dialect")
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "goose up")
	}
	return nil
}
