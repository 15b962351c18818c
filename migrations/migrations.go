// Package migrations embeds SQL migration files and provides a function to apply them.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS contains the embedded SQL migration files, one directory per dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Supported dialects. Each names both the goose dialect and the directory
// holding its migrations.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// Dir returns the migration directory and goose dialect for a dialect name.
func Dir(dialect string) (dir, gooseDialect string, err error) {
	switch dialect {
	case SQLite:
		return "sqlite", "sqlite3", nil
	case Postgres:
		return "postgres", "postgres", nil
	default:
		return "", "", fmt.Errorf("unknown dialect %q", dialect)
	}
}

// Run applies all pending migrations to the given database.
func Run(db *sql.DB, dialect string) error {
	dir, gd, err := Dir(dialect)
	if err != nil {
		return err
	}

	goose.SetBaseFS(FS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(gd); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
