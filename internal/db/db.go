// Package db stores replay runs in sqlite: one row per run, one row per
// filter step and the final consistency report of every track.
package db

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// pragmas are applied by the driver to every pooled connection.
const pragmas = "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// DB wraps the sqlite handle holding replay runs.
type DB struct {
	*sql.DB
	path string
}

// NewDB opens (or creates) the database at path and applies all pending
// migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+pragmas)
	if err != nil {
		return nil, err
	}
	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}
