// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// migrationSet is the finalized batch schema of one database backend.
type migrationSet struct {
	// backend names the database in migrate's bookkeeping and in errors.
	backend string

	// dir is the directory of the backend's scripts inside migrationFS.
	dir string

	// driver wraps an open connection into a migrate database driver.
	driver func(*sql.DB) (database.Driver, error)
}

var (
	sqliteMigrations = migrationSet{
		backend: "sqlite",
		dir:     "migrations/sqlite",
		driver: func(db *sql.DB) (database.Driver, error) {
			return sqlite.WithInstance(db, &sqlite.Config{})
		},
	}

	postgresMigrations = migrationSet{
		backend: "postgres",
		dir:     "migrations/postgres",
		driver: func(db *sql.DB) (database.Driver, error) {
			return postgres.WithInstance(db, &postgres.Config{})
		},
	}
)

// apply brings the batch schema of db up to the newest version. A database
// that is already current is left untouched.
func (m migrationSet) apply(db *sql.DB) error {
	if db == nil {
		return ErrNilDB
	}

	source, err := iofs.New(migrationFS, m.dir)
	if err != nil {
		return fmt.Errorf("load %s batch migrations: %w", m.backend, err)
	}

	target, err := m.driver(db)
	if err != nil {
		return fmt.Errorf("create %s migration driver: %w", m.backend,
			err)
	}

	migrator, err := migrate.NewWithInstance(
		"iofs", source, m.backend, target,
	)
	if err != nil {
		return fmt.Errorf("create %s migrator: %w", m.backend, err)
	}

	if err := migrator.Up(); err != nil &&
		!errors.Is(err, migrate.ErrNoChange) {

		return fmt.Errorf("migrate %s batch store: %w", m.backend, err)
	}

	return nil
}

// ApplySQLiteMigrations creates or upgrades the finalized batch tables of a
// SQLite database.
func ApplySQLiteMigrations(db *sql.DB) error {
	return sqliteMigrations.apply(db)
}

// ApplyPostgresMigrations creates or upgrades the finalized batch tables of a
// PostgreSQL database.
func ApplyPostgresMigrations(db *sql.DB) error {
	return postgresMigrations.apply(db)
}
