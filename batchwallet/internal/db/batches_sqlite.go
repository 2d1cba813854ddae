// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	// Register the pure Go sqlite driver.
	_ "modernc.org/sqlite"
)

// sqliteQueries are the finalized batch statements for SQLite.
var sqliteQueries = batchQueries{
	insert: `INSERT INTO finalized_batches
		(txid, psbt, raw_tx, num_inputs, num_outputs, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (txid) DO NOTHING`,

	get: `SELECT txid, psbt, raw_tx, num_inputs, num_outputs, created_at
		FROM finalized_batches WHERE txid = ?`,

	list: `SELECT txid, psbt, raw_tx, num_inputs, num_outputs, created_at
		FROM finalized_batches ORDER BY created_at, rowid`,
}

// SQLiteStore is the SQLite implementation of the BatchStore interface.
type SQLiteStore struct {
	db *sql.DB
}

// A compile time check to ensure SQLiteStore satisfies BatchStore.
var _ BatchStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a SQLite backed BatchStore on an already migrated
// database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &SQLiteStore{db: db}, nil
}

// SQLiteDSN returns the connection string used for the database file at
// path.
func SQLiteDSN(path string) string {
	// Enable foreign keys (required for proper constraint enforcement).
	dsn := path + "?_pragma=foreign_keys=on"

	// Enable WAL mode so readers don't block the writer.
	dsn += "&_pragma=journal_mode=WAL"

	// Enable immediate transaction locking to avoid races.
	dsn += "&_txlock=immediate"

	// Set busy timeout to 5 seconds. This makes SQLite retry acquiring
	// locks instead of immediately returning SQLITE_BUSY errors.
	dsn += "&_pragma=busy_timeout=5000"

	return dsn
}

// OpenSQLite opens the database file at path, applies the migrations and
// returns a store on it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dbConn, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := ApplySQLiteMigrations(dbConn); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return NewSQLiteStore(dbConn)
}

// InsertFinalizedBatch implements the BatchStore interface.
func (s *SQLiteStore) InsertFinalizedBatch(ctx context.Context,
	batch FinalizedBatch) (bool, error) {

	return insertBatch(ctx, s.db, &sqliteQueries, batch)
}

// GetFinalizedBatch implements the BatchStore interface.
func (s *SQLiteStore) GetFinalizedBatch(ctx context.Context,
	txid chainhash.Hash) (*FinalizedBatch, error) {

	return getBatch(ctx, s.db, &sqliteQueries, txid)
}

// ListFinalizedBatches implements the BatchStore interface.
func (s *SQLiteStore) ListFinalizedBatches(
	ctx context.Context) ([]FinalizedBatch, error) {

	return listBatches(ctx, s.db, &sqliteQueries)
}

// Close implements the BatchStore interface.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
