// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	// Register the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// postgresQueries are the finalized batch statements for PostgreSQL.
var postgresQueries = batchQueries{
	insert: `INSERT INTO finalized_batches
		(txid, psbt, raw_tx, num_inputs, num_outputs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (txid) DO NOTHING`,

	get: `SELECT txid, psbt, raw_tx, num_inputs, num_outputs, created_at
		FROM finalized_batches WHERE txid = $1`,

	list: `SELECT txid, psbt, raw_tx, num_inputs, num_outputs, created_at
		FROM finalized_batches ORDER BY created_at, txid`,
}

// PostgresStore is the PostgreSQL implementation of the BatchStore
// interface.
type PostgresStore struct {
	db *sql.DB
}

// A compile time check to ensure PostgresStore satisfies BatchStore.
var _ BatchStore = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL backed BatchStore on an already
// migrated database.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &PostgresStore{db: db}, nil
}

// OpenPostgres connects to the database at dsn, applies the migrations and
// returns a store on it.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	dbConn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	if err := ApplyPostgresMigrations(dbConn); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return NewPostgresStore(dbConn)
}

// InsertFinalizedBatch implements the BatchStore interface.
func (s *PostgresStore) InsertFinalizedBatch(ctx context.Context,
	batch FinalizedBatch) (bool, error) {

	return insertBatch(ctx, s.db, &postgresQueries, batch)
}

// GetFinalizedBatch implements the BatchStore interface.
func (s *PostgresStore) GetFinalizedBatch(ctx context.Context,
	txid chainhash.Hash) (*FinalizedBatch, error) {

	return getBatch(ctx, s.db, &postgresQueries, txid)
}

// ListFinalizedBatches implements the BatchStore interface.
func (s *PostgresStore) ListFinalizedBatches(
	ctx context.Context) ([]FinalizedBatch, error) {

	return listBatches(ctx, s.db, &postgresQueries)
}

// Close implements the BatchStore interface.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
