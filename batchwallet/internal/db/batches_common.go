// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// batchQueries holds the dialect specific statements of a backend.
type batchQueries struct {
	insert string
	get    string
	list   string
}

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// validateBatch checks a batch before it is written.
func validateBatch(batch *FinalizedBatch) error {
	switch {
	case batch.TxID == chainhash.Hash{}:
		return newError(ErrInvalidBatch, "missing txid", nil)

	case len(batch.Psbt) == 0:
		return newError(ErrInvalidBatch, "missing packet", nil)

	case len(batch.RawTx) == 0:
		return newError(ErrInvalidBatch, "missing raw transaction", nil)
	}

	return nil
}

// scanBatch reads a finalized batch row in the column order shared by all
// backends.
func scanBatch(row rowScanner) (*FinalizedBatch, error) {
	var (
		txid, packet, rawTx   []byte
		numInputs, numOutputs int64
		createdAt             int64
	)

	err := row.Scan(
		&txid, &packet, &rawTx, &numInputs, &numOutputs, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	return buildBatch(txid, packet, rawTx, numInputs, numOutputs,
		createdAt)
}

// buildBatch constructs a FinalizedBatch from the columns that are common
// across the database backends.
func buildBatch(txid, packet, rawTx []byte, numInputs, numOutputs,
	createdAt int64) (*FinalizedBatch, error) {

	hash, err := chainhash.NewHash(txid)
	if err != nil {
		return nil, newError(ErrInvalidBatch, "stored txid", err)
	}

	ins, err := int64ToUint32(numInputs)
	if err != nil {
		return nil, newError(ErrInvalidBatch, "stored input count", err)
	}

	outs, err := int64ToUint32(numOutputs)
	if err != nil {
		return nil, newError(ErrInvalidBatch, "stored output count",
			err)
	}

	return &FinalizedBatch{
		TxID:       *hash,
		Psbt:       packet,
		RawTx:      rawTx,
		NumInputs:  ins,
		NumOutputs: outs,
		CreatedAt:  time.Unix(createdAt, 0),
	}, nil
}

// int64ToUint32 converts a stored integer column, rejecting values that
// don't fit.
func int64ToUint32(v int64) (uint32, error) {
	if v < 0 || v > int64(^uint32(0)) {
		return 0, fmt.Errorf("value %d out of uint32 range", v)
	}

	return uint32(v), nil
}

// insertBatch writes a batch with the given dialect.
func insertBatch(ctx context.Context, db *sql.DB, q *batchQueries,
	batch FinalizedBatch) (bool, error) {

	if err := validateBatch(&batch); err != nil {
		return false, err
	}

	createdAt := batch.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var inserted bool
	err := execInTx(ctx, db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx, q.insert, batch.TxID[:], batch.Psbt, batch.RawTx,
			int64(batch.NumInputs), int64(batch.NumOutputs),
			createdAt.Unix(),
		)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		inserted = n > 0

		return nil
	})
	if err != nil {
		return false, newError(ErrDatabase, fmt.Sprintf("insert "+
			"batch %v", batch.TxID), err)
	}

	return inserted, nil
}

// getBatch reads a single batch with the given dialect.
func getBatch(ctx context.Context, db *sql.DB, q *batchQueries,
	txid chainhash.Hash) (*FinalizedBatch, error) {

	batch, err := scanBatch(db.QueryRowContext(ctx, q.get, txid[:]))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, newError(ErrBatchNotFound, fmt.Sprintf("batch %v "+
			"not found", txid), nil)

	case err != nil:
		return nil, newError(ErrDatabase, fmt.Sprintf("get batch %v",
			txid), err)
	}

	return batch, nil
}

// listBatches reads every batch with the given dialect.
func listBatches(ctx context.Context, db *sql.DB,
	q *batchQueries) ([]FinalizedBatch, error) {

	rows, err := db.QueryContext(ctx, q.list)
	if err != nil {
		return nil, newError(ErrDatabase, "list batches", err)
	}
	defer rows.Close()

	batches := make([]FinalizedBatch, 0)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, newError(ErrDatabase, "scan batch", err)
		}

		batches = append(batches, *batch)
	}

	if err := rows.Err(); err != nil {
		return nil, newError(ErrDatabase, "iterate batches", err)
	}

	return batches, nil
}
