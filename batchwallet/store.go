// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batchwallet

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcbatch/batchwallet/internal/db"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

type (
	// FinalizedBatch is a stored, fully signed batch transaction.
	FinalizedBatch = db.FinalizedBatch

	// Store persists finalized batches.
	Store = db.BatchStore

	// SQLiteStore is a Store backed by a SQLite database file.
	SQLiteStore = db.SQLiteStore

	// PostgresStore is a Store backed by a PostgreSQL database.
	PostgresStore = db.PostgresStore
)

// OpenSQLiteStore opens, and migrates if needed, the SQLite batch store at
// path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	return db.OpenSQLite(path)
}

// OpenPostgresStore connects to, and migrates if needed, the PostgreSQL
// batch store at dsn.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	return db.OpenPostgres(dsn)
}

// IsBatchNotFound returns whether err reports an unknown batch.
func IsBatchNotFound(err error) bool {
	return db.IsError(err, db.ErrBatchNotFound)
}

// StoreFinalized finalizes the inputs of a fully signed batch, extracts the
// network transaction and persists both. The wallet's UTXOs spent by the
// batch are forgotten.
//
// This is part of the batch.Wallet interface.
func (w *Wallet) StoreFinalized(ctx context.Context, rawPsbt []byte) error {
	if w.cfg.Store == nil {
		return ErrNoStore
	}

	packet, err := w.cfg.Codec.Decode(rawPsbt)
	if err != nil {
		return err
	}

	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return fmt.Errorf("%w: %w", ErrIncompleteBatch, err)
	}

	tx, err := psbt.Extract(packet)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIncompleteBatch, err)
	}

	var rawTx bytes.Buffer
	if err := tx.Serialize(&rawTx); err != nil {
		return err
	}

	final, err := w.cfg.Codec.Encode(packet)
	if err != nil {
		return err
	}

	txid := tx.TxHash()
	inserted, err := w.cfg.Store.InsertFinalizedBatch(ctx, FinalizedBatch{
		TxID:       txid,
		Psbt:       final,
		RawTx:      rawTx.Bytes(),
		NumInputs:  uint32(len(tx.TxIn)),
		NumOutputs: uint32(len(tx.TxOut)),
		CreatedAt:  time.Now(),
	})
	if err != nil {
		return err
	}

	if inserted {
		log.Infof("Stored finalized batch %v (inputs=%d, outputs=%d)",
			txid, len(tx.TxIn), len(tx.TxOut))
	} else {
		log.Debugf("Finalized batch %v already stored", txid)
	}

	w.markSpent(tx)

	return nil
}

// GetFinalizedBatch returns the stored batch with the given txid.
func (w *Wallet) GetFinalizedBatch(ctx context.Context,
	txid chainhash.Hash) (*FinalizedBatch, error) {

	if w.cfg.Store == nil {
		return nil, ErrNoStore
	}

	return w.cfg.Store.GetFinalizedBatch(ctx, txid)
}

// FinalizedBatches returns every stored batch, oldest first.
func (w *Wallet) FinalizedBatches(
	ctx context.Context) ([]FinalizedBatch, error) {

	if w.cfg.Store == nil {
		return nil, ErrNoStore
	}

	return w.cfg.Store.ListFinalizedBatches(ctx)
}
