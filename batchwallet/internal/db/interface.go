// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// FinalizedBatch is a fully signed batch transaction as it was handed to the
// wallet at the end of the signing round.
type FinalizedBatch struct {
	// TxID is the hash of the extracted transaction.
	TxID chainhash.Hash

	// Psbt is the finalized packet in its transport encoding.
	Psbt []byte

	// RawTx is the serialized, fully signed transaction.
	RawTx []byte

	// NumInputs is the number of inputs of the transaction.
	NumInputs uint32

	// NumOutputs is the number of outputs of the transaction.
	NumOutputs uint32

	// CreatedAt is when the batch was stored, with second precision.
	CreatedAt time.Time
}

// BatchStore persists finalized batches.
type BatchStore interface {
	// InsertFinalizedBatch stores a batch. It reports false without an
	// error if a batch with the same txid already exists.
	InsertFinalizedBatch(ctx context.Context, batch FinalizedBatch) (bool,
		error)

	// GetFinalizedBatch returns the batch with the given txid. An Error
	// with code ErrBatchNotFound is returned if there is none.
	GetFinalizedBatch(ctx context.Context,
		txid chainhash.Hash) (*FinalizedBatch, error)

	// ListFinalizedBatches returns every stored batch, oldest first.
	ListFinalizedBatches(ctx context.Context) ([]FinalizedBatch, error)

	// Close releases the underlying database handle.
	Close() error
}
