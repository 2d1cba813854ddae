// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batchwallet

import (
	"bytes"
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcbatch/batch"
	"github.com/btcsuite/btcbatch/pkg/psbtcodec"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// newTestWallet creates a wallet backed by a SQLite store in a temporary
// directory.
func newTestWallet(t *testing.T, cfg *Config) *Wallet {
	t.Helper()

	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.Store == nil {
		store, err := OpenSQLiteStore(
			filepath.Join(t.TempDir(), "batches.db"),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			_ = store.Close()
		})

		cfg.Store = store
	}

	return New(cfg)
}

// fund adds one UTXO per value to the wallet and returns their outpoints.
func fund(t *testing.T, w *Wallet, values ...btcutil.Amount) []wire.OutPoint {
	t.Helper()

	ops := make([]wire.OutPoint, 0, len(values))
	for i, value := range values {
		addr, err := w.NewAddress()
		require.NoError(t, err)

		pkScript, err := txscript.PayToAddrScript(addr)
		require.NoError(t, err)

		var seed [8]byte
		binary.BigEndian.PutUint64(seed[:], uint64(value))

		op := wire.OutPoint{
			Hash:  chainhash.HashH(append(pkScript, seed[:]...)),
			Index: uint32(i),
		}
		err = w.AddUtxo(op, wire.NewTxOut(int64(value), pkScript))
		require.NoError(t, err)

		ops = append(ops, op)
	}

	return ops
}

// newPacket returns an empty batch packet.
func newPacket(t *testing.T) *psbt.Packet {
	t.Helper()

	packet, err := psbt.New(nil, nil, 2, 0, nil)
	require.NoError(t, err)

	return packet
}

// contribution returns a two output contribution of amount plus fee.
func contribution(amount, fee btcutil.Amount) batch.Contribution {
	return batch.Contribution{
		OutputCount: 2,
		FixedAmount: fn.Some(amount),
		Fee:         fee,
	}
}

// TestContribute checks coin selection and the outputs added for a
// contribution.
func TestContribute(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		utxos        []btcutil.Amount
		contribution batch.Contribution
		wantInputs   []btcutil.Amount
		wantOutputs  []btcutil.Amount
	}{
		{
			name:         "largest first with change",
			utxos:        []btcutil.Amount{10_000, 50_000, 30_000},
			contribution: contribution(35_000, 1_000),
			wantInputs:   []btcutil.Amount{50_000},
			wantOutputs:  []btcutil.Amount{35_000, 14_000},
		},
		{
			name:         "multiple inputs",
			utxos:        []btcutil.Amount{20_000, 20_000, 5_000},
			contribution: contribution(30_000, 500),
			wantInputs:   []btcutil.Amount{20_000, 20_000},
			wantOutputs:  []btcutil.Amount{30_000, 9_500},
		},
		{
			name:         "dust change goes to fee",
			utxos:        []btcutil.Amount{36_100},
			contribution: contribution(35_000, 1_000),
			wantInputs:   []btcutil.Amount{36_100},
			wantOutputs:  []btcutil.Amount{35_000},
		},
		{
			name:         "small change above dust is kept",
			utxos:        []btcutil.Amount{37_500},
			contribution: contribution(35_000, 1_000),
			wantInputs:   []btcutil.Amount{37_500},
			wantOutputs:  []btcutil.Amount{35_000, 1_500},
		},
		{
			name:         "exact amount",
			utxos:        []btcutil.Amount{36_000},
			contribution: contribution(35_000, 1_000),
			wantInputs:   []btcutil.Amount{36_000},
			wantOutputs:  []btcutil.Amount{35_000},
		},
		{
			name:  "single output allowed",
			utxos: []btcutil.Amount{50_000},
			contribution: batch.Contribution{
				OutputCount: 1,
				FixedAmount: fn.Some(btcutil.Amount(35_000)),
				Fee:         1_000,
			},
			wantInputs:  []btcutil.Amount{50_000},
			wantOutputs: []btcutil.Amount{35_000},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange.
			w := newTestWallet(t, nil)
			fund(t, w, tc.utxos...)

			var total btcutil.Amount
			for _, v := range tc.utxos {
				total += v
			}

			// Act.
			packet, err := w.Contribute(
				context.Background(), newPacket(t),
				tc.contribution,
			)

			// Assert: Inputs and outputs match, metadata is
			// aligned and the selected UTXOs are committed.
			require.NoError(t, err)
			require.Len(t, packet.Inputs, len(packet.UnsignedTx.TxIn))
			require.Len(t, packet.Outputs,
				len(packet.UnsignedTx.TxOut))

			var spent btcutil.Amount
			for i, in := range packet.Inputs {
				require.EqualValues(t, tc.wantInputs[i],
					in.WitnessUtxo.Value)
				require.Equal(t, txscript.SigHashAll,
					in.SighashType)

				spent += btcutil.Amount(in.WitnessUtxo.Value)
			}

			outputs := make([]btcutil.Amount, 0)
			for _, out := range packet.UnsignedTx.TxOut {
				outputs = append(outputs,
					btcutil.Amount(out.Value))
			}
			require.Equal(t, tc.wantOutputs, outputs)

			require.Len(t, w.LockedOutpoints(), len(tc.wantInputs))
			require.Equal(t, total-spent, w.Balance())
		})
	}
}

// TestContributeErrors checks the contributions a wallet refuses.
func TestContributeErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		cfg          *Config
		contribution batch.Contribution
		wantErr      error
	}{
		{
			name:         "insufficient funds",
			contribution: contribution(90_000, 1_000),
			wantErr:      ErrInsufficientFunds,
		},
		{
			name: "no amount",
			contribution: batch.Contribution{
				OutputCount: 2,
				FixedAmount: fn.None[btcutil.Amount](),
			},
			wantErr: ErrNoAmount,
		},
		{
			name:         "dust payment",
			contribution: contribution(100, 1_000),
			wantErr:      ErrDustOutput,
		},
		{
			name:         "fee below floor",
			cfg:          &Config{MinFeeRate: 10_000},
			contribution: contribution(35_000, 100),
			wantErr:      ErrFeeTooLow,
		},
		{
			name:         "negative fee",
			contribution: contribution(35_000, -1),
			wantErr:      ErrNegativeFee,
		},
		{
			name: "no outputs allowed",
			contribution: batch.Contribution{
				FixedAmount: fn.Some(btcutil.Amount(35_000)),
			},
			wantErr: ErrInvalidOutputCount,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			w := newTestWallet(t, tc.cfg)
			fund(t, w, 50_000, 30_000)
			packet := newPacket(t)

			_, err := w.Contribute(
				context.Background(), packet, tc.contribution,
			)
			require.ErrorIs(t, err, tc.wantErr)

			// Nothing was added or committed.
			require.Empty(t, packet.UnsignedTx.TxIn)
			require.Empty(t, packet.UnsignedTx.TxOut)
			require.Empty(t, w.LockedOutpoints())
			require.Equal(t, btcutil.Amount(80_000), w.Balance())
		})
	}
}

// TestContributeDefaultAmount checks that the configured default amount is
// used when the batch has no uniform amount, and that a high enough fee
// passes the fee floor.
func TestContributeDefaultAmount(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t, &Config{
		DefaultAmount: 25_000,
		MinFeeRate:    10_000,
	})
	fund(t, w, 50_000)

	packet, err := w.Contribute(context.Background(), newPacket(t),
		batch.Contribution{
			OutputCount: 2,
			FixedAmount: fn.None[btcutil.Amount](),
			Fee:         2_000,
		},
	)
	require.NoError(t, err)
	require.EqualValues(t, 25_000, packet.UnsignedTx.TxOut[0].Value)
	require.EqualValues(t, 23_000, packet.UnsignedTx.TxOut[1].Value)
}

// TestContributeSkipsCommitted checks that a UTXO committed to one batch is
// not selected for another one until it is released.
func TestContributeSkipsCommitted(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t, nil)
	ops := fund(t, w, 50_000, 40_000)

	first, err := w.Contribute(
		context.Background(), newPacket(t), contribution(30_000, 0),
	)
	require.NoError(t, err)
	require.Equal(
		t, ops[0], first.UnsignedTx.TxIn[0].PreviousOutPoint,
	)

	second, err := w.Contribute(
		context.Background(), newPacket(t), contribution(30_000, 0),
	)
	require.NoError(t, err)
	require.Equal(
		t, ops[1], second.UnsignedTx.TxIn[0].PreviousOutPoint,
	)

	_, err = w.Contribute(
		context.Background(), newPacket(t), contribution(30_000, 0),
	)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Release one commitment and it becomes available again.
	require.Equal(t, 1, w.ReleaseUtxos(ops[0]))
	require.Equal(t, 0, w.ReleaseUtxos(ops[0]))
	require.Equal(t, btcutil.Amount(50_000), w.Balance())

	// Releasing without arguments frees everything.
	require.Equal(t, 1, w.ReleaseUtxos())
	require.Empty(t, w.LockedOutpoints())
}

// TestAddUtxo checks the UTXOs the wallet refuses to track.
func TestAddUtxo(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t, nil)
	ops := fund(t, w, 10_000)

	foreign := wire.NewTxOut(10_000, []byte{
		txscript.OP_0, txscript.OP_DATA_20,
		0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9,
	})
	err := w.AddUtxo(wire.OutPoint{Index: 7}, foreign)
	require.ErrorIs(t, err, ErrNotMine)

	w.mu.Lock()
	known := w.utxos[ops[0]].txOut
	w.mu.Unlock()

	err = w.AddUtxo(ops[0], known)
	require.ErrorIs(t, err, ErrDuplicateUtxo)
}

// TestReleaseInputs checks that giving up on a batch only releases the
// wallet's own inputs of that batch.
func TestReleaseInputs(t *testing.T) {
	t.Parallel()

	// Arrange: Alice and Bob share a batch, and Alice has funds committed
	// to a second batch.
	alice, bob, shared := buildSharedBatch(t)
	fund(t, alice, 50_000)

	other, err := alice.Contribute(
		context.Background(), newPacket(t), contribution(40_000, 500),
	)
	require.NoError(t, err)
	require.Len(t, alice.LockedOutpoints(), 2)

	// Act: Bob gives up on the shared batch.
	released := bob.ReleaseInputs(shared)

	// Assert: Only Bob's inputs are free again.
	require.Equal(t, 2, released)
	require.Empty(t, bob.LockedOutpoints())
	require.Equal(t, btcutil.Amount(60_000), bob.Balance())
	require.Len(t, alice.LockedOutpoints(), 2)

	// Act: Alice gives up on the shared batch.
	released = alice.ReleaseInputs(shared)

	// Assert: Her other batch keeps its input.
	require.Equal(t, 1, released)
	require.Equal(t, []wire.OutPoint{
		other.UnsignedTx.TxIn[0].PreviousOutPoint,
	}, alice.LockedOutpoints())

	// An empty or missing packet releases nothing.
	require.Zero(t, alice.ReleaseInputs(newPacket(t)))
	require.Zero(t, alice.ReleaseInputs(nil))
	require.Len(t, alice.LockedOutpoints(), 1)
}

// buildSharedBatch has two wallets contribute to the same packet.
func buildSharedBatch(t *testing.T) (*Wallet, *Wallet, *psbt.Packet) {
	t.Helper()

	alice := newTestWallet(t, nil)
	bob := newTestWallet(t, nil)
	fund(t, alice, 60_000)
	fund(t, bob, 30_000, 30_000)

	packet := newPacket(t)

	packet, err := alice.Contribute(
		context.Background(), packet, contribution(40_000, 500),
	)
	require.NoError(t, err)

	packet, err = bob.Contribute(
		context.Background(), packet, contribution(40_000, 500),
	)
	require.NoError(t, err)

	return alice, bob, packet
}

// requireValidWitnesses executes the scripts of every input of a final
// transaction.
func requireValidWitnesses(t *testing.T, packet *psbt.Packet,
	tx *wire.MsgTx) {

	t.Helper()

	fetcher := prevOutputFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for idx, txIn := range tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(txIn.PreviousOutPoint)
		require.NotNil(t, prevOut)

		vm, err := txscript.NewEngine(
			prevOut.PkScript, tx, idx, txscript.StandardVerifyFlags,
			nil, sigHashes, prevOut.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", idx)
	}
}

// TestSignAndStore walks a two party batch through signing, finalization
// and storage.
func TestSignAndStore(t *testing.T) {
	t.Parallel()

	// Arrange: Alice and Bob contributed to the same batch.
	alice, bob, packet := buildSharedBatch(t)
	codec := psbtcodec.New(psbtcodec.Binary)

	// Act: Alice signs first.
	packet, err := alice.SignOwnInputs(context.Background(), packet)
	require.NoError(t, err)

	// Assert: Only Alice's input carries a signature.
	require.Len(t, packet.Inputs[0].PartialSigs, 1)
	require.Empty(t, packet.Inputs[1].PartialSigs)
	require.Empty(t, packet.Inputs[2].PartialSigs)

	// Storing now fails because Bob didn't sign.
	partial, err := codec.Encode(packet)
	require.NoError(t, err)
	err = alice.StoreFinalized(context.Background(), partial)
	require.ErrorIs(t, err, ErrIncompleteBatch)

	// Act: Bob signs and Alice stores the batch.
	packet, err = bob.SignOwnInputs(context.Background(), packet)
	require.NoError(t, err)

	final, err := codec.Encode(packet)
	require.NoError(t, err)
	require.NoError(t, alice.StoreFinalized(context.Background(), final))

	// Assert: The stored transaction is fully valid.
	txid := packet.UnsignedTx.TxHash()
	stored, err := alice.GetFinalizedBatch(context.Background(), txid)
	require.NoError(t, err)
	require.EqualValues(t, 3, stored.NumInputs)
	require.EqualValues(t, 4, stored.NumOutputs)

	tx := wire.NewMsgTx(2)
	require.NoError(t, tx.Deserialize(bytes.NewReader(stored.RawTx)))
	require.Equal(t, txid, tx.TxHash())
	requireValidWitnesses(t, packet, tx)

	// Assert: Alice forgot her spent UTXO.
	require.Empty(t, alice.LockedOutpoints())
	require.Zero(t, alice.Balance())

	// Storing the same batch again is harmless.
	require.NoError(t, alice.StoreFinalized(context.Background(), final))

	batches, err := alice.FinalizedBatches(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 1)

	_, err = alice.GetFinalizedBatch(
		context.Background(), chainhash.Hash{1},
	)
	require.True(t, IsBatchNotFound(err))
}

// TestSignErrors checks the packets a wallet refuses to sign.
func TestSignErrors(t *testing.T) {
	t.Parallel()

	_, bob, packet := buildSharedBatch(t)

	// A wallet that didn't contribute has nothing to sign.
	carol := newTestWallet(t, nil)
	fund(t, carol, 10_000)

	_, err := carol.SignOwnInputs(context.Background(), packet)
	require.ErrorIs(t, err, ErrNoSignableInputs)

	// A packet lying about the value of Bob's input is rejected.
	packet.Inputs[1].WitnessUtxo.Value++

	_, err = bob.SignOwnInputs(context.Background(), packet)
	require.ErrorIs(t, err, ErrUtxoMismatch)

	_, err = bob.SignOwnInputs(context.Background(), nil)
	require.ErrorIs(t, err, ErrNilPacket)
}

// TestStoreFinalizedNoStore checks that storing without a store fails
// cleanly.
func TestStoreFinalizedNoStore(t *testing.T) {
	t.Parallel()

	w := New(&Config{})

	err := w.StoreFinalized(context.Background(), []byte{1})
	require.ErrorIs(t, err, ErrNoStore)

	_, err = w.FinalizedBatches(context.Background())
	require.ErrorIs(t, err, ErrNoStore)
}
