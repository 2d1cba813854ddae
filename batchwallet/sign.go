// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batchwallet

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
)

// SignOwnInputs adds a partial signature to every input of the packet that
// spends a UTXO this wallet committed to a batch. Inputs of other
// participants are left untouched.
//
// This is part of the batch.Wallet interface.
func (w *Wallet) SignOwnInputs(ctx context.Context,
	packet *psbt.Packet) (*psbt.Packet, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if packet == nil || packet.UnsignedTx == nil {
		return nil, ErrNilPacket
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, fmt.Errorf("invalid packet: %w", err)
	}

	tx := packet.UnsignedTx
	sigHashes := txscript.NewTxSigHashes(tx, prevOutputFetcher(packet))

	w.mu.Lock()
	defer w.mu.Unlock()

	var signed int
	for idx, txIn := range tx.TxIn {
		u, ok := w.ownedInput(txIn.PreviousOutPoint)
		if !ok {
			continue
		}

		in := &packet.Inputs[idx]
		if !matchesUtxo(u, in.WitnessUtxo) {
			return nil, fmt.Errorf("%w: input %d (%v)",
				ErrUtxoMismatch, idx, txIn.PreviousOutPoint)
		}

		key := w.keys[string(u.txOut.PkScript)]
		sig, err := txscript.RawTxInWitnessSignature(
			tx, sigHashes, idx, u.txOut.Value, u.txOut.PkScript,
			txscript.SigHashAll, key,
		)
		if err != nil {
			return nil, fmt.Errorf("error signing input %d: %w", idx,
				err)
		}

		outcome, err := updater.Sign(
			idx, sig, key.PubKey().SerializeCompressed(), nil, nil,
		)
		if err != nil {
			return nil, fmt.Errorf("error adding signature for "+
				"input %d: %w", idx, err)
		}

		switch outcome {
		case psbt.SignSuccesful:
			signed++

		case psbt.SignFinalized:
			log.Debugf("Input %d already finalized", idx)
			signed++

		default:
			return nil, fmt.Errorf("signature for input %d "+
				"rejected", idx)
		}
	}

	if signed == 0 {
		return nil, ErrNoSignableInputs
	}

	log.Debugf("Signed %d of %d batch inputs", signed, len(tx.TxIn))

	return packet, nil
}

// prevOutputFetcher returns a txscript.PrevOutputFetcher built from the UTXO
// information in a packet.
func prevOutputFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range packet.UnsignedTx.TxIn {
		in := packet.Inputs[idx]

		switch {
		case in.NonWitnessUtxo != nil:
			prevIndex := txIn.PreviousOutPoint.Index
			if int(prevIndex) >= len(in.NonWitnessUtxo.TxOut) {
				continue
			}

			fetcher.AddPrevOut(
				txIn.PreviousOutPoint,
				in.NonWitnessUtxo.TxOut[prevIndex],
			)

		case in.WitnessUtxo != nil:
			fetcher.AddPrevOut(txIn.PreviousOutPoint, in.WitnessUtxo)
		}
	}

	return fetcher
}
