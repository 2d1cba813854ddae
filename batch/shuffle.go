// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand/v2"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// NewCryptoShuffler returns a ChaCha8 backed shuffler seeded from the
// operating system's entropy source. A fresh one is created for every batch.
func NewCryptoShuffler() Shuffler {
	var seed [32]byte

	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(seed[:])

	return mrand.New(mrand.NewChaCha8(seed))
}

// NewSeededShuffler returns a deterministic shuffler for reproducible runs.
func NewSeededShuffler(seed uint64) Shuffler {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:], seed)

	return mrand.New(mrand.NewChaCha8(s))
}

// checkAlignment verifies that the packet's input and output metadata line up
// with the unsigned transaction.
func checkAlignment(packet *psbt.Packet) error {
	if packet == nil || packet.UnsignedTx == nil {
		return newError(ErrParse, "packet has no unsigned tx", nil)
	}

	if len(packet.Inputs) != len(packet.UnsignedTx.TxIn) {
		return newError(ErrParse, fmt.Sprintf("input metadata count "+
			"%d does not match input count %d",
			len(packet.Inputs), len(packet.UnsignedTx.TxIn)), nil)
	}

	if len(packet.Outputs) != len(packet.UnsignedTx.TxOut) {
		return newError(ErrParse, fmt.Sprintf("output metadata "+
			"count %d does not match output count %d",
			len(packet.Outputs), len(packet.UnsignedTx.TxOut)), nil)
	}

	return nil
}

// shufflePacket permutes the (metadata, input) pairs and, independently, the
// (metadata, output) pairs of the packet. Each swap moves both halves of a
// pair so the alignment holds after every step.
func shufflePacket(packet *psbt.Packet, s Shuffler) error {
	if err := checkAlignment(packet); err != nil {
		return err
	}

	tx := packet.UnsignedTx

	s.Shuffle(len(tx.TxIn), func(i, j int) {
		packet.Inputs[i], packet.Inputs[j] = packet.Inputs[j],
			packet.Inputs[i]
		tx.TxIn[i], tx.TxIn[j] = tx.TxIn[j], tx.TxIn[i]
	})

	s.Shuffle(len(tx.TxOut), func(i, j int) {
		packet.Outputs[i], packet.Outputs[j] = packet.Outputs[j],
			packet.Outputs[i]
		tx.TxOut[i], tx.TxOut[j] = tx.TxOut[j], tx.TxOut[i]
	})

	return nil
}
