// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batchwallet

import "errors"

var (
	// ErrNilPacket is returned when a nil packet is passed to the wallet.
	ErrNilPacket = errors.New("nil psbt packet")

	// ErrInvalidOutputCount is returned when a contribution allows no
	// outputs at all.
	ErrInvalidOutputCount = errors.New("contribution must allow at " +
		"least one output")

	// ErrNoAmount is returned when a contribution has neither a fixed
	// amount nor a configured default amount.
	ErrNoAmount = errors.New("no contribution amount")

	// ErrNegativeFee is returned for a contribution with a negative fee.
	ErrNegativeFee = errors.New("negative contribution fee")

	// ErrInsufficientFunds is returned when the unlocked UTXOs can't
	// cover the contribution.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDustOutput is returned when the payment output would be dust.
	ErrDustOutput = errors.New("payment output is dust")

	// ErrFeeTooLow is returned when the fee share doesn't pay for the
	// contribution's own weight at the configured minimum fee rate.
	ErrFeeTooLow = errors.New("fee share below minimum fee rate")

	// ErrNotMine is returned when a UTXO doesn't pay to a wallet key.
	ErrNotMine = errors.New("output does not belong to the wallet")

	// ErrDuplicateUtxo is returned when a UTXO is added twice.
	ErrDuplicateUtxo = errors.New("utxo already known")

	// ErrUtxoMismatch is returned when a packet describes one of the
	// wallet's inputs differently than the wallet knows it.
	ErrUtxoMismatch = errors.New("packet input doesn't match wallet utxo")

	// ErrNoSignableInputs is returned when a packet has no input the
	// wallet contributed.
	ErrNoSignableInputs = errors.New("no signable inputs")

	// ErrIncompleteBatch is returned when a batch handed over for storage
	// can't be finalized.
	ErrIncompleteBatch = errors.New("batch is not fully signed")

	// ErrNoStore is returned when storing a batch without a configured
	// store.
	ErrNoStore = errors.New("no batch store configured")
)
