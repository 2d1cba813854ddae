// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batchwallet

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/btcsuite/btcbatch/batch"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// Contribute funds a payment output of the requested amount plus the fee
// share from the wallet's unlocked UTXOs, largest first, and appends the
// selected inputs, the payment output and, unless it would be dust, a change
// output to the packet. The selected UTXOs stay committed to the batch until
// it is finalized or they are released.
//
// This is part of the batch.Wallet interface.
func (w *Wallet) Contribute(ctx context.Context, packet *psbt.Packet,
	c batch.Contribution) (*psbt.Packet, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch {
	case packet == nil || packet.UnsignedTx == nil:
		return nil, ErrNilPacket

	case c.OutputCount < 1:
		return nil, fmt.Errorf("%w: got %d", ErrInvalidOutputCount,
			c.OutputCount)

	case c.Fee < 0:
		return nil, ErrNegativeFee
	}

	amount := c.FixedAmount.UnwrapOr(w.cfg.DefaultAmount)
	if amount <= 0 {
		return nil, ErrNoAmount
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	payOut, err := w.paymentOutput(amount)
	if err != nil {
		return nil, err
	}

	target := amount + c.Fee
	selected, total, err := w.selectCoins(target)
	if err != nil {
		return nil, err
	}

	outputs := []*wire.TxOut{payOut}
	feePaid := c.Fee

	changeOut, err := w.changeOutput(total-target, c.OutputCount)
	if err != nil {
		return nil, err
	}

	switch {
	case changeOut != nil:
		outputs = append(outputs, changeOut)

	case total > target:
		log.Debugf("Adding change of %v to the fee", total-target)
		feePaid += total - target
	}

	if err := w.checkFeeFloor(len(selected), outputs, feePaid); err != nil {
		return nil, err
	}

	for _, u := range selected {
		packet.UnsignedTx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: u.outPoint,
			Sequence:         wire.MaxTxInSequenceNum,
		})
		packet.Inputs = append(packet.Inputs, psbt.PInput{
			WitnessUtxo: &wire.TxOut{
				Value:    u.txOut.Value,
				PkScript: slices.Clone(u.txOut.PkScript),
			},
			SighashType: txscript.SigHashAll,
		})

		w.locked.Add(u.outPoint)
	}

	for _, out := range outputs {
		packet.UnsignedTx.AddTxOut(out)
		packet.Outputs = append(packet.Outputs, psbt.POutput{})
	}

	log.Debugf("Contributed %d inputs (%v) and %d outputs to batch, "+
		"fee=%v", len(selected), total, len(outputs), feePaid)

	return packet, nil
}

// paymentOutput builds the payment output of a contribution.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) paymentOutput(amount btcutil.Amount) (*wire.TxOut, error) {
	var (
		pkScript []byte
		err      error
	)
	if w.cfg.PaymentAddress != nil {
		pkScript, err = txscript.PayToAddrScript(w.cfg.PaymentAddress)
	} else {
		_, pkScript, err = w.newAddress()
	}
	if err != nil {
		return nil, err
	}

	out := wire.NewTxOut(int64(amount), pkScript)
	if err := txrules.CheckOutput(out, w.cfg.RelayFeePerKb); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDustOutput, err)
	}

	return out, nil
}

// changeOutput returns the change output of a contribution, or nil if there
// is no change, the contribution may only add one output, or the change
// would be dust.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) changeOutput(change btcutil.Amount,
	outputCount int) (*wire.TxOut, error) {

	if change <= 0 || outputCount < 2 {
		return nil, nil
	}

	_, changeScript, err := w.newAddress()
	if err != nil {
		return nil, err
	}

	out := wire.NewTxOut(int64(change), changeScript)
	if txrules.IsDustOutput(out, w.cfg.RelayFeePerKb) {
		return nil, nil
	}

	return out, nil
}

// selectCoins picks unlocked UTXOs, largest first, until their value covers
// target.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) selectCoins(target btcutil.Amount) ([]*utxo,
	btcutil.Amount, error) {

	candidates := make([]*utxo, 0, len(w.utxos))
	for op, u := range w.utxos {
		if w.locked.Contains(op) {
			continue
		}

		candidates = append(candidates, u)
	}

	// Ties are broken by outpoint so the selection is deterministic.
	slices.SortFunc(candidates, func(a, b *utxo) int {
		if c := cmp.Compare(b.txOut.Value, a.txOut.Value); c != 0 {
			return c
		}

		if c := bytes.Compare(
			a.outPoint.Hash[:], b.outPoint.Hash[:],
		); c != 0 {
			return c
		}

		return cmp.Compare(a.outPoint.Index, b.outPoint.Index)
	})

	var (
		selected []*utxo
		total    btcutil.Amount
	)
	for _, u := range candidates {
		if total >= target {
			break
		}

		selected = append(selected, u)
		total += btcutil.Amount(u.txOut.Value)
	}

	if total < target {
		return nil, 0, fmt.Errorf("%w: need %v, have %v",
			ErrInsufficientFunds, target, total)
	}

	return selected, total, nil
}

// checkFeeFloor makes sure the fee paid by a contribution covers the
// contribution's own virtual size at the configured minimum fee rate.
func (w *Wallet) checkFeeFloor(numInputs int, outputs []*wire.TxOut,
	feePaid btcutil.Amount) error {

	if w.cfg.MinFeeRate == 0 {
		return nil
	}

	vsize := txsizes.EstimateVirtualSize(0, 0, numInputs, 0, outputs, 0)
	minFee := txrules.FeeForSerializeSize(w.cfg.MinFeeRate, vsize)
	if feePaid < minFee {
		return fmt.Errorf("%w: paying %v, need %v for %d vbytes",
			ErrFeeTooLow, feePaid, minFee, vsize)
	}

	return nil
}
