// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package batchwallet implements the wallet side of collaborative batching: a
// keyring of P2WKH keys with an in-memory UTXO set that funds batch
// contributions, signs its own inputs and persists finalized batches.
package batchwallet

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/btcsuite/btcbatch/batch"
	"github.com/btcsuite/btcbatch/pkg/psbtcodec"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Config holds the parameters of a Wallet.
type Config struct {
	// ChainParams are the network parameters addresses are derived for.
	// Defaults to simnet.
	ChainParams *chaincfg.Params

	// RelayFeePerKb is the relay fee used for dust checks. Defaults to
	// txrules.DefaultRelayFeePerKb.
	RelayFeePerKb btcutil.Amount

	// MinFeeRate is the minimum fee rate, in sat/kvB, the fee share of a
	// contribution must pay for the contribution's own size. Zero
	// disables the check.
	MinFeeRate btcutil.Amount

	// DefaultAmount is the payment amount used when a batch doesn't ask
	// for a uniform amount.
	DefaultAmount btcutil.Amount

	// PaymentAddress receives the payment output of every contribution.
	// If nil, a fresh wallet address is used.
	PaymentAddress btcutil.Address

	// Codec decodes finalized batches. Defaults to the binary codec.
	Codec batch.Codec

	// Store persists finalized batches.
	Store Store
}

// utxo is an unspent output controlled by one of the wallet's keys.
type utxo struct {
	outPoint wire.OutPoint
	txOut    *wire.TxOut
}

// Wallet is a keyring wallet that participates in collaborative batches.
type Wallet struct {
	cfg *Config

	// mu guards the fields below.
	mu sync.Mutex

	// keys maps a P2WKH pkScript to the key that can spend it.
	keys map[string]*btcec.PrivateKey

	utxos map[wire.OutPoint]*utxo

	// locked holds the outpoints committed to a batch in flight.
	locked fn.Set[wire.OutPoint]
}

// A compile time check to ensure Wallet satisfies batch.Wallet.
var _ batch.Wallet = (*Wallet)(nil)

// New creates an empty wallet.
func New(cfg *Config) *Wallet {
	if cfg.ChainParams == nil {
		cfg.ChainParams = &chaincfg.SimNetParams
	}

	if cfg.RelayFeePerKb == 0 {
		cfg.RelayFeePerKb = txrules.DefaultRelayFeePerKb
	}

	if cfg.Codec == nil {
		cfg.Codec = psbtcodec.New(psbtcodec.Binary)
	}

	return &Wallet{
		cfg:    cfg,
		keys:   make(map[string]*btcec.PrivateKey),
		utxos:  make(map[wire.OutPoint]*utxo),
		locked: fn.NewSet[wire.OutPoint](),
	}
}

// NewAddress derives a fresh P2WKH address from a new random key.
func (w *Wallet) NewAddress() (btcutil.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	addr, _, err := w.newAddress()

	return addr, err
}

// newAddress derives a fresh P2WKH address and returns it together with its
// pkScript.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) newAddress() (btcutil.Address, []byte, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("unable to generate key: %w", err)
	}

	pubKeyHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		pubKeyHash, w.cfg.ChainParams,
	)
	if err != nil {
		return nil, nil, err
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, nil, err
	}

	w.keys[string(pkScript)] = key

	return addr, pkScript, nil
}

// AddUtxo makes an output paying to one of the wallet's addresses
// available for contributions.
func (w *Wallet) AddUtxo(op wire.OutPoint, txOut *wire.TxOut) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.keys[string(txOut.PkScript)]; !ok {
		return fmt.Errorf("%w: %v", ErrNotMine, op)
	}

	if _, ok := w.utxos[op]; ok {
		return fmt.Errorf("%w: %v", ErrDuplicateUtxo, op)
	}

	w.utxos[op] = &utxo{
		outPoint: op,
		txOut: &wire.TxOut{
			Value:    txOut.Value,
			PkScript: slices.Clone(txOut.PkScript),
		},
	}

	log.Debugf("Added utxo %v (%v)", op, btcutil.Amount(txOut.Value))

	return nil
}

// Balance returns the total value of the UTXOs that aren't committed to a
// batch.
func (w *Wallet) Balance() btcutil.Amount {
	w.mu.Lock()
	defer w.mu.Unlock()

	var total btcutil.Amount
	for op, u := range w.utxos {
		if w.locked.Contains(op) {
			continue
		}

		total += btcutil.Amount(u.txOut.Value)
	}

	return total
}

// LockedOutpoints returns the outpoints currently committed to batches.
func (w *Wallet) LockedOutpoints() []wire.OutPoint {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.locked.ToSlice()
}

// ReleaseUtxos makes committed outpoints available again, for example after
// a batch stalled. Without arguments every committed outpoint is released.
// It returns the number of released outpoints.
func (w *Wallet) ReleaseUtxos(ops ...wire.OutPoint) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(ops) == 0 {
		ops = w.locked.ToSlice()
	}

	var released int
	for _, op := range ops {
		if !w.locked.Contains(op) {
			continue
		}

		w.locked.Remove(op)
		released++
	}

	if released > 0 {
		log.Infof("Released %d committed utxos", released)
	}

	return released
}

// ReleaseInputs releases the committed outpoints spent by the packet's
// inputs. Inputs of other participants are ignored.
//
// This is part of the batch.Wallet interface.
func (w *Wallet) ReleaseInputs(packet *psbt.Packet) int {
	if packet == nil || packet.UnsignedTx == nil {
		return 0
	}

	ops := make([]wire.OutPoint, 0, len(packet.UnsignedTx.TxIn))
	for _, txIn := range packet.UnsignedTx.TxIn {
		ops = append(ops, txIn.PreviousOutPoint)
	}

	// Without outpoints ReleaseUtxos would release everything.
	if len(ops) == 0 {
		return 0
	}

	return w.ReleaseUtxos(ops...)
}

// ownedInput returns the wallet UTXO spent by a locked input, if any.
//
// NOTE: The caller must hold w.mu.
func (w *Wallet) ownedInput(op wire.OutPoint) (*utxo, bool) {
	if !w.locked.Contains(op) {
		return nil, false
	}

	u, ok := w.utxos[op]

	return u, ok
}

// markSpent forgets the wallet UTXOs spent by a finalized transaction.
func (w *Wallet) markSpent(tx *wire.MsgTx) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, txIn := range tx.TxIn {
		op := txIn.PreviousOutPoint
		if _, ok := w.utxos[op]; !ok {
			continue
		}

		delete(w.utxos, op)
		w.locked.Remove(op)
	}
}

// matchesUtxo reports whether a packet's witness UTXO is the one the wallet
// knows for the outpoint.
func matchesUtxo(u *utxo, witnessUtxo *wire.TxOut) bool {
	return witnessUtxo != nil && witnessUtxo.Value == u.txOut.Value &&
		bytes.Equal(witnessUtxo.PkScript, u.txOut.PkScript)
}
