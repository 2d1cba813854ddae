// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
)

// mockChannels is a mock implementation of the ChannelManager interface.
type mockChannels struct {
	mock.Mock
}

// A compile time check to ensure mockChannels satisfies ChannelManager.
var _ ChannelManager = (*mockChannels)(nil)

// ListOpenChannels implements the ChannelManager interface.
func (m *mockChannels) ListOpenChannels() []ChannelInfo {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).([]ChannelInfo)
}

// ListChannelsWith implements the ChannelManager interface.
func (m *mockChannels) ListChannelsWith(peer NodeID) []ChannelInfo {
	args := m.Called(peer)
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).([]ChannelInfo)
}

// SendBatchRequest implements the ChannelManager interface.
func (m *mockChannels) SendBatchRequest(ctx context.Context, peer NodeID,
	req *BatchRequest) error {

	args := m.Called(ctx, peer, req)
	return args.Error(0)
}

// mockWallet is a mock implementation of the Wallet interface. On success,
// Contribute appends one input and two outputs tagged with a running
// counter so tests can follow them through a shuffle.
type mockWallet struct {
	mock.Mock

	mu      sync.Mutex
	counter uint32
}

// A compile time check to ensure mockWallet satisfies Wallet.
var _ Wallet = (*mockWallet)(nil)

// Contribute implements the Wallet interface.
func (m *mockWallet) Contribute(ctx context.Context, packet *psbt.Packet,
	c Contribution) (*psbt.Packet, error) {

	args := m.Called(ctx, packet, c)
	if err := args.Error(0); err != nil {
		return nil, err
	}

	m.mu.Lock()
	tag := m.counter
	m.counter++
	m.mu.Unlock()

	appendTagged(packet, tag)

	return packet, nil
}

// SignOwnInputs implements the Wallet interface.
func (m *mockWallet) SignOwnInputs(ctx context.Context,
	packet *psbt.Packet) (*psbt.Packet, error) {

	args := m.Called(ctx, packet)
	if err := args.Error(0); err != nil {
		return nil, err
	}

	return packet, nil
}

// StoreFinalized implements the Wallet interface.
func (m *mockWallet) StoreFinalized(ctx context.Context,
	rawPsbt []byte) error {

	args := m.Called(ctx, rawPsbt)
	return args.Error(0)
}

// ReleaseInputs implements the Wallet interface.
func (m *mockWallet) ReleaseInputs(packet *psbt.Packet) int {
	args := m.Called(packet)
	return args.Int(0)
}

// appendTagged appends one input and two outputs to the packet. The input's
// outpoint index and witness value, and each output's value and redeem
// script, all encode the tag so the pairs can be told apart.
func appendTagged(packet *psbt.Packet, tag uint32) {
	tx := packet.UnsignedTx

	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{byte(tag + 1)},
			Index: tag,
		},
		Sequence: wire.MaxTxInSequenceNum,
	})
	packet.Inputs = append(packet.Inputs, psbt.PInput{
		WitnessUtxo: &wire.TxOut{
			Value:    int64(10_000 + tag),
			PkScript: []byte{0x51},
		},
	})

	for i := uint32(0); i < 2; i++ {
		v := int64(20_000 + tag*2 + i)
		tx.AddTxOut(&wire.TxOut{Value: v, PkScript: []byte{0x51}})
		packet.Outputs = append(packet.Outputs, psbt.POutput{
			RedeemScript: []byte{byte(tag*2 + i)},
		})
	}
}
