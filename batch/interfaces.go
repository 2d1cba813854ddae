// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"context"
	"math/rand/v2"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ChannelInfo describes one open channel to a direct peer.
type ChannelInfo struct {
	// Peer is the channel counterparty.
	Peer NodeID

	// ChannelID identifies the channel on the local node.
	ChannelID uint64

	// Capacity is the total channel capacity.
	Capacity btcutil.Amount
}

// ChannelManager exposes the local channel inventory and the transport used
// to reach direct peers.
type ChannelManager interface {
	// ListOpenChannels returns all currently open channels.
	ListOpenChannels() []ChannelInfo

	// ListChannelsWith returns the open channels with the given peer.
	ListChannelsWith(peer NodeID) []ChannelInfo

	// SendBatchRequest delivers req to the given direct peer. It fails if
	// the peer is unreachable or no channel exists.
	SendBatchRequest(ctx context.Context, peer NodeID,
		req *BatchRequest) error
}

// Contribution describes what a joining node adds to the batch.
type Contribution struct {
	// OutputCount is the number of outputs the node may add, typically a
	// payment output and a change output.
	OutputCount int

	// FixedAmount is the uniform output amount, if the originator asked
	// for one. Otherwise the wallet picks a residual or default amount.
	FixedAmount fn.Option[btcutil.Amount]

	// Fee is the share of the transaction fee the node must cover.
	Fee btcutil.Amount
}

// Wallet provides funding, signing and storage of batches.
type Wallet interface {
	// Contribute appends the wallet's inputs and outputs to the packet.
	// It must keep the packet's input and output metadata aligned with the
	// unsigned transaction.
	Contribute(ctx context.Context, packet *psbt.Packet,
		c Contribution) (*psbt.Packet, error)

	// SignOwnInputs adds signatures for every input owned by the wallet.
	// It fails if no signable input is found.
	SignOwnInputs(ctx context.Context, packet *psbt.Packet) (
		*psbt.Packet, error)

	// StoreFinalized persists a fully signed, encoded batch.
	StoreFinalized(ctx context.Context, rawPsbt []byte) error

	// ReleaseInputs makes the wallet's committed UTXOs spent by the packet
	// available again after the local node gave up on the batch. It
	// returns the number of released UTXOs.
	ReleaseInputs(packet *psbt.Packet) int
}

// Codec converts between a packet and its transport encoding.
type Codec interface {
	// Decode parses an encoded packet.
	Decode(b []byte) (*psbt.Packet, error)

	// Encode serializes a packet.
	Encode(packet *psbt.Packet) ([]byte, error)
}

// Shuffler permutes n elements by calling swap. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// A compile time check to ensure *rand.Rand satisfies Shuffler.
var _ Shuffler = (*rand.Rand)(nil)
