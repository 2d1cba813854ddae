// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package simnet

import (
	"context"
	"encoding/binary"
	"slices"

	"github.com/btcsuite/btcbatch/batch"
	"github.com/btcsuite/btcbatch/batchwallet"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Node is a member of a simulated network. It serves as the channel manager
// of its own coordinator.
type Node struct {
	id  batch.NodeID
	net *Network

	// store is the batch store opened by the network for this node, if
	// any.
	store batchwallet.Store

	// fundCount numbers the outputs created by Fund.
	fundCount uint32

	// Wallet is the node's wallet.
	Wallet *batchwallet.Wallet

	// Coordinator runs the batch protocol for the node.
	Coordinator *batch.Coordinator
}

// A compile time check to ensure Node satisfies batch.ChannelManager.
var _ batch.ChannelManager = (*Node)(nil)

// ID returns the identity of the node.
func (n *Node) ID() batch.NodeID {
	return n.id
}

// ListOpenChannels returns the node's channels in the order they were
// opened.
//
// This is part of the batch.ChannelManager interface.
func (n *Node) ListOpenChannels() []batch.ChannelInfo {
	return n.net.channelsOf(n.id)
}

// ListChannelsWith returns the node's channels with the given peer.
//
// This is part of the batch.ChannelManager interface.
func (n *Node) ListChannelsWith(peer batch.NodeID) []batch.ChannelInfo {
	channels := n.net.channelsOf(n.id)

	return slices.DeleteFunc(channels, func(ch batch.ChannelInfo) bool {
		return ch.Peer != peer
	})
}

// SendBatchRequest queues a request for delivery to a direct peer.
//
// This is part of the batch.ChannelManager interface.
func (n *Node) SendBatchRequest(_ context.Context, peer batch.NodeID,
	req *batch.BatchRequest) error {

	return n.net.send(n.id, peer, req)
}

// Fund gives the node's wallet one UTXO per value. The outpoints are
// synthetic and unique per node.
//
// NOTE: Fund must not be called concurrently for the same node.
func (n *Node) Fund(values ...btcutil.Amount) ([]wire.OutPoint, error) {
	ops := make([]wire.OutPoint, 0, len(values))
	for _, value := range values {
		addr, err := n.Wallet.NewAddress()
		if err != nil {
			return nil, err
		}

		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}

		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], n.fundCount)
		n.fundCount++

		op := wire.OutPoint{
			Hash:  chainhash.HashH(append(n.id[:], idx[:]...)),
			Index: 0,
		}
		err = n.Wallet.AddUtxo(op, wire.NewTxOut(int64(value), pkScript))
		if err != nil {
			return nil, err
		}

		ops = append(ops, op)
	}

	return ops, nil
}

// Originate starts a batch from this node.
func (n *Node) Originate(ctx context.Context,
	params batch.OriginateParams) (*batch.Outcome, error) {

	return n.Coordinator.Originate(ctx, params)
}
