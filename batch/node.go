// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// NodeIDSize is the length of a serialized node identity, which is a
// compressed secp256k1 public key.
const NodeIDSize = btcec.PubKeyBytesLenCompressed

// ErrInvalidNodeID is returned when a byte string cannot be interpreted as a
// node identity.
var ErrInvalidNodeID = errors.New("invalid node id")

// NodeID identifies a peer of the channel network by its compressed public
// key. It is used both as the participant identity inside a batch and as the
// counterparty key of a channel.
type NodeID [NodeIDSize]byte

// NewNodeID returns the NodeID of the given public key.
func NewNodeID(pub *btcec.PublicKey) NodeID {
	var id NodeID
	copy(id[:], pub.SerializeCompressed())

	return id
}

// NodeIDFromBytes parses a compressed public key into a NodeID.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != NodeIDSize {
		return id, fmt.Errorf("%w: length %d", ErrInvalidNodeID, len(b))
	}

	if _, err := btcec.ParsePubKey(b); err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidNodeID, err)
	}

	copy(id[:], b)

	return id, nil
}

// NodeIDFromHex parses a hex encoded compressed public key into a NodeID.
func NodeIDFromHex(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("%w: %v", ErrInvalidNodeID, err)
	}

	return NodeIDFromBytes(b)
}

// String returns the hex encoding of the node id.
func (n NodeID) String() string {
	return hex.EncodeToString(n[:])
}

// Short returns an abbreviated hex form suitable for log lines.
func (n NodeID) Short() string {
	return hex.EncodeToString(n[:4])
}
