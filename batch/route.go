// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"github.com/lightningnetwork/lnd/fn/v2"
)

// selectNextHop picks the peer a collecting batch is forwarded to.
//
// The first choice is an open channel peer that has not joined the batch and
// is not the most recently recorded hop. If every direct peer already joined,
// the batch is sent through a peer that relays it towards unvisited parts of
// the topology: the only peer if there is exactly one channel, otherwise the
// first peer that did not just send us the request.
func selectNextHop(channels []ChannelInfo, participants *ParticipantSet,
	lastHop fn.Option[NodeID], prev fn.Option[NodeID]) (NodeID, error) {

	if len(channels) == 0 {
		return NodeID{}, newError(ErrRouting, "no open channels", nil)
	}

	for _, ch := range channels {
		if participants.Contains(ch.Peer) {
			continue
		}

		if lastHop.IsSome() && lastHop.UnwrapOr(NodeID{}) == ch.Peer {
			continue
		}

		return ch.Peer, nil
	}

	if len(channels) == 1 {
		return channels[0].Peer, nil
	}

	for _, ch := range channels {
		if prev.IsSome() && prev.UnwrapOr(NodeID{}) == ch.Peer {
			continue
		}

		return ch.Peer, nil
	}

	return NodeID{}, newError(ErrRouting, "every open channel leads back "+
		"to the sender", nil)
}

// hasDirectChannel returns whether at least one open channel exists with the
// peer.
func hasDirectChannel(cm ChannelManager, peer NodeID) bool {
	return len(cm.ListChannelsWith(peer)) > 0
}

// selectRemainingSigner returns the most recently added participant that is
// reachable over a direct channel, or None if there is no such participant.
func selectRemainingSigner(cm ChannelManager,
	participants *ParticipantSet) fn.Option[NodeID] {

	members := participants.Members()
	for i := len(members) - 1; i >= 0; i-- {
		if hasDirectChannel(cm, members[i]) {
			return fn.Some(members[i])
		}
	}

	return fn.None[NodeID]()
}
