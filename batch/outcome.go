// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// Action is the externally visible effect chosen for one event.
type Action uint8

const (
	// ActionNone means the event produced no outbound effect.
	ActionNone Action = iota

	// ActionForward means the request is sent on to a direct peer.
	ActionForward

	// ActionFinalize means the fully signed batch is handed to storage.
	ActionFinalize
)

// String returns a human readable name of the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"

	case ActionForward:
		return "forward"

	case ActionFinalize:
		return "finalize"

	default:
		return fmt.Sprintf("unknown action(%d)", uint8(a))
	}
}

// Outcome records the decisions taken while handling one event. Decisions
// are made first and the outcome is logged afterwards, so logging never
// influences the protocol.
type Outcome struct {
	// Joined is true if the local node contributed to the batch.
	Joined bool

	// Shuffled is true if this event triggered the collecting to signing
	// transition.
	Shuffled bool

	// Signed is true if the local node signed its own inputs.
	Signed bool

	// Delegated is true if the next signer was not a direct peer and the
	// request was handed to another remaining participant instead.
	Delegated bool

	// Action is the chosen outbound effect.
	Action Action

	// NextPeer is the peer the request is forwarded to, only set for
	// ActionForward.
	NextPeer NodeID

	// Request is the outbound request, only set for ActionForward.
	Request *BatchRequest

	// FinalPsbt is the encoded fully signed batch, only set for
	// ActionFinalize.
	FinalPsbt []byte

	// contribution is the packet holding the inputs the local node
	// committed while handling this event.
	contribution *psbt.Packet
}

// String returns a compact summary of the outcome for log lines.
func (o *Outcome) String() string {
	s := fmt.Sprintf("action=%v joined=%v shuffled=%v signed=%v "+
		"delegated=%v", o.Action, o.Joined, o.Shuffled, o.Signed,
		o.Delegated)

	if o.Action == ActionForward {
		s += fmt.Sprintf(" next_node=%v", o.NextPeer)
	}

	return s
}
