// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
)

// Phase is the stage of a batch's lifecycle. It is derived from the sign flag
// carried in every BatchRequest.
type Phase uint8

const (
	// PhaseCollecting is the phase during which nodes join the batch and
	// contribute their inputs and outputs.
	PhaseCollecting Phase = iota

	// PhaseSigning is the phase during which the shuffled transaction
	// travels back along the recorded path to gather signatures.
	PhaseSigning
)

// String returns a human readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseCollecting:
		return "collecting"

	case PhaseSigning:
		return "signing"

	default:
		return fmt.Sprintf("unknown phase(%d)", uint8(p))
	}
}

// BatchRequest is the protocol message that carries the entire working state
// of a batch between channel peers. Relays keep no per-batch memory, so every
// field must survive a lossless round trip on each hop.
type BatchRequest struct {
	// UniformAmount is the per-participant output amount requested by
	// the originator. Zero means no uniform amount was requested.
	UniformAmount btcutil.Amount

	// FeePerParticipant is the fee each joining participant must cover.
	FeePerParticipant btcutil.Amount

	// MaxParticipants is the participant quota that triggers the signing
	// phase. It is fixed for the life of the batch.
	MaxParticipants uint8

	// Participants holds the nodes that joined the batch while collecting,
	// and the nodes that still owe a signature while signing.
	Participants *ParticipantSet

	// Hops is the forwarding path recorded while collecting.
	Hops *HopStack

	// Psbt is the transport encoding of the transaction under
	// construction.
	Psbt []byte

	// Sign is false while collecting and true once the quota was met.
	Sign bool
}

// Phase returns the phase indicated by the request's sign flag.
func (r *BatchRequest) Phase() Phase {
	if r.Sign {
		return PhaseSigning
	}

	return PhaseCollecting
}

// QuotaMet returns whether enough participants joined to start signing.
func (r *BatchRequest) QuotaMet() bool {
	return r.Participants.Len() >= int(r.MaxParticipants)
}

// Clone returns a deep copy of the request, so a handler can mutate its
// working copy without touching the caller's event.
func (r *BatchRequest) Clone() *BatchRequest {
	c := *r
	c.Participants = r.Participants.Clone()
	c.Hops = r.Hops.Clone()
	c.Psbt = slices.Clone(r.Psbt)

	return &c
}

// Validate checks the structural invariants of a received request.
func (r *BatchRequest) Validate() error {
	if r.MaxParticipants == 0 {
		return newError(ErrParse, "max participants must be non-zero",
			nil)
	}

	if r.Participants == nil || r.Hops == nil {
		return newError(ErrParse, "missing participants or hops", nil)
	}

	if len(r.Psbt) == 0 {
		return newError(ErrParse, "empty transaction", nil)
	}

	if r.UniformAmount < 0 || r.FeePerParticipant < 0 {
		return newError(ErrParse, "negative amount", nil)
	}

	return nil
}

// String returns a compact summary of the request for log lines. It is safe
// to call on requests that failed validation.
func (r *BatchRequest) String() string {
	if r == nil {
		return "<nil request>"
	}

	var participants, hops int
	if r.Participants != nil {
		participants = r.Participants.Len()
	}
	if r.Hops != nil {
		hops = r.Hops.Len()
	}

	return fmt.Sprintf("uni_amount=%v fee=%v max_p=%d participants=%d "+
		"hops=%d len=%d phase=%v", r.UniformAmount,
		r.FeePerParticipant, r.MaxParticipants, participants, hops,
		len(r.Psbt), r.Phase())
}
