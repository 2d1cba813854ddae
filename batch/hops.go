// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"slices"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// HopStack records the forwarding path of a batch. Every relay pushes itself
// before forwarding during the collecting phase, and the signing phase pops
// the stack to retrace that path in reverse.
type HopStack struct {
	hops []NodeID
}

// NewHopStack creates a stack from ids ordered bottom to top, so the last id
// is the most recently recorded hop.
func NewHopStack(ids ...NodeID) *HopStack {
	return &HopStack{hops: slices.Clone(ids)}
}

// Push records id as the most recent hop.
func (h *HopStack) Push(id NodeID) {
	h.hops = append(h.hops, id)
}

// Pop removes and returns the most recent hop, or None if the stack is
// empty.
func (h *HopStack) Pop() fn.Option[NodeID] {
	if len(h.hops) == 0 {
		return fn.None[NodeID]()
	}

	top := h.hops[len(h.hops)-1]
	h.hops = h.hops[:len(h.hops)-1]

	return fn.Some(top)
}

// Peek returns the most recent hop without removing it, or None if the stack
// is empty.
func (h *HopStack) Peek() fn.Option[NodeID] {
	if len(h.hops) == 0 {
		return fn.None[NodeID]()
	}

	return fn.Some(h.hops[len(h.hops)-1])
}

// Len returns the number of recorded hops.
func (h *HopStack) Len() int {
	return len(h.hops)
}

// IsEmpty returns true when no hops are recorded.
func (h *HopStack) IsEmpty() bool {
	return len(h.hops) == 0
}

// Hops returns a copy of the recorded hops ordered bottom to top.
func (h *HopStack) Hops() []NodeID {
	hops := make([]NodeID, len(h.hops))
	copy(hops, h.hops)

	return hops
}

// Clone returns a deep copy of the stack.
func (h *HopStack) Clone() *HopStack {
	return NewHopStack(h.hops...)
}
