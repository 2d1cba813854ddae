// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

// Event is an inbound protocol event handed to the coordinator by the channel
// transport.
type Event interface {
	// event is a private marker so only this package defines events.
	event()
}

// SentEvent acknowledges that the local node forwarded a batch request. It is
// informational only.
type SentEvent struct {
	// NextNode is the peer the request was sent to.
	NextNode NodeID

	// Request is the request as it was sent.
	Request *BatchRequest
}

func (*SentEvent) event() {}

// ReceivedEvent carries a batch request received from a direct peer.
type ReceivedEvent struct {
	// Receiver is the node the request was addressed to.
	Receiver NodeID

	// PrevNode is the peer that sent the request.
	PrevNode NodeID

	// Request is the received request.
	Request *BatchRequest
}

func (*ReceivedEvent) event() {}
