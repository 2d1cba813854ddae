// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// contributionOutputs is the number of outputs a joining node may
	// add: its batch output and its change.
	contributionOutputs = 2

	// batchTxVersion is the version of the unsigned batch transaction.
	batchTxVersion = 2

	// DefaultStorageRetryInterval is how often batches that failed to be
	// persisted are retried when no interval is configured.
	DefaultStorageRetryInterval = time.Minute
)

var (
	// ErrMissingDependency is returned by New when a required
	// collaborator is not configured.
	ErrMissingDependency = errors.New("missing coordinator dependency")
)

// Config holds the dependencies of a Coordinator. All of them are shared,
// read-only handles; the coordinator keeps no per-batch state.
type Config struct {
	// Self is the identity of the local node.
	Self NodeID

	// Channels gives access to the local channel inventory and the peer
	// transport.
	Channels ChannelManager

	// Wallet funds, signs and stores batches.
	Wallet Wallet

	// Codec converts packets to and from their transport encoding.
	Codec Codec

	// NewShuffler returns the randomness used for the single shuffle of a
	// batch. It is called once per transition. If nil,
	// NewCryptoShuffler is used.
	NewShuffler func() Shuffler

	// StorageRetryInterval is the period of the storage retry loop. If
	// zero, DefaultStorageRetryInterval is used.
	StorageRetryInterval time.Duration

	// StorageRetryTicker overrides the ticker driving the storage retry
	// loop. It is mostly useful in tests.
	StorageRetryTicker ticker.Ticker
}

// OriginateParams describes a new batch.
type OriginateParams struct {
	// UniformAmount is the per-participant output amount, or zero.
	UniformAmount btcutil.Amount

	// FeePerParticipant is the fee each participant must cover.
	FeePerParticipant btcutil.Amount

	// MaxParticipants is the quota that starts the signing phase.
	MaxParticipants uint8
}

// Coordinator drives the collaborative batch protocol on a single node. It is
// invoked once per inbound event and handles each event to completion. The
// whole working state of a batch travels inside the request, so events for
// different batches can be handled concurrently.
type Coordinator struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg *Config

	// pendingMtx guards pending.
	pendingMtx sync.Mutex

	// pending holds encoded, fully signed batches whose storage failed.
	pending [][]byte

	retryTicker ticker.Ticker

	wg   sync.WaitGroup
	quit chan struct{}
}

// New creates a Coordinator from the given config.
func New(cfg *Config) (*Coordinator, error) {
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("%w: nil config", ErrMissingDependency)

	case cfg.Channels == nil:
		return nil, fmt.Errorf("%w: channel manager",
			ErrMissingDependency)

	case cfg.Wallet == nil:
		return nil, fmt.Errorf("%w: wallet", ErrMissingDependency)

	case cfg.Codec == nil:
		return nil, fmt.Errorf("%w: codec", ErrMissingDependency)
	}

	if cfg.NewShuffler == nil {
		cfg.NewShuffler = NewCryptoShuffler
	}

	if cfg.StorageRetryInterval == 0 {
		cfg.StorageRetryInterval = DefaultStorageRetryInterval
	}

	retryTicker := cfg.StorageRetryTicker
	if retryTicker == nil {
		retryTicker = ticker.New(cfg.StorageRetryInterval)
	}

	return &Coordinator{
		cfg:         cfg,
		retryTicker: retryTicker,
		quit:        make(chan struct{}),
	}, nil
}

// Self returns the identity of the local node.
func (c *Coordinator) Self() NodeID {
	return c.cfg.Self
}

// ProcessEvent handles an event and logs any failure. It never returns an
// error: every failure is confined to the event that caused it.
func (c *Coordinator) ProcessEvent(ctx context.Context, ev Event) {
	_, err := c.HandleEvent(ctx, ev)
	if err == nil {
		return
	}

	var e Error
	if !errors.As(err, &e) {
		log.Errorf("Unable to handle batch event: %v", err)
		return
	}

	switch e.Code {
	case ErrFunding:
		log.Infof("Declining to join batch: %v", err)

	case ErrSigning, ErrStorage:
		log.Errorf("Batch aborted on this path: %v", err)

	default:
		log.Warnf("Dropping batch request: %v", err)
	}
}

// HandleEvent handles a single event to completion and returns the
// decisions it took. A returned error is always an Error carrying one of the
// package's error codes.
func (c *Coordinator) HandleEvent(ctx context.Context,
	ev Event) (*Outcome, error) {

	switch e := ev.(type) {
	case *SentEvent:
		log.Debugf("Sent batch request to %v: %v", e.NextNode,
			e.Request)

		return &Outcome{}, nil

	case *ReceivedEvent:
		return c.handleReceived(ctx, e)

	default:
		return nil, newError(ErrParse, fmt.Sprintf("unknown event "+
			"type %T", ev), nil)
	}
}

// handleReceived processes a batch request received from a direct peer.
func (c *Coordinator) handleReceived(ctx context.Context,
	e *ReceivedEvent) (*Outcome, error) {

	if e.Request == nil {
		return nil, newError(ErrParse, "received event without "+
			"request", nil)
	}

	if e.Receiver != c.cfg.Self {
		return nil, newError(ErrParse, fmt.Sprintf("request addressed "+
			"to %v, we are %v", e.Receiver, c.cfg.Self), nil)
	}

	if err := e.Request.Validate(); err != nil {
		return nil, err
	}

	log.Debugf("Received batch request from %v: %v", e.PrevNode,
		e.Request)

	// We work on a copy so the caller's event stays intact if we bail
	// out half way.
	req := e.Request.Clone()

	packet, err := c.cfg.Codec.Decode(req.Psbt)
	if err != nil {
		return nil, newError(ErrParse, "unable to decode batch "+
			"transaction", err)
	}

	if err := checkAlignment(packet); err != nil {
		return nil, err
	}

	out := &Outcome{}
	_, err = c.decide(ctx, fn.Some(e.PrevNode), req, packet, out)
	if err != nil {
		c.abandon(out)
		return nil, err
	}

	if err := c.execute(ctx, out); err != nil {
		c.abandon(out)
		return out, err
	}

	logOutcome(out)

	return out, nil
}

// decide runs the protocol state machine for a received request. It mutates
// req and packet, and records the chosen outbound effect in out without
// performing it.
func (c *Coordinator) decide(ctx context.Context, prev fn.Option[NodeID],
	req *BatchRequest, packet *psbt.Packet, out *Outcome) (*Outcome,
	error) {

	if req.Phase() == PhaseCollecting {
		var err error
		packet, err = c.join(ctx, req, packet, out)
		if err != nil {
			return nil, err
		}

		// The quota is checked after our own join, so the node that
		// completes the quota is part of the shuffle.
		if !req.QuotaMet() {
			return c.forwardCollecting(req, packet, prev, out)
		}

		if err := c.beginSigning(req, packet, out); err != nil {
			return nil, err
		}
	}

	return c.collectSignature(ctx, req, packet, out)
}

// join contributes the wallet's funds to the batch unless the local node is
// already a participant.
func (c *Coordinator) join(ctx context.Context, req *BatchRequest,
	packet *psbt.Packet, out *Outcome) (*psbt.Packet, error) {

	if req.Participants.Contains(c.cfg.Self) {
		return packet, nil
	}

	fixed := fn.None[btcutil.Amount]()
	if req.UniformAmount > 0 {
		fixed = fn.Some(req.UniformAmount)
	}

	funded, err := c.cfg.Wallet.Contribute(ctx, packet, Contribution{
		OutputCount: contributionOutputs,
		FixedAmount: fixed,
		Fee:         req.FeePerParticipant,
	})
	if err != nil {
		return nil, newError(ErrFunding, "unable to contribute to "+
			"batch", err)
	}
	out.contribution = funded

	if err := checkAlignment(funded); err != nil {
		return nil, err
	}

	req.Participants.Add(c.cfg.Self)
	out.Joined = true

	return funded, nil
}

// beginSigning performs the one time transition from collecting to signing.
func (c *Coordinator) beginSigning(req *BatchRequest, packet *psbt.Packet,
	out *Outcome) error {

	if err := shufflePacket(packet, c.cfg.NewShuffler()); err != nil {
		return err
	}

	req.Sign = true
	out.Shuffled = true

	return nil
}

// forwardCollecting records the local node on the path and forwards the
// batch to the next node that may join it.
func (c *Coordinator) forwardCollecting(req *BatchRequest,
	packet *psbt.Packet, prev fn.Option[NodeID],
	out *Outcome) (*Outcome, error) {

	next, err := selectNextHop(
		c.cfg.Channels.ListOpenChannels(), req.Participants,
		req.Hops.Peek(), prev,
	)
	if err != nil {
		return nil, err
	}

	req.Hops.Push(c.cfg.Self)

	return c.forward(req, packet, next, out)
}

// collectSignature signs the local inputs if we still owe a signature and
// then either routes the batch to the next signer or finalizes it.
func (c *Coordinator) collectSignature(ctx context.Context,
	req *BatchRequest, packet *psbt.Packet,
	out *Outcome) (*Outcome, error) {

	if req.Participants.Contains(c.cfg.Self) {
		signed, err := c.cfg.Wallet.SignOwnInputs(ctx, packet)
		if err != nil {
			return nil, newError(ErrSigning, "unable to sign own "+
				"inputs", err)
		}

		if err := checkAlignment(signed); err != nil {
			return nil, err
		}

		packet = signed
		req.Participants.Remove(c.cfg.Self)
		out.Signed = true
	}

	cm := c.cfg.Channels

	nextSigner := req.Hops.Pop()
	if nextSigner.IsSome() {
		signer := nextSigner.UnwrapOr(NodeID{})
		if hasDirectChannel(cm, signer) {
			return c.forward(req, packet, signer, out)
		}

		// We can't reach the next signer directly, so we hand the
		// batch to a participant we can reach. The signer goes back
		// into the set so the batch still ends up collecting its
		// signature.
		alt, err := selectRemainingSigner(cm, req.Participants).
			UnwrapOrErr(newError(ErrRouting, fmt.Sprintf("no "+
				"channel to next signer %v and no reachable "+
				"participant to delegate to", signer), nil))
		if err != nil {
			return nil, err
		}

		req.Participants.Add(signer)
		out.Delegated = true

		return c.forward(req, packet, alt, out)
	}

	// The path is fully retraced. The batch is only complete once no
	// participant owes a signature anymore.
	if req.Participants.IsEmpty() {
		final, err := c.cfg.Codec.Encode(packet)
		if err != nil {
			return nil, newError(ErrParse, "unable to encode final "+
				"batch transaction", err)
		}

		out.Action = ActionFinalize
		out.FinalPsbt = final

		return out, nil
	}

	alt, err := selectRemainingSigner(cm, req.Participants).UnwrapOrErr(
		newError(ErrRouting, fmt.Sprintf("path retraced but %d "+
			"participants still owe a signature and none is "+
			"reachable", req.Participants.Len()), nil),
	)
	if err != nil {
		return nil, err
	}

	return c.forward(req, packet, alt, out)
}

// forward encodes the packet into the request and records the forward
// decision.
func (c *Coordinator) forward(req *BatchRequest, packet *psbt.Packet,
	next NodeID, out *Outcome) (*Outcome, error) {

	encoded, err := c.cfg.Codec.Encode(packet)
	if err != nil {
		return nil, newError(ErrParse, "unable to encode batch "+
			"transaction", err)
	}

	req.Psbt = encoded

	out.Action = ActionForward
	out.NextPeer = next
	out.Request = req

	return out, nil
}

// abandon hands the inputs the local node committed while handling a failed
// event back to the wallet. The batch is dropped with the event, so nothing
// else would ever release them.
func (c *Coordinator) abandon(out *Outcome) {
	if out == nil || out.contribution == nil {
		return
	}

	released := c.cfg.Wallet.ReleaseInputs(out.contribution)
	out.contribution = nil

	log.Infof("Released %d inputs committed to an abandoned batch",
		released)
}

// execute performs the outbound effect of an outcome.
func (c *Coordinator) execute(ctx context.Context, out *Outcome) error {
	switch out.Action {
	case ActionForward:
		err := c.cfg.Channels.SendBatchRequest(
			ctx, out.NextPeer, out.Request,
		)
		if err != nil {
			return newError(ErrSend, fmt.Sprintf("unable to send "+
				"batch request to %v", out.NextPeer), err)
		}

	case ActionFinalize:
		return c.storeFinalized(ctx, out.FinalPsbt)
	}

	return nil
}

// Originate starts a new batch with the local node as its first participant
// and sends it to the first eligible peer.
func (c *Coordinator) Originate(ctx context.Context,
	params OriginateParams) (*Outcome, error) {

	if params.MaxParticipants < 2 {
		return nil, newError(ErrInvalidQuota, fmt.Sprintf("max "+
			"participants must be at least 2, got %d",
			params.MaxParticipants), nil)
	}

	if params.UniformAmount < 0 || params.FeePerParticipant < 0 {
		return nil, newError(ErrFunding, "negative batch amount", nil)
	}

	packet, err := psbt.New(nil, nil, batchTxVersion, 0, nil)
	if err != nil {
		return nil, newError(ErrParse, "unable to create batch "+
			"transaction", err)
	}

	participants, _ := NewParticipantSet()
	req := &BatchRequest{
		UniformAmount:     params.UniformAmount,
		FeePerParticipant: params.FeePerParticipant,
		MaxParticipants:   params.MaxParticipants,
		Participants:      participants,
		Hops:              NewHopStack(),
	}

	out := &Outcome{}
	packet, err = c.join(ctx, req, packet, out)
	if err != nil {
		c.abandon(out)
		return nil, err
	}

	// The originator does not record itself as a hop. The signing phase
	// reaches it through the participant set once the path is retraced.
	next, err := selectNextHop(
		c.cfg.Channels.ListOpenChannels(), req.Participants,
		fn.None[NodeID](), fn.None[NodeID](),
	)
	if err != nil {
		c.abandon(out)
		return nil, err
	}

	if _, err := c.forward(req, packet, next, out); err != nil {
		c.abandon(out)
		return nil, err
	}

	if err := c.execute(ctx, out); err != nil {
		c.abandon(out)
		return out, err
	}

	log.Infof("Originated batch: %v", req)
	logOutcome(out)

	return out, nil
}

// logOutcome reports the decisions of a successfully handled event.
func logOutcome(out *Outcome) {
	if out.Shuffled {
		log.Infof("Quota met, shuffled inputs/outputs, starting the " +
			"signing round")
	}

	if out.Delegated {
		log.Infof("Next signer unreachable, delegating to %v",
			out.NextPeer)
	}

	switch out.Action {
	case ActionForward:
		log.Debugf("Forwarding batch request: %v", out)
		log.Tracef("Outbound batch request: %v", newLogClosure(
			func() string {
				return spew.Sdump(out.Request)
			},
		))

	case ActionFinalize:
		log.Infof("Batch was signed by all participants (len=%d)",
			len(out.FinalPsbt))
	}
}
