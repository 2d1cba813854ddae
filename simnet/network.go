// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package simnet is an in-memory channel network that connects batch
// coordinators. Nodes exchange batch requests in their wire encoding over
// simulated channels, so a whole batch round can be driven end to end
// without any real transport.
package simnet

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/btcsuite/btcbatch/batch"
	"github.com/btcsuite/btcbatch/batchmsg"
	"github.com/btcsuite/btcbatch/batchwallet"
	"github.com/btcsuite/btcbatch/pkg/psbtcodec"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxRounds bounds the delivery rounds of a single Drain call.
	DefaultMaxRounds = 256
)

var (
	// ErrUnknownNode is returned when a node id is not part of the
	// network.
	ErrUnknownNode = errors.New("unknown node")

	// ErrNoChannel is returned when sending to a peer without an open
	// channel.
	ErrNoChannel = errors.New("no open channel to peer")

	// ErrPeerOffline is returned when sending to a peer that is offline.
	ErrPeerOffline = errors.New("peer is offline")

	// ErrSelfChannel is returned when connecting a node to itself.
	ErrSelfChannel = errors.New("can't open a channel to self")

	// ErrMaxRounds is returned by Drain when messages are still in flight
	// after the configured number of rounds.
	ErrMaxRounds = errors.New("messages still in flight after max rounds")
)

// Config holds the parameters of a Network.
type Config struct {
	// DBDir is the directory the nodes' batch stores are created in. If
	// empty, nodes have no store unless NodeConfig provides one.
	DBDir string

	// Encoding is the packet encoding used on the wire.
	Encoding psbtcodec.Encoding

	// MaxRounds bounds the delivery rounds of a Drain call. Defaults to
	// DefaultMaxRounds.
	MaxRounds int

	// NewShuffler overrides the shuffle randomness of every node.
	NewShuffler func() batch.Shuffler
}

// envelope is a serialized batch request in flight between two nodes.
type envelope struct {
	from    batch.NodeID
	to      batch.NodeID
	payload []byte
}

// Delivery is the result of handing one message to its receiver.
type Delivery struct {
	// From is the sending node.
	From batch.NodeID

	// To is the receiving node.
	To batch.NodeID

	// Outcome is what the receiver decided, nil if it failed before
	// deciding.
	Outcome *batch.Outcome

	// Err is the receiver's error, if any.
	Err error
}

// Network is a set of nodes connected by simulated channels.
type Network struct {
	cfg *Config

	// mu guards the fields below.
	mu sync.Mutex

	nodes map[batch.NodeID]*Node

	// order lists the nodes in the order they were added.
	order []batch.NodeID

	// channels maps a node to its channels in the order they were opened.
	channels map[batch.NodeID][]batch.ChannelInfo

	nextChanID uint64

	offline fn.Set[batch.NodeID]

	queue []envelope
}

// New creates an empty network.
func New(cfg *Config) *Network {
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}

	return &Network{
		cfg:      cfg,
		nodes:    make(map[batch.NodeID]*Node),
		channels: make(map[batch.NodeID][]batch.ChannelInfo),
		offline:  fn.NewSet[batch.NodeID](),
	}
}

// NodeConfig holds the parameters of a node added to the network.
type NodeConfig struct {
	// Wallet configures the node's wallet. If its Store is nil and the
	// network has a DBDir, a SQLite store is opened there.
	Wallet batchwallet.Config
}

// AddNode creates a node with a fresh identity key and adds it to the
// network.
func (n *Network) AddNode(cfg NodeConfig) (*Node, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	id := batch.NewNodeID(key.PubKey())

	walletCfg := cfg.Wallet
	walletCfg.Codec = psbtcodec.New(n.cfg.Encoding)

	var store batchwallet.Store
	if walletCfg.Store == nil && n.cfg.DBDir != "" {
		path := filepath.Join(n.cfg.DBDir, "node-"+id.Short()+".db")
		sqliteStore, err := batchwallet.OpenSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("open store for %v: %w", id, err)
		}

		walletCfg.Store = sqliteStore
		store = sqliteStore
	}

	node := &Node{
		id:     id,
		net:    n,
		store:  store,
		Wallet: batchwallet.New(&walletCfg),
	}

	coord, err := batch.New(&batch.Config{
		Self:        id,
		Channels:    node,
		Wallet:      node.Wallet,
		Codec:       walletCfg.Codec,
		NewShuffler: n.cfg.NewShuffler,
	})
	if err != nil {
		return nil, err
	}
	node.Coordinator = coord

	n.mu.Lock()
	n.nodes[id] = node
	n.order = append(n.order, id)
	n.mu.Unlock()

	log.Debugf("Added node %v", id)

	return node, nil
}

// Node returns the node with the given id.
func (n *Network) Node(id batch.NodeID) (*Node, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	node, ok := n.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownNode, id)
	}

	return node, nil
}

// Nodes returns all nodes in the order they were added.
func (n *Network) Nodes() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()

	nodes := make([]*Node, 0, len(n.order))
	for _, id := range n.order {
		nodes = append(nodes, n.nodes[id])
	}

	return nodes
}

// Connect opens a channel of the given capacity between two nodes.
func (n *Network) Connect(a, b batch.NodeID,
	capacity btcutil.Amount) (uint64, error) {

	if a == b {
		return 0, ErrSelfChannel
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, id := range []batch.NodeID{a, b} {
		if _, ok := n.nodes[id]; !ok {
			return 0, fmt.Errorf("%w: %v", ErrUnknownNode, id)
		}
	}

	n.nextChanID++
	chanID := n.nextChanID

	n.channels[a] = append(n.channels[a], batch.ChannelInfo{
		Peer:      b,
		ChannelID: chanID,
		Capacity:  capacity,
	})
	n.channels[b] = append(n.channels[b], batch.ChannelInfo{
		Peer:      a,
		ChannelID: chanID,
		Capacity:  capacity,
	})

	log.Debugf("Opened channel %d between %v and %v", chanID, a.Short(),
		b.Short())

	return chanID, nil
}

// SetOffline marks a node as unreachable or reachable again.
func (n *Network) SetOffline(id batch.NodeID, offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if offline {
		n.offline.Add(id)
	} else {
		n.offline.Remove(id)
	}
}

// channelsOf returns a copy of the channels of a node.
func (n *Network) channelsOf(id batch.NodeID) []batch.ChannelInfo {
	n.mu.Lock()
	defer n.mu.Unlock()

	return slices.Clone(n.channels[id])
}

// send queues a request from one node to a direct peer.
func (n *Network) send(from, to batch.NodeID,
	req *batch.BatchRequest) error {

	payload, err := batchmsg.Serialize(req)
	if err != nil {
		return err
	}

	return n.sendRaw(from, to, payload)
}

// sendRaw queues an already encoded request from one node to a direct peer.
func (n *Network) sendRaw(from, to batch.NodeID, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	connected := slices.ContainsFunc(n.channels[from],
		func(ch batch.ChannelInfo) bool {
			return ch.Peer == to
		},
	)
	if !connected {
		return fmt.Errorf("%w: %v", ErrNoChannel, to)
	}

	if n.offline.Contains(to) {
		return fmt.Errorf("%w: %v", ErrPeerOffline, to)
	}

	n.queue = append(n.queue, envelope{
		from:    from,
		to:      to,
		payload: payload,
	})

	return nil
}

// Pending returns the number of messages in flight.
func (n *Network) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.queue)
}

// Drain delivers messages until none are in flight. Messages queued in the
// same round are delivered concurrently. It returns every delivery in the
// order the rounds ran.
func (n *Network) Drain(ctx context.Context) ([]Delivery, error) {
	var deliveries []Delivery
	for round := 0; round < n.cfg.MaxRounds; round++ {
		n.mu.Lock()
		batchQueue := n.queue
		n.queue = nil
		n.mu.Unlock()

		if len(batchQueue) == 0 {
			return deliveries, nil
		}

		log.Tracef("Delivery round %d: %d messages", round,
			len(batchQueue))

		results := make([]Delivery, len(batchQueue))

		eg, ctx := errgroup.WithContext(ctx)
		for i, env := range batchQueue {
			eg.Go(func() error {
				d, err := n.deliver(ctx, env)
				if err != nil {
					return err
				}

				results[i] = d

				return nil
			})
		}

		if err := eg.Wait(); err != nil {
			return deliveries, err
		}

		deliveries = append(deliveries, results...)
	}

	if pending := n.Pending(); pending > 0 {
		return deliveries, fmt.Errorf("%w: %d messages", ErrMaxRounds,
			pending)
	}

	return deliveries, nil
}

// deliver hands a message to its receiver and acknowledges it to the
// sender. Malformed messages and protocol failures of the receiver are
// reported in the Delivery; only unknown nodes are returned as errors.
func (n *Network) deliver(ctx context.Context, env envelope) (Delivery,
	error) {

	sender, err := n.Node(env.from)
	if err != nil {
		return Delivery{}, err
	}

	receiver, err := n.Node(env.to)
	if err != nil {
		return Delivery{}, err
	}

	// A malformed message is dropped on its own, the way a peer would
	// drop an unparsable custom message.
	req, err := batchmsg.Deserialize(env.payload)
	if err != nil {
		log.Debugf("Node %v dropping malformed request from %v: %v",
			env.to.Short(), env.from.Short(), err)

		return Delivery{
			From: env.from,
			To:   env.to,
			Err: batch.Error{
				Code: batch.ErrParse,
				Desc: "unable to decode batch request",
				Err:  err,
			},
		}, nil
	}

	sender.Coordinator.ProcessEvent(ctx, &batch.SentEvent{
		NextNode: env.to,
		Request:  req,
	})

	out, err := receiver.Coordinator.HandleEvent(ctx, &batch.ReceivedEvent{
		Receiver: env.to,
		PrevNode: env.from,
		Request:  req,
	})
	if err != nil {
		log.Debugf("Node %v failed handling request from %v: %v",
			env.to.Short(), env.from.Short(), err)
	}

	return Delivery{
		From:    env.from,
		To:      env.to,
		Outcome: out,
		Err:     err,
	}, nil
}

// Start launches the storage retry loop of every node.
func (n *Network) Start() error {
	for _, node := range n.Nodes() {
		if err := node.Coordinator.Start(); err != nil {
			return err
		}
	}

	return nil
}

// Stop ends every node's retry loop and closes their stores.
func (n *Network) Stop() error {
	var errs []error
	for _, node := range n.Nodes() {
		if err := node.Coordinator.Stop(); err != nil {
			errs = append(errs, err)
		}

		if node.store != nil {
			if err := node.store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}
