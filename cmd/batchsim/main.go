// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command batchsim runs a collaborative batch over a simulated channel
// network and reports the finalized transaction.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/btcsuite/btcbatch/batch"
	"github.com/btcsuite/btcbatch/batchwallet"
	"github.com/btcsuite/btcbatch/pkg/psbtcodec"
	"github.com/btcsuite/btcbatch/simnet"
	"github.com/btcsuite/btcd/btcutil"
	"golang.org/x/term"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run builds the network described by the config, runs one batch round and
// prints the stored batches.
func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	err = initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err != nil {
		return err
	}
	defer logRotator.Close()

	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	encoding := psbtcodec.Binary
	if cfg.Base64 {
		encoding = psbtcodec.Base64
	}

	net := simnet.New(&simnet.Config{
		DBDir:     cfg.DataDir,
		Encoding:  encoding,
		MaxRounds: cfg.MaxRounds,
	})
	defer func() {
		if err := net.Stop(); err != nil {
			log.Errorf("Unable to stop network: %v", err)
		}
	}()

	nodes, err := buildNetwork(net, cfg)
	if err != nil {
		return err
	}

	if err := net.Start(); err != nil {
		return err
	}

	originator := nodes[cfg.Originator]
	log.Infof("Node %d (%v) originating batch with quota %d",
		cfg.Originator, originator.ID(), cfg.Quota)

	_, err = originator.Originate(ctx, batch.OriginateParams{
		UniformAmount:     btcutil.Amount(cfg.Uniform),
		FeePerParticipant: btcutil.Amount(cfg.Fee),
		MaxParticipants:   cfg.Quota,
	})
	if err != nil {
		return fmt.Errorf("unable to originate batch: %w", err)
	}

	deliveries, err := net.Drain(ctx)
	if err != nil {
		return err
	}

	for _, d := range deliveries {
		if d.Err != nil {
			log.Warnf("Batch stalled at %v: %v", d.To, d.Err)
		}
	}

	return report(ctx, nodes, len(deliveries))
}

// buildNetwork adds, funds and connects the configured nodes.
func buildNetwork(net *simnet.Network, cfg *config) ([]*simnet.Node, error) {
	nodes := make([]*simnet.Node, 0, cfg.Nodes)
	for i := 0; i < cfg.Nodes; i++ {
		node, err := net.AddNode(simnet.NodeConfig{
			Wallet: batchwallet.Config{
				DefaultAmount: btcutil.Amount(cfg.Default),
				MinFeeRate:    btcutil.Amount(cfg.MinFeeRate),
			},
		})
		if err != nil {
			return nil, err
		}

		if _, err := node.Fund(btcutil.Amount(cfg.Funding)); err != nil {
			return nil, err
		}

		log.Debugf("Node %d is %v", i, node.ID())

		nodes = append(nodes, node)
	}

	for _, edge := range cfg.edges {
		_, err := net.Connect(
			nodes[edge[0]].ID(), nodes[edge[1]].ID(),
			btcutil.Amount(cfg.Funding),
		)
		if err != nil {
			return nil, err
		}
	}

	return nodes, nil
}

// report prints the batches stored by the nodes. On a terminal the output is
// a readable summary, otherwise one line per stored batch.
func report(ctx context.Context, nodes []*simnet.Node,
	numDeliveries int) error {

	interactive := term.IsTerminal(int(os.Stdout.Fd()))

	var found int
	for i, node := range nodes {
		batches, err := node.Wallet.FinalizedBatches(ctx)
		if err != nil {
			return err
		}

		for _, b := range batches {
			found++

			if !interactive {
				fmt.Printf("%d %v %d %d %x\n", i, b.TxID,
					b.NumInputs, b.NumOutputs, b.RawTx)

				continue
			}

			fmt.Printf("Node %d finalized batch %v\n", i, b.TxID)
			fmt.Printf("  inputs:  %d\n", b.NumInputs)
			fmt.Printf("  outputs: %d\n", b.NumOutputs)
			fmt.Printf("  size:    %d bytes\n", len(b.RawTx))
		}
	}

	if found == 0 {
		return fmt.Errorf("no batch was finalized after %d deliveries",
			numDeliveries)
	}

	if interactive {
		fmt.Printf("%d messages delivered\n", numDeliveries)
	}

	return nil
}
