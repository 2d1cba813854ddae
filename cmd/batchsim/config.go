// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultLogFilename = "batchsim.log"
	defaultLogDirname  = "logs"
	defaultNodes       = 3
	defaultQuota       = 3
)

var (
	defaultAppDataDir = btcutil.AppDataDir("batchsim", false)
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

// config defines the configuration options for batchsim.
type config struct {
	Nodes      int      `short:"n" long:"nodes" description:"Number of simulated nodes"`
	Edges      []string `short:"e" long:"edge" description:"Channel between two nodes given as i-j with zero based node indexes; may be repeated (default: a line through all nodes)"`
	Originator int      `long:"originator" description:"Index of the node that starts the batch"`
	Quota      uint8    `short:"q" long:"quota" description:"Number of participants that starts the signing round"`
	Uniform    int64    `long:"uniform" description:"Uniform output amount in satoshis, 0 to let every wallet pick its default amount"`
	Fee        int64    `long:"fee" description:"Fee each participant pays, in satoshis"`
	Funding    int64    `long:"funding" description:"Value of the single UTXO each node is funded with, in satoshis"`
	Default    int64    `long:"defaultamount" description:"Payment amount wallets use when no uniform amount is requested, in satoshis"`
	MinFeeRate int64    `long:"minfeerate" description:"Minimum fee rate in sat/kvB a contribution's fee must pay, 0 to disable"`
	Base64     bool     `long:"base64" description:"Carry packets in base64 form on the wire"`
	MaxRounds  int      `long:"maxrounds" description:"Maximum number of delivery rounds before giving up"`
	DataDir    string   `short:"b" long:"datadir" description:"Directory to store the nodes' batch databases in"`
	LogDir     string   `long:"logdir" description:"Directory to log output"`
	DebugLevel string   `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical} for all subsystems, or <subsystem>=<level>,... to set individual subsystems -- Use show to list available subsystems"`

	// edges holds the parsed Edges.
	edges [][2]int
}

// loadConfig parses the command line into a validated config.
func loadConfig() (*config, error) {
	cfg := config{
		Nodes:      defaultNodes,
		Quota:      defaultQuota,
		Uniform:    50_000,
		Fee:        1_000,
		Funding:    100_000,
		Default:    50_000,
		DataDir:    defaultAppDataDir,
		LogDir:     defaultLogDir,
		DebugLevel: "info",
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			os.Exit(0)
		}

		return nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	if err := cfg.validate(); err != nil {
		parser.WriteHelp(os.Stderr)
		return nil, err
	}

	return &cfg, nil
}

// validate checks the option values and parses the edge list.
func (c *config) validate() error {
	switch {
	case c.Nodes < 2:
		return fmt.Errorf("at least 2 nodes are required, got %d",
			c.Nodes)

	case c.Originator < 0 || c.Originator >= c.Nodes:
		return fmt.Errorf("originator %d is not a node index",
			c.Originator)

	case c.Quota < 2:
		return fmt.Errorf("quota must be at least 2, got %d", c.Quota)

	case c.Uniform < 0 || c.Fee < 0 || c.Funding <= 0 || c.Default < 0 ||
		c.MinFeeRate < 0:

		return errors.New("amounts must not be negative and funding " +
			"must be positive")
	}

	if len(c.Edges) == 0 {
		for i := 1; i < c.Nodes; i++ {
			c.edges = append(c.edges, [2]int{i - 1, i})
		}

		return nil
	}

	for _, edge := range c.Edges {
		parsed, err := parseEdge(edge, c.Nodes)
		if err != nil {
			return err
		}

		c.edges = append(c.edges, parsed)
	}

	return nil
}

// parseEdge parses an i-j edge between two of n nodes.
func parseEdge(edge string, n int) ([2]int, error) {
	from, to, ok := strings.Cut(edge, "-")
	if !ok {
		return [2]int{}, fmt.Errorf("invalid edge %q, want i-j", edge)
	}

	var parsed [2]int
	for i, s := range []string{from, to} {
		idx, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return [2]int{}, fmt.Errorf("invalid edge %q: %w", edge,
				err)
		}

		if idx < 0 || idx >= n {
			return [2]int{}, fmt.Errorf("invalid edge %q: node %d "+
				"out of range", edge, idx)
		}

		parsed[i] = idx
	}

	if parsed[0] == parsed[1] {
		return [2]int{}, fmt.Errorf("invalid edge %q: self channel",
			edge)
	}

	return parsed, nil
}
