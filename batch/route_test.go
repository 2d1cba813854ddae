// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// channelsTo returns one channel per peer.
func channelsTo(peers ...NodeID) []ChannelInfo {
	chans := make([]ChannelInfo, 0, len(peers))
	for i, p := range peers {
		chans = append(chans, ChannelInfo{
			Peer:      p,
			ChannelID: uint64(i + 1),
			Capacity:  1_000_000,
		})
	}

	return chans
}

// TestSelectNextHop checks the preference order of next hop selection.
func TestSelectNextHop(t *testing.T) {
	t.Parallel()

	a, b, c, d := newTestNodeID(t), newTestNodeID(t), newTestNodeID(t),
		newTestNodeID(t)

	testCases := []struct {
		name         string
		channels     []ChannelInfo
		participants []NodeID
		lastHop      fn.Option[NodeID]
		prev         fn.Option[NodeID]
		expected     NodeID
		expectErr    bool
	}{
		{
			name:         "first unvisited peer",
			channels:     channelsTo(a, b, c),
			participants: []NodeID{a},
			lastHop:      fn.None[NodeID](),
			prev:         fn.Some(a),
			expected:     b,
		},
		{
			name:         "skip last hop",
			channels:     channelsTo(b, c),
			participants: []NodeID{a},
			lastHop:      fn.Some(b),
			prev:         fn.Some(b),
			expected:     c,
		},
		{
			name:         "single channel fallback",
			channels:     channelsTo(a),
			participants: []NodeID{a, d},
			lastHop:      fn.Some(a),
			prev:         fn.Some(a),
			expected:     a,
		},
		{
			name:         "relay through non sender",
			channels:     channelsTo(a, b, c),
			participants: []NodeID{a, b, c},
			lastHop:      fn.Some(d),
			prev:         fn.Some(a),
			expected:     b,
		},
		{
			name:         "no open channels",
			participants: []NodeID{a},
			lastHop:      fn.None[NodeID](),
			prev:         fn.Some(a),
			expectErr:    true,
		},
		{
			name: "all channels lead to sender",
			channels: []ChannelInfo{
				{Peer: a, ChannelID: 1},
				{Peer: a, ChannelID: 2},
			},
			participants: []NodeID{a},
			lastHop:      fn.None[NodeID](),
			prev:         fn.Some(a),
			expectErr:    true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			participants, err := NewParticipantSet(
				tc.participants...,
			)
			require.NoError(t, err)

			next, err := selectNextHop(
				tc.channels, participants, tc.lastHop, tc.prev,
			)
			if tc.expectErr {
				require.True(t, IsError(err, ErrRouting))
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expected, next)
		})
	}
}

// TestSelectRemainingSigner checks that the most recently added reachable
// participant is chosen.
func TestSelectRemainingSigner(t *testing.T) {
	t.Parallel()

	a, b, c := newTestNodeID(t), newTestNodeID(t), newTestNodeID(t)

	cm := &mockChannels{}
	cm.On("ListChannelsWith", a).Return(channelsTo(a))
	cm.On("ListChannelsWith", b).Return(channelsTo(b))
	cm.On("ListChannelsWith", mock.Anything).Return(nil)

	participants, err := NewParticipantSet(a, b, c)
	require.NoError(t, err)

	got := selectRemainingSigner(cm, participants)
	require.Equal(t, b, got.UnwrapOr(NodeID{}))

	participants.Remove(a)
	participants.Remove(b)
	require.True(t, selectRemainingSigner(cm, participants).IsNone())
}
