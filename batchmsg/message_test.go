// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batchmsg

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcbatch/batch"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/stretchr/testify/require"
)

// newNodeID returns the id of a fresh key.
func newNodeID(t *testing.T) batch.NodeID {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return batch.NewNodeID(key.PubKey())
}

// TestRequestRoundTrip checks that every request field survives the wire
// encoding, including participant order and hop order.
func TestRequestRoundTrip(t *testing.T) {
	t.Parallel()

	a, b, c := newNodeID(t), newNodeID(t), newNodeID(t)

	participants, err := batch.NewParticipantSet(c, a, b)
	require.NoError(t, err)

	testCases := []struct {
		name string
		req  *batch.BatchRequest
	}{
		{
			name: "collecting with hops",
			req: &batch.BatchRequest{
				UniformAmount:     100_000,
				FeePerParticipant: 500,
				MaxParticipants:   3,
				Participants:      participants,
				Hops:              batch.NewHopStack(b, a),
				Psbt:              []byte{0x70, 0x73, 0x62},
			},
		},
		{
			name: "signing without hops",
			req: &batch.BatchRequest{
				FeePerParticipant: 1,
				MaxParticipants:   2,
				Participants:      participants,
				Hops:              batch.NewHopStack(),
				Psbt:              []byte{0x01},
				Sign:              true,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b, err := Serialize(tc.req)
			require.NoError(t, err)

			got, err := Deserialize(b)
			require.NoError(t, err)

			require.Equal(t, tc.req.UniformAmount, got.UniformAmount)
			require.Equal(
				t, tc.req.FeePerParticipant,
				got.FeePerParticipant,
			)
			require.Equal(
				t, tc.req.MaxParticipants, got.MaxParticipants,
			)
			require.Equal(
				t, tc.req.Participants.Members(),
				got.Participants.Members(),
			)
			require.Equal(t, tc.req.Hops.Hops(), got.Hops.Hops())
			require.Equal(t, tc.req.Psbt, got.Psbt)
			require.Equal(t, tc.req.Sign, got.Sign)
		})
	}
}

// TestDecodeRejectsDuplicateParticipants checks that a participant list with
// a repeated node is refused.
func TestDecodeRejectsDuplicateParticipants(t *testing.T) {
	t.Parallel()

	a := newNodeID(t)

	f := &fields{
		maxParticipants: 2,
		participants:    []batch.NodeID{a, a},
		psbt:            []byte{0x01},
	}
	b := encodeFields(t, f)

	_, err := Deserialize(b)
	require.ErrorIs(t, err, batch.ErrDuplicateParticipant)
}

// TestDecodeRejectsBadSignFlag checks that the sign flag must be boolean.
func TestDecodeRejectsBadSignFlag(t *testing.T) {
	t.Parallel()

	f := &fields{maxParticipants: 2, psbt: []byte{0x01}, sign: 7}
	b := encodeFields(t, f)

	_, err := Deserialize(b)
	require.ErrorIs(t, err, ErrInvalidSignFlag)
}

// TestDecodeRejectsTruncatedNodeIDs checks that a node id list whose length
// is not a multiple of the id size is refused.
func TestDecodeRejectsTruncatedNodeIDs(t *testing.T) {
	t.Parallel()

	a := newNodeID(t)

	b, err := Serialize(&batch.BatchRequest{
		MaxParticipants: 2,
		Participants:    mustParticipants(t, a),
		Hops:            batch.NewHopStack(),
		Psbt:            []byte{0x01},
	})
	require.NoError(t, err)

	// The length byte of the participants record follows its type byte.
	idx := findRecord(t, b, typeParticipants)
	b[idx+1]--

	_, err = Deserialize(b)
	require.Error(t, err)
}

// recordHeader returns the type and length prefix of a record without its
// value.
func recordHeader(t *testing.T, typ tlv.Type, length uint64) []byte {
	t.Helper()

	var (
		b   bytes.Buffer
		buf [8]byte
	)
	require.NoError(t, tlv.WriteVarInt(&b, uint64(typ), &buf))
	require.NoError(t, tlv.WriteVarInt(&b, length, &buf))

	return b.Bytes()
}

// TestDecodeRejectsOversizedRecords checks that record lengths taken from the
// wire are bounded before anything is allocated for them.
func TestDecodeRejectsOversizedRecords(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		typ    tlv.Type
		length uint64
	}{
		{
			name:   "participants above quota range",
			typ:    typeParticipants,
			length: (MaxNodeIDs + 1) * batch.NodeIDSize,
		},
		{
			name:   "huge participants",
			typ:    typeParticipants,
			length: batch.NodeIDSize << 40,
		},
		{
			name:   "huge hops",
			typ:    typeHops,
			length: batch.NodeIDSize << 40,
		},
		{
			name:   "psbt above max size",
			typ:    typePsbt,
			length: MaxPsbtSize + 1,
		},
		{
			name:   "huge psbt",
			typ:    typePsbt,
			length: 1 << 62,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: Only the header is sent, the value is
			// missing entirely.
			b := recordHeader(t, tc.typ, tc.length)

			// Act.
			req, err := Deserialize(b)

			// Assert: The record is refused by its length.
			require.ErrorIs(t, err, ErrRecordTooLarge)
			require.Nil(t, req)
		})
	}
}

// TestEncodeRejectsNegativeAmount checks that negative amounts can't be
// encoded.
func TestEncodeRejectsNegativeAmount(t *testing.T) {
	t.Parallel()

	_, err := Serialize(&batch.BatchRequest{
		UniformAmount:   -1,
		MaxParticipants: 2,
		Participants:    mustParticipants(t),
		Hops:            batch.NewHopStack(),
	})
	require.ErrorIs(t, err, ErrNegativeAmount)
}

func mustParticipants(t *testing.T,
	ids ...batch.NodeID) *batch.ParticipantSet {

	t.Helper()

	s, err := batch.NewParticipantSet(ids...)
	require.NoError(t, err)

	return s
}

func encodeFields(t *testing.T, f *fields) []byte {
	t.Helper()

	stream, err := tlv.NewStream(f.records()...)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, stream.Encode(&buf))

	return buf.Bytes()
}

// findRecord returns the offset of the record with the given type. All types
// and lengths used in these tests fit in a single byte varint.
func findRecord(t *testing.T, b []byte, typ tlv.Type) int {
	t.Helper()

	for i := 0; i+1 < len(b); {
		if tlv.Type(b[i]) == typ {
			return i
		}

		require.Less(t, b[i+1], byte(0xfd))
		i += 2 + int(b[i+1])
	}

	t.Fatalf("record %d not found", typ)

	return 0
}
