// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package batchmsg defines the peer-to-peer wire encoding of batch requests.
// A request is a TLV stream so new optional fields can be added without
// breaking older peers.
package batchmsg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcbatch/batch"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/tlv"
)

// MsgType is the custom peer message type used for batch requests. It lives
// in the odd custom message range so peers that don't speak the protocol
// ignore it.
const MsgType uint16 = 32801

const (
	typeUniformAmount     tlv.Type = 0
	typeFeePerParticipant tlv.Type = 2
	typeMaxParticipants   tlv.Type = 4
	typeParticipants      tlv.Type = 6
	typeHops              tlv.Type = 8
	typePsbt              tlv.Type = 10
	typeSign              tlv.Type = 12
)

const (
	// MaxNodeIDs is the largest number of node ids a participant or hop
	// list may carry. The participant quota is a uint8, so a well formed
	// batch never records more.
	MaxNodeIDs = math.MaxUint8

	// MaxPsbtSize is the largest packet a request may carry, the maximum
	// block weight.
	MaxPsbtSize = 4_000_000
)

var (
	// ErrNegativeAmount is returned when encoding a request carrying a
	// negative amount.
	ErrNegativeAmount = errors.New("negative amount")

	// ErrInvalidSignFlag is returned when the sign flag is neither 0 nor
	// 1.
	ErrInvalidSignFlag = errors.New("invalid sign flag")

	// ErrRecordTooLarge is returned when a record's length exceeds what a
	// well formed request can carry.
	ErrRecordTooLarge = errors.New("record too large")
)

// fields is the flattened form of a request that the TLV records point into.
type fields struct {
	uniformAmount     uint64
	feePerParticipant uint64
	maxParticipants   uint8
	participants      []batch.NodeID
	hops              []batch.NodeID
	psbt              []byte
	sign              uint8
}

// records returns the TLV records of the fields in ascending type order.
func (f *fields) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeUniformAmount, &f.uniformAmount),
		tlv.MakePrimitiveRecord(
			typeFeePerParticipant, &f.feePerParticipant,
		),
		tlv.MakePrimitiveRecord(
			typeMaxParticipants, &f.maxParticipants,
		),
		nodeIDsRecord(typeParticipants, &f.participants),
		nodeIDsRecord(typeHops, &f.hops),
		psbtRecord(&f.psbt),
		tlv.MakePrimitiveRecord(typeSign, &f.sign),
	}
}

// Encode writes req to w as a TLV stream.
func Encode(w io.Writer, req *batch.BatchRequest) error {
	if req.UniformAmount < 0 || req.FeePerParticipant < 0 {
		return ErrNegativeAmount
	}

	f := &fields{
		uniformAmount:     uint64(req.UniformAmount),
		feePerParticipant: uint64(req.FeePerParticipant),
		maxParticipants:   req.MaxParticipants,
		participants:      req.Participants.Members(),
		hops:              req.Hops.Hops(),
		psbt:              req.Psbt,
	}
	if req.Sign {
		f.sign = 1
	}

	stream, err := tlv.NewStream(f.records()...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode reads a TLV encoded request from r.
func Decode(r io.Reader) (*batch.BatchRequest, error) {
	f := &fields{}

	stream, err := tlv.NewStream(f.records()...)
	if err != nil {
		return nil, err
	}

	// Batches carry whole transactions, which can exceed the P2P record
	// size limit, so the records bound their own lengths instead.
	if err := stream.Decode(r); err != nil {
		return nil, fmt.Errorf("unable to decode batch request: %w",
			err)
	}

	if f.sign > 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSignFlag, f.sign)
	}

	participants, err := batch.NewParticipantSet(f.participants...)
	if err != nil {
		return nil, err
	}

	return &batch.BatchRequest{
		UniformAmount:     btcutil.Amount(f.uniformAmount),
		FeePerParticipant: btcutil.Amount(f.feePerParticipant),
		MaxParticipants:   f.maxParticipants,
		Participants:      participants,
		Hops:              batch.NewHopStack(f.hops...),
		Psbt:              f.psbt,
		Sign:              f.sign == 1,
	}, nil
}

// Serialize returns the TLV encoding of req.
func Serialize(req *batch.BatchRequest) ([]byte, error) {
	var b bytes.Buffer
	if err := Encode(&b, req); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Deserialize parses a TLV encoded request.
func Deserialize(b []byte) (*batch.BatchRequest, error) {
	return Decode(bytes.NewReader(b))
}

// nodeIDsRecord returns a dynamically sized record holding a list of node
// ids.
func nodeIDsRecord(typ tlv.Type, ids *[]batch.NodeID) tlv.Record {
	sizeFunc := func() uint64 {
		return uint64(len(*ids)) * batch.NodeIDSize
	}

	return tlv.MakeDynamicRecord(
		typ, ids, sizeFunc, encodeNodeIDs, decodeNodeIDs,
	)
}

// encodeNodeIDs writes a list of node ids back to back.
func encodeNodeIDs(w io.Writer, val interface{}, _ *[8]byte) error {
	if ids, ok := val.(*[]batch.NodeID); ok {
		for _, id := range *ids {
			if _, err := w.Write(id[:]); err != nil {
				return err
			}
		}

		return nil
	}

	return tlv.NewTypeForEncodingErr(val, "*[]batch.NodeID")
}

// decodeNodeIDs reads a list of node ids whose total length is l.
func decodeNodeIDs(r io.Reader, val interface{}, _ *[8]byte,
	l uint64) error {

	ids, ok := val.(*[]batch.NodeID)
	if !ok || l%batch.NodeIDSize != 0 {
		return tlv.NewTypeForDecodingErr(
			val, "*[]batch.NodeID", l, l-l%batch.NodeIDSize,
		)
	}

	if l > MaxNodeIDs*batch.NodeIDSize {
		return fmt.Errorf("%w: %d node id bytes", ErrRecordTooLarge, l)
	}

	out := make([]batch.NodeID, l/batch.NodeIDSize)
	for i := range out {
		if _, err := io.ReadFull(r, out[i][:]); err != nil {
			return err
		}
	}

	*ids = out

	return nil
}

// psbtRecord returns a dynamically sized record holding the packet bytes.
func psbtRecord(b *[]byte) tlv.Record {
	sizeFunc := func() uint64 {
		return uint64(len(*b))
	}

	return tlv.MakeDynamicRecord(
		typePsbt, b, sizeFunc, tlv.EVarBytes, decodePsbt,
	)
}

// decodePsbt reads the packet bytes, refusing lengths above MaxPsbtSize.
func decodePsbt(r io.Reader, val interface{}, buf *[8]byte, l uint64) error {
	if l > MaxPsbtSize {
		return fmt.Errorf("%w: %d psbt bytes", ErrRecordTooLarge, l)
	}

	return tlv.DVarBytes(r, val, buf, l)
}
