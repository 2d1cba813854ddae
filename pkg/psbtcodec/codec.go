// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package psbtcodec converts BIP 174 packets to and from the byte form that
// travels inside batch requests.
package psbtcodec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

var (
	// ErrEmptyPacket is returned when decoding an empty byte string.
	ErrEmptyPacket = errors.New("empty psbt packet")

	// ErrNilPacket is returned when encoding a nil packet.
	ErrNilPacket = errors.New("nil psbt packet")
)

// Encoding selects the transport form of the packet.
type Encoding uint8

const (
	// Binary is the raw BIP 174 serialization.
	Binary Encoding = iota

	// Base64 is the base64 form of the BIP 174 serialization, as used by
	// most RPC interfaces.
	Base64
)

// Codec encodes and decodes packets in one transport form.
type Codec struct {
	encoding Encoding
}

// New returns a Codec using the given transport form.
func New(encoding Encoding) *Codec {
	return &Codec{encoding: encoding}
}

// Decode parses an encoded packet.
func (c *Codec) Decode(b []byte) (*psbt.Packet, error) {
	if len(b) == 0 {
		return nil, ErrEmptyPacket
	}

	packet, err := psbt.NewFromRawBytes(
		bytes.NewReader(b), c.encoding == Base64,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to parse psbt: %w", err)
	}

	return packet, nil
}

// Encode serializes a packet.
func (c *Codec) Encode(packet *psbt.Packet) ([]byte, error) {
	if packet == nil {
		return nil, ErrNilPacket
	}

	if c.encoding == Base64 {
		s, err := packet.B64Encode()
		if err != nil {
			return nil, fmt.Errorf("unable to encode psbt: %w", err)
		}

		return []byte(s), nil
	}

	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("unable to serialize psbt: %w", err)
	}

	return buf.Bytes(), nil
}
