// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrParse indicates that an inbound batch request or its embedded
	// transaction could not be decoded, or that it violates a structural
	// invariant of the protocol.
	ErrParse ErrorCode = iota

	// ErrFunding indicates that the wallet could not cover the requested
	// contribution. The node declines to join the batch.
	ErrFunding

	// ErrSigning indicates that the wallet could not produce a signature
	// for one of its own inputs.
	ErrSigning

	// ErrRouting indicates that no eligible peer exists to forward the
	// batch request to.
	ErrRouting

	// ErrStorage indicates that a fully signed batch could not be
	// persisted. The encoded transaction is retained for a later retry.
	ErrStorage

	// ErrSend indicates that the channel transport failed to deliver the
	// batch request to the selected peer.
	ErrSend

	// ErrInvalidQuota indicates that a batch was originated with a
	// participant quota that can never trigger a signing round.
	ErrInvalidQuota
)

// errorCodeStrings is a map of error codes back to their constant names for
// pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrParse:        "ErrParse",
	ErrFunding:      "ErrFunding",
	ErrSigning:      "ErrSigning",
	ErrRouting:      "ErrRouting",
	ErrStorage:      "ErrStorage",
	ErrSend:         "ErrSend",
	ErrInvalidQuota: "ErrInvalidQuota",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}

	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error identifies a batch processing error. It has an error code, a
// descriptive message and the underlying cause, if any.
type Error struct {
	Code ErrorCode
	Desc string
	Err  error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Desc, e.Err)
	}

	return e.Desc
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// newError creates an Error given a set of arguments.
func newError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Desc: desc, Err: err}
}

// IsError returns whether err is, or wraps, an Error with the given code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	if !errors.As(err, &e) {
		return false
	}

	return e.Code == code
}
