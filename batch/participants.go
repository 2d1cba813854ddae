// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrDuplicateParticipant is returned when a participant list carries the
// same node more than once.
var ErrDuplicateParticipant = errors.New("duplicate participant")

// ParticipantSet is an insertion ordered set of node ids.
//
// During the collecting phase membership means "has contributed to the
// batch". During the signing phase membership means "still owes a
// signature". The order is preserved because delegation during the signing
// phase searches the set from the most recent member backwards.
type ParticipantSet struct {
	order   []NodeID
	members fn.Set[NodeID]
}

// NewParticipantSet creates a set holding the given ids in order. Duplicate
// ids are rejected since a well-formed batch never carries them.
func NewParticipantSet(ids ...NodeID) (*ParticipantSet, error) {
	s := &ParticipantSet{
		order:   make([]NodeID, 0, len(ids)),
		members: fn.NewSet[NodeID](),
	}

	for _, id := range ids {
		if !s.Add(id) {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateParticipant,
				id)
		}
	}

	return s, nil
}

// Contains returns whether id is a member of the set.
func (s *ParticipantSet) Contains(id NodeID) bool {
	return s.members.Contains(id)
}

// Add appends id to the set. It returns false if id was already a member, in
// which case the set is left untouched.
func (s *ParticipantSet) Add(id NodeID) bool {
	if s.members.Contains(id) {
		return false
	}

	s.members.Add(id)
	s.order = append(s.order, id)

	return true
}

// Remove deletes id from the set. It returns false if id was not a member.
func (s *ParticipantSet) Remove(id NodeID) bool {
	if !s.members.Contains(id) {
		return false
	}

	s.members.Remove(id)
	s.order = slices.DeleteFunc(s.order, func(n NodeID) bool {
		return n == id
	})

	return true
}

// Len returns the number of members.
func (s *ParticipantSet) Len() int {
	return len(s.order)
}

// IsEmpty returns true when the set has no members.
func (s *ParticipantSet) IsEmpty() bool {
	return len(s.order) == 0
}

// Members returns a copy of the members in insertion order.
func (s *ParticipantSet) Members() []NodeID {
	members := make([]NodeID, len(s.order))
	copy(members, s.order)

	return members
}

// Clone returns a deep copy of the set.
func (s *ParticipantSet) Clone() *ParticipantSet {
	// The source never holds duplicates, so this cannot fail.
	c, _ := NewParticipantSet(s.order...)

	return c
}
