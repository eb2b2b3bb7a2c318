/*
ids.go - Deterministic identifier allocation

PURPOSE:
  Replaces auto-increment/random identity with pure functions of natural
  keys. Re-running the pipeline against the same snapshot must produce
  byte-identical ids (the re-run contract), so nothing here consults a
  sequence, a clock, or a random source.

ALLOCATION:
  Proposal ids are (group, ordinal) pairs. The allocator hands out
  ordinals in the order proposals are created per group; callers are
  responsible for creating proposals in canonical key order so the
  ordinals are stable.
*/
package commission

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// PROPOSAL ID ALLOCATOR
// =============================================================================

// ProposalIDAllocator allocates deterministic per-group ordinals.
// Not safe for concurrent use; each classification worker owns one.
type ProposalIDAllocator struct {
	next map[GroupID]int
}

func NewProposalIDAllocator() *ProposalIDAllocator {
	return &ProposalIDAllocator{next: make(map[GroupID]int)}
}

// Next returns the next proposal id for the group.
func (a *ProposalIDAllocator) Next(group GroupID) ProposalID {
	a.next[group]++
	return MakeProposalID(group, a.next[group])
}

// MakeProposalID derives a proposal id from group and ordinal.
func MakeProposalID(group GroupID, ordinal int) ProposalID {
	return ProposalID(fmt.Sprintf("PROP-%s-%03d", group, ordinal))
}

// ProposalIDLess is the canonical ordering of proposal ids: group first,
// then ordinal compared numerically. Every "first by id" tie-break uses
// this instead of a string comparison, which would put PROP-G-1000
// before PROP-G-999 once a group's ordinals outgrow the pad width.
func ProposalIDLess(a, b ProposalID) bool {
	ga, na := splitProposalID(a)
	gb, nb := splitProposalID(b)
	if ga != gb {
		return ga < gb
	}
	return na < nb
}

// splitProposalID separates the ordinal after the last hyphen. Ids
// without a numeric ordinal compare as whole strings with ordinal 0.
func splitProposalID(id ProposalID) (string, int) {
	s := string(id)
	i := strings.LastIndex(s, "-")
	if i < 0 {
		return s, 0
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return s, 0
	}
	return s[:i], n
}

// =============================================================================
// HIERARCHY IDS
// =============================================================================

// MakeHierarchyID derives a hierarchy id from its natural triple.
func MakeHierarchyID(group GroupID, sequence int, broker BrokerID) HierarchyID {
	return HierarchyID(fmt.Sprintf("HIER-%s-%02d-%s", group, sequence, broker))
}
