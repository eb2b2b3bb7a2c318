/*
filter.go - Non-conformance filter

PURPOSE:
  Partitions split legs into the conformant pool and the exception pool.
  A business key (group, effective date, product, plan) is non-conformant
  when it maps to more than one distinct configuration signature:
  certificates that should behave identically carry different structures.

GUARANTEE:
  After filtering, every key in the conformant pool has exactly one true
  structure. Every later classification tier depends on this, which is
  why flagged keys are removed whole and never retried at a coarser
  grain.
*/
package classify

import (
	"sort"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// PARTITION - conformant vs exception pool
// =============================================================================

// Partition is the filter output.
type Partition struct {
	Conformant    []commission.SplitLeg
	NonConformant []commission.SplitLeg

	// FlaggedKeys lists, per flagged key, the distinct signatures that
	// caused the flag. Kept for reporting; the exception resolver only
	// needs the legs.
	FlaggedKeys map[commission.ConfigKey][]commission.ConfigSignature

	// FlaggedGroups is the set of groups owning at least one flagged key.
	FlaggedGroups map[commission.GroupID]bool
}

// Filter partitions legs by key conformance. Legs under the no-group
// sentinel are non-conformant by definition: they can never share a
// group-level proposal.
func Filter(legs []commission.SplitLeg) *Partition {
	sigsByKey := make(map[commission.ConfigKey]map[commission.ConfigSignature]bool)
	for _, leg := range legs {
		if leg.Group == commission.GroupNone {
			continue
		}
		k := leg.ConfigKey()
		if sigsByKey[k] == nil {
			sigsByKey[k] = make(map[commission.ConfigSignature]bool)
		}
		sigsByKey[k][leg.Signature] = true
	}

	p := &Partition{
		FlaggedKeys:   make(map[commission.ConfigKey][]commission.ConfigSignature),
		FlaggedGroups: make(map[commission.GroupID]bool),
	}

	for k, sigs := range sigsByKey {
		if len(sigs) > 1 {
			var list []commission.ConfigSignature
			for s := range sigs {
				list = append(list, s)
			}
			sortSignatures(list)
			p.FlaggedKeys[k] = list
			p.FlaggedGroups[k.Group] = true
		}
	}

	for _, leg := range legs {
		switch {
		case leg.Group == commission.GroupNone:
			p.NonConformant = append(p.NonConformant, leg)
		case p.FlaggedKeys[leg.ConfigKey()] != nil:
			p.NonConformant = append(p.NonConformant, leg)
		default:
			p.Conformant = append(p.Conformant, leg)
		}
	}

	return p
}

func sortSignatures(sigs []commission.ConfigSignature) {
	sort.Slice(sigs, func(i, j int) bool { return sigs[i] < sigs[j] })
}
