/*
daterange.go - Date-range normalization and contiguity verification

PURPOSE:
  Within each group, proposals ordered by effective-from must form a
  contiguous, gap-free, non-overlapping timeline. The normalizer sets
  each proposal's effective-to to the day before its successor's
  effective-from.

EDGE CASE:
  Proposals sharing an effective-from date (parallel plan-differentiated
  scopes) are both clipped to the next distinct start date; contiguity
  is asserted across distinct start dates.
*/
package classify

import (
	"fmt"
	"sort"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// NORMALIZER
// =============================================================================

// NormalizeDateRanges closes gaps and overlaps per group, in place.
// Proposals are returned sorted by (group, effective-from, id).
func NormalizeDateRanges(proposals []commission.Proposal) []commission.Proposal {
	sortProposals(proposals)

	for i := range proposals {
		successor := nextDistinctStart(proposals, i)
		if successor < 0 {
			continue
		}
		to := proposals[successor].EffectiveFrom.AddDays(-1)
		proposals[i].EffectiveTo = &to
	}
	return proposals
}

// nextDistinctStart returns the index of the first same-group proposal
// starting strictly after proposals[i], or -1.
func nextDistinctStart(proposals []commission.Proposal, i int) int {
	for j := i + 1; j < len(proposals); j++ {
		if proposals[j].Group != proposals[i].Group {
			return -1
		}
		if proposals[j].EffectiveFrom.After(proposals[i].EffectiveFrom) {
			return j
		}
	}
	return -1
}

func sortProposals(proposals []commission.Proposal) {
	sort.Slice(proposals, func(i, j int) bool {
		if proposals[i].Group != proposals[j].Group {
			return proposals[i].Group < proposals[j].Group
		}
		if !proposals[i].EffectiveFrom.Equal(proposals[j].EffectiveFrom) {
			return proposals[i].EffectiveFrom.Before(proposals[j].EffectiveFrom)
		}
		return commission.ProposalIDLess(proposals[i].ID, proposals[j].ID)
	})
}

// =============================================================================
// VERIFICATION
// =============================================================================

// VerifyContiguity asserts that, for every group with two or more
// proposals, chronologically adjacent proposals leave no gap and no
// overlap. Returns one error per violation.
func VerifyContiguity(proposals []commission.Proposal) []error {
	sorted := make([]commission.Proposal, len(proposals))
	copy(sorted, proposals)
	sortProposals(sorted)

	var violations []error
	for i := range sorted {
		j := nextDistinctStart(sorted, i)
		if j < 0 {
			continue
		}
		cur, next := sorted[i], sorted[j]
		want := next.EffectiveFrom.AddDays(-1)
		switch {
		case cur.EffectiveTo == nil:
			violations = append(violations, fmt.Errorf(
				"group %s: proposal %s is open-ended but %s starts %s",
				cur.Group, cur.ID, next.ID, next.EffectiveFrom))
		case cur.EffectiveTo.Before(want):
			violations = append(violations, fmt.Errorf(
				"group %s: gap between %s (ends %s) and %s (starts %s)",
				cur.Group, cur.ID, *cur.EffectiveTo, next.ID, next.EffectiveFrom))
		case cur.EffectiveTo.After(want):
			violations = append(violations, fmt.Errorf(
				"group %s: overlap between %s (ends %s) and %s (starts %s)",
				cur.Group, cur.ID, *cur.EffectiveTo, next.ID, next.EffectiveFrom))
		}
	}
	return violations
}
