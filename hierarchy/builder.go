/*
Package hierarchy builds broker upline chains and links them to
proposals.

PURPOSE:
  One hierarchy per (group, split-sequence, writing-broker) triple
  observed in the conformant pool, restricted to groups that ended up
  with at least one proposal. Hierarchies are never deduplicated by
  signature across split sequences: proposals with disjoint date ranges
  must not share one physical structure.

PROPOSAL MATCHING (three ordered tiers):
  a. The hierarchy's representative date falls within a proposal's
     closed date range
  b. An open-ended proposal whose start is on or before the date
  c. Fallback: the group's most recently started proposal

  Linkage is many-to-one: a proposal may own several hierarchies (one
  per split sequence); a hierarchy has exactly one proposal.

SEE ALSO:
  - staterule.go: jurisdiction rules, product splits, distributions
*/
package hierarchy

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// BUILD - one hierarchy per observed triple
// =============================================================================

// Build constructs hierarchies from the conformant pool. Only groups
// present in proposals are considered. Workers bounds per-group
// parallelism; values < 1 mean sequential.
func Build(legs []commission.SplitLeg, proposals []commission.Proposal, workers int) ([]commission.Hierarchy, error) {
	proposalsByGroup := make(map[commission.GroupID][]commission.Proposal)
	for _, p := range proposals {
		proposalsByGroup[p.Group] = append(proposalsByGroup[p.Group], p)
	}

	legsByGroup := make(map[commission.GroupID][]commission.SplitLeg)
	var groups []commission.GroupID
	for _, leg := range legs {
		if proposalsByGroup[leg.Group] == nil {
			continue
		}
		if _, seen := legsByGroup[leg.Group]; !seen {
			groups = append(groups, leg.Group)
		}
		legsByGroup[leg.Group] = append(legsByGroup[leg.Group], leg)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })

	if workers < 1 {
		workers = 1
	}
	results := make([][]commission.Hierarchy, len(groups))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, id := range groups {
		i, id := i, id
		g.Go(func() error {
			hs, err := buildGroup(legsByGroup[id], proposalsByGroup[id])
			if err != nil {
				return err
			}
			results[i] = hs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []commission.Hierarchy
	for _, hs := range results {
		out = append(out, hs...)
	}
	return out, nil
}

// =============================================================================
// PER-GROUP CONSTRUCTION
// =============================================================================

type triple struct {
	group    commission.GroupID
	sequence int
	broker   commission.BrokerID
}

func buildGroup(legs []commission.SplitLeg, proposals []commission.Proposal) ([]commission.Hierarchy, error) {
	byTriple := make(map[triple][]commission.SplitLeg)
	var order []triple
	for _, leg := range legs {
		t := triple{group: leg.Group, sequence: leg.Sequence, broker: leg.WritingBroker}
		if _, seen := byTriple[t]; !seen {
			order = append(order, t)
		}
		byTriple[t] = append(byTriple[t], leg)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].sequence != order[j].sequence {
			return order[i].sequence < order[j].sequence
		}
		return order[i].broker < order[j].broker
	})

	var out []commission.Hierarchy
	for _, t := range order {
		h, err := buildOne(t, byTriple[t], proposals)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func buildOne(t triple, legs []commission.SplitLeg, proposals []commission.Proposal) (commission.Hierarchy, error) {
	rep := representativeLeg(legs)

	h := commission.Hierarchy{
		ID:                 commission.MakeHierarchyID(t.group, t.sequence, t.broker),
		Group:              t.group,
		Sequence:           t.sequence,
		WritingBroker:      t.broker,
		Signature:          rep.Signature,
		RepresentativeDate: rep.EffectiveDate,
	}

	h.Version = commission.HierarchyVersion{Number: 1}
	for _, p := range rep.Participants {
		h.Version.Participants = append(h.Version.Participants, commission.HierarchyParticipant{
			Level:    p.Level,
			Broker:   p.Broker,
			Rate:     p.Percent,
			Schedule: p.Schedule,
		})
	}

	h.Proposal = matchProposal(rep.EffectiveDate, proposals)

	if err := buildRules(&h, legs); err != nil {
		return commission.Hierarchy{}, err
	}
	return h, nil
}

// representativeLeg picks the earliest leg by (date, certificate).
// The chain and the match anchor both come from it.
func representativeLeg(legs []commission.SplitLeg) commission.SplitLeg {
	rep := legs[0]
	for _, l := range legs[1:] {
		if l.EffectiveDate.Before(rep.EffectiveDate) ||
			(l.EffectiveDate.Equal(rep.EffectiveDate) && l.Certificate < rep.Certificate) {
			rep = l
		}
	}
	return rep
}

// =============================================================================
// PROPOSAL MATCH TIERS
// =============================================================================

func matchProposal(date commission.Date, proposals []commission.Proposal) commission.ProposalID {
	sorted := make([]commission.Proposal, len(proposals))
	copy(sorted, proposals)
	sort.Slice(sorted, func(i, j int) bool { return commission.ProposalIDLess(sorted[i].ID, sorted[j].ID) })

	// Tier a: date inside a closed range.
	for _, p := range sorted {
		if p.EffectiveTo != nil && p.Range().Contains(date) {
			return p.ID
		}
	}
	// Tier b: open-ended proposal already in force.
	for _, p := range sorted {
		if p.EffectiveTo == nil && p.EffectiveFrom.BeforeOrEqual(date) {
			return p.ID
		}
	}
	// Tier c: the group's most recently started proposal.
	best := sorted[0]
	for _, p := range sorted[1:] {
		if p.EffectiveFrom.After(best.EffectiveFrom) {
			best = p
		}
	}
	return best.ID
}

// =============================================================================
// CONFIGURATION LINKING
// =============================================================================

// LinkConfigurations fills each split participant's hierarchy reference:
// the hierarchy sharing the proposal's group, the participant's sequence
// and its broker. Participants with no matching hierarchy are left
// unlinked (their group's structure went to the exception path).
func LinkConfigurations(configs []commission.SplitConfiguration, proposals []commission.Proposal, hierarchies []commission.Hierarchy) {
	groupByProposal := make(map[commission.ProposalID]commission.GroupID)
	for _, p := range proposals {
		groupByProposal[p.ID] = p.Group
	}
	byTriple := make(map[triple]commission.HierarchyID)
	for _, h := range hierarchies {
		byTriple[triple{group: h.Group, sequence: h.Sequence, broker: h.WritingBroker}] = h.ID
	}

	for ci := range configs {
		group := groupByProposal[configs[ci].Proposal]
		for pi := range configs[ci].Participants {
			part := &configs[ci].Participants[pi]
			part.Hierarchy = byTriple[triple{group: group, sequence: part.Sequence, broker: part.Broker}]
		}
	}
}
