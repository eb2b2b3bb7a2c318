/*
consolidate.go - Tier 5: signature-based proposal consolidation

PURPOSE:
  The critical size-reduction step. Granular proposals sharing a
  configuration signature describe the same commercial agreement, even
  when they cover different products or years, so they merge into one
  proposal whose date range spans the union of its members and whose
  scope is the union of theirs.

MERGE RULES:
  - The merged proposal keeps the lowest member id; the other members
    are superseded and dropped
  - Scope lists widen to the wildcard once they exceed ScopeWidenLimit
  - Key mappings are re-pointed at the merged proposal and stay
    single-valued (first by id wins on any ambiguity)
*/
package classify

import (
	"sort"

	"github.com/warp/commission-engine/commission"
)

// consolidate merges this group's granular proposals by signature.
func (res *groupResult) consolidate() {
	sort.Slice(res.proposals, func(i, j int) bool {
		return commission.ProposalIDLess(res.proposals[i].ID, res.proposals[j].ID)
	})

	bySig := make(map[commission.ConfigSignature][]int) // indexes into res.proposals
	for i, p := range res.proposals {
		if p.Tier == commission.TierGranular {
			bySig[p.Signature] = append(bySig[p.Signature], i)
		}
	}

	superseded := make(map[commission.ProposalID]commission.ProposalID)

	for _, sig := range sortedSigKeys(bySig) {
		members := bySig[sig]
		if len(members) < 2 {
			continue
		}

		// members are in id order; the first survives.
		merged := &res.proposals[members[0]]
		merged.Tier = commission.TierConsolidated

		products := map[commission.ProductCode]bool{}
		plans := map[commission.PlanCode]bool{}
		addScope(products, plans, *merged)

		for _, idx := range members[1:] {
			m := res.proposals[idx]
			if m.EffectiveFrom.Before(merged.EffectiveFrom) {
				merged.EffectiveFrom = m.EffectiveFrom
			}
			merged.EffectiveTo = widerEnd(merged.EffectiveTo, m.EffectiveTo)
			addScope(products, plans, m)
			superseded[m.ID] = merged.ID
		}

		merged.Products = scopeList(products)
		merged.Plans = scopeListPlans(plans)
	}

	if len(superseded) == 0 {
		return
	}

	kept := res.proposals[:0]
	for _, p := range res.proposals {
		if _, gone := superseded[p.ID]; !gone {
			kept = append(kept, p)
		}
	}
	res.proposals = kept

	// Re-map every certificate key to its consolidated proposal.
	for k, id := range res.keyMap {
		if target, ok := superseded[id]; ok {
			delete(res.keyMap, k)
			mapKey(res.keyMap, k, target)
		}
	}
}

func sortedSigKeys(bySig map[commission.ConfigSignature][]int) []commission.ConfigSignature {
	var out []commission.ConfigSignature
	for s := range bySig {
		out = append(out, s)
	}
	sortSignatures(out)
	return out
}

func addScope(products map[commission.ProductCode]bool, plans map[commission.PlanCode]bool, p commission.Proposal) {
	for _, c := range p.Products {
		products[c] = true
	}
	for _, c := range p.Plans {
		plans[c] = true
	}
}

// widerEnd returns the union upper bound: nil (open-ended) absorbs
// everything, otherwise the later end date wins.
func widerEnd(a, b *commission.Date) *commission.Date {
	if a == nil || b == nil {
		return nil
	}
	if b.After(*a) {
		return b
	}
	return a
}

func scopeList(set map[commission.ProductCode]bool) []commission.ProductCode {
	if len(set) == 0 || len(set) > commission.ScopeWidenLimit || set[commission.WildcardProduct] {
		return nil
	}
	var out []commission.ProductCode
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func scopeListPlans(set map[commission.PlanCode]bool) []commission.PlanCode {
	if len(set) == 0 || len(set) > commission.ScopeWidenLimit || set[commission.WildcardPlan] {
		return nil
	}
	var out []commission.PlanCode
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
